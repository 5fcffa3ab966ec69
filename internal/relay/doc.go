// Package relay implements the coordinator side of the relay protocol:
// challenge/response authentication for connecting agents, the registry of
// live authenticated connections, and the correlation tables that match
// out-of-band agent replies back to the coordinator request that caused them.
package relay
