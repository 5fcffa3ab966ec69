// ABOUTME: Sentinel errors shared across the relay coordinator components.
// ABOUTME: Resource failures are delivered by failing futures, never by panics.

package relay

import "errors"

// ErrUnauthorized indicates an operation that requires an authenticated
// agent was attempted by a connection that is not registered.
var ErrUnauthorized = errors.New("connection is not authenticated")

// ErrTimeout indicates a pending request exceeded its configured lifetime
// before the agent replied.
var ErrTimeout = errors.New("request timed out")

// ErrConnectionLost indicates the connection owning a pending request
// disconnected before the reply arrived.
var ErrConnectionLost = errors.New("connection lost")

// ErrAgentOffline indicates no live connection is registered under the
// requested agent name.
var ErrAgentOffline = errors.New("agent is not connected")

// ErrUploadRejected indicates the agent reported that it could not satisfy
// a requested file upload.
var ErrUploadRejected = errors.New("upload rejected by agent")
