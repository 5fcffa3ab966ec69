// ABOUTME: Bidirectional map between live connection ids and authenticated agent names.
// ABOUTME: Registration is last-authenticated-wins; the displaced connection is reported.

package relay

import "sync"

// Registry tracks which live connection is authenticated as which agent.
// The forward (connID to name) and reverse (name to connID) maps are kept
// consistent under a single lock: at most one record per connection, and at
// most one connection per name at any instant.
type Registry struct {
	mu      sync.RWMutex
	byConn  map[string]string
	byAgent map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byConn:  make(map[string]string),
		byAgent: make(map[string]string),
	}
}

// Register binds connID to agentName. If agentName is already bound to a
// different live connection, the new registration wins and the displaced
// connection id is returned; whether to disconnect it is the caller's
// policy decision.
func (r *Registry) Register(connID, agentName string) (displaced string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byAgent[agentName]; ok && old != connID {
		displaced = old
		delete(r.byConn, old)
	}
	if oldName, ok := r.byConn[connID]; ok && oldName != agentName {
		delete(r.byAgent, oldName)
	}

	r.byConn[connID] = agentName
	r.byAgent[agentName] = connID
	return displaced
}

// TryGet returns the agent name registered for connID.
func (r *Registry) TryGet(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.byConn[connID]
	return name, ok
}

// ConnectionFor returns the connection id currently registered under
// agentName.
func (r *Registry) ConnectionFor(agentName string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.byAgent[agentName]
	return connID, ok
}

// TryRemove removes the record for connID and returns the agent name that
// was bound to it. Removing an unknown connection is a no-op.
func (r *Registry) TryRemove(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)
	// The reverse entry may already point at a newer connection after a
	// displacement; only remove it when it still refers to connID.
	if current, ok := r.byAgent[name]; ok && current == connID {
		delete(r.byAgent, name)
	}
	return name, true
}

// Names returns the agent names of all registered connections.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byAgent))
	for name := range r.byAgent {
		names = append(names, name)
	}
	return names
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
