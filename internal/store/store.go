// ABOUTME: Data types and errors for relay persistence.
// ABOUTME: Agents are provisioned credentials; audit entries record lifecycle events.

// Package store persists provisioned agent credentials and the relay audit
// log. Live connection state never touches the store; it is transient and
// owned by the relay package.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateAgent is returned when creating an agent whose name is taken.
var ErrDuplicateAgent = errors.New("agent already exists")

// Agent is a provisioned agent credential. The shared secret is returned
// only once, at creation time.
type Agent struct {
	Name      string
	CreatedAt time.Time
	LastLogin *time.Time
}

// AuditEntry is one recorded relay lifecycle event.
type AuditEntry struct {
	ID        string
	AgentName string
	Action    string
	Detail    string
	CreatedAt time.Time
}
