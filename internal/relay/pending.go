// ABOUTME: Correlation table mapping randomly generated request ids to
// ABOUTME: single-assignment futures, with timeout eviction and conn cleanup.

package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// pendingEntry tracks one outstanding request.
type pendingEntry[T any] struct {
	connID    string
	createdAt time.Time
	future    *Future[T]
}

// PendingTable is a correlation table for one flavor of request. Create
// registers a new entry and returns its id and future; a later Resolve or
// Fail referencing the id completes the future and removes the entry.
// Unknown ids are silent no-ops so late or duplicate replies never surface
// as errors. Entries are bounded in lifetime: a background janitor fails
// anything older than the configured timeout with ErrTimeout, and FailConn
// fails everything owned by a disconnecting connection with the given error.
type PendingTable[T any] struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry[T]
	timeout time.Duration
	logger  *slog.Logger
	done    chan struct{}
	closed  bool
}

// NewPendingTable creates a table whose entries expire after timeout.
// A background goroutine evicts expired entries until Close is called.
func NewPendingTable[T any](timeout time.Duration, logger *slog.Logger) *PendingTable[T] {
	t := &PendingTable[T]{
		entries: make(map[string]*pendingEntry[T]),
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go t.janitor()
	return t
}

// Create registers a new pending entry owned by connID and returns the
// correlation id to send to the remote side along with the future the
// caller awaits.
func (t *PendingTable[T]) Create(connID string) (string, *Future[T]) {
	id := uuid.New().String()
	f := NewFuture[T]()

	t.mu.Lock()
	t.entries[id] = &pendingEntry[T]{
		connID:    connID,
		createdAt: time.Now(),
		future:    f,
	}
	t.mu.Unlock()

	return id, f
}

// Resolve completes the entry for id with value and removes it.
// Returns false if no such entry exists; that case is not an error.
func (t *PendingTable[T]) Resolve(id string, value T) bool {
	entry := t.take(id)
	if entry == nil {
		t.logger.Debug("reply for unknown request", "request_id", id)
		return false
	}
	entry.future.resolve(value)
	return true
}

// Fail completes the entry for id with err and removes it.
// Returns false if no such entry exists.
func (t *PendingTable[T]) Fail(id string, err error) bool {
	entry := t.take(id)
	if entry == nil {
		t.logger.Debug("failure for unknown request", "request_id", id)
		return false
	}
	entry.future.fail(err)
	return true
}

// FailConn fails and removes every entry owned by connID. Returns the
// number of entries failed.
func (t *PendingTable[T]) FailConn(connID string, err error) int {
	t.mu.Lock()
	var failed []*pendingEntry[T]
	for id, entry := range t.entries {
		if entry.connID == connID {
			failed = append(failed, entry)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()

	for _, entry := range failed {
		entry.future.fail(err)
	}
	return len(failed)
}

// EvictExpired fails and removes every entry created before now-timeout
// with ErrTimeout. Called periodically by the janitor; exposed for tests.
func (t *PendingTable[T]) EvictExpired(now time.Time) int {
	cutoff := now.Add(-t.timeout)

	t.mu.Lock()
	var expired []*pendingEntry[T]
	for id, entry := range t.entries {
		if entry.createdAt.Before(cutoff) {
			expired = append(expired, entry)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()

	for _, entry := range expired {
		entry.future.fail(ErrTimeout)
	}
	if len(expired) > 0 {
		t.logger.Debug("evicted expired requests", "count", len(expired))
	}
	return len(expired)
}

// Len returns the number of outstanding entries.
func (t *PendingTable[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Close stops the janitor and fails all outstanding entries with
// ErrConnectionLost. Safe to call multiple times.
func (t *PendingTable[T]) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.done)
	remaining := make([]*pendingEntry[T], 0, len(t.entries))
	for id, entry := range t.entries {
		remaining = append(remaining, entry)
		delete(t.entries, id)
	}
	t.mu.Unlock()

	for _, entry := range remaining {
		entry.future.fail(ErrConnectionLost)
	}
}

// take removes and returns the entry for id, or nil.
func (t *PendingTable[T]) take(id string) *pendingEntry[T] {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[id]
	if !ok {
		return nil
	}
	delete(t.entries, id)
	return entry
}

func (t *PendingTable[T]) janitor() {
	interval := t.timeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.EvictExpired(time.Now())
		case <-t.done:
			return
		}
	}
}
