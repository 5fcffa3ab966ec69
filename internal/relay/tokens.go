// ABOUTME: Single-use upload tokens scoped to one agent, bounded by a TTL.
// ABOUTME: Issued after a registry check, redeemed once by the upload endpoint.

package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// uploadToken is one issued, unredeemed token.
type uploadToken struct {
	agentName string
	issuedAt  time.Time
}

// UploadTokenStore issues opaque tokens that authorize one agent to deliver
// one upload over the out-of-band HTTP path. Tokens are unguessable,
// single-use, and expire after the configured TTL.
type UploadTokenStore struct {
	mu     sync.Mutex
	tokens map[string]uploadToken
	ttl    time.Duration
	done   chan struct{}
	closed bool
}

// NewUploadTokenStore creates a store whose tokens expire after ttl.
// A background goroutine purges expired tokens until Close is called.
func NewUploadTokenStore(ttl time.Duration) *UploadTokenStore {
	s := &UploadTokenStore{
		tokens: make(map[string]uploadToken),
		ttl:    ttl,
		done:   make(chan struct{}),
	}
	go s.cleanup()
	return s
}

// IssueFor creates and stores a token scoped to agentName. Pure generation;
// confirming agentName is an authenticated agent is the caller's contract.
func (s *UploadTokenStore) IssueFor(agentName string) string {
	token := uuid.New().String()

	s.mu.Lock()
	s.tokens[token] = uploadToken{agentName: agentName, issuedAt: time.Now()}
	s.mu.Unlock()

	return token
}

// Redeem atomically consumes token and returns the agent name it was scoped
// to. Returns false for unknown, already-redeemed, or expired tokens.
func (s *UploadTokenStore) Redeem(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[token]
	if !ok {
		return "", false
	}
	delete(s.tokens, token)
	if time.Since(t.issuedAt) > s.ttl {
		return "", false
	}
	return t.agentName, true
}

// Len returns the number of unredeemed tokens.
func (s *UploadTokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// Close stops the background purge. Safe to call multiple times.
func (s *UploadTokenStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.done)
		s.closed = true
	}
}

func (s *UploadTokenStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.purgeExpired()
		case <-s.done:
			return
		}
	}
}

func (s *UploadTokenStore) purgeExpired() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, t := range s.tokens {
		if now.Sub(t.issuedAt) > s.ttl {
			delete(s.tokens, token)
		}
	}
}
