// ABOUTME: Challenge/response authentication for connecting agents.
// ABOUTME: Challenges are single-use, connection-bound, and consumed on first validation.

package relay

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"
)

// SecretSource resolves the shared secret provisioned for an agent name.
// Implemented by the credential store.
type SecretSource interface {
	Secret(ctx context.Context, agentName string) (string, error)
}

// challenge is one issued, not-yet-consumed token bound to a connection.
type challenge struct {
	token    string
	issuedAt time.Time
}

// ChallengeManager issues and validates single-use authentication challenges.
// Lifecycle per connection: no challenge, then issued, then consumed. The
// first Validate call for a connection consumes its challenge regardless of
// outcome, so a replayed response always fails. Reissue happens only through
// a fresh Issue call, which a reconnect triggers and which invalidates any
// stale challenge for that connection.
type ChallengeManager struct {
	mu         sync.Mutex
	challenges map[string]challenge
	secrets    SecretSource
	ttl        time.Duration
	logger     *slog.Logger
}

// NewChallengeManager creates a manager whose challenges expire after ttl.
func NewChallengeManager(secrets SecretSource, ttl time.Duration, logger *slog.Logger) *ChallengeManager {
	return &ChallengeManager{
		challenges: make(map[string]challenge),
		secrets:    secrets,
		ttl:        ttl,
		logger:     logger,
	}
}

// Issue generates an unpredictable token, stores it keyed by connID, and
// returns it. Any prior unconsumed challenge for connID is overwritten.
// Issue only stores; sending the token to the agent is the caller's job.
func (m *ChallengeManager) Issue(connID string) string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic("relay: reading random bytes: " + err.Error())
	}
	token := hex.EncodeToString(buf)

	m.mu.Lock()
	m.challenges[connID] = challenge{token: token, issuedAt: time.Now()}
	m.mu.Unlock()

	return token
}

// Validate consumes the challenge stored for connID and reports whether
// response matches the expected derivation for agentName. It returns false
// when no challenge exists, when the challenge has expired, when agentName
// has no provisioned secret, or when the response does not match. The
// challenge is removed before any check, so a second call for the same
// connection always fails.
func (m *ChallengeManager) Validate(ctx context.Context, connID, agentName, response string) bool {
	m.mu.Lock()
	ch, ok := m.challenges[connID]
	if ok {
		delete(m.challenges, connID)
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Debug("login without outstanding challenge", "conn_id", connID, "agent", agentName)
		return false
	}
	if time.Since(ch.issuedAt) > m.ttl {
		m.logger.Debug("challenge expired", "conn_id", connID, "agent", agentName)
		return false
	}

	secret, err := m.secrets.Secret(ctx, agentName)
	if err != nil {
		m.logger.Debug("no secret for agent", "agent", agentName, "error", err)
		return false
	}

	expected := ComputeResponse(ch.token, agentName, secret)
	return hmac.Equal([]byte(expected), []byte(response))
}

// Forget drops any unconsumed challenge for connID. Called on disconnect so
// abandoned handshakes do not accumulate.
func (m *ChallengeManager) Forget(connID string) {
	m.mu.Lock()
	delete(m.challenges, connID)
	m.mu.Unlock()
}

// ComputeResponse derives the expected challenge response:
// hex(HMAC-SHA256(secret, token + ":" + agentName)). Agent-side clients use
// the same derivation.
func ComputeResponse(token, agentName, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(token + ":" + agentName))
	return hex.EncodeToString(mac.Sum(nil))
}
