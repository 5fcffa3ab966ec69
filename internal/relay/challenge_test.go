// ABOUTME: Tests for challenge issue and validation
// ABOUTME: Covers single-use consumption, expiry, reissue, and cross-connection isolation

package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapSecrets is an in-memory SecretSource for tests.
type mapSecrets map[string]string

func (m mapSecrets) Secret(_ context.Context, agentName string) (string, error) {
	s, ok := m[agentName]
	if !ok {
		return "", ErrUnauthorized
	}
	return s, nil
}

func TestChallengeManager_ValidLogin(t *testing.T) {
	secrets := mapSecrets{"alice": "s3cret"}
	m := NewChallengeManager(secrets, 30*time.Second, testLogger())

	token := m.Issue("conn-1")
	require.Len(t, token, 64) // 32 random bytes, hex encoded

	resp := ComputeResponse(token, "alice", "s3cret")
	assert.True(t, m.Validate(context.Background(), "conn-1", "alice", resp))
}

func TestChallengeManager_WrongSecret(t *testing.T) {
	secrets := mapSecrets{"alice": "s3cret"}
	m := NewChallengeManager(secrets, 30*time.Second, testLogger())

	token := m.Issue("conn-1")
	resp := ComputeResponse(token, "alice", "wrong-secret")
	assert.False(t, m.Validate(context.Background(), "conn-1", "alice", resp))
}

func TestChallengeManager_UnknownAgent(t *testing.T) {
	m := NewChallengeManager(mapSecrets{}, 30*time.Second, testLogger())

	token := m.Issue("conn-1")
	resp := ComputeResponse(token, "ghost", "anything")
	assert.False(t, m.Validate(context.Background(), "conn-1", "ghost", resp))
}

func TestChallengeManager_ChallengeConsumedOnFirstValidate(t *testing.T) {
	secrets := mapSecrets{"alice": "s3cret"}
	m := NewChallengeManager(secrets, 30*time.Second, testLogger())

	token := m.Issue("conn-1")
	resp := ComputeResponse(token, "alice", "s3cret")

	assert.True(t, m.Validate(context.Background(), "conn-1", "alice", resp))
	// Replaying the correct response must fail: the challenge is gone.
	assert.False(t, m.Validate(context.Background(), "conn-1", "alice", resp))
}

func TestChallengeManager_FailedValidateAlsoConsumes(t *testing.T) {
	secrets := mapSecrets{"alice": "s3cret"}
	m := NewChallengeManager(secrets, 30*time.Second, testLogger())

	token := m.Issue("conn-1")

	assert.False(t, m.Validate(context.Background(), "conn-1", "alice", "garbage"))
	// Even the correct response fails now; a failed attempt burns the challenge.
	resp := ComputeResponse(token, "alice", "s3cret")
	assert.False(t, m.Validate(context.Background(), "conn-1", "alice", resp))
}

func TestChallengeManager_ReissueInvalidatesOldChallenge(t *testing.T) {
	secrets := mapSecrets{"alice": "s3cret"}
	m := NewChallengeManager(secrets, 30*time.Second, testLogger())

	oldToken := m.Issue("conn-1")
	newToken := m.Issue("conn-1")
	require.NotEqual(t, oldToken, newToken)

	oldResp := ComputeResponse(oldToken, "alice", "s3cret")
	assert.False(t, m.Validate(context.Background(), "conn-1", "alice", oldResp))

	// Validation against the old token consumed the new challenge too.
	newResp := ComputeResponse(newToken, "alice", "s3cret")
	assert.False(t, m.Validate(context.Background(), "conn-1", "alice", newResp))
}

func TestChallengeManager_ChallengesAreConnectionBound(t *testing.T) {
	secrets := mapSecrets{"alice": "s3cret"}
	m := NewChallengeManager(secrets, 30*time.Second, testLogger())

	token1 := m.Issue("conn-1")
	m.Issue("conn-2")

	// A response derived from conn-1's token does not validate conn-2.
	resp := ComputeResponse(token1, "alice", "s3cret")
	assert.False(t, m.Validate(context.Background(), "conn-2", "alice", resp))
}

func TestChallengeManager_Expiry(t *testing.T) {
	secrets := mapSecrets{"alice": "s3cret"}
	m := NewChallengeManager(secrets, time.Millisecond, testLogger())

	token := m.Issue("conn-1")
	time.Sleep(5 * time.Millisecond)

	resp := ComputeResponse(token, "alice", "s3cret")
	assert.False(t, m.Validate(context.Background(), "conn-1", "alice", resp))
}

func TestChallengeManager_Forget(t *testing.T) {
	secrets := mapSecrets{"alice": "s3cret"}
	m := NewChallengeManager(secrets, 30*time.Second, testLogger())

	token := m.Issue("conn-1")
	m.Forget("conn-1")

	resp := ComputeResponse(token, "alice", "s3cret")
	assert.False(t, m.Validate(context.Background(), "conn-1", "alice", resp))
}

func TestChallengeManager_NoChallengeIssued(t *testing.T) {
	secrets := mapSecrets{"alice": "s3cret"}
	m := NewChallengeManager(secrets, 30*time.Second, testLogger())

	assert.False(t, m.Validate(context.Background(), "conn-never-seen", "alice", "resp"))
}

func TestComputeResponse_Deterministic(t *testing.T) {
	a := ComputeResponse("tok", "alice", "secret")
	b := ComputeResponse("tok", "alice", "secret")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, ComputeResponse("tok", "bob", "secret"))
	assert.NotEqual(t, a, ComputeResponse("tok2", "alice", "secret"))
}
