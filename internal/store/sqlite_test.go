// ABOUTME: Tests for the SQLite credential and audit store
// ABOUTME: Uses a temp-dir database per test

package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewSQLiteStore(path, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAgent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	secret, err := s.CreateAgent(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, secret, 64)

	got, err := s.Secret(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestCreateAgent_Duplicate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.CreateAgent(ctx, "alice")
	require.NoError(t, err)

	_, err = s.CreateAgent(ctx, "alice")
	assert.ErrorIs(t, err, ErrDuplicateAgent)
}

func TestSecret_Unknown(t *testing.T) {
	s := testStore(t)

	_, err := s.Secret(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAgent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.CreateAgent(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, s.DeleteAgent(ctx, "alice"))

	_, err = s.Secret(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteAgent(ctx, "alice"), ErrNotFound)
}

func TestListAgents(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.CreateAgent(ctx, "bob")
	require.NoError(t, err)
	_, err = s.CreateAgent(ctx, "alice")
	require.NoError(t, err)

	agents, err := s.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "alice", agents[0].Name)
	assert.Equal(t, "bob", agents[1].Name)
	assert.Nil(t, agents[0].LastLogin)
}

func TestTouchLogin(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.CreateAgent(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, s.TouchLogin(ctx, "alice"))

	agents, err := s.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.NotNil(t, agents[0].LastLogin)
}

func TestAudit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "alice", "login.success", ""))
	require.NoError(t, s.Append(ctx, "alice", "upload.delivered", "song.flac"))

	entries, err := s.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	actions := []string{entries[0].Action, entries[1].Action}
	assert.ElementsMatch(t, []string{"login.success", "upload.delivered"}, actions)
}

func TestAudit_Limit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, "alice", "login.success", ""))
	}

	entries, err := s.ListAudit(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
