// ABOUTME: Tests for the connection registry
// ABOUTME: Covers bidirectional lookup, last-wins rebinding, and removal after displacement

package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	displaced := r.Register("conn-1", "alice")
	assert.Empty(t, displaced)

	name, ok := r.TryGet("conn-1")
	require.True(t, ok)
	assert.Equal(t, "alice", name)

	connID, ok := r.ConnectionFor("alice")
	require.True(t, ok)
	assert.Equal(t, "conn-1", connID)

	assert.Equal(t, 1, r.Len())
}

func TestRegistry_LookupUnknown(t *testing.T) {
	r := NewRegistry()

	_, ok := r.TryGet("conn-1")
	assert.False(t, ok)
	_, ok = r.ConnectionFor("alice")
	assert.False(t, ok)
	_, ok = r.TryRemove("conn-1")
	assert.False(t, ok)
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	r := NewRegistry()

	r.Register("conn-1", "alice")
	displaced := r.Register("conn-2", "alice")
	assert.Equal(t, "conn-1", displaced)

	// The name resolves to the new connection only.
	connID, ok := r.ConnectionFor("alice")
	require.True(t, ok)
	assert.Equal(t, "conn-2", connID)

	// The displaced connection has no record anymore.
	_, ok = r.TryGet("conn-1")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ReRegisterSameConnIsNoOp(t *testing.T) {
	r := NewRegistry()

	r.Register("conn-1", "alice")
	displaced := r.Register("conn-1", "alice")
	assert.Empty(t, displaced)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ConnRebindsToNewName(t *testing.T) {
	r := NewRegistry()

	r.Register("conn-1", "alice")
	r.Register("conn-1", "bob")

	_, ok := r.ConnectionFor("alice")
	assert.False(t, ok, "stale reverse entry for old name")

	connID, ok := r.ConnectionFor("bob")
	require.True(t, ok)
	assert.Equal(t, "conn-1", connID)
}

func TestRegistry_TryRemove(t *testing.T) {
	r := NewRegistry()
	r.Register("conn-1", "alice")

	name, ok := r.TryRemove("conn-1")
	require.True(t, ok)
	assert.Equal(t, "alice", name)
	assert.Equal(t, 0, r.Len())

	_, ok = r.ConnectionFor("alice")
	assert.False(t, ok)
}

func TestRegistry_RemoveDisplacedConnKeepsNewBinding(t *testing.T) {
	r := NewRegistry()

	r.Register("conn-1", "alice")
	r.Register("conn-2", "alice")

	// The displaced connection disconnects later; alice must stay bound
	// to conn-2.
	_, ok := r.TryRemove("conn-1")
	assert.False(t, ok)

	connID, ok := r.ConnectionFor("alice")
	require.True(t, ok)
	assert.Equal(t, "conn-2", connID)
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	r.Register("conn-1", "alice")
	r.Register("conn-2", "bob")

	assert.ElementsMatch(t, []string{"alice", "bob"}, r.Names())
}
