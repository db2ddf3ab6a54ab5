// ABOUTME: Tests for the presence Registry
// ABOUTME: Covers join/leave edges, multi-connection users, conflicts, concurrency

package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_JoinAndLeave(t *testing.T) {
	r := NewRegistry(nil)

	cameOnline, err := r.Join("conn-1", "alice")
	require.NoError(t, err)
	assert.True(t, cameOnline, "first join should report the online edge")
	assert.True(t, r.IsOnline("alice"))

	userID, wentOffline := r.Leave("conn-1")
	assert.Equal(t, "alice", userID)
	assert.True(t, wentOffline, "last leave should report the offline edge")
	assert.False(t, r.IsOnline("alice"))
}

func TestRegistry_JoinIdempotent(t *testing.T) {
	r := NewRegistry(nil)

	cameOnline, err := r.Join("conn-1", "alice")
	require.NoError(t, err)
	assert.True(t, cameOnline)

	// Retried join with the same identity: no error, no second edge
	cameOnline, err = r.Join("conn-1", "alice")
	require.NoError(t, err)
	assert.False(t, cameOnline, "retried join must not produce a duplicate edge")
	assert.True(t, r.IsOnline("alice"))
}

func TestRegistry_JoinConflict(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Join("conn-1", "alice")
	require.NoError(t, err)

	_, err = r.Join("conn-1", "bob")
	assert.ErrorIs(t, err, ErrConnConflict)

	// The original association is untouched
	userID, ok := r.UserFor("conn-1")
	require.True(t, ok)
	assert.Equal(t, "alice", userID)
	assert.False(t, r.IsOnline("bob"))
}

func TestRegistry_MultipleConnectionsStayOnline(t *testing.T) {
	r := NewRegistry(nil)

	cameOnline, err := r.Join("conn-1", "alice")
	require.NoError(t, err)
	assert.True(t, cameOnline)

	// Second tab: no new edge
	cameOnline, err = r.Join("conn-2", "alice")
	require.NoError(t, err)
	assert.False(t, cameOnline)

	// First tab closes: still online, no offline edge
	userID, wentOffline := r.Leave("conn-1")
	assert.Equal(t, "alice", userID)
	assert.False(t, wentOffline)
	assert.True(t, r.IsOnline("alice"))

	// Last tab closes: offline edge fires exactly once
	userID, wentOffline = r.Leave("conn-2")
	assert.Equal(t, "alice", userID)
	assert.True(t, wentOffline)
	assert.False(t, r.IsOnline("alice"))
}

func TestRegistry_LeaveUnknownConnection(t *testing.T) {
	r := NewRegistry(nil)

	userID, wentOffline := r.Leave("never-joined")
	assert.Empty(t, userID)
	assert.False(t, wentOffline)
}

func TestRegistry_OnlineUsersSortedSnapshot(t *testing.T) {
	r := NewRegistry(nil)

	for _, u := range []string{"carol", "alice", "bob"} {
		_, err := r.Join("conn-"+u, u)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"alice", "bob", "carol"}, r.OnlineUsers())

	r.Leave("conn-bob")
	assert.Equal(t, []string{"alice", "carol"}, r.OnlineUsers())
}

func TestRegistry_UserFor(t *testing.T) {
	r := NewRegistry(nil)

	_, ok := r.UserFor("conn-1")
	assert.False(t, ok)

	_, err := r.Join("conn-1", "alice")
	require.NoError(t, err)

	userID, ok := r.UserFor("conn-1")
	require.True(t, ok)
	assert.Equal(t, "alice", userID)
}

func TestRegistry_OnlineMatchesConnectionSet(t *testing.T) {
	// For any join/leave sequence, IsOnline must equal "the user's
	// connection set is non-empty" at every step.
	r := NewRegistry(nil)

	steps := []struct {
		join   bool
		connID string
		online bool // expected IsOnline("alice") after the step
	}{
		{true, "c1", true},
		{true, "c2", true},
		{false, "c1", true},
		{false, "c1", true}, // repeated leave of same conn is a no-op
		{false, "c2", false},
		{true, "c3", true},
		{false, "c3", false},
	}

	for i, step := range steps {
		if step.join {
			_, err := r.Join(step.connID, "alice")
			require.NoError(t, err, "step %d", i)
		} else {
			r.Leave(step.connID)
		}
		assert.Equal(t, step.online, r.IsOnline("alice"), "step %d", i)
	}
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	r := NewRegistry(nil)

	const users = 8
	const connsPerUser = 16

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		for c := 0; c < connsPerUser; c++ {
			wg.Add(1)
			go func(u, c int) {
				defer wg.Done()
				userID := fmt.Sprintf("user-%d", u)
				connID := fmt.Sprintf("conn-%d-%d", u, c)
				_, err := r.Join(connID, userID)
				assert.NoError(t, err)
				if c%2 == 0 {
					r.Leave(connID)
				}
			}(u, c)
		}
	}
	wg.Wait()

	// Every user still has half its connections, so all remain online
	assert.Len(t, r.OnlineUsers(), users)

	// Drain the rest; every user must go offline exactly once
	for u := 0; u < users; u++ {
		offlineEdges := 0
		for c := 1; c < connsPerUser; c += 2 {
			_, wentOffline := r.Leave(fmt.Sprintf("conn-%d-%d", u, c))
			if wentOffline {
				offlineEdges++
			}
		}
		assert.Equal(t, 1, offlineEdges, "user-%d", u)
	}
	assert.Empty(t, r.OnlineUsers())
}
