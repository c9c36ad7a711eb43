package registry

import (
	"fmt"
	"sync"
	"testing"

	"chatrelay/internal/testutil"
	"chatrelay/pkg/types"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(8, zerolog.Nop())
}

func conn(id, userID string) *testutil.Connection {
	return testutil.NewConnection(id, types.UserIdentity{ID: userID, DisplayName: userID})
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := newTestRegistry()

	assert.ErrorIs(t, r.Register(nil), ErrNilConnection)
	assert.ErrorIs(t, r.Register(testutil.NewConnection("c1", types.UserIdentity{})), ErrUnboundConnection)
	assert.Equal(t, 0, r.Stats()["total_connections"])
	assert.Empty(t, r.Drain())
}

func TestRegistry_MultiDeviceEdges(t *testing.T) {
	r := newTestRegistry()
	phone, laptop := conn("phone", "alice"), conn("laptop", "alice")

	require.NoError(t, r.Register(phone))
	require.NoError(t, r.Register(laptop))
	assert.True(t, r.IsOnline("alice"))
	assert.Len(t, r.ConnectionsFor("alice"), 2)

	r.Unregister(phone)
	assert.True(t, r.IsOnline("alice"))
	r.Unregister(laptop)
	assert.False(t, r.IsOnline("alice"))

	transitions := r.Drain()
	require.Len(t, transitions, 2)
	assert.True(t, transitions[0].Online)
	assert.False(t, transitions[1].Online)
	assert.Equal(t, "alice", transitions[0].User.ID)
	assert.Empty(t, r.Drain())
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	c := conn("c1", "bob")

	r.Unregister(c)
	require.NoError(t, r.Register(c))
	r.Unregister(c)
	r.Unregister(c)

	assert.Len(t, r.Drain(), 2)
	assert.False(t, r.IsOnline("bob"))
}

func TestRegistry_RegisterSameConnectionTwice(t *testing.T) {
	r := newTestRegistry()
	c := conn("c1", "bob")

	require.NoError(t, r.Register(c))
	require.NoError(t, r.Register(c))

	assert.Len(t, r.ConnectionsFor("bob"), 1)
	assert.Len(t, r.Drain(), 1)
}

func TestRegistry_StaleHandleDoesNotEvict(t *testing.T) {
	r := newTestRegistry()
	current := conn("c1", "bob")
	stale := conn("c1", "bob")

	require.NoError(t, r.Register(current))
	r.Unregister(stale)

	assert.True(t, r.IsOnline("bob"))
	assert.Len(t, r.Drain(), 1)
}

func TestRegistry_ConnectionsForIsSnapshot(t *testing.T) {
	r := newTestRegistry()
	c := conn("c1", "carol")
	require.NoError(t, r.Register(c))

	snapshot := r.ConnectionsFor("carol")
	r.Unregister(c)

	assert.Len(t, snapshot, 1)
	assert.Empty(t, r.ConnectionsFor("carol"))
	assert.Empty(t, r.ConnectionsFor("nobody"))
}

func TestRegistry_ConnectionsSpansAllUsers(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register(conn("a1", "alice")))
	require.NoError(t, r.Register(conn("a2", "alice")))
	require.NoError(t, r.Register(conn("b1", "bob")))

	ids := make([]string, 0, 3)
	for _, c := range r.Connections() {
		ids = append(ids, c.ID())
		require.NoError(t, c.Close())
		assert.True(t, c.(*testutil.Connection).Closed())
	}
	assert.ElementsMatch(t, []string{"a1", "a2", "b1"}, ids)
	assert.True(t, r.IsOnline("alice"), "closing a handle does not unregister it")
}

func TestRegistry_ReadySignal(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register(conn("c1", "dave")))
	require.NoError(t, r.Register(conn("c2", "erin")))

	select {
	case <-r.Ready():
	default:
		t.Fatal("expected ready signal after registration")
	}
	assert.Len(t, r.Drain(), 2)
}

func TestRegistry_Stats(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register(conn("a1", "alice")))
	require.NoError(t, r.Register(conn("a2", "alice")))
	require.NoError(t, r.Register(conn("b1", "bob")))

	stats := r.Stats()
	assert.Equal(t, 3, stats["total_connections"])
	assert.Equal(t, 2, stats["online_users"])
	assert.Equal(t, 2, stats["pending_transitions"])
}

func TestRegistry_ConcurrentChurnKeepsEdgesBalanced(t *testing.T) {
	r := newTestRegistry()
	const users, devices = 20, 5

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		for d := 0; d < devices; d++ {
			wg.Add(1)
			go func(u, d int) {
				defer wg.Done()
				c := conn(fmt.Sprintf("u%d-d%d", u, d), fmt.Sprintf("user-%d", u))
				for i := 0; i < 10; i++ {
					_ = r.Register(c)
					r.Unregister(c)
				}
			}(u, d)
		}
	}
	wg.Wait()

	assert.Equal(t, 0, r.Stats()["total_connections"])

	// Per user the edges must alternate online/offline, starting online.
	perUser := make(map[string][]bool)
	for _, tr := range r.Drain() {
		perUser[tr.User.ID] = append(perUser[tr.User.ID], tr.Online)
	}
	require.Len(t, perUser, users)
	for user, edges := range perUser {
		require.Zero(t, len(edges)%2, user)
		for i, online := range edges {
			assert.Equal(t, i%2 == 0, online, "user %s edge %d", user, i)
		}
	}
}

func TestNewRegistry_DefaultShards(t *testing.T) {
	r := NewRegistry(0, zerolog.Nop())
	assert.Len(t, r.shards, DefaultShardCount)
}
