// Package registry tracks which users hold live connections.
package registry

import (
	"sync"
	"time"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// DefaultShardCount is used when NewRegistry is given a non-positive count.
const DefaultShardCount = 32

// Transition is an online/offline edge for a user: the first connection
// appearing (Online) or the last one disappearing (!Online).
type Transition struct {
	User   types.UserIdentity
	Online bool
	At     time.Time
}

type shard struct {
	mu    sync.RWMutex
	users map[string]map[string]interfaces.Connection // userID -> connID -> conn
}

// Registry is the single authority on reachability. Users are spread over
// shards so unrelated users never contend on the same lock.
type Registry struct {
	shards []*shard
	logger zerolog.Logger

	// ARCHITECTURAL DISCOVERY: transitions are appended while the shard lock is
	// held, so the queue preserves per-user edge order without ever blocking
	// on the consumer.
	qmu   sync.Mutex
	queue []Transition
	ready chan struct{}
}

// NewRegistry creates a registry with shardCount shards.
func NewRegistry(shardCount int, logger zerolog.Logger) *Registry {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	r := &Registry{
		shards: make([]*shard, shardCount),
		logger: logger.With().Str("component", "registry").Logger(),
		ready:  make(chan struct{}, 1),
	}
	for i := range r.shards {
		r.shards[i] = &shard{users: make(map[string]map[string]interfaces.Connection)}
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	return r.shards[xxhash.Sum64String(userID)%uint64(len(r.shards))]
}

// Register adds conn to its user's connection set. Registering the same
// connection twice is a no-op.
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	user := conn.Identity()
	if user.IsZero() {
		return ErrUnboundConnection
	}

	s := r.shardFor(user.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	conns, exists := s.users[user.ID]
	if !exists {
		conns = make(map[string]interfaces.Connection)
		s.users[user.ID] = conns
	}
	if _, dup := conns[conn.ID()]; dup {
		return nil
	}
	conns[conn.ID()] = conn

	if len(conns) == 1 {
		r.push(Transition{User: user, Online: true, At: time.Now()})
	}

	r.logger.Debug().
		Str("user_id", user.ID).
		Str("conn_id", conn.ID()).
		Int("user_connections", len(conns)).
		Msg("connection registered")
	return nil
}

// Unregister removes conn. It is idempotent and only removes the exact handle
// that was registered under conn.ID().
func (r *Registry) Unregister(conn interfaces.Connection) {
	if conn == nil {
		return
	}
	user := conn.Identity()
	if user.IsZero() {
		return
	}

	s := r.shardFor(user.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	conns, exists := s.users[user.ID]
	if !exists {
		return
	}
	// RACE CONDITION FIX: a stale handle must not evict a newer one.
	if registered, ok := conns[conn.ID()]; !ok || registered != conn {
		return
	}
	delete(conns, conn.ID())

	if len(conns) == 0 {
		delete(s.users, user.ID)
		r.push(Transition{User: user, Online: false, At: time.Now()})
	}

	r.logger.Debug().
		Str("user_id", user.ID).
		Str("conn_id", conn.ID()).
		Int("user_connections", len(conns)).
		Msg("connection unregistered")
}

// IsOnline reports whether the user holds at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[userID]) > 0
}

// ConnectionsFor returns a snapshot of the user's live connections.
func (r *Registry) ConnectionsFor(userID string) []interfaces.Connection {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Values(s.users[userID])
}

// Connections returns a snapshot of every live connection.
func (r *Registry) Connections() []interfaces.Connection {
	var out []interfaces.Connection
	for _, s := range r.shards {
		s.mu.RLock()
		for _, conns := range s.users {
			out = append(out, lo.Values(conns)...)
		}
		s.mu.RUnlock()
	}
	return out
}

// Stats returns registry statistics for monitoring.
func (r *Registry) Stats() map[string]int {
	total, online := 0, 0
	for _, s := range r.shards {
		s.mu.RLock()
		online += len(s.users)
		for _, conns := range s.users {
			total += len(conns)
		}
		s.mu.RUnlock()
	}
	r.qmu.Lock()
	pending := len(r.queue)
	r.qmu.Unlock()

	return map[string]int{
		"total_connections":   total,
		"online_users":        online,
		"pending_transitions": pending,
	}
}

// Ready is signalled whenever transitions are waiting to be drained.
func (r *Registry) Ready() <-chan struct{} {
	return r.ready
}

// Drain returns and clears the queued transitions, oldest first.
func (r *Registry) Drain() []Transition {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	out := r.queue
	r.queue = nil
	return out
}

func (r *Registry) push(t Transition) {
	r.qmu.Lock()
	r.queue = append(r.queue, t)
	r.qmu.Unlock()

	select {
	case r.ready <- struct{}{}:
	default:
	}
}
