package router

import (
	"context"
	"fmt"
	"sync"

	"chatrelay/pkg/types"
)

// lanes serializes sends per (sender, audience) key. Waiters are granted the
// lane in the order they arrived; a key with no waiters holds no state.
type lanes struct {
	mu     sync.Mutex
	queues map[string][]chan struct{}
}

func newLanes() *lanes {
	return &lanes{queues: make(map[string][]chan struct{})}
}

// acquire blocks until key's lane is free or ctx ends. The returned release
// must be called exactly once.
func (l *lanes) acquire(ctx context.Context, key string) (func(), error) {
	ticket := make(chan struct{})

	l.mu.Lock()
	queue := l.queues[key]
	l.queues[key] = append(queue, ticket)
	if len(queue) == 0 {
		close(ticket)
	}
	l.mu.Unlock()

	release := func() { l.release(key) }

	select {
	case <-ticket:
		return release, nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	queue = l.queues[key]
	if len(queue) > 0 && queue[0] == ticket {
		// Granted while we were giving up; hand the lane on.
		l.advanceLocked(key)
		return nil, fmt.Errorf("%w: %v", ErrLaneAbandoned, ctx.Err())
	}
	for i, t := range queue {
		if t == ticket {
			l.queues[key] = append(queue[:i:i], queue[i+1:]...)
			break
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrLaneAbandoned, ctx.Err())
}

func (l *lanes) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advanceLocked(key)
}

func (l *lanes) advanceLocked(key string) {
	queue := l.queues[key]
	if len(queue) <= 1 {
		delete(l.queues, key)
		return
	}
	queue = queue[1:]
	l.queues[key] = queue
	close(queue[0])
}

// size is the number of keys with a holder or waiters.
func (l *lanes) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues)
}

func laneKey(senderID string, kind types.AudienceKind, targetID string) string {
	return senderID + "\x00" + string(kind) + "\x00" + targetID
}
