// Package presence announces online/offline edges to every connected client.
package presence

import (
	"context"
	"time"

	"chatrelay/internal/registry"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"

	"github.com/rs/zerolog"
)

// TransitionSource is the registry's transition queue.
type TransitionSource interface {
	Ready() <-chan struct{}
	Drain() []registry.Transition
}

// Broadcaster persists presence and publishes presence.update frames.
type Broadcaster struct {
	store        interfaces.PresenceStore
	publisher    interfaces.Publisher
	storeTimeout time.Duration
	logger       zerolog.Logger
}

// NewBroadcaster creates a broadcaster. store may be nil to skip persistence.
func NewBroadcaster(store interfaces.PresenceStore, publisher interfaces.Publisher, storeTimeout time.Duration, logger zerolog.Logger) *Broadcaster {
	if storeTimeout <= 0 {
		storeTimeout = 3 * time.Second
	}
	return &Broadcaster{
		store:        store,
		publisher:    publisher,
		storeTimeout: storeTimeout,
		logger:       logger.With().Str("component", "presence").Logger(),
	}
}

// Announce records and broadcasts one presence edge. A persistence failure is
// logged and the broadcast still goes out.
func (b *Broadcaster) Announce(ctx context.Context, user types.UserIdentity, online bool) {
	b.announceAt(ctx, user, online, time.Now().UTC())
}

func (b *Broadcaster) announceAt(ctx context.Context, user types.UserIdentity, online bool, at time.Time) {
	status := types.StatusOffline
	if online {
		status = types.StatusActive
	}
	event := types.PresenceEvent{
		UserID:    user.ID,
		Username:  user.Name(),
		IsOnline:  online,
		Status:    status,
		Timestamp: at,
	}

	if b.store != nil {
		storeCtx, cancel := context.WithTimeout(ctx, b.storeTimeout)
		err := b.store.SetPresence(storeCtx, event)
		cancel()
		if err != nil {
			b.logger.Error().Err(err).Str("user_id", user.ID).Bool("online", online).Msg("failed to persist presence")
		}
	}

	if err := b.publisher.Publish(types.TopicPresence, types.NewFrame(types.FramePresenceUpdate, event)); err != nil {
		b.logger.Warn().Err(err).Str("user_id", user.ID).Msg("failed to publish presence update")
		return
	}

	b.logger.Debug().Str("user_id", user.ID).Str("status", status).Msg("presence announced")
}

// Run consumes the registry's transitions until ctx is done. Only edges are
// queued by the registry, so multi-device churn never reaches here.
// Transitions still queued at shutdown are announced before Run returns.
func (b *Broadcaster) Run(ctx context.Context, source TransitionSource) {
	for {
		select {
		case <-ctx.Done():
			b.flush(context.WithoutCancel(ctx), source)
			return
		case <-source.Ready():
			b.flush(ctx, source)
		}
	}
}

func (b *Broadcaster) flush(ctx context.Context, source TransitionSource) {
	for _, t := range source.Drain() {
		b.announceAt(ctx, t.User, t.Online, t.At.UTC())
	}
}
