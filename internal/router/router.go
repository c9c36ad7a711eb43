// Package router resolves a message's audience, persists it and fans it out
// to every live connection of that audience.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// DeliveryResult summarizes one routed message.
type DeliveryResult struct {
	MessageID string
	Delivered int // connections written to
	Failed    int // connections whose write failed
	Notified  int // offline recipients handed to the notifier
}

// Router implements message routing over the connection registry.
// ARCHITECTURAL DISCOVERY: no registry lock is held while the directory or the
// store is consulted; the registry is only read through snapshots.
type Router struct {
	conns     interfaces.ConnectionLookup
	directory interfaces.Directory
	store     interfaces.MessageStore
	notifier  interfaces.Notifier
	lanes     *lanes
	logger    zerolog.Logger

	routed    atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	notified  atomic.Int64
}

// NewRouter creates a router. notifier may be nil to disable push fallback.
func NewRouter(conns interfaces.ConnectionLookup, directory interfaces.Directory, store interfaces.MessageStore, notifier interfaces.Notifier, logger zerolog.Logger) *Router {
	return &Router{
		conns:     conns,
		directory: directory,
		store:     store,
		notifier:  notifier,
		lanes:     newLanes(),
		logger:    logger.With().Str("component", "router").Logger(),
	}
}

// RouteMessage validates, persists and delivers one message from sender.
// Messages from one sender to one audience are delivered in call order.
// Errors are returned to the caller and never retried.
func (r *Router) RouteMessage(ctx context.Context, sender types.UserIdentity, req types.SendRequest) (*DeliveryResult, error) {
	if sender.IsZero() {
		return nil, ErrUnboundSender
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	release, err := r.lanes.acquire(ctx, laneKey(sender.ID, req.AudienceKind, req.TargetID))
	if err != nil {
		return nil, err
	}
	defer release()

	audience, err := r.resolveAudience(ctx, sender, req)
	if err != nil {
		return nil, err
	}

	env := &types.OutboundEnvelope{
		Sender:          sender,
		Content:         req.Content,
		MessageKind:     req.MessageKind,
		ParentMessageID: req.ParentMessageID,
		CreatedAt:       time.Now().UTC(),
		Audience:        audience,
	}

	// Persist-then-route: nothing is delivered for a message the store refused.
	id, err := r.store.AppendMessage(ctx, env)
	if err != nil {
		r.logger.Error().Err(err).Str("sender_id", sender.ID).Msg("failed to persist message")
		return nil, fmt.Errorf("%w: %v", types.ErrStore, err)
	}
	env.MessageID = id

	result := &DeliveryResult{MessageID: id}
	r.fanOut(env, result)
	r.notifyOffline(env, result)

	r.routed.Add(1)
	r.delivered.Add(int64(result.Delivered))
	r.failed.Add(int64(result.Failed))
	r.notified.Add(int64(result.Notified))

	r.logger.Debug().
		Str("message_id", id).
		Str("sender_id", sender.ID).
		Str("audience", string(audience.Kind)).
		Str("target_id", req.TargetID).
		Int("delivered", result.Delivered).
		Int("failed", result.Failed).
		Int("notified", result.Notified).
		Msg("message routed")

	return result, nil
}

func (r *Router) resolveAudience(ctx context.Context, sender types.UserIdentity, req types.SendRequest) (types.Audience, error) {
	switch req.AudienceKind {
	case types.AudienceDirect:
		recipient, err := r.directory.User(ctx, req.TargetID)
		if err != nil {
			return types.Audience{}, directoryError(err)
		}
		allowed, err := r.directory.CanDirectMessage(ctx, sender.ID, recipient.ID)
		if err != nil {
			return types.Audience{}, directoryError(err)
		}
		if !allowed {
			return types.Audience{}, types.ErrBlocked
		}
		return types.DirectAudience(recipient), nil

	case types.AudienceChannel:
		channel, err := r.directory.Channel(ctx, req.TargetID)
		if err != nil {
			return types.Audience{}, directoryError(err)
		}
		member, err := r.directory.IsChannelMember(ctx, channel.ID, sender.ID)
		if err != nil {
			return types.Audience{}, directoryError(err)
		}
		if !member {
			return types.Audience{}, types.ErrNotAMember
		}
		members, err := r.directory.ChannelMembers(ctx, channel.ID)
		if err != nil {
			return types.Audience{}, directoryError(err)
		}
		return types.ChannelAudience(channel, members), nil

	default:
		return types.Audience{}, ErrUnknownAudience
	}
}

// directoryError passes through the sentinels a client can act on and
// reports everything else as a store failure.
func directoryError(err error) error {
	switch {
	case errors.Is(err, types.ErrRecipientNotFound),
		errors.Is(err, types.ErrChannelNotFound),
		errors.Is(err, types.ErrNotAMember),
		errors.Is(err, types.ErrBlocked):
		return err
	default:
		return fmt.Errorf("%w: directory: %v", types.ErrStore, err)
	}
}

// targets returns the live connections the envelope goes to, each once.
func (r *Router) targets(env *types.OutboundEnvelope) []interfaces.Connection {
	var conns []interfaces.Connection
	switch env.Audience.Kind {
	case types.AudienceDirect:
		// Direct messages echo to every device of the sender as well.
		conns = append(conns, r.conns.ConnectionsFor(env.Sender.ID)...)
		conns = append(conns, r.conns.ConnectionsFor(env.Audience.Recipient.ID)...)
	case types.AudienceChannel:
		for _, member := range env.Audience.Members {
			conns = append(conns, r.conns.ConnectionsFor(member.ID)...)
		}
	}
	return lo.UniqBy(conns, func(c interfaces.Connection) string { return c.ID() })
}

// fanOut writes to every target. A failed write never aborts the rest.
func (r *Router) fanOut(env *types.OutboundEnvelope, result *DeliveryResult) {
	frame := types.NewFrame(types.FrameChatMessage, env.View())
	for _, conn := range r.targets(env) {
		if err := conn.WriteJSON(frame); err != nil {
			result.Failed++
			r.logger.Warn().
				Err(err).
				Str("message_id", env.MessageID).
				Str("user_id", conn.Identity().ID).
				Str("conn_id", conn.ID()).
				Msg("failed to deliver message")
			continue
		}
		result.Delivered++
	}
}

func (r *Router) notifyOffline(env *types.OutboundEnvelope, result *DeliveryResult) {
	if r.notifier == nil {
		return
	}
	var candidates []types.UserIdentity
	switch env.Audience.Kind {
	case types.AudienceDirect:
		candidates = []types.UserIdentity{env.Audience.Recipient}
	case types.AudienceChannel:
		candidates = env.Audience.Members
	}
	for _, recipient := range candidates {
		if recipient.ID == env.Sender.ID || r.conns.IsOnline(recipient.ID) {
			continue
		}
		r.notifier.MaybeNotify(env, recipient)
		result.Notified++
	}
}

// Stats returns routing counters for monitoring.
func (r *Router) Stats() map[string]int64 {
	return map[string]int64{
		"messages_routed":      r.routed.Load(),
		"deliveries":           r.delivered.Load(),
		"delivery_failures":    r.failed.Load(),
		"notifications_queued": r.notified.Load(),
		"active_lanes":         int64(r.lanes.size()),
	}
}
