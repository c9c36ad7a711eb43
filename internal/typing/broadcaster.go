// Package typing relays ephemeral typing indicators. Nothing is persisted.
package typing

import (
	"context"
	"time"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Broadcaster relays chat.typing frames to the live connections of the
// target audience.
type Broadcaster struct {
	conns     interfaces.ConnectionLookup
	directory interfaces.Directory
	logger    zerolog.Logger
}

func NewBroadcaster(conns interfaces.ConnectionLookup, directory interfaces.Directory, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		conns:     conns,
		directory: directory,
		logger:    logger.With().Str("component", "typing").Logger(),
	}
}

// Relay stamps the event with sender, never with a client-supplied identity,
// and delivers it best effort.
func (b *Broadcaster) Relay(ctx context.Context, sender types.UserIdentity, req types.TypingRequest) error {
	if sender.IsZero() {
		return types.ErrAuth
	}
	if err := req.Validate(); err != nil {
		return err
	}

	event := types.TypingEvent{
		UserID:       sender.ID,
		Username:     sender.Name(),
		AudienceKind: req.AudienceKind,
		TargetID:     req.TargetID,
		IsTyping:     req.IsTyping,
		Timestamp:    time.Now().UTC(),
	}

	var targets []interfaces.Connection
	switch req.AudienceKind {
	case types.AudienceDirect:
		if req.TargetID == sender.ID {
			return nil
		}
		targets = b.conns.ConnectionsFor(req.TargetID)

	case types.AudienceChannel:
		member, err := b.directory.IsChannelMember(ctx, req.TargetID, sender.ID)
		if err != nil {
			return err
		}
		if !member {
			return types.ErrNotAMember
		}
		members, err := b.directory.ChannelMembers(ctx, req.TargetID)
		if err != nil {
			return err
		}
		others := lo.Reject(members, func(m types.UserIdentity, _ int) bool { return m.ID == sender.ID })
		targets = lo.FlatMap(others, func(m types.UserIdentity, _ int) []interfaces.Connection {
			return b.conns.ConnectionsFor(m.ID)
		})
	}

	frame := types.NewFrame(types.FrameChatTyping, event)
	for _, conn := range targets {
		if err := conn.WriteJSON(frame); err != nil {
			b.logger.Debug().Err(err).Str("conn_id", conn.ID()).Msg("typing frame not delivered")
		}
	}
	return nil
}
