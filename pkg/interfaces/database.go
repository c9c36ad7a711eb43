package interfaces

import (
	"context"

	"chatrelay/pkg/types"
)

// MessageStore persists outbound messages and serves history pages.
type MessageStore interface {
	// AppendMessage stores the envelope's content and returns the assigned id.
	// The router fills MessageID and CreatedAt from the result.
	AppendMessage(ctx context.Context, env *types.OutboundEnvelope) (string, error)

	// ChannelHistory returns messages of a channel, newest first.
	ChannelHistory(ctx context.Context, channelID, cursor string, limit int) (*types.HistoryPage, error)

	// DirectHistory returns the messages exchanged between two users, newest first.
	DirectHistory(ctx context.Context, userID, peerID, cursor string, limit int) (*types.HistoryPage, error)
}

// PresenceStore records the last known presence of a user.
type PresenceStore interface {
	SetPresence(ctx context.Context, event types.PresenceEvent) error
	Presence(ctx context.Context, userID string) (*types.PresenceEvent, error)
}

// DeviceTokenStore keeps the push tokens registered per user.
type DeviceTokenStore interface {
	SaveDeviceToken(ctx context.Context, token types.DeviceToken) error
	DeleteDeviceToken(ctx context.Context, userID, token string) error
	TokensFor(ctx context.Context, userID string) ([]types.DeviceToken, error)
}

// Directory answers membership and reachability questions for the router.
type Directory interface {
	// Channel returns types.ErrChannelNotFound for unknown ids.
	Channel(ctx context.Context, channelID string) (types.Channel, error)
	// IsChannelMember also returns types.ErrChannelNotFound for unknown ids.
	IsChannelMember(ctx context.Context, channelID, userID string) (bool, error)
	ChannelMembers(ctx context.Context, channelID string) ([]types.UserIdentity, error)

	// User returns types.ErrRecipientNotFound for unknown ids.
	User(ctx context.Context, userID string) (types.UserIdentity, error)

	// CanDirectMessage is false when recipient has blocked sender.
	CanDirectMessage(ctx context.Context, senderID, recipientID string) (bool, error)
}
