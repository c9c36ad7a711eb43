package types

import (
	"encoding/json"
	"time"
)

// Frame type names carried in the "type" field of every websocket frame.
const (
	FrameChatSend       = "chat.send"
	FrameChatTyping     = "chat.typing"
	FrameChatMessage    = "chat.message"
	FrameChatAck        = "chat.ack"
	FramePresenceUpdate = "presence.update"
	FrameSessionReady   = "session.ready"
	FrameError          = "error"
)

// TopicPresence is the hub topic every admitted connection subscribes to.
const TopicPresence = "presence"

// Presence status labels.
const (
	StatusActive  = "ACTIVE"
	StatusOffline = "OFFLINE"
)

// AudienceKind tags the Audience variant.
type AudienceKind string

const (
	AudienceDirect  AudienceKind = "DIRECT"
	AudienceChannel AudienceKind = "CHANNEL"
)

// MessageKind is the content kind of a chat message.
type MessageKind string

const (
	MessageKindText  MessageKind = "TEXT"
	MessageKindImage MessageKind = "IMAGE"
	MessageKindFile  MessageKind = "FILE"
	MessageKindCode  MessageKind = "CODE"
)

// UserIdentity is a verified user. It is immutable once bound to a connection.
type UserIdentity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// IsZero reports whether no identity has been bound.
func (u UserIdentity) IsZero() bool {
	return u.ID == ""
}

// Name returns the display name, falling back to the id.
func (u UserIdentity) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.ID
}

// Channel is the subset of channel metadata the router needs.
type Channel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"isPrivate"`
}

// Audience is the resolved destination of an outbound message. Exactly one of
// Recipient (direct) or Channel+Members (channel) is meaningful, selected by Kind.
type Audience struct {
	Kind      AudienceKind
	Recipient UserIdentity
	Channel   Channel
	Members   []UserIdentity
}

// DirectAudience builds a direct audience for recipient.
func DirectAudience(recipient UserIdentity) Audience {
	return Audience{Kind: AudienceDirect, Recipient: recipient}
}

// ChannelAudience builds a channel audience from a member snapshot.
func ChannelAudience(channel Channel, members []UserIdentity) Audience {
	snapshot := make([]UserIdentity, len(members))
	copy(snapshot, members)
	return Audience{Kind: AudienceChannel, Channel: channel, Members: snapshot}
}

// OutboundEnvelope is a persisted, audience-resolved message ready for fan-out.
// It is never mutated after the router builds it.
type OutboundEnvelope struct {
	MessageID       string
	Sender          UserIdentity
	Content         string
	MessageKind     MessageKind
	ParentMessageID string
	CreatedAt       time.Time
	Audience        Audience
}

// Kind returns the audience kind of the envelope.
func (e *OutboundEnvelope) Kind() AudienceKind {
	return e.Audience.Kind
}

// View renders the envelope as the client-facing message payload.
func (e *OutboundEnvelope) View() MessageView {
	view := MessageView{
		ID:              e.MessageID,
		Content:         e.Content,
		Type:            e.Audience.Kind,
		MessageType:     e.MessageKind,
		SenderID:        e.Sender.ID,
		SenderUsername:  e.Sender.Name(),
		SenderAvatar:    e.Sender.AvatarURL,
		ParentMessageID: e.ParentMessageID,
		Timestamp:       e.CreatedAt,
	}
	switch e.Audience.Kind {
	case AudienceDirect:
		view.RecipientID = e.Audience.Recipient.ID
		view.RecipientUsername = e.Audience.Recipient.Name()
	case AudienceChannel:
		view.ChannelID = e.Audience.Channel.ID
		view.ChannelName = e.Audience.Channel.Name
	}
	return view
}

// MessageView is the wire and history representation of a chat message.
type MessageView struct {
	ID                string       `json:"id"`
	Content           string       `json:"content"`
	Type              AudienceKind `json:"type"`
	MessageType       MessageKind  `json:"messageType"`
	SenderID          string       `json:"senderId"`
	SenderUsername    string       `json:"senderUsername"`
	SenderAvatar      string       `json:"senderAvatar,omitempty"`
	ChannelID         string       `json:"channelId,omitempty"`
	ChannelName       string       `json:"channelName,omitempty"`
	RecipientID       string       `json:"recipientId,omitempty"`
	RecipientUsername string       `json:"recipientUsername,omitempty"`
	ParentMessageID   string       `json:"parentMessageId,omitempty"`
	Timestamp         time.Time    `json:"timestamp"`
}

// HistoryPage is one page of stored messages, newest first.
type HistoryPage struct {
	Messages   []MessageView `json:"messages"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

// SendRequest is the payload of an inbound chat.send frame.
type SendRequest struct {
	Content         string       `json:"content" validate:"required,max=4000"`
	AudienceKind    AudienceKind `json:"audienceKind" validate:"required,oneof=DIRECT CHANNEL"`
	TargetID        string       `json:"targetId" validate:"required,max=64"`
	MessageKind     MessageKind  `json:"messageKind,omitempty" validate:"omitempty,oneof=TEXT IMAGE FILE CODE"`
	ParentMessageID string       `json:"parentMessageId,omitempty" validate:"omitempty,max=64"`
	ClientRef       string       `json:"clientRef,omitempty" validate:"omitempty,max=64"`
}

// TypingRequest is the payload of an inbound chat.typing frame. Any identity
// the client puts in UserID is ignored.
type TypingRequest struct {
	AudienceKind AudienceKind `json:"audienceKind" validate:"required,oneof=DIRECT CHANNEL"`
	TargetID     string       `json:"targetId" validate:"required,max=64"`
	IsTyping     bool         `json:"isTyping"`
	UserID       string       `json:"userId,omitempty"`
}

// PresenceEvent announces an online/offline edge for a user.
type PresenceEvent struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	IsOnline  bool      `json:"isOnline"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// TypingEvent is an ephemeral typing signal stamped with the verified sender.
type TypingEvent struct {
	UserID       string       `json:"userId"`
	Username     string       `json:"username"`
	AudienceKind AudienceKind `json:"type"`
	TargetID     string       `json:"targetId"`
	IsTyping     bool         `json:"isTyping"`
	Timestamp    time.Time    `json:"timestamp"`
}

// Notification is a provider-agnostic push payload.
type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Image string            `json:"image,omitempty"`
	Data  map[string]string `json:"data"`
}

// DeviceToken is a registered push token for one of a user's devices.
type DeviceToken struct {
	UserID     string    `json:"userId"`
	Token      string    `json:"token"`
	DeviceType string    `json:"deviceType,omitempty"`
	DeviceID   string    `json:"deviceId,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// RegisterDeviceRequest is the body of POST /api/devices/token.
type RegisterDeviceRequest struct {
	Token      string `json:"token" validate:"required,max=4096"`
	DeviceType string `json:"deviceType,omitempty" validate:"omitempty,oneof=android ios web"`
	DeviceID   string `json:"deviceId,omitempty" validate:"omitempty,max=128"`
}

// UnregisterDeviceRequest is the body of DELETE /api/devices/token.
type UnregisterDeviceRequest struct {
	Token string `json:"token" validate:"required,max=4096"`
}

// InboundFrame is the envelope of every client frame.
type InboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// OutboundFrame is the envelope of every server frame.
type OutboundFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// NewFrame wraps payload in an outbound frame of the given type.
func NewFrame(frameType string, payload any) OutboundFrame {
	return OutboundFrame{Type: frameType, Payload: payload}
}

// Ack confirms a chat.send to the sending connection.
type Ack struct {
	MessageID string `json:"messageId"`
	ClientRef string `json:"clientRef,omitempty"`
	Delivered int    `json:"delivered"`
}

// ErrorPayload reports a failed frame back to its sender.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	ClientRef string `json:"clientRef,omitempty"`
}

// SessionReady is sent once a connection has been admitted and registered.
type SessionReady struct {
	ConnectionID string       `json:"connectionId"`
	User         UserIdentity `json:"user"`
	ConnectedAt  time.Time    `json:"connectedAt"`
}
