// Package testutil provides in-memory fakes of the service's collaborators.
// They are used by package tests and the integration suite.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatrelay/pkg/types"

	"github.com/google/uuid"
)

// ErrFakeWrite is returned by a Connection configured to fail writes.
var ErrFakeWrite = errors.New("fake write failure")

// --- Verifier ---

// Verifier accepts a fixed set of credentials.
type Verifier struct {
	mu     sync.Mutex
	tokens map[string]types.UserIdentity
	err    error
}

func NewVerifier(tokens map[string]types.UserIdentity) *Verifier {
	return &Verifier{tokens: tokens}
}

// SetErr makes every Verify fail with err; nil restores normal behaviour.
func (v *Verifier) SetErr(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.err = err
}

func (v *Verifier) Verify(ctx context.Context, credential string) (types.UserIdentity, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return types.UserIdentity{}, v.err
	}
	id, ok := v.tokens[credential]
	if !ok {
		return types.UserIdentity{}, fmt.Errorf("%w: unknown token", types.ErrAuth)
	}
	return id, nil
}

// --- Connection ---

// Connection records every frame written to it.
type Connection struct {
	id          string
	identity    types.UserIdentity
	connectedAt time.Time

	mu     sync.Mutex
	frames []types.OutboundFrame
	fail   bool
	closed bool
}

func NewConnection(id string, identity types.UserIdentity) *Connection {
	return &Connection{id: id, identity: identity, connectedAt: time.Now()}
}

func (c *Connection) ID() string                   { return c.id }
func (c *Connection) Identity() types.UserIdentity { return c.identity }
func (c *Connection) ConnectedAt() time.Time       { return c.connectedAt }

// FailWrites makes subsequent writes return ErrFakeWrite.
func (c *Connection) FailWrites() {
	c.mu.Lock()
	c.fail = true
	c.mu.Unlock()
}

func (c *Connection) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return ErrFakeWrite
	}
	frame, ok := v.(types.OutboundFrame)
	if !ok {
		frame = types.OutboundFrame{Type: fmt.Sprintf("%T", v), Payload: v}
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Frames returns a copy of the frames received so far.
func (c *Connection) Frames() []types.OutboundFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.OutboundFrame, len(c.frames))
	copy(out, c.frames)
	return out
}

// FramesOfType filters Frames by frame type.
func (c *Connection) FramesOfType(frameType string) []types.OutboundFrame {
	var out []types.OutboundFrame
	for _, f := range c.Frames() {
		if f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

// Messages returns the payloads of the chat.message frames received.
func (c *Connection) Messages() []types.MessageView {
	var out []types.MessageView
	for _, f := range c.FramesOfType(types.FrameChatMessage) {
		if view, ok := f.Payload.(types.MessageView); ok {
			out = append(out, view)
		}
	}
	return out
}

// --- Directory ---

// Directory is an in-memory user and channel directory.
type Directory struct {
	mu       sync.RWMutex
	users    map[string]types.UserIdentity
	channels map[string]types.Channel
	members  map[string][]string
	blocks   map[string]map[string]bool
	Err      error
}

func NewDirectory() *Directory {
	return &Directory{
		users:    make(map[string]types.UserIdentity),
		channels: make(map[string]types.Channel),
		members:  make(map[string][]string),
		blocks:   make(map[string]map[string]bool),
	}
}

func (d *Directory) AddUser(u types.UserIdentity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *Directory) AddChannel(ch types.Channel, memberIDs ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[ch.ID] = ch
	d.members[ch.ID] = append([]string(nil), memberIDs...)
}

// Block makes recipient refuse direct messages from sender.
func (d *Directory) Block(recipientID, senderID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.blocks[recipientID] == nil {
		d.blocks[recipientID] = make(map[string]bool)
	}
	d.blocks[recipientID][senderID] = true
}

func (d *Directory) Channel(ctx context.Context, channelID string) (types.Channel, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.Err != nil {
		return types.Channel{}, d.Err
	}
	ch, ok := d.channels[channelID]
	if !ok {
		return types.Channel{}, types.ErrChannelNotFound
	}
	return ch, nil
}

func (d *Directory) IsChannelMember(ctx context.Context, channelID, userID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.channels[channelID]; !ok {
		return false, types.ErrChannelNotFound
	}
	for _, id := range d.members[channelID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (d *Directory) ChannelMembers(ctx context.Context, channelID string) ([]types.UserIdentity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.channels[channelID]; !ok {
		return nil, types.ErrChannelNotFound
	}
	out := make([]types.UserIdentity, 0, len(d.members[channelID]))
	for _, id := range d.members[channelID] {
		if u, ok := d.users[id]; ok {
			out = append(out, u)
		} else {
			out = append(out, types.UserIdentity{ID: id})
		}
	}
	return out, nil
}

func (d *Directory) User(ctx context.Context, userID string) (types.UserIdentity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return types.UserIdentity{}, types.ErrRecipientNotFound
	}
	return u, nil
}

func (d *Directory) CanDirectMessage(ctx context.Context, senderID, recipientID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return !d.blocks[recipientID][senderID], nil
}

// --- Message store ---

// MessageStore keeps appended envelopes in memory.
type MessageStore struct {
	mu       sync.Mutex
	messages []types.OutboundEnvelope
	Err      error
}

func NewMessageStore() *MessageStore { return &MessageStore{} }

func (s *MessageStore) AppendMessage(ctx context.Context, env *types.OutboundEnvelope) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	id := uuid.New().String()
	stored := *env
	stored.MessageID = id
	s.messages = append(s.messages, stored)
	return id, nil
}

func (s *MessageStore) Appended() []types.OutboundEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.OutboundEnvelope, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *MessageStore) ChannelHistory(ctx context.Context, channelID, cursor string, limit int) (*types.HistoryPage, error) {
	return s.history(func(e types.OutboundEnvelope) bool {
		return e.Audience.Kind == types.AudienceChannel && e.Audience.Channel.ID == channelID
	}, limit), nil
}

func (s *MessageStore) DirectHistory(ctx context.Context, userID, peerID, cursor string, limit int) (*types.HistoryPage, error) {
	return s.history(func(e types.OutboundEnvelope) bool {
		if e.Audience.Kind != types.AudienceDirect {
			return false
		}
		a, b := e.Sender.ID, e.Audience.Recipient.ID
		return (a == userID && b == peerID) || (a == peerID && b == userID)
	}, limit), nil
}

func (s *MessageStore) history(match func(types.OutboundEnvelope) bool, limit int) *types.HistoryPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	page := &types.HistoryPage{Messages: []types.MessageView{}}
	for i := len(s.messages) - 1; i >= 0 && len(page.Messages) < limit; i-- {
		if match(s.messages[i]) {
			page.Messages = append(page.Messages, s.messages[i].View())
		}
	}
	return page
}

// --- Presence store ---

type PresenceStore struct {
	mu     sync.Mutex
	events []types.PresenceEvent
	Err    error
}

func NewPresenceStore() *PresenceStore { return &PresenceStore{} }

func (s *PresenceStore) SetPresence(ctx context.Context, event types.PresenceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.Err
}

func (s *PresenceStore) Presence(ctx context.Context, userID string) (*types.PresenceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].UserID == userID {
			ev := s.events[i]
			return &ev, nil
		}
	}
	return nil, types.ErrRecipientNotFound
}

func (s *PresenceStore) Events() []types.PresenceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.PresenceEvent, len(s.events))
	copy(out, s.events)
	return out
}

// --- Device tokens ---

type TokenStore struct {
	mu     sync.Mutex
	tokens map[string][]types.DeviceToken
}

func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string][]types.DeviceToken)}
}

func (s *TokenStore) SaveDeviceToken(ctx context.Context, token types.DeviceToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tokens[token.UserID] {
		if t.Token == token.Token {
			s.tokens[token.UserID][i] = token
			return nil
		}
	}
	s.tokens[token.UserID] = append(s.tokens[token.UserID], token)
	return nil
}

func (s *TokenStore) DeleteDeviceToken(ctx context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.tokens[userID][:0]
	for _, t := range s.tokens[userID] {
		if t.Token != token {
			kept = append(kept, t)
		}
	}
	s.tokens[userID] = kept
	return nil
}

func (s *TokenStore) TokensFor(ctx context.Context, userID string) ([]types.DeviceToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.DeviceToken(nil), s.tokens[userID]...), nil
}

// --- Notifier ---

// Notified is one MaybeNotify call.
type Notified struct {
	Envelope  *types.OutboundEnvelope
	Recipient types.UserIdentity
}

type Notifier struct {
	mu    sync.Mutex
	calls []Notified
}

func NewNotifier() *Notifier { return &Notifier{} }

func (n *Notifier) MaybeNotify(env *types.OutboundEnvelope, recipient types.UserIdentity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, Notified{Envelope: env, Recipient: recipient})
}

func (n *Notifier) Calls() []Notified {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notified(nil), n.calls...)
}

// RecipientIDs lists the notified recipient ids in call order.
func (n *Notifier) RecipientIDs() []string {
	var ids []string
	for _, c := range n.Calls() {
		ids = append(ids, c.Recipient.ID)
	}
	return ids
}

// --- Push sender ---

// Push is one PushSender.Send call.
type Push struct {
	Token        string
	Notification types.Notification
}

type PushSender struct {
	mu     sync.Mutex
	pushes []Push
	Err    error
	Delay  time.Duration
}

func NewPushSender() *PushSender { return &PushSender{} }

func (p *PushSender) Send(ctx context.Context, token string, n types.Notification) error {
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, Push{Token: token, Notification: n})
	return p.Err
}

func (p *PushSender) Pushes() []Push {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Push(nil), p.pushes...)
}

// --- Publisher ---

// Publisher records hub publishes.
type Publisher struct {
	mu     sync.Mutex
	topics []string
	frames []interface{}
}

func NewPublisher() *Publisher { return &Publisher{} }

func (p *Publisher) Publish(topic string, frame interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.frames = append(p.frames, frame)
	return nil
}

func (p *Publisher) Frames() []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]interface{}(nil), p.frames...)
}

func (p *Publisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}
