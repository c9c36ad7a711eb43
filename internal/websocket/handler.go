package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"chatrelay/internal/router"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Registrar is the write side of the connection registry.
type Registrar interface {
	Register(conn interfaces.Connection) error
	Unregister(conn interfaces.Connection)
}

// Subscriber joins connections to hub topics.
type Subscriber interface {
	Subscribe(topic string, conn interfaces.Connection) error
	UnsubscribeAll(conn interfaces.Connection) error
}

// MessageRouter routes chat.send payloads.
type MessageRouter interface {
	RouteMessage(ctx context.Context, sender types.UserIdentity, req types.SendRequest) (*router.DeliveryResult, error)
}

// TypingRelay relays chat.typing payloads.
type TypingRelay interface {
	Relay(ctx context.Context, sender types.UserIdentity, req types.TypingRequest) error
}

// Limiter admits or refuses one message for a user.
type Limiter interface {
	Allow(userID string) bool
}

// Options configure the admission gate and every connection it creates.
type Options struct {
	Connection     ConnectionOptions
	PongWait       time.Duration
	MaxMessageSize int64
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// Handler is the WebSocket admission gate: it verifies the credential,
// upgrades, binds the identity and then pumps inbound frames.
type Handler struct {
	verifier interfaces.Verifier
	registry Registrar
	hub      Subscriber
	router   MessageRouter
	typing   TypingRelay
	limiter  Limiter
	opts     Options
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a handler. limiter may be nil to disable rate limiting.
func NewHandler(verifier interfaces.Verifier, registry Registrar, hub Subscriber, msgRouter MessageRouter, typing TypingRelay, limiter Limiter, opts Options, logger zerolog.Logger) *Handler {
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 64 * 1024
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.Connection.PingInterval <= 0 {
		opts.Connection.PingInterval = opts.PongWait / 2
	}

	h := &Handler{
		verifier: verifier,
		registry: registry,
		hub:      hub,
		router:   msgRouter,
		typing:   typing,
		limiter:  limiter,
		opts:     opts,
		logger:   logger.With().Str("component", "websocket").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// bearerCredential reads the Authorization header, falling back to the
// access_token query parameter for browser clients.
func bearerCredential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "bearer "
		if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
			return strings.TrimSpace(auth[len(prefix):])
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// HandleWebSocket admits one connection. No handle reaches the registry
// before its identity is verified and bound.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	credential := bearerCredential(r)
	if credential == "" {
		h.logger.Debug().Str("remote", r.RemoteAddr).Msg("rejected connection without credential")
		http.Error(w, ErrMissingCredential.Error(), http.StatusUnauthorized)
		return
	}

	identity, err := h.verifier.Verify(r.Context(), credential)
	if err != nil {
		if errors.Is(err, types.ErrAuth) {
			h.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("rejected connection")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		h.logger.Error().Err(err).Msg("credential verification failed")
		http.Error(w, "Credential verification unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", identity.ID).Msg("websocket upgrade failed")
		return
	}

	conn, err := NewConnection(ws, identity, h.opts.Connection, h.logger)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to wrap connection")
		_ = ws.Close()
		return
	}

	if err := h.registry.Register(conn); err != nil {
		h.logger.Error().Err(err).Str("user_id", identity.ID).Msg("failed to register connection")
		_ = conn.Close()
		return
	}
	if err := h.hub.Subscribe(types.TopicPresence, conn); err != nil {
		h.logger.Warn().Err(err).Str("conn_id", conn.ID()).Msg("failed to subscribe to presence")
	}
	_ = conn.WriteJSON(types.NewFrame(types.FrameSessionReady, types.SessionReady{
		ConnectionID: conn.ID(),
		User:         identity,
		ConnectedAt:  conn.ConnectedAt(),
	}))

	h.logger.Info().Str("user_id", identity.ID).Str("conn_id", conn.ID()).Msg("connection admitted")

	go h.handleConnection(conn)
}

// handleConnection runs the read pump until the peer goes away.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.Unregister(conn)
		if err := h.hub.UnsubscribeAll(conn); err != nil {
			h.logger.Debug().Err(err).Str("conn_id", conn.ID()).Msg("failed to unsubscribe connection")
		}
		_ = conn.Close()
		h.logger.Info().Str("user_id", conn.Identity().ID).Str("conn_id", conn.ID()).Msg("connection closed")
	}()

	ws := conn.conn
	ws.SetReadLimit(h.opts.MaxMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(h.opts.PongWait)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("conn_id", conn.ID()).Msg("websocket read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.dispatch(conn, data)
	}
}

// dispatch handles one inbound frame. Frames from one connection are handled
// in arrival order.
func (h *Handler) dispatch(conn *Connection, data []byte) {
	var frame types.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.reply(conn, types.ErrorFrame(ErrMalformedFrame, ""))
		return
	}

	ctx, cancel := context.WithTimeout(conn.ctx, h.opts.RequestTimeout)
	defer cancel()
	sender := conn.Identity()

	switch frame.Type {
	case types.FrameChatSend:
		var req types.SendRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			h.reply(conn, types.ErrorFrame(ErrMalformedFrame, ""))
			return
		}
		if h.limiter != nil && !h.limiter.Allow(sender.ID) {
			h.reply(conn, types.ErrorFrame(router.ErrRateLimitExceeded, req.ClientRef))
			return
		}
		result, err := h.router.RouteMessage(ctx, sender, req)
		if err != nil {
			h.logger.Debug().Err(err).Str("user_id", sender.ID).Msg("chat.send rejected")
			h.reply(conn, types.ErrorFrame(err, req.ClientRef))
			return
		}
		h.reply(conn, types.NewFrame(types.FrameChatAck, types.Ack{
			MessageID: result.MessageID,
			ClientRef: req.ClientRef,
			Delivered: result.Delivered,
		}))

	case types.FrameChatTyping:
		var req types.TypingRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			h.reply(conn, types.ErrorFrame(ErrMalformedFrame, ""))
			return
		}
		if err := h.typing.Relay(ctx, sender, req); err != nil {
			h.reply(conn, types.ErrorFrame(err, ""))
		}

	default:
		h.reply(conn, types.ErrorFrame(ErrUnknownFrameType, ""))
	}
}

func (h *Handler) reply(conn *Connection, frame types.OutboundFrame) {
	if err := conn.WriteJSON(frame); err != nil {
		h.logger.Debug().Err(err).Str("conn_id", conn.ID()).Str("frame", frame.Type).Msg("failed to reply")
	}
}
