package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"chatrelay/pkg/types"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ConnectionOptions tune a single connection.
type ConnectionOptions struct {
	SendBuffer   int           // queued outbound frames before the peer is dropped
	WriteTimeout time.Duration // deadline for each frame write
	PingInterval time.Duration // zero disables pings
}

func (o ConnectionOptions) withDefaults() ConnectionOptions {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 100
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

// Connection implements interfaces.Connection over a gorilla websocket.
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized, so one writer
// goroutine owns the socket and everything else enqueues.
type Connection struct {
	conn        *websocket.Conn
	id          string
	identity    types.UserIdentity
	connectedAt time.Time
	opts        ConnectionOptions

	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	logger    zerolog.Logger
}

// NewConnection wraps conn for identity. The identity is fixed for the
// lifetime of the connection.
func NewConnection(conn *websocket.Conn, identity types.UserIdentity, opts ConnectionOptions, logger zerolog.Logger) (*Connection, error) {
	if identity.IsZero() {
		return nil, ErrUnboundIdentity
	}
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	c := &Connection{
		conn:        conn,
		id:          id,
		identity:    identity,
		connectedAt: time.Now().UTC(),
		opts:        opts,
		writeCh:     make(chan []byte, opts.SendBuffer),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.With().Str("conn_id", id).Str("user_id", identity.ID).Logger(),
	}

	go c.writeLoop()
	return c, nil
}

func (c *Connection) ID() string                   { return c.id }
func (c *Connection) Identity() types.UserIdentity { return c.identity }
func (c *Connection) ConnectedAt() time.Time       { return c.connectedAt }

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

func (c *Connection) writeLoop() {
	var ping <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("write failed, closing connection")
				_ = c.Close()
				return
			}

		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v without blocking. A full buffer means the peer cannot
// keep up: the connection is closed and ErrSendBufferFull returned.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		c.logger.Warn().Int("buffer", c.opts.SendBuffer).Msg("slow consumer, closing connection")
		_ = c.Close()
		return ErrSendBufferFull
	}
}

// Close stops the writer and closes the socket. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
