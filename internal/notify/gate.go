// Package notify turns undelivered messages into push notifications for
// offline recipients.
package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"

	"github.com/rs/zerolog"
)

// Notification data types.
const (
	DataTypeDirect  = "direct_message"
	DataTypeChannel = "channel_message"
)

// Config sizes the worker pool.
type Config struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

// DefaultConfig returns the pool settings used when none are configured.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 1024, SendTimeout: 5 * time.Second}
}

type job struct {
	env       *types.OutboundEnvelope
	recipient types.UserIdentity
}

// Gate queues notification jobs and dispatches them on a worker pool.
// MaybeNotify never blocks: when the queue is full the job is dropped.
type Gate struct {
	tokens  interfaces.DeviceTokenStore
	sender  interfaces.PushSender
	cfg     Config
	jobs    chan job
	logger  zerolog.Logger
	running atomic.Bool

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
	skipped atomic.Int64
}

// NewGate creates a gate. Zero-valued config fields take their defaults.
func NewGate(tokens interfaces.DeviceTokenStore, sender interfaces.PushSender, cfg Config, logger zerolog.Logger) *Gate {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	return &Gate{
		tokens: tokens,
		sender: sender,
		cfg:    cfg,
		jobs:   make(chan job, cfg.QueueSize),
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// MaybeNotify queues a notification for recipient about env.
func (g *Gate) MaybeNotify(env *types.OutboundEnvelope, recipient types.UserIdentity) {
	if env == nil || recipient.IsZero() {
		return
	}
	select {
	case g.jobs <- job{env: env, recipient: recipient}:
	default:
		g.dropped.Add(1)
		g.logger.Warn().
			Str("message_id", env.MessageID).
			Str("recipient_id", recipient.ID).
			Msg("notification queue full, dropping job")
	}
}

// Run starts the workers and blocks until ctx is done and they have exited.
// Jobs still queued at shutdown are abandoned.
func (g *Gate) Run(ctx context.Context) error {
	if !g.running.CompareAndSwap(false, true) {
		return ErrGateAlreadyRunning
	}
	defer g.running.Store(false)

	g.logger.Info().Int("workers", g.cfg.Workers).Int("queue_size", g.cfg.QueueSize).Msg("notification workers started")

	var wg sync.WaitGroup
	for i := 0; i < g.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			g.worker(ctx, id)
		}(i)
	}
	wg.Wait()

	g.logger.Info().Int("abandoned", len(g.jobs)).Msg("notification workers stopped")
	return nil
}

func (g *Gate) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-g.jobs:
			g.process(ctx, j, id)
		}
	}
}

// process handles one job. A panic in a sender is contained to the job.
func (g *Gate) process(ctx context.Context, j job, workerID int) {
	logger := g.logger.With().
		Int("worker", workerID).
		Str("message_id", j.env.MessageID).
		Str("recipient_id", j.recipient.ID).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			g.failed.Add(1)
			logger.Error().Str("panic", fmt.Sprint(r)).Msg("notification worker recovered from panic")
		}
	}()

	lookupCtx, cancel := context.WithTimeout(ctx, g.cfg.SendTimeout)
	tokens, err := g.tokens.TokensFor(lookupCtx, j.recipient.ID)
	cancel()
	if err != nil {
		g.failed.Add(1)
		logger.Error().Err(err).Msg("failed to look up device tokens")
		return
	}
	if len(tokens) == 0 {
		g.skipped.Add(1)
		logger.Debug().Msg("no device token registered, skipping notification")
		return
	}

	n := BuildNotification(j.env, j.recipient)
	for _, token := range tokens {
		sendCtx, cancel := context.WithTimeout(ctx, g.cfg.SendTimeout)
		err := g.sender.Send(sendCtx, token.Token, n)
		cancel()
		if err != nil {
			g.failed.Add(1)
			logger.Error().Err(err).Str("device_type", token.DeviceType).Msg("failed to send notification")
			continue
		}
		g.sent.Add(1)
		logger.Debug().Str("device_type", token.DeviceType).Msg("notification sent")
	}
}

// BuildNotification renders the push payload for recipient.
func BuildNotification(env *types.OutboundEnvelope, recipient types.UserIdentity) types.Notification {
	sender := env.Sender.Name()
	n := types.Notification{
		Image: env.Sender.AvatarURL,
		Data: map[string]string{
			"messageId":      env.MessageID,
			"senderId":       env.Sender.ID,
			"senderUsername": sender,
			"recipientId":    recipient.ID,
		},
	}

	switch env.Audience.Kind {
	case types.AudienceChannel:
		n.Title = "#" + env.Audience.Channel.Name
		n.Body = sender + ": " + types.Truncate(env.Content)
		n.Data["type"] = DataTypeChannel
		n.Data["channelId"] = env.Audience.Channel.ID
		n.Data["channelName"] = env.Audience.Channel.Name
	default:
		n.Title = sender
		n.Body = types.Truncate(env.Content)
		n.Data["type"] = DataTypeDirect
	}
	return n
}

// Stats returns dispatch counters.
func (g *Gate) Stats() map[string]int64 {
	return map[string]int64{
		"sent":    g.sent.Load(),
		"failed":  g.failed.Load(),
		"dropped": g.dropped.Load(),
		"skipped": g.skipped.Load(),
		"queued":  int64(len(g.jobs)),
	}
}
