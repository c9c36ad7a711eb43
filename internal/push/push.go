// Package push provides PushSender implementations. A push provider worker
// outside this service consumes the Redis queue.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatrelay/pkg/types"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	ErrNilClient  = errors.New("redis client cannot be nil")
	ErrEmptyToken = errors.New("device token cannot be empty")
)

// redisClient defines the subset of go-redis the sender needs.
type redisClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// Job is the JSON document queued for the push provider worker.
type Job struct {
	ID           string             `json:"id"`
	Token        string             `json:"token"`
	Notification types.Notification `json:"notification"`
	QueuedAt     time.Time          `json:"queuedAt"`
}

// RedisQueueSender queues one Job per Send on a Redis list.
type RedisQueueSender struct {
	client redisClient
	key    string
	logger zerolog.Logger
}

func NewRedisQueueSender(client redisClient, key string, logger zerolog.Logger) (*RedisQueueSender, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if key == "" {
		key = "chatrelay:push"
	}
	return &RedisQueueSender{
		client: client,
		key:    key,
		logger: logger.With().Str("component", "redis_push_sender").Logger(),
	}, nil
}

// Send pushes a job onto the head of the queue list.
func (s *RedisQueueSender) Send(ctx context.Context, token string, n types.Notification) error {
	if token == "" {
		return ErrEmptyToken
	}
	job := Job{ID: uuid.NewString(), Token: token, Notification: n, QueuedAt: time.Now().UTC()}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal push job: %w", err)
	}
	if err := s.client.LPush(ctx, s.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to lpush push job: %w", err)
	}

	s.logger.Debug().Str("job_id", job.ID).Str("key", s.key).Msg("push job queued")
	return nil
}

// LogSender only logs notifications. Used when no push provider is configured.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "log_push_sender").Logger()}
}

func (s *LogSender) Send(ctx context.Context, token string, n types.Notification) error {
	if token == "" {
		return ErrEmptyToken
	}
	s.logger.Info().
		Str("title", n.Title).
		Str("body", n.Body).
		Str("type", n.Data["type"]).
		Str("recipient_id", n.Data["recipientId"]).
		Msg("push notification")
	return nil
}
