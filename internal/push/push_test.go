package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"chatrelay/pkg/types"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRedis struct {
	mock.Mock
}

func (m *mockRedis) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	args := m.Called(ctx, key, values)
	cmd := redis.NewIntCmd(ctx)
	if err := args.Error(0); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

var notification = types.Notification{
	Title: "#general",
	Body:  "alice: hello",
	Data:  map[string]string{"type": "channel_message", "recipientId": "bob"},
}

func TestNewRedisQueueSender(t *testing.T) {
	_, err := NewRedisQueueSender(nil, "k", zerolog.Nop())
	assert.ErrorIs(t, err, ErrNilClient)

	s, err := NewRedisQueueSender(&mockRedis{}, "", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "chatrelay:push", s.key)
}

func TestRedisQueueSender_PushesOneJob(t *testing.T) {
	client := &mockRedis{}
	var captured []interface{}
	client.On("LPush", mock.Anything, "push:jobs", mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(2).([]interface{}) }).
		Return(nil).Once()

	s, err := NewRedisQueueSender(client, "push:jobs", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), "tok-1", notification))

	client.AssertExpectations(t)
	require.Len(t, captured, 1)

	var job Job
	require.NoError(t, json.Unmarshal(captured[0].([]byte), &job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "tok-1", job.Token)
	assert.Equal(t, notification, job.Notification)
	assert.False(t, job.QueuedAt.IsZero())
}

func TestRedisQueueSender_Errors(t *testing.T) {
	client := &mockRedis{}
	client.On("LPush", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	s, err := NewRedisQueueSender(client, "k", zerolog.Nop())
	require.NoError(t, err)

	assert.ErrorIs(t, s.Send(context.Background(), "", notification), ErrEmptyToken)
	err = s.Send(context.Background(), "tok", notification)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(zerolog.New(&buf))

	require.NoError(t, s.Send(context.Background(), "tok", notification))
	assert.Contains(t, buf.String(), `"title":"#general"`)
	assert.Contains(t, buf.String(), `"recipient_id":"bob"`)
	assert.ErrorIs(t, s.Send(context.Background(), "", notification), ErrEmptyToken)
}
