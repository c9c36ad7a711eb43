package hub

import (
	"context"
	"testing"
	"time"

	"chatrelay/internal/testutil"
	"chatrelay/pkg/types"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startedHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(zerolog.Nop())
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Stop() })
	return h
}

func TestHub_StartStop(t *testing.T) {
	h := NewHub(zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, h.Start(ctx))
	assert.ErrorIs(t, h.Start(ctx), ErrHubAlreadyRunning)

	require.NoError(t, h.Stop())
	assert.ErrorIs(t, h.Stop(), ErrHubNotRunning)

	// Restartable after a clean stop.
	require.NoError(t, h.Start(ctx))
	require.NoError(t, h.Stop())
}

func TestHub_RejectsWhenStopped(t *testing.T) {
	h := NewHub(zerolog.Nop())
	conn := testutil.NewConnection("c1", types.UserIdentity{ID: "alice"})

	assert.ErrorIs(t, h.Subscribe(types.TopicPresence, conn), ErrHubNotRunning)
	assert.ErrorIs(t, h.Publish(types.TopicPresence, "x"), ErrHubNotRunning)
	assert.Nil(t, h.Stats())
}

func TestHub_Validation(t *testing.T) {
	h := startedHub(t)
	conn := testutil.NewConnection("c1", types.UserIdentity{ID: "alice"})

	assert.ErrorIs(t, h.Subscribe("", conn), ErrEmptyTopic)
	assert.ErrorIs(t, h.Subscribe(types.TopicPresence, nil), ErrNilConnection)
	assert.ErrorIs(t, h.Publish("", "x"), ErrEmptyTopic)
}

func TestHub_PublishReachesSubscribers(t *testing.T) {
	h := startedHub(t)
	a := testutil.NewConnection("a", types.UserIdentity{ID: "alice"})
	b := testutil.NewConnection("b", types.UserIdentity{ID: "bob"})
	other := testutil.NewConnection("o", types.UserIdentity{ID: "oscar"})

	require.NoError(t, h.Subscribe(types.TopicPresence, a))
	require.NoError(t, h.Subscribe(types.TopicPresence, b))
	require.NoError(t, h.Subscribe("elsewhere", other))

	frame := types.NewFrame(types.FramePresenceUpdate, types.PresenceEvent{UserID: "carol", IsOnline: true})
	require.NoError(t, h.Publish(types.TopicPresence, frame))

	require.Eventually(t, func() bool {
		return len(a.Frames()) == 1 && len(b.Frames()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, other.Frames())
	assert.Equal(t, types.FramePresenceUpdate, a.Frames()[0].Type)
}

func TestHub_UnsubscribeAll(t *testing.T) {
	h := startedHub(t)
	a := testutil.NewConnection("a", types.UserIdentity{ID: "alice"})

	require.NoError(t, h.Subscribe(types.TopicPresence, a))
	require.NoError(t, h.Subscribe("other", a))
	require.NoError(t, h.UnsubscribeAll(a))
	require.NoError(t, h.Publish(types.TopicPresence, "x"))

	require.Eventually(t, func() bool {
		s := h.Stats()
		return s["pending_publish"] == 0 && s["subscriptions"] == 0 && s["topics"] == 0
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, a.Frames())
}

func TestHub_Unsubscribe(t *testing.T) {
	h := startedHub(t)
	a := testutil.NewConnection("a", types.UserIdentity{ID: "alice"})
	b := testutil.NewConnection("b", types.UserIdentity{ID: "bob"})

	require.NoError(t, h.Subscribe(types.TopicPresence, a))
	require.NoError(t, h.Subscribe(types.TopicPresence, b))
	require.NoError(t, h.Unsubscribe(types.TopicPresence, a))
	require.NoError(t, h.Publish(types.TopicPresence, "x"))

	require.Eventually(t, func() bool { return len(b.Frames()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, a.Frames())
	assert.Equal(t, 1, h.Stats()["subscriptions"])
}

func TestHub_FailedWriteDoesNotStopPublish(t *testing.T) {
	h := startedHub(t)
	broken := testutil.NewConnection("broken", types.UserIdentity{ID: "alice"})
	broken.FailWrites()
	ok := testutil.NewConnection("ok", types.UserIdentity{ID: "bob"})

	require.NoError(t, h.Subscribe(types.TopicPresence, broken))
	require.NoError(t, h.Subscribe(types.TopicPresence, ok))
	require.NoError(t, h.Publish(types.TopicPresence, "x"))

	require.Eventually(t, func() bool { return len(ok.Frames()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestHub_ContextCancelStopsLoop(t *testing.T) {
	h := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.Start(ctx))
	cancel()

	require.Eventually(t, func() bool { return !h.isRunning() }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, h.Publish(types.TopicPresence, "x"), ErrHubNotRunning)
}
