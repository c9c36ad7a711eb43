package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatrelay/internal/registry"
	"chatrelay/internal/testutil"
	"chatrelay/pkg/types"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = types.UserIdentity{ID: "alice", DisplayName: "Alice"}

func presenceEvents(t *testing.T, p *testutil.Publisher) []types.PresenceEvent {
	t.Helper()
	var events []types.PresenceEvent
	for _, f := range p.Frames() {
		frame, ok := f.(types.OutboundFrame)
		require.True(t, ok)
		require.Equal(t, types.FramePresenceUpdate, frame.Type)
		events = append(events, frame.Payload.(types.PresenceEvent))
	}
	return events
}

func TestAnnounce_PersistsThenPublishes(t *testing.T) {
	store := testutil.NewPresenceStore()
	pub := testutil.NewPublisher()
	b := NewBroadcaster(store, pub, time.Second, zerolog.Nop())

	b.Announce(context.Background(), alice, true)

	require.Len(t, store.Events(), 1)
	assert.Equal(t, types.StatusActive, store.Events()[0].Status)

	events := presenceEvents(t, pub)
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].UserID)
	assert.Equal(t, "Alice", events[0].Username)
	assert.True(t, events[0].IsOnline)
	assert.Equal(t, []string{types.TopicPresence}, pub.Topics())
}

func TestAnnounce_StoreFailureStillBroadcasts(t *testing.T) {
	store := testutil.NewPresenceStore()
	store.Err = errors.New("db down")
	pub := testutil.NewPublisher()
	b := NewBroadcaster(store, pub, time.Second, zerolog.Nop())

	b.Announce(context.Background(), alice, false)

	events := presenceEvents(t, pub)
	require.Len(t, events, 1)
	assert.False(t, events[0].IsOnline)
	assert.Equal(t, types.StatusOffline, events[0].Status)
}

func TestRun_MultiDeviceChurnProducesTwoBroadcasts(t *testing.T) {
	reg := registry.NewRegistry(4, zerolog.Nop())
	pub := testutil.NewPublisher()
	b := NewBroadcaster(testutil.NewPresenceStore(), pub, time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx, reg)

	c1 := testutil.NewConnection("c1", alice)
	c2 := testutil.NewConnection("c2", alice)

	// 0 -> 1 -> 2 -> 1 -> 0
	require.NoError(t, reg.Register(c1))
	require.NoError(t, reg.Register(c2))
	reg.Unregister(c1)
	reg.Unregister(c2)

	require.Eventually(t, func() bool { return len(pub.Frames()) == 2 }, time.Second, 5*time.Millisecond)
	// Nothing else arrives.
	time.Sleep(20 * time.Millisecond)

	events := presenceEvents(t, pub)
	require.Len(t, events, 2)
	assert.True(t, events[0].IsOnline)
	assert.False(t, events[1].IsOnline)
}

func TestRun_StopsOnCancel(t *testing.T) {
	reg := registry.NewRegistry(1, zerolog.Nop())
	b := NewBroadcaster(nil, testutil.NewPublisher(), time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx, reg)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRun_FlushesQueuedTransitionsOnCancel(t *testing.T) {
	reg := registry.NewRegistry(1, zerolog.Nop())
	store := testutil.NewPresenceStore()
	pub := testutil.NewPublisher()
	b := NewBroadcaster(store, pub, time.Second, zerolog.Nop())

	require.NoError(t, reg.Register(testutil.NewConnection("c1", alice)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Run(ctx, reg)

	events := presenceEvents(t, pub)
	require.Len(t, events, 1)
	assert.True(t, events[0].IsOnline)
	assert.Len(t, store.Events(), 1, "persisted despite cancellation")
}
