package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/sharedview/internal/core"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu  sync.Mutex
	got []core.Change
}

func (r *recorder) handle(ch core.Change) {
	r.mu.Lock()
	r.got = append(r.got, ch)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []core.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Change(nil), r.got...)
}

func mustChange(t *testing.T, room domain.RoomID, entity core.Entity, event core.EventType, v any) core.Change {
	t.Helper()
	ch, err := core.NewChange(room, entity, event, v)
	require.NoError(t, err)
	return ch
}

func TestFeedDeliversInPublishOrder(t *testing.T) {
	b := New()
	defer b.Close()
	ctx := context.Background()

	var rec recorder
	_, err := b.SubscribeChanges(ctx, "r1", core.EntityRooms, core.EventUpdate, rec.handle)
	require.NoError(t, err)

	for i := 1; i <= 50; i++ {
		require.NoError(t, b.PublishChange(ctx, mustChange(t, "r1", core.EntityRooms, core.EventUpdate, map[string]int{"version": i})))
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 50 }, time.Second, 5*time.Millisecond)
	for i, ch := range rec.snapshot() {
		var v map[string]int
		require.NoError(t, ch.Decode(&v))
		assert.Equal(t, i+1, v["version"])
	}
}

func TestFeedFiltersByRoomEntityAndEvent(t *testing.T) {
	b := New()
	defer b.Close()
	ctx := context.Background()

	var rooms, all recorder
	_, err := b.SubscribeChanges(ctx, "r1", core.EntityRooms, core.EventUpdate, rooms.handle)
	require.NoError(t, err)
	_, err = b.SubscribeChanges(ctx, "r1", "", "", all.handle)
	require.NoError(t, err)

	require.NoError(t, b.PublishChange(ctx, mustChange(t, "r2", core.EntityRooms, core.EventUpdate, nil)))
	require.NoError(t, b.PublishChange(ctx, mustChange(t, "r1", core.EntityParticipants, core.EventInsert, nil)))
	require.NoError(t, b.PublishChange(ctx, mustChange(t, "r1", core.EntityRooms, core.EventUpdate, nil)))

	require.Eventually(t, func() bool { return len(all.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(rooms.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, core.EntityRooms, rooms.snapshot()[0].Entity)
}

func TestFeedOnlySeesChangesAfterSubscribe(t *testing.T) {
	b := New()
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.PublishChange(ctx, mustChange(t, "r1", core.EntityRooms, core.EventUpdate, nil)))

	var rec recorder
	_, err := b.SubscribeChanges(ctx, "r1", core.EntityRooms, core.EventUpdate, rec.handle)
	require.NoError(t, err)
	require.NoError(t, b.PublishChange(ctx, mustChange(t, "r1", core.EntityRooms, core.EventUpdate, nil)))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())

	var explicit, viaCtx recorder
	sub, err := b.SubscribeChanges(context.Background(), "r1", "", "", explicit.handle)
	require.NoError(t, err)
	_, err = b.SubscribeChanges(ctx, "r1", "", "", viaCtx.handle)
	require.NoError(t, err)

	sub.Unsubscribe()
	sub.Unsubscribe()
	cancel()

	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.feeds["r1"]) == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, b.PublishChange(context.Background(), mustChange(t, "r1", core.EntityRooms, core.EventUpdate, nil)))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, explicit.snapshot())
	assert.Empty(t, viaCtx.snapshot())
}

func TestBroadcastReachesOnlyCurrentListeners(t *testing.T) {
	b := New()
	defer b.Close()
	ctx := context.Background()

	// nobody listening: the message is gone
	require.NoError(t, b.Broadcast(ctx, "r1", "control_request", []byte("lost")))

	var mu sync.Mutex
	var got []string
	_, err := b.Listen(ctx, "r1", "control_request", func(p []byte) {
		mu.Lock()
		got = append(got, string(p))
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, b.Broadcast(ctx, "r1", "other", []byte("x")))
	require.NoError(t, b.Broadcast(ctx, "r2", "control_request", []byte("x")))
	require.NoError(t, b.Broadcast(ctx, "r1", "control_request", []byte("hello")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"hello"}, got)
	mu.Unlock()
}

func TestClosedBusRejectsPublish(t *testing.T) {
	b := New()
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	err := b.PublishChange(context.Background(), core.Change{RoomID: "r1"})
	assert.ErrorIs(t, err, core.ErrBusClosed)
	err = b.Broadcast(context.Background(), "r1", "t", nil)
	assert.ErrorIs(t, err, core.ErrBusClosed)
	_, err = b.Listen(context.Background(), "r1", "t", func([]byte) {})
	assert.ErrorIs(t, err, core.ErrBusClosed)
}
