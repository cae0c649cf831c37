package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	busmem "github.com/dkeye/sharedview/internal/adapters/bus/memory"
	storemem "github.com/dkeye/sharedview/internal/adapters/store/memory"
	"github.com/dkeye/sharedview/internal/core"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutationsArePublished(t *testing.T) {
	bus := busmem.New()
	defer bus.Close()
	s := Wrap(storemem.New(), bus)
	ctx := context.Background()

	room, err := domain.NewRoom("room", "host", 4)
	require.NoError(t, err)
	require.NoError(t, s.CreateRoom(ctx, room))

	var mu sync.Mutex
	var got []core.Change
	_, err = bus.SubscribeChanges(ctx, room.ID, "", "", func(ch core.Change) {
		mu.Lock()
		got = append(got, ch)
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, s.AddParticipant(ctx, domain.NewParticipant(room.ID, "guest"), 4))
	_, err = s.SetConnected(ctx, room.ID, "guest", true)
	require.NoError(t, err)
	_, err = s.UpdateController(ctx, room.ID, "guest")
	require.NoError(t, err)
	msg, _ := domain.NewChatMessage(room.ID, "guest", "hi")
	require.NoError(t, s.AppendMessage(ctx, msg))
	_, err = s.RemoveParticipant(ctx, room.ID, "guest")
	require.NoError(t, err)
	// second removal changes nothing and publishes nothing
	_, err = s.RemoveParticipant(ctx, room.ID, "guest")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	kinds := make([]string, 0, len(got))
	for _, ch := range got {
		kinds = append(kinds, string(ch.Entity)+"/"+string(ch.Event))
	}
	assert.Equal(t, []string{
		"room_participants/INSERT",
		"room_participants/UPDATE",
		"rooms/UPDATE",
		"chat_messages/INSERT",
		"room_participants/DELETE",
	}, kinds)

	var updated domain.Room
	require.NoError(t, got[2].Decode(&updated))
	c, _ := updated.Controller()
	assert.Equal(t, domain.UserID("guest"), c)
	assert.Equal(t, room.Version+1, updated.Version)
}

func TestFailedMutationPublishesNothing(t *testing.T) {
	bus := busmem.New()
	defer bus.Close()
	s := Wrap(storemem.New(), bus)
	ctx := context.Background()

	var mu sync.Mutex
	n := 0
	_, err := bus.SubscribeChanges(ctx, "missing", "", "", func(core.Change) {
		mu.Lock()
		n++
		mu.Unlock()
	})
	require.NoError(t, err)

	_, err = s.UpdateController(ctx, "missing", "x")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Zero(t, n)
	mu.Unlock()
}
