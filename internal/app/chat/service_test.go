package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	busmem "github.com/dkeye/sharedview/internal/adapters/bus/memory"
	storemem "github.com/dkeye/sharedview/internal/adapters/store/memory"
	"github.com/dkeye/sharedview/internal/adapters/store/notify"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, pageSize int) (*Service, *domain.Room, *domain.User) {
	t.Helper()
	bus := busmem.New()
	t.Cleanup(func() { _ = bus.Close() })
	store := notify.Wrap(storemem.New(), bus)
	ctx := context.Background()

	alice, err := domain.NewUser("alice", "hash")
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(ctx, alice))
	room, err := domain.NewRoom("room", alice.ID, 4)
	require.NoError(t, err)
	require.NoError(t, store.CreateRoom(ctx, room))
	require.NoError(t, store.AddParticipant(ctx, domain.NewParticipant(room.ID, alice.ID), 4))
	return NewService(store, bus, pageSize), room, alice
}

func TestSendRequiresMembership(t *testing.T) {
	svc, room, alice := setup(t, 0)
	ctx := context.Background()

	_, err := svc.Send(ctx, room.ID, "stranger", "hi")
	assert.ErrorIs(t, err, domain.ErrNotMember)
	_, err = svc.Send(ctx, room.ID, alice.ID, "   ")
	assert.ErrorIs(t, err, domain.ErrMessageEmpty)

	msg, err := svc.Send(ctx, room.ID, alice.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Message)
}

func TestRecentIsBoundedAndAscending(t *testing.T) {
	svc, room, alice := setup(t, 3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := svc.Send(ctx, room.ID, alice.ID, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	msgs, err := svc.Recent(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"m2", "m3", "m4"}, []string{msgs[0].Message, msgs[1].Message, msgs[2].Message})
	assert.Equal(t, "alice", msgs[0].Nickname)
}

func TestSubscribeResolvesNickname(t *testing.T) {
	svc, room, alice := setup(t, 0)
	ctx := context.Background()

	got := make(chan domain.ChatMessageView, 1)
	sub, err := svc.Subscribe(ctx, room.ID, func(m domain.ChatMessageView) { got <- m })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_, err = svc.Send(ctx, room.ID, alice.ID, "live")
	require.NoError(t, err)

	select {
	case m := <-got:
		assert.Equal(t, "live", m.Message)
		assert.Equal(t, "alice", m.Nickname)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}
