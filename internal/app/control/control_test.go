package control

import (
	"context"
	"sync"
	"testing"
	"time"

	busmem "github.com/dkeye/sharedview/internal/adapters/bus/memory"
	storemem "github.com/dkeye/sharedview/internal/adapters/store/memory"
	"github.com/dkeye/sharedview/internal/adapters/store/notify"
	"github.com/dkeye/sharedview/internal/core"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *notify.Store
	bus   *busmem.Bus
	coord *Coordinator
	room  *domain.Room
}

func newFixture(t *testing.T, members ...domain.UserID) *fixture {
	t.Helper()
	bus := busmem.New()
	t.Cleanup(func() { _ = bus.Close() })
	store := notify.Wrap(storemem.New(), bus)
	ctx := context.Background()

	room, err := domain.NewRoom("Movie Night", "host", 4)
	require.NoError(t, err)
	require.NoError(t, store.CreateRoom(ctx, room))
	require.NoError(t, store.AddParticipant(ctx, domain.NewParticipant(room.ID, "host"), room.MaxParticipants))
	for _, m := range members {
		require.NoError(t, store.AddParticipant(ctx, domain.NewParticipant(room.ID, m), room.MaxParticipants))
	}
	return &fixture{
		store: store,
		bus:   bus,
		coord: NewCoordinator(NewAuthority(store), bus),
		room:  room,
	}
}

func (f *fixture) controller(t *testing.T) domain.UserID {
	t.Helper()
	r, err := f.store.GetRoom(context.Background(), f.room.ID)
	require.NoError(t, err)
	c, ok := r.Controller()
	require.True(t, ok)
	return c
}

// watch attaches a ControllerView to the feed the way a viewer would.
func (f *fixture) watch(t *testing.T) *ControllerView {
	t.Helper()
	view := NewControllerView(f.room)
	_, err := f.coord.SubscribeControlChanges(context.Background(), f.room.ID, func(ch core.ControllerChange) {
		view.Apply(ch)
	})
	require.NoError(t, err)
	return view
}

func TestScenarioGrantAndRevokeReachEveryViewer(t *testing.T) {
	f := newFixture(t, "b", "c")
	ctx := context.Background()
	assert.Equal(t, domain.UserID("host"), f.controller(t))

	viewers := []*ControllerView{f.watch(t), f.watch(t), f.watch(t)}

	require.NoError(t, f.coord.GrantControl(ctx, f.room.ID, "b", "host"))
	for _, v := range viewers {
		v := v
		assert.Eventually(t, func() bool { return v.Is("b") }, time.Second, 5*time.Millisecond)
	}

	require.NoError(t, f.coord.RevokeControl(ctx, f.room.ID, "host"))
	for _, v := range viewers {
		v := v
		assert.Eventually(t, func() bool { return v.Is("host") }, time.Second, 5*time.Millisecond)
	}
	assert.Equal(t, domain.UserID("host"), f.controller(t))
}

func TestNonHostCannotGrantOrRevoke(t *testing.T) {
	f := newFixture(t, "b", "c")
	ctx := context.Background()

	err := f.coord.GrantControl(ctx, f.room.ID, "c", "b")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	assert.Equal(t, domain.UserID("host"), f.controller(t))

	require.NoError(t, f.coord.GrantControl(ctx, f.room.ID, "b", "host"))
	err = f.coord.RevokeControl(ctx, f.room.ID, "b")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	assert.Equal(t, domain.UserID("b"), f.controller(t))
}

func TestGrantFailureModes(t *testing.T) {
	f := newFixture(t, "b")
	ctx := context.Background()

	assert.ErrorIs(t, f.coord.GrantControl(ctx, "missing", "b", "host"), domain.ErrRoomNotFound)
	assert.ErrorIs(t, f.coord.RevokeControl(ctx, "missing", "host"), domain.ErrRoomNotFound)
	assert.ErrorIs(t, f.coord.GrantControl(ctx, f.room.ID, "stranger", "host"), domain.ErrNotMember)

	_, err := f.store.DeactivateRoom(ctx, f.room.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, f.coord.GrantControl(ctx, f.room.ID, "b", "host"), domain.ErrRoomClosed)
	assert.Equal(t, domain.UserID("host"), f.controller(t))
}

func TestHostIsReadFromStoreEveryCall(t *testing.T) {
	f := newFixture(t, "b")
	ctx := context.Background()

	// a caller holding a forged room copy gains nothing
	forged := *f.room
	forged.HostID = "b"
	auth := NewAuthority(f.store)
	_, err := auth.Grant(ctx, forged.ID, "b", forged.HostID)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
}

func TestLastGrantWins(t *testing.T) {
	f := newFixture(t, "b", "c")
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, target := range []domain.UserID{"b", "c"} {
		wg.Add(1)
		go func(target domain.UserID) {
			defer wg.Done()
			assert.NoError(t, f.coord.GrantControl(ctx, f.room.ID, target, "host"))
		}(target)
	}
	wg.Wait()
	assert.Contains(t, []domain.UserID{"b", "c"}, f.controller(t))

	r, err := f.store.GetRoom(ctx, f.room.ID)
	require.NoError(t, err)
	assert.Equal(t, f.room.Version+2, r.Version)
}

func TestControllerViewApplyIsIdempotent(t *testing.T) {
	room, err := domain.NewRoom("r", "host", 4)
	require.NoError(t, err)
	once := NewControllerView(room)
	twice := NewControllerView(room)

	ch := core.ControllerChange{RoomID: room.ID, ControllerID: "b", Version: 2, Active: true}
	assert.True(t, once.Apply(ch))
	assert.True(t, twice.Apply(ch))
	assert.False(t, twice.Apply(ch))
	assert.Equal(t, once.Controller(), twice.Controller())
	assert.Equal(t, once.Version(), twice.Version())

	// stale, foreign, and empty changes are ignored
	assert.False(t, twice.Apply(core.ControllerChange{RoomID: room.ID, ControllerID: "host", Version: 1}))
	assert.False(t, twice.Apply(core.ControllerChange{RoomID: "other", ControllerID: "c", Version: 9}))
	assert.False(t, twice.Apply(core.ControllerChange{RoomID: room.ID, Version: 9}))
	assert.Equal(t, domain.UserID("b"), twice.Controller())
}

func TestDuplicateFeedDeliveryKeepsState(t *testing.T) {
	f := newFixture(t, "b")
	ctx := context.Background()
	view := f.watch(t)

	updated, err := f.store.UpdateController(ctx, f.room.ID, "b")
	require.NoError(t, err)
	// redeliver the same committed row, as an at-least-once feed may
	dup, err := core.NewChange(f.room.ID, core.EntityRooms, core.EventUpdate, updated)
	require.NoError(t, err)
	require.NoError(t, f.bus.PublishChange(ctx, dup))

	assert.Eventually(t, func() bool { return view.Version() == updated.Version }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, domain.UserID("b"), view.Controller())
	assert.Equal(t, updated.Version, view.Version())
}

func TestControlRequestIsBestEffort(t *testing.T) {
	f := newFixture(t, "b")
	ctx := context.Background()

	// host not listening yet: the request is dropped, not queued
	require.NoError(t, f.coord.RequestControl(ctx, f.room.ID, "b"))

	got := make(chan core.ControlRequest, 4)
	hostPlane := f.coord.Bind(f.room.ID, "host")
	sub, err := hostPlane.SubscribeControlRequests(ctx, func(r core.ControlRequest) { got <- r })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, f.coord.Bind(f.room.ID, "b").RequestControl(ctx))
	select {
	case r := <-got:
		assert.Equal(t, domain.UserID("b"), r.RequesterID)
		assert.Equal(t, f.room.ID, r.RoomID)
	case <-time.After(time.Second):
		t.Fatal("request not delivered")
	}
	select {
	case r := <-got:
		t.Fatalf("unexpected extra request %+v", r)
	case <-time.After(20 * time.Millisecond):
	}

	// requests never touch the persisted controller
	assert.Equal(t, domain.UserID("host"), f.controller(t))
}

func TestResultOf(t *testing.T) {
	assert.Equal(t, Result{Success: true}, ResultOf(nil))
	assert.Equal(t, Result{Error: domain.ErrNotAuthorized.Error()}, ResultOf(domain.ErrNotAuthorized))
}
