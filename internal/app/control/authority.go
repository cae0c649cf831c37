// Package control owns who drives a room's shared display: the host-gated
// authority, the coordinator that fans requests and changes out over the
// bus, and the idempotent local view of the current controller.
package control

import (
	"context"

	"github.com/dkeye/sharedview/internal/core"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/dkeye/sharedview/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Store is the slice of the record store the authority needs.
type Store interface {
	core.RoomStore
	core.ParticipantStore
}

// Authority is the only writer of Room.CurrentControllerID. Every call
// reloads the room so the host check always uses the persisted host id.
type Authority struct {
	store Store
}

func NewAuthority(store Store) *Authority {
	return &Authority{store: store}
}

func (a *Authority) loadForHost(ctx context.Context, roomID domain.RoomID, requester domain.UserID) (*domain.Room, error) {
	room, err := a.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsHost(requester) {
		return nil, domain.ErrNotAuthorized
	}
	if !room.IsActive {
		return nil, domain.ErrRoomClosed
	}
	return room, nil
}

// Grant hands control to target. The target must be the host or a current
// member. Concurrent grants resolve last-write-wins.
func (a *Authority) Grant(ctx context.Context, roomID domain.RoomID, target, requester domain.UserID) (room *domain.Room, err error) {
	defer func() { a.record("grant", roomID, target, requester, err) }()

	room, err = a.loadForHost(ctx, roomID, requester)
	if err != nil {
		return nil, err
	}
	if room.IsHost(target) {
		return a.store.UpdateController(ctx, roomID, target)
	}
	if _, err = a.store.GetParticipant(ctx, roomID, target); err != nil {
		return nil, err
	}
	room, err = a.store.UpdateController(ctx, roomID, target)
	if err != nil {
		return nil, err
	}
	// The target may have left between the membership check and the write.
	// Leave reverts only a controller it can see, so re-check here.
	if _, err = a.store.GetParticipant(ctx, roomID, target); err != nil {
		if _, rerr := a.store.UpdateController(ctx, roomID, room.HostID); rerr != nil {
			return nil, rerr
		}
		return nil, err
	}
	return room, nil
}

// Revoke returns control to the host. It is never left empty.
func (a *Authority) Revoke(ctx context.Context, roomID domain.RoomID, requester domain.UserID) (room *domain.Room, err error) {
	defer func() { a.record("revoke", roomID, "", requester, err) }()

	room, err = a.loadForHost(ctx, roomID, requester)
	if err != nil {
		return nil, err
	}
	return a.store.UpdateController(ctx, roomID, room.HostID)
}

func (a *Authority) record(op string, roomID domain.RoomID, target, requester domain.UserID, err error) {
	metrics.ControlOps.WithLabelValues(op, metrics.Result(err)).Inc()
	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("module", "app.control").
		Str("op", op).
		Str("room", string(roomID)).
		Str("requester", string(requester)).
		Str("target", string(target)).
		Msg("control change")
}
