// Package membership tracks who is in a room and whether they are connected.
package membership

import (
	"context"
	"errors"

	"github.com/dkeye/sharedview/internal/core"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/dkeye/sharedview/internal/metrics"
	"github.com/rs/zerolog/log"
)

type Store interface {
	core.RoomStore
	core.ParticipantStore
}

type Tracker struct {
	store Store
}

func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// Join admits user if the room is active and below capacity. A repeat join
// fails with ErrAlreadyMember even when the room is also full.
func (t *Tracker) Join(ctx context.Context, roomID domain.RoomID, user domain.UserID) (err error) {
	defer func() {
		metrics.Joins.WithLabelValues(metrics.Result(err)).Inc()
		ev := log.Info()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Str("module", "app.membership").Str("room", string(roomID)).Str("user", string(user)).Msg("join")
	}()

	room, err := t.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.IsActive {
		return domain.ErrRoomClosed
	}
	return t.store.AddParticipant(ctx, domain.NewParticipant(roomID, user), room.MaxParticipants)
}

// Leave removes the membership row. Leaving twice is a no-op. If the
// departing user held control, control goes back to the host.
func (t *Tracker) Leave(ctx context.Context, roomID domain.RoomID, user domain.UserID) error {
	removed, err := t.store.RemoveParticipant(ctx, roomID, user)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	log.Info().Str("module", "app.membership").Str("room", string(roomID)).Str("user", string(user)).Msg("leave")

	room, err := t.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil
		}
		return err
	}
	if c, ok := room.Controller(); ok && c == user && !room.IsHost(user) {
		if _, err := t.store.UpdateController(ctx, roomID, room.HostID); err != nil {
			return err
		}
		log.Info().Str("module", "app.membership").Str("room", string(roomID)).Str("user", string(user)).Msg("controller left, control back to host")
	}
	return nil
}

// SetConnected flips presence without touching membership.
func (t *Tracker) SetConnected(ctx context.Context, roomID domain.RoomID, user domain.UserID, connected bool) error {
	_, err := t.store.SetConnected(ctx, roomID, user, connected)
	return err
}

func (t *Tracker) IsMember(ctx context.Context, roomID domain.RoomID, user domain.UserID) (bool, error) {
	_, err := t.store.GetParticipant(ctx, roomID, user)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrNotMember):
		return false, nil
	}
	return false, err
}

func (t *Tracker) Members(ctx context.Context, roomID domain.RoomID) ([]domain.ParticipantView, error) {
	return t.store.ListParticipants(ctx, roomID)
}
