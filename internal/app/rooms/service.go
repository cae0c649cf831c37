// Package rooms is the room lifecycle: create, list, inspect, close.
package rooms

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/sharedview/internal/core"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/rs/zerolog/log"
)

type Store interface {
	core.RoomStore
	core.ParticipantStore
}

type Limits struct {
	DefaultMaxParticipants int
	MaxParticipantsLimit   int
}

type Service struct {
	store  Store
	limits Limits
}

func NewService(store Store, limits Limits) *Service {
	if limits.DefaultMaxParticipants <= 0 {
		limits.DefaultMaxParticipants = 10
	}
	if limits.MaxParticipantsLimit < limits.DefaultMaxParticipants {
		limits.MaxParticipantsLimit = limits.DefaultMaxParticipants
	}
	return &Service{store: store, limits: limits}
}

// Details is a room plus its current members.
type Details struct {
	Room         *domain.Room             `json:"room"`
	Participants []domain.ParticipantView `json:"participants"`
}

// Create makes host the owner and first member. maxParticipants of zero
// selects the configured default.
func (s *Service) Create(ctx context.Context, name string, host domain.UserID, maxParticipants int) (*domain.Room, error) {
	if maxParticipants == 0 {
		maxParticipants = s.limits.DefaultMaxParticipants
	}
	if maxParticipants > s.limits.MaxParticipantsLimit {
		return nil, domain.ErrInvalidCapacity
	}
	room, err := domain.NewRoom(name, host, maxParticipants)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	if err := s.store.AddParticipant(ctx, domain.NewParticipant(room.ID, host), room.MaxParticipants); err != nil {
		// a room without its host must not stay listed
		if _, derr := s.store.DeactivateRoom(context.WithoutCancel(ctx), room.ID); derr != nil {
			log.Error().Err(derr).Str("module", "app.rooms").Str("room", string(room.ID)).Msg("deactivate orphaned room")
		}
		return nil, fmt.Errorf("add host to room %s: %w", room.ID, err)
	}
	log.Info().
		Str("module", "app.rooms").
		Str("room", string(room.ID)).
		Str("host", string(host)).
		Int("max", room.MaxParticipants).
		Msg("room created")
	return room, nil
}

func (s *Service) List(ctx context.Context) ([]domain.RoomSummary, error) {
	return s.store.ListActiveRooms(ctx)
}

func (s *Service) Get(ctx context.Context, id domain.RoomID) (*Details, error) {
	room, err := s.store.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Details{Room: room, Participants: members}, nil
}

// Close deactivates the room. Only the persisted host may close it; closing
// an already closed room is a no-op.
func (s *Service) Close(ctx context.Context, id domain.RoomID, requester domain.UserID) error {
	room, err := s.store.GetRoom(ctx, id)
	if err != nil {
		return err
	}
	if !room.IsHost(requester) {
		return domain.ErrNotAuthorized
	}
	if !room.IsActive {
		return nil
	}
	if _, err := s.store.DeactivateRoom(ctx, id); err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return err
		}
		return fmt.Errorf("close room %s: %w", id, err)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room closed")
	return nil
}
