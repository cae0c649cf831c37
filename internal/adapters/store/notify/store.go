// Package notify wraps a record store so that every committed mutation is
// published on the change feed. Reads pass straight through.
package notify

import (
	"context"

	"github.com/dkeye/sharedview/internal/core"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/rs/zerolog/log"
)

var _ core.RecordStore = (*Store)(nil)

type Store struct {
	core.RecordStore
	feed core.ChangeFeed
}

func Wrap(store core.RecordStore, feed core.ChangeFeed) *Store {
	return &Store{RecordStore: store, feed: feed}
}

// publish never fails the mutation: the row is already committed.
func (s *Store) publish(ctx context.Context, room domain.RoomID, entity core.Entity, event core.EventType, record any) {
	ch, err := core.NewChange(room, entity, event, record)
	if err == nil {
		err = s.feed.PublishChange(ctx, ch)
	}
	if err != nil {
		log.Error().Err(err).
			Str("module", "store.notify").
			Str("room", string(room)).
			Str("entity", string(entity)).
			Str("event", string(event)).
			Msg("publish change")
	}
}

func (s *Store) UpdateController(ctx context.Context, id domain.RoomID, controller domain.UserID) (*domain.Room, error) {
	room, err := s.RecordStore.UpdateController(ctx, id, controller)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, id, core.EntityRooms, core.EventUpdate, room)
	return room, nil
}

func (s *Store) DeactivateRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	room, err := s.RecordStore.DeactivateRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, id, core.EntityRooms, core.EventUpdate, room)
	return room, nil
}

func (s *Store) AddParticipant(ctx context.Context, p *domain.Participant, capacity int) error {
	if err := s.RecordStore.AddParticipant(ctx, p, capacity); err != nil {
		return err
	}
	s.publish(ctx, p.RoomID, core.EntityParticipants, core.EventInsert, p)
	return nil
}

func (s *Store) RemoveParticipant(ctx context.Context, room domain.RoomID, user domain.UserID) (bool, error) {
	removed, err := s.RecordStore.RemoveParticipant(ctx, room, user)
	if err != nil || !removed {
		return removed, err
	}
	s.publish(ctx, room, core.EntityParticipants, core.EventDelete, domain.NewParticipant(room, user))
	return true, nil
}

func (s *Store) SetConnected(ctx context.Context, room domain.RoomID, user domain.UserID, connected bool) (*domain.Participant, error) {
	p, err := s.RecordStore.SetConnected(ctx, room, user, connected)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, room, core.EntityParticipants, core.EventUpdate, p)
	return p, nil
}

func (s *Store) AppendMessage(ctx context.Context, m *domain.ChatMessage) error {
	if err := s.RecordStore.AppendMessage(ctx, m); err != nil {
		return err
	}
	s.publish(ctx, m.RoomID, core.EntityChatMessages, core.EventInsert, m)
	return nil
}
