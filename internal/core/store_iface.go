package core

import (
	"context"

	"github.com/dkeye/sharedview/internal/domain"
)

// RoomStore persists rooms. GetRoom is a single-row-required lookup and
// fails with domain.ErrRoomNotFound when nothing matches.
type RoomStore interface {
	CreateRoom(ctx context.Context, room *domain.Room) error
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	ListActiveRooms(ctx context.Context) ([]domain.RoomSummary, error)
	// UpdateController writes current_controller_id, bumps the row version
	// and returns the committed row. Concurrent writers: last write wins.
	UpdateController(ctx context.Context, id domain.RoomID, controller domain.UserID) (*domain.Room, error)
	DeactivateRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
}

// ParticipantStore persists room membership.
type ParticipantStore interface {
	// AddParticipant inserts the membership row if the room holds fewer than
	// capacity members. The count check and the insert are atomic.
	AddParticipant(ctx context.Context, p *domain.Participant, capacity int) error
	// RemoveParticipant is idempotent; removing a missing row is not an error.
	RemoveParticipant(ctx context.Context, room domain.RoomID, user domain.UserID) (removed bool, err error)
	// GetParticipant is a single-row-or-none lookup; none yields domain.ErrNotMember.
	GetParticipant(ctx context.Context, room domain.RoomID, user domain.UserID) (*domain.Participant, error)
	CountParticipants(ctx context.Context, room domain.RoomID) (int, error)
	ListParticipants(ctx context.Context, room domain.RoomID) ([]domain.ParticipantView, error)
	SetConnected(ctx context.Context, room domain.RoomID, user domain.UserID, connected bool) (*domain.Participant, error)
}

// MessageStore is an append-only chat log keyed by room.
type MessageStore interface {
	AppendMessage(ctx context.Context, m *domain.ChatMessage) error
	// RecentMessages returns at most limit newest messages, oldest first.
	RecentMessages(ctx context.Context, room domain.RoomID, limit int) ([]domain.ChatMessageView, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id domain.UserID) (*domain.User, error)
	FindUserByNickname(ctx context.Context, nickname string) (*domain.User, error)
}

// RecordStore is the full persistence contract consumed by the services.
type RecordStore interface {
	RoomStore
	ParticipantStore
	MessageStore
	UserStore
}
