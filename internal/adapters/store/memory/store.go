// Package memory is an in-process record store. It backs the "memory" store
// driver and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/sharedview/internal/core"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/google/uuid"
)

var _ core.RecordStore = (*Store)(nil)

type Store struct {
	mu           sync.RWMutex
	rooms        map[domain.RoomID]*domain.Room
	roomOrder    map[domain.RoomID]uint64
	participants map[domain.RoomID]map[domain.UserID]*domain.Participant
	messages     map[domain.RoomID][]domain.ChatMessage
	users        map[domain.UserID]*domain.User
	nicknames    map[string]domain.UserID
	seq          uint64
}

func New() *Store {
	return &Store{
		rooms:        make(map[domain.RoomID]*domain.Room),
		roomOrder:    make(map[domain.RoomID]uint64),
		participants: make(map[domain.RoomID]map[domain.UserID]*domain.Participant),
		messages:     make(map[domain.RoomID][]domain.ChatMessage),
		users:        make(map[domain.UserID]*domain.User),
		nicknames:    make(map[string]domain.UserID),
	}
}

func cloneRoom(r *domain.Room) *domain.Room {
	out := *r
	if r.CurrentControllerID != nil {
		c := *r.CurrentControllerID
		out.CurrentControllerID = &c
	}
	return &out
}

// --- rooms ---

func (s *Store) CreateRoom(_ context.Context, room *domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room.ID == "" {
		room.ID = domain.RoomID(uuid.NewString())
	}
	now := time.Now().UTC()
	room.CreatedAt = now
	room.UpdatedAt = now
	if room.Version == 0 {
		room.Version = 1
	}
	s.seq++
	s.rooms[room.ID] = cloneRoom(room)
	s.roomOrder[room.ID] = s.seq
	return nil
}

func (s *Store) GetRoom(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return cloneRoom(r), nil
}

func (s *Store) ListActiveRooms(_ context.Context) ([]domain.RoomSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RoomSummary, 0, len(s.rooms))
	for id, r := range s.rooms {
		if !r.IsActive {
			continue
		}
		out = append(out, domain.RoomSummary{Room: *cloneRoom(r), ParticipantCount: len(s.participants[id])})
	}
	sort.Slice(out, func(i, j int) bool {
		return s.roomOrder[out[i].ID] > s.roomOrder[out[j].ID]
	})
	return out, nil
}

func (s *Store) UpdateController(_ context.Context, id domain.RoomID, controller domain.UserID) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	c := controller
	r.CurrentControllerID = &c
	r.Version++
	r.UpdatedAt = time.Now().UTC()
	return cloneRoom(r), nil
}

func (s *Store) DeactivateRoom(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	r.IsActive = false
	r.Version++
	r.UpdatedAt = time.Now().UTC()
	return cloneRoom(r), nil
}

// --- participants ---

func (s *Store) AddParticipant(_ context.Context, p *domain.Participant, capacity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.participants[p.RoomID]
	if _, ok := members[p.UserID]; ok {
		return domain.ErrAlreadyMember
	}
	if len(members) >= capacity {
		return domain.ErrRoomFull
	}
	if members == nil {
		members = make(map[domain.UserID]*domain.Participant)
		s.participants[p.RoomID] = members
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	cp := *p
	members[p.UserID] = &cp
	return nil
}

func (s *Store) RemoveParticipant(_ context.Context, room domain.RoomID, user domain.UserID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.participants[room]
	if _, ok := members[user]; !ok {
		return false, nil
	}
	delete(members, user)
	return true, nil
}

func (s *Store) GetParticipant(_ context.Context, room domain.RoomID, user domain.UserID) (*domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[room][user]
	if !ok {
		return nil, domain.ErrNotMember
	}
	cp := *p
	return &cp, nil
}

func (s *Store) CountParticipants(_ context.Context, room domain.RoomID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.participants[room]), nil
}

func (s *Store) ListParticipants(_ context.Context, room domain.RoomID) ([]domain.ParticipantView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := make([]*domain.Participant, 0, len(s.participants[room]))
	for _, p := range s.participants[room] {
		members = append(members, p)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].UserID < members[j].UserID
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	out := make([]domain.ParticipantView, 0, len(members))
	for _, p := range members {
		out = append(out, domain.ParticipantView{
			UserID:      p.UserID,
			Nickname:    s.nicknameLocked(p.UserID),
			IsConnected: p.IsConnected,
		})
	}
	return out, nil
}

func (s *Store) SetConnected(_ context.Context, room domain.RoomID, user domain.UserID, connected bool) (*domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[room][user]
	if !ok {
		return nil, domain.ErrNotMember
	}
	p.IsConnected = connected
	cp := *p
	return &cp, nil
}

// --- chat ---

func (s *Store) AppendMessage(_ context.Context, m *domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.messages[m.RoomID] = append(s.messages[m.RoomID], *m)
	return nil
}

func (s *Store) RecentMessages(_ context.Context, room domain.RoomID, limit int) ([]domain.ChatMessageView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.messages[room]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]domain.ChatMessageView, 0, len(log))
	for _, m := range log {
		out = append(out, domain.ChatMessageView{ChatMessage: m, Nickname: s.nicknameLocked(m.UserID)})
	}
	return out, nil
}

// --- users ---

func (s *Store) CreateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.nicknames[u.Nickname]; taken {
		return domain.ErrNicknameTaken
	}
	if u.ID == "" {
		u.ID = domain.UserID(uuid.NewString())
	}
	u.CreatedAt = time.Now().UTC()
	cp := *u
	s.users[u.ID] = &cp
	s.nicknames[u.Nickname] = u.ID
	return nil
}

func (s *Store) GetUser(_ context.Context, id domain.UserID) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) FindUserByNickname(_ context.Context, nickname string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.nicknames[nickname]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *Store) nicknameLocked(id domain.UserID) string {
	if u, ok := s.users[id]; ok {
		return u.Nickname
	}
	return domain.UnknownNickname
}
