// Package memory is an in-process notification bus. It backs the "memory"
// bus driver and the service tests.
package memory

import (
	"context"
	"sync"

	"github.com/dkeye/sharedview/internal/core"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/rs/zerolog/log"
)

var _ core.Bus = (*Bus)(nil)

type feedSub struct {
	entity core.Entity
	event  core.EventType
	h      core.ChangeHandler
	q      *queue
}

func (s *feedSub) matches(ch core.Change) bool {
	return (s.entity == "" || s.entity == ch.Entity) && (s.event == "" || s.event == ch.Event)
}

type topicKey struct {
	room  domain.RoomID
	topic string
}

type topicSub struct {
	h core.BroadcastHandler
	q *queue
}

type Bus struct {
	mu     sync.Mutex
	nextID uint64
	feeds  map[domain.RoomID]map[uint64]*feedSub
	topics map[topicKey]map[uint64]*topicSub
	closed bool
}

func New() *Bus {
	return &Bus{
		feeds:  make(map[domain.RoomID]map[uint64]*feedSub),
		topics: make(map[topicKey]map[uint64]*topicSub),
	}
}

func (b *Bus) PublishChange(_ context.Context, ch core.Change) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return core.ErrBusClosed
	}
	for _, s := range b.feeds[ch.RoomID] {
		if !s.matches(ch) {
			continue
		}
		h := s.h
		s.q.push(func() { h(ch) })
	}
	return nil
}

func (b *Bus) SubscribeChanges(ctx context.Context, room domain.RoomID, entity core.Entity, event core.EventType, h core.ChangeHandler) (core.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, core.ErrBusClosed
	}
	b.nextID++
	id := b.nextID
	s := &feedSub{entity: entity, event: event, h: h, q: newQueue()}
	subs := b.feeds[room]
	if subs == nil {
		subs = make(map[uint64]*feedSub)
		b.feeds[room] = subs
	}
	subs[id] = s

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.feeds[room], id)
			if len(b.feeds[room]) == 0 {
				delete(b.feeds, room)
			}
			b.mu.Unlock()
			s.q.stop()
		})
	}
	stop := context.AfterFunc(ctx, unsub)
	log.Debug().Str("module", "bus.memory").Str("room", string(room)).Str("entity", string(entity)).Str("event", string(event)).Msg("feed subscribed")
	return core.SubscriptionFunc(func() {
		stop()
		unsub()
	}), nil
}

func (b *Bus) Broadcast(_ context.Context, room domain.RoomID, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return core.ErrBusClosed
	}
	for _, s := range b.topics[topicKey{room, topic}] {
		h := s.h
		msg := append([]byte(nil), payload...)
		s.q.push(func() { h(msg) })
	}
	return nil
}

func (b *Bus) Listen(ctx context.Context, room domain.RoomID, topic string, h core.BroadcastHandler) (core.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, core.ErrBusClosed
	}
	b.nextID++
	id := b.nextID
	key := topicKey{room, topic}
	s := &topicSub{h: h, q: newQueue()}
	subs := b.topics[key]
	if subs == nil {
		subs = make(map[uint64]*topicSub)
		b.topics[key] = subs
	}
	subs[id] = s

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.topics[key], id)
			if len(b.topics[key]) == 0 {
				delete(b.topics, key)
			}
			b.mu.Unlock()
			s.q.stop()
		})
	}
	stop := context.AfterFunc(ctx, unsub)
	return core.SubscriptionFunc(func() {
		stop()
		unsub()
	}), nil
}

// Close stops every delivery goroutine. Further publishes fail with
// core.ErrBusClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.feeds {
		for _, s := range subs {
			s.q.stop()
		}
	}
	for _, subs := range b.topics {
		for _, s := range subs {
			s.q.stop()
		}
	}
	b.feeds = map[domain.RoomID]map[uint64]*feedSub{}
	b.topics = map[topicKey]map[uint64]*topicSub{}
	return nil
}
