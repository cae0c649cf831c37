package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/sharedview/internal/domain"
)

var ErrBusClosed = errors.New("bus closed")

type Entity string

const (
	EntityRooms        Entity = "rooms"
	EntityParticipants Entity = "room_participants"
	EntityChatMessages Entity = "chat_messages"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Change is one committed record mutation delivered by the change feed.
type Change struct {
	RoomID domain.RoomID   `json:"room_id"`
	Entity Entity          `json:"entity"`
	Event  EventType       `json:"event"`
	Record json.RawMessage `json:"record"`
}

func NewChange(room domain.RoomID, entity Entity, event EventType, record any) (Change, error) {
	b, err := json.Marshal(record)
	if err != nil {
		return Change{}, fmt.Errorf("encode %s %s record: %w", entity, event, err)
	}
	return Change{RoomID: room, Entity: entity, Event: event, Record: b}, nil
}

// Decode unmarshals the changed record into v.
func (c Change) Decode(v any) error {
	return json.Unmarshal(c.Record, v)
}

// Subscription terminates future deliveries. Already in-flight deliveries
// may still arrive. Unsubscribe is safe to call more than once.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a plain func to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }

type ChangeHandler func(Change)

// ChangeFeed is the durable per-room change log. Within a room, changes are
// delivered in publish order, at least once. Subscribers only see changes
// published after they subscribed. An empty entity or event matches all.
// The subscription ends on Unsubscribe or when ctx is done.
type ChangeFeed interface {
	PublishChange(ctx context.Context, ch Change) error
	SubscribeChanges(ctx context.Context, room domain.RoomID, entity Entity, event EventType, h ChangeHandler) (Subscription, error)
}

type BroadcastHandler func(payload []byte)

// Broadcaster is the ephemeral per-room fan-out. Delivery is best effort
// and nothing is kept for listeners that subscribe later.
type Broadcaster interface {
	Broadcast(ctx context.Context, room domain.RoomID, topic string, payload []byte) error
	Listen(ctx context.Context, room domain.RoomID, topic string, h BroadcastHandler) (Subscription, error)
}

// Bus carries both primitives. They are never collapsed into one.
type Bus interface {
	ChangeFeed
	Broadcaster
	Close() error
}
