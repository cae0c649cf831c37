// Package redisbus implements the notification bus on Redis: a per-room
// stream is the durable change feed and a pub/sub channel per room topic is
// the broadcast.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/sharedview/internal/core"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

const (
	defaultKeyPrefix = "sv:"
	readBlock        = time.Second
	readCount        = 64
)

var _ core.Bus = (*Bus)(nil)

type Options struct {
	KeyPrefix  string
	FeedMaxLen int64
}

type Bus struct {
	client    *redis.Client
	keyPrefix string
	maxLen    int64

	mu     sync.Mutex
	subs   map[uint64]context.CancelFunc
	nextID uint64
	closed bool
	wg     sync.WaitGroup
}

func New(client *redis.Client, opts Options) *Bus {
	if client == nil {
		panic("redisbus: nil redis client")
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = defaultKeyPrefix
	}
	return &Bus{
		client:    client,
		keyPrefix: opts.KeyPrefix,
		maxLen:    opts.FeedMaxLen,
		subs:      make(map[uint64]context.CancelFunc),
	}
}

// --- key helpers ---

func (b *Bus) feedKey(room domain.RoomID) string {
	return fmt.Sprintf("%sroom:%s:feed", b.keyPrefix, room)
}

func (b *Bus) topicChannel(room domain.RoomID, topic string) string {
	return fmt.Sprintf("%sroom:%s:bc:%s", b.keyPrefix, room, topic)
}

// track registers a worker goroutine; the returned func releases it.
func (b *Bus) track(ctx context.Context) (context.Context, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, core.ErrBusClosed
	}
	b.nextID++
	id := b.nextID
	ctx, cancel := context.WithCancel(ctx)
	b.subs[id] = cancel
	b.wg.Add(1)
	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel()
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
	return ctx, release, nil
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// --- change feed ---

func (b *Bus) PublishChange(ctx context.Context, ch core.Change) error {
	if b.isClosed() {
		return core.ErrBusClosed
	}
	args := &redis.XAddArgs{
		Stream: b.feedKey(ch.RoomID),
		Values: map[string]any{
			"entity": string(ch.Entity),
			"event":  string(ch.Event),
			"record": string(ch.Record),
		},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: publish %s %s to %s: %w", ch.Entity, ch.Event, args.Stream, err)
	}
	return nil
}

// lastID is the stream tail at subscribe time, so only later entries are read.
func (b *Bus) lastID(ctx context.Context, key string) (string, error) {
	entries, err := b.client.XRevRangeN(ctx, key, "+", "-", 1).Result()
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "0-0", nil
	}
	return entries[0].ID, nil
}

func (b *Bus) SubscribeChanges(ctx context.Context, room domain.RoomID, entity core.Entity, event core.EventType, h core.ChangeHandler) (core.Subscription, error) {
	key := b.feedKey(room)
	from, err := b.lastID(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("redis: read tail of %s: %w", key, err)
	}
	runCtx, release, err := b.track(ctx)
	if err != nil {
		return nil, err
	}

	go func() {
		defer b.wg.Done()
		defer release()
		b.readFeed(runCtx, room, key, from, entity, event, h)
	}()
	return core.SubscriptionFunc(release), nil
}

func (b *Bus) readFeed(ctx context.Context, room domain.RoomID, key, from string, entity core.Entity, event core.EventType, h core.ChangeHandler) {
	logger := log.With().Str("module", "bus.redis").Str("room", string(room)).Logger()
	for ctx.Err() == nil {
		streams, err := b.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, from},
			Count:   readCount,
			Block:   readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("xread")
			select {
			case <-ctx.Done():
				return
			case <-time.After(readBlock):
			}
			continue
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				from = msg.ID
				ch, ok := decodeChange(room, msg.Values)
				if !ok {
					logger.Warn().Str("id", msg.ID).Msg("malformed feed entry")
					continue
				}
				if (entity != "" && ch.Entity != entity) || (event != "" && ch.Event != event) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				h(ch)
			}
		}
	}
}

func decodeChange(room domain.RoomID, values map[string]any) (core.Change, bool) {
	entity, ok1 := values["entity"].(string)
	event, ok2 := values["event"].(string)
	record, ok3 := values["record"].(string)
	if !ok1 || !ok2 || !ok3 {
		return core.Change{}, false
	}
	return core.Change{
		RoomID: room,
		Entity: core.Entity(entity),
		Event:  core.EventType(event),
		Record: json.RawMessage(record),
	}, true
}

// --- broadcast ---

func (b *Bus) Broadcast(ctx context.Context, room domain.RoomID, topic string, payload []byte) error {
	if b.isClosed() {
		return core.ErrBusClosed
	}
	channel := b.topicChannel(room, topic)
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: broadcast on %s: %w", channel, err)
	}
	return nil
}

func (b *Bus) Listen(ctx context.Context, room domain.RoomID, topic string, h core.BroadcastHandler) (core.Subscription, error) {
	channel := b.topicChannel(room, topic)
	ps := b.client.Subscribe(ctx, channel)
	// wait for the subscription ack so broadcasts after Listen returns are seen
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}
	runCtx, release, err := b.track(ctx)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}

	go func() {
		defer b.wg.Done()
		defer release()
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-runCtx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				h([]byte(m.Payload))
			}
		}
	}()
	return core.SubscriptionFunc(release), nil
}

// Close stops all readers and waits for them. The redis client is owned by
// the caller.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, cancel := range b.subs {
		cancel()
	}
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}
