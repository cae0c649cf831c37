// Package signalclient is the member-side end of the signaling websocket.
// A Client is both the user's control plane and its peer signaler.
package signalclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/sharedview/internal/core"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var ErrClosed = errors.New("signal client closed")

var (
	_ core.ControlPlane = (*Client)(nil)
	_ core.PeerSignaler = (*Client)(nil)
)

type inbound struct {
	typ  string
	data []byte
}

type Client struct {
	conn     *websocket.Conn
	outgoing chan []byte
	events   chan inbound
	done     chan struct{}
	gone     chan struct{}
	once     sync.Once

	self  domain.UserID
	room  domain.RoomID
	state roomState

	mu       sync.Mutex
	nextID   uint64
	handlers map[string]map[uint64]func([]byte)
	waiters  map[string][]chan controlResult
}

// Dial connects to the signaling endpoint as the token's user and joins
// room. It returns once the server has sent the room snapshot.
func Dial(ctx context.Context, serverURL, token string, room domain.RoomID) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	q.Set("room", string(room))
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c := &Client{
		conn:     conn,
		outgoing: make(chan []byte, 64),
		events:   make(chan inbound, 256),
		done:     make(chan struct{}),
		gone:     make(chan struct{}),
		room:     room,
		handlers: make(map[string]map[uint64]func([]byte)),
		waiters:  make(map[string][]chan controlResult),
	}
	if err := c.handshake(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go c.readPump()
	go c.writePump()
	go c.dispatch()
	return c, nil
}

// handshake runs before the pumps: whoami, then wait for room_state.
func (c *Client) handshake(ctx context.Context) error {
	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(envelope{Type: "whoami"}); err != nil {
		return err
	}
	_ = c.conn.SetReadDeadline(deadline)

	var gotState, gotSelf bool
	for !gotState || !gotSelf {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("handshake: %w", err)
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("handshake: %w", err)
		}
		switch env.Type {
		case "room_state":
			if err := json.Unmarshal(data, &c.state); err != nil {
				return fmt.Errorf("handshake: %w", err)
			}
			gotState = true
		case "whoami":
			var w whoami
			if err := json.Unmarshal(data, &w); err != nil {
				return fmt.Errorf("handshake: %w", err)
			}
			c.self = w.UserID
			gotSelf = true
		case "error":
			var e serverError
			_ = json.Unmarshal(data, &e)
			return remoteError(e.Error)
		}
	}
	return c.conn.SetReadDeadline(time.Now().Add(pongWait))
}

func (c *Client) Room() domain.RoomID { return c.room }
func (c *Client) Self() domain.UserID { return c.self }

// Snapshot is the room as it was when the client joined.
func (c *Client) Snapshot() (*domain.Room, []domain.ParticipantView, []domain.ChatMessageView) {
	return c.state.Room, c.state.Participants, c.state.Messages
}

func (c *Client) readPump() {
	defer func() {
		_ = c.conn.Close()
		close(c.gone)
		close(c.events)
		c.failWaiters()
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Warn().Err(err).Str("module", "signalclient").Msg("read")
			}
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("module", "signalclient").Msg("bad frame")
			continue
		}
		if env.Type == "control_result" {
			var res controlResult
			if err := json.Unmarshal(data, &res); err == nil {
				c.resolve(res)
			}
			continue
		}
		select {
		case c.events <- inbound{typ: env.Type, data: data}:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// dispatch runs subscriber callbacks off the read loop, so a callback may
// itself make a round trip.
func (c *Client) dispatch() {
	for ev := range c.events {
		c.mu.Lock()
		hs := make([]func([]byte), 0, len(c.handlers[ev.typ]))
		for _, h := range c.handlers[ev.typ] {
			hs = append(hs, h)
		}
		c.mu.Unlock()
		for _, h := range hs {
			h(ev.data)
		}
	}
}

func (c *Client) send(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.outgoing <- b:
		return nil
	case <-c.done:
		return ErrClosed
	case <-c.gone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) subscribe(ctx context.Context, types []string, h func([]byte)) core.Subscription {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	for _, t := range types {
		if c.handlers[t] == nil {
			c.handlers[t] = make(map[uint64]func([]byte))
		}
		c.handlers[t][id] = h
	}
	c.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			c.mu.Lock()
			for _, t := range types {
				delete(c.handlers[t], id)
			}
			c.mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, unsub)
	return core.SubscriptionFunc(func() {
		stop()
		unsub()
	})
}

// roundTrip sends a control intent and waits for its control_result. The
// server answers in request order, so waiters are FIFO per op.
func (c *Client) roundTrip(ctx context.Context, op string, v any) error {
	ch := make(chan controlResult, 1)
	c.mu.Lock()
	c.waiters[op] = append(c.waiters[op], ch)
	c.mu.Unlock()

	if err := c.send(ctx, v); err != nil {
		c.dropWaiter(op, ch)
		return err
	}
	select {
	case res, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		if !res.Success {
			return remoteError(res.Error)
		}
		return nil
	case <-c.gone:
		return ErrClosed
	case <-ctx.Done():
		c.dropWaiter(op, ch)
		return ctx.Err()
	}
}

func (c *Client) resolve(res controlResult) {
	c.mu.Lock()
	q := c.waiters[res.Op]
	if len(q) == 0 {
		c.mu.Unlock()
		return
	}
	ch := q[0]
	c.waiters[res.Op] = q[1:]
	c.mu.Unlock()
	ch <- res
}

func (c *Client) dropWaiter(op string, ch chan controlResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.waiters[op]
	for i, w := range q {
		if w == ch {
			c.waiters[op] = append(q[:i:i], q[i+1:]...)
			return
		}
	}
}

func (c *Client) failWaiters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for op, q := range c.waiters {
		for _, ch := range q {
			close(ch)
		}
		delete(c.waiters, op)
	}
}

// --- ControlPlane ---

func (c *Client) RequestControl(ctx context.Context) error {
	return c.roundTrip(ctx, "request", envelope{Type: "request_control"})
}

func (c *Client) GrantControl(ctx context.Context, target domain.UserID) error {
	return c.roundTrip(ctx, "grant", struct {
		Type   string        `json:"type"`
		Target domain.UserID `json:"target"`
	}{"grant_control", target})
}

func (c *Client) RevokeControl(ctx context.Context) error {
	return c.roundTrip(ctx, "revoke", envelope{Type: "revoke_control"})
}

func (c *Client) SubscribeControlChanges(ctx context.Context, h func(core.ControllerChange)) (core.Subscription, error) {
	return c.subscribe(ctx, []string{"controller_changed"}, func(data []byte) {
		var f controllerChanged
		if err := json.Unmarshal(data, &f); err != nil {
			log.Warn().Err(err).Str("module", "signalclient").Msg("bad controller_changed")
			return
		}
		h(core.ControllerChange{RoomID: f.Room, ControllerID: f.Controller, Version: f.Version, Active: f.Active})
	}), nil
}

func (c *Client) SubscribeControlRequests(ctx context.Context, h func(core.ControlRequest)) (core.Subscription, error) {
	return c.subscribe(ctx, []string{"control_requested"}, func(data []byte) {
		var f controlRequested
		if err := json.Unmarshal(data, &f); err != nil {
			return
		}
		h(core.ControlRequest{RoomID: f.Room, RequesterID: f.Requester, At: f.At})
	}), nil
}

// --- PeerSignaler ---

func (c *Client) SendPeerSignal(ctx context.Context, s core.PeerSignal) error {
	s.From = c.self
	return c.send(ctx, s)
}

func (c *Client) SubscribePeerSignals(ctx context.Context, h func(core.PeerSignal)) (core.Subscription, error) {
	types := []string{core.PeerSignalOffer, core.PeerSignalAnswer, core.PeerSignalCandidate}
	return c.subscribe(ctx, types, func(data []byte) {
		var s core.PeerSignal
		if err := json.Unmarshal(data, &s); err != nil {
			log.Warn().Err(err).Str("module", "signalclient").Msg("bad peer signal")
			return
		}
		h(s)
	}), nil
}

// --- room events ---

// SubscribeMembers reports member_joined, member_left and member_updated.
func (c *Client) SubscribeMembers(ctx context.Context, h func(event string, p domain.ParticipantView)) core.Subscription {
	types := []string{"member_joined", "member_left", "member_updated"}
	return c.subscribe(ctx, types, func(data []byte) {
		var env envelope
		var f memberEvent
		if json.Unmarshal(data, &env) != nil || json.Unmarshal(data, &f) != nil {
			return
		}
		h(env.Type, f.Participant)
	})
}

func (c *Client) SubscribeChat(ctx context.Context, h func(domain.ChatMessageView)) core.Subscription {
	return c.subscribe(ctx, []string{"chat_message"}, func(data []byte) {
		var f chatMessage
		if err := json.Unmarshal(data, &f); err != nil {
			return
		}
		h(f.Message)
	})
}

func (c *Client) SendChat(ctx context.Context, text string) error {
	return c.send(ctx, struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{"chat", text})
}

// Leave removes the membership; Close alone only drops presence.
func (c *Client) Leave(ctx context.Context) error {
	return c.send(ctx, envelope{Type: "leave"})
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.gone }

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}
