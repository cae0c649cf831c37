package control

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/sharedview/internal/core"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/dkeye/sharedview/internal/metrics"
	"github.com/rs/zerolog/log"
)

const TopicControlRequest = "control_request"

// Coordinator turns member intents into authority calls and exposes the
// two notification paths: the best-effort request broadcast and the
// ordered controller-change feed.
type Coordinator struct {
	auth *Authority
	bus  core.Bus
}

func NewCoordinator(auth *Authority, bus core.Bus) *Coordinator {
	return &Coordinator{auth: auth, bus: bus}
}

// RequestControl is fire-and-forget: if the host is not listening the
// request is lost.
func (c *Coordinator) RequestControl(ctx context.Context, room domain.RoomID, requester domain.UserID) error {
	payload, err := json.Marshal(core.ControlRequest{RoomID: room, RequesterID: requester, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	err = c.bus.Broadcast(ctx, room, TopicControlRequest, payload)
	metrics.ControlOps.WithLabelValues("request", metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("broadcast control request: %w", err)
	}
	log.Debug().Str("module", "app.control").Str("room", string(room)).Str("requester", string(requester)).Msg("control requested")
	return nil
}

func (c *Coordinator) GrantControl(ctx context.Context, room domain.RoomID, target, requester domain.UserID) error {
	_, err := c.auth.Grant(ctx, room, target, requester)
	return err
}

func (c *Coordinator) RevokeControl(ctx context.Context, room domain.RoomID, requester domain.UserID) error {
	_, err := c.auth.Revoke(ctx, room, requester)
	return err
}

// SubscribeControlChanges delivers room updates that carry a controller, in
// feed order. Duplicates are possible; feed them through a ControllerView.
func (c *Coordinator) SubscribeControlChanges(ctx context.Context, room domain.RoomID, h func(core.ControllerChange)) (core.Subscription, error) {
	return c.bus.SubscribeChanges(ctx, room, core.EntityRooms, core.EventUpdate, func(ch core.Change) {
		var r domain.Room
		if err := ch.Decode(&r); err != nil {
			log.Error().Err(err).Str("module", "app.control").Str("room", string(room)).Msg("decode room change")
			return
		}
		controller, ok := r.Controller()
		if !ok {
			return
		}
		h(core.ControllerChange{RoomID: r.ID, ControllerID: controller, Version: r.Version, Active: r.IsActive})
	})
}

func (c *Coordinator) SubscribeControlRequests(ctx context.Context, room domain.RoomID, h func(core.ControlRequest)) (core.Subscription, error) {
	return c.bus.Listen(ctx, room, TopicControlRequest, func(payload []byte) {
		var req core.ControlRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			log.Warn().Err(err).Str("module", "app.control").Str("room", string(room)).Msg("bad control request")
			return
		}
		h(req)
	})
}

// Bind returns a ControlPlane acting as user in room.
func (c *Coordinator) Bind(room domain.RoomID, user domain.UserID) core.ControlPlane {
	return &boundPlane{c: c, room: room, user: user}
}

type boundPlane struct {
	c    *Coordinator
	room domain.RoomID
	user domain.UserID
}

func (p *boundPlane) Room() domain.RoomID { return p.room }
func (p *boundPlane) Self() domain.UserID { return p.user }

func (p *boundPlane) RequestControl(ctx context.Context) error {
	return p.c.RequestControl(ctx, p.room, p.user)
}

func (p *boundPlane) GrantControl(ctx context.Context, target domain.UserID) error {
	return p.c.GrantControl(ctx, p.room, target, p.user)
}

func (p *boundPlane) RevokeControl(ctx context.Context) error {
	return p.c.RevokeControl(ctx, p.room, p.user)
}

func (p *boundPlane) SubscribeControlChanges(ctx context.Context, h func(core.ControllerChange)) (core.Subscription, error) {
	return p.c.SubscribeControlChanges(ctx, p.room, h)
}

func (p *boundPlane) SubscribeControlRequests(ctx context.Context, h func(core.ControlRequest)) (core.Subscription, error) {
	return p.c.SubscribeControlRequests(ctx, p.room, h)
}
