package session

import (
	"context"
	"encoding/json"

	"github.com/dkeye/sharedview/internal/core"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/rs/zerolog/log"
)

const signalTopicPrefix = "signal:"

// SignalTopic is the per-user broadcast topic peer signals are addressed to.
func SignalTopic(u domain.UserID) string { return signalTopicPrefix + string(u) }

var _ core.PeerSignaler = (*BusSignaler)(nil)

// BusSignaler relays peer signals over the room broadcast channel.
type BusSignaler struct {
	bus  core.Broadcaster
	room domain.RoomID
	self domain.UserID
}

func NewBusSignaler(bus core.Broadcaster, room domain.RoomID, self domain.UserID) *BusSignaler {
	return &BusSignaler{bus: bus, room: room, self: self}
}

func (s *BusSignaler) SendPeerSignal(ctx context.Context, sig core.PeerSignal) error {
	sig.From = s.self
	payload, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return s.bus.Broadcast(ctx, s.room, SignalTopic(sig.To), payload)
}

func (s *BusSignaler) SubscribePeerSignals(ctx context.Context, h func(core.PeerSignal)) (core.Subscription, error) {
	return s.bus.Listen(ctx, s.room, SignalTopic(s.self), func(payload []byte) {
		var sig core.PeerSignal
		if err := json.Unmarshal(payload, &sig); err != nil {
			log.Warn().Err(err).Str("module", "app.session").Str("room", string(s.room)).Msg("bad peer signal")
			return
		}
		h(sig)
	})
}
