// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"errors"

	"github.com/dkeye/sharedview/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sharedview"

var (
	ControlOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "control_operations_total",
		Help:      "Control grant/revoke/request calls by result.",
	}, []string{"op", "result"})

	Joins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "membership_joins_total",
		Help:      "Room join attempts by result.",
	}, []string{"result"})

	ChatMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chat_messages_total",
		Help:      "Chat messages accepted.",
	})

	SignalConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "signal_connections",
		Help:      "Open signaling websocket connections.",
	})

	TransportStates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transport_state_transitions_total",
		Help:      "Peer transport endpoint transitions by target state.",
	}, []string{"state"})
)

// Result buckets an error into a low-cardinality label value.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, domain.ErrRoomNotFound), errors.Is(err, domain.ErrUserNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrNotMember):
		return "not_member"
	case errors.Is(err, domain.ErrRoomFull):
		return "room_full"
	case errors.Is(err, domain.ErrAlreadyMember):
		return "already_member"
	case errors.Is(err, domain.ErrRoomClosed):
		return "room_closed"
	}
	return "error"
}
