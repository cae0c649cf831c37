package signal

import (
	"encoding/json"

	"github.com/dkeye/sharedview/internal/app/control"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handlePing(cl *client) {
	ctl.sendJSON(cl, typeOnly{Type: "pong"})
}

func (ctl *SignalWSController) handleWhoAmI(cl *client) {
	room, host := cl.Room()
	ctl.sendJSON(cl, whoamiFrame{
		Type:     "whoami",
		UserID:   cl.user.ID,
		Nickname: cl.user.Nickname,
		Room:     room,
		Host:     host,
	})
}

func (ctl *SignalWSController) sendResult(cl *client, op string, err error) {
	ctl.sendJSON(cl, controlResultFrame{Type: "control_result", Op: op, Result: control.ResultOf(err)})
}

func (ctl *SignalWSController) handleRequestControl(cl *client) {
	room, _ := cl.Room()
	if room == "" {
		ctl.sendResult(cl, "request", errNotInRoom)
		return
	}
	if ok, wait := ctl.Limiter.Allow(room, cl.user.ID); !ok {
		log.Warn().Str("module", "signal").Str("user", string(cl.user.ID)).Dur("retry_in", wait).Msg("control request rate limited")
		ctl.sendResult(cl, "request", errRateLimited)
		return
	}
	ctl.sendResult(cl, "request", ctl.Control.RequestControl(cl.ctx, room, cl.user.ID))
}

func (ctl *SignalWSController) handleGrantControl(cl *client, data []byte) {
	type grantPayload struct {
		Type   string `json:"type"`
		Target string `json:"target"`
	}
	var p grantPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Target == "" {
		ctl.sendResult(cl, "grant", errBadPayload)
		return
	}
	room, _ := cl.Room()
	if room == "" {
		ctl.sendResult(cl, "grant", errNotInRoom)
		return
	}
	ctl.sendResult(cl, "grant", ctl.Control.GrantControl(cl.ctx, room, domain.UserID(p.Target), cl.user.ID))
}

func (ctl *SignalWSController) handleRevokeControl(cl *client) {
	room, _ := cl.Room()
	if room == "" {
		ctl.sendResult(cl, "revoke", errNotInRoom)
		return
	}
	ctl.sendResult(cl, "revoke", ctl.Control.RevokeControl(cl.ctx, room, cl.user.ID))
}
