package signal

import (
	"encoding/json"

	"github.com/dkeye/sharedview/internal/app/session"
	"github.com/dkeye/sharedview/internal/core"
	"github.com/rs/zerolog/log"
)

// handlePeerSignal relays offer/answer/candidate to the addressed member.
// SDP and candidates are not inspected.
func (ctl *SignalWSController) handlePeerSignal(cl *client, data []byte) {
	var s core.PeerSignal
	if err := json.Unmarshal(data, &s); err != nil || s.To == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad peer signal payload")
		ctl.sendError(cl, errBadPayload)
		return
	}
	if (s.Type == core.PeerSignalCandidate && s.Candidate == nil) || (s.Type != core.PeerSignalCandidate && s.SDP == nil) {
		ctl.sendError(cl, errBadPayload)
		return
	}
	room, _ := cl.Room()
	if room == "" {
		ctl.sendError(cl, errNotInRoom)
		return
	}
	sig := session.NewBusSignaler(ctl.Bus, room, cl.user.ID)
	if err := sig.SendPeerSignal(cl.ctx, s); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("to", string(s.To)).Msg("relay peer signal")
		ctl.sendError(cl, err)
	}
}
