package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// handleChat stores the message; delivery to everyone, sender included,
// comes back through the chat feed.
func (ctl *SignalWSController) handleChat(cl *client, data []byte) {
	type chatPayload struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	var p chatPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad chat payload")
		ctl.sendError(cl, errBadPayload)
		return
	}
	room, _ := cl.Room()
	if room == "" {
		ctl.sendError(cl, errNotInRoom)
		return
	}
	if _, err := ctl.Chat.Send(cl.ctx, room, cl.user.ID, p.Message); err != nil {
		ctl.sendError(cl, err)
	}
}
