package signal

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/sharedview/internal/app/session"
	"github.com/dkeye/sharedview/internal/core"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(cl *client, data []byte) {
	type joinPayload struct {
		Type string `json:"type"`
		Room string `json:"room"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Room == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(cl, errBadPayload)
		return
	}
	ctl.join(cl, domain.RoomID(p.Room))
}

// join admits the user (or reattaches an existing member), subscribes the
// connection to the room feeds and then sends the snapshot. Subscribing
// first means nothing committed after the snapshot is missed; the client
// may see a few duplicates.
func (ctl *SignalWSController) join(cl *client, roomID domain.RoomID) {
	uid := cl.user.ID
	if cur, _ := cl.Room(); cur != "" {
		cl.detach()
		ctl.Registry.RemoveRoom(cl.sid)
		if cur != roomID {
			ctl.leaveRoom(cl, cur)
		}
	}

	err := ctl.Members.Join(cl.ctx, roomID, uid)
	if errors.Is(err, domain.ErrAlreadyMember) {
		err = nil
	}
	if err != nil {
		ctl.sendError(cl, err)
		return
	}
	if err := ctl.Members.SetConnected(cl.ctx, roomID, uid, true); err != nil {
		ctl.sendError(cl, err)
		return
	}

	details, err := ctl.Rooms.Get(cl.ctx, roomID)
	if err != nil {
		ctl.sendError(cl, err)
		return
	}
	host := details.Room.HostID

	subs, err := ctl.subscribeRoom(cl, roomID, host)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("room", string(roomID)).Msg("subscribe room")
		ctl.sendError(cl, err)
		return
	}
	cl.attach(roomID, host, subs)
	ctl.Registry.UpdateRoom(cl.sid, roomID)

	// reread so the snapshot is not older than the subscriptions
	if d, err := ctl.Rooms.Get(cl.ctx, roomID); err == nil {
		details = d
	}
	messages, err := ctl.Chat.Recent(cl.ctx, roomID)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("room", string(roomID)).Msg("recent messages")
	}
	controller, _ := details.Room.Controller()

	log.Info().Str("module", "signal").Str("sid", string(cl.sid)).Str("room", string(roomID)).Msg("join")
	ctl.sendJSON(cl, roomStateFrame{
		Type:         "room_state",
		Room:         details.Room,
		Controller:   controller,
		Participants: details.Participants,
		Messages:     messages,
	})
}

func (ctl *SignalWSController) subscribeRoom(cl *client, roomID domain.RoomID, host domain.UserID) ([]core.Subscription, error) {
	var subs []core.Subscription
	fail := func(err error) ([]core.Subscription, error) {
		for _, s := range subs {
			s.Unsubscribe()
		}
		return nil, err
	}

	sub, err := ctl.Bus.SubscribeChanges(cl.ctx, roomID, core.EntityParticipants, "", func(ch core.Change) {
		ctl.forwardMember(cl, roomID, ch)
	})
	if err != nil {
		return fail(err)
	}
	subs = append(subs, sub)

	plane := ctl.Control.Bind(roomID, cl.user.ID)
	sub, err = plane.SubscribeControlChanges(cl.ctx, func(ch core.ControllerChange) {
		ctl.sendJSON(cl, controllerFrame{
			Type:       "controller_changed",
			Room:       ch.RoomID,
			Controller: ch.ControllerID,
			Version:    ch.Version,
			Active:     ch.Active,
		})
		if !ch.Active {
			ctl.sendJSON(cl, typeOnly{Type: "room_closed"})
		}
	})
	if err != nil {
		return fail(err)
	}
	subs = append(subs, sub)

	if cl.user.ID == host {
		sub, err = plane.SubscribeControlRequests(cl.ctx, func(req core.ControlRequest) {
			ctl.sendJSON(cl, controlRequestedFrame{
				Type:      "control_requested",
				Room:      req.RoomID,
				Requester: req.RequesterID,
				At:        req.At,
			})
		})
		if err != nil {
			return fail(err)
		}
		subs = append(subs, sub)
	}

	sub, err = ctl.Chat.Subscribe(cl.ctx, roomID, func(m domain.ChatMessageView) {
		ctl.sendJSON(cl, chatFrame{Type: "chat_message", Message: m})
	})
	if err != nil {
		return fail(err)
	}
	subs = append(subs, sub)

	sig := session.NewBusSignaler(ctl.Bus, roomID, cl.user.ID)
	sub, err = sig.SubscribePeerSignals(cl.ctx, func(s core.PeerSignal) {
		ctl.sendJSON(cl, s)
	})
	if err != nil {
		return fail(err)
	}
	subs = append(subs, sub)
	return subs, nil
}

func (ctl *SignalWSController) forwardMember(cl *client, roomID domain.RoomID, ch core.Change) {
	var p domain.Participant
	if err := ch.Decode(&p); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("room", string(roomID)).Msg("decode participant change")
		return
	}
	view := domain.ParticipantView{UserID: p.UserID, Nickname: domain.UnknownNickname, IsConnected: p.IsConnected}
	if u, err := ctl.Users.GetUser(cl.ctx, p.UserID); err == nil {
		view.Nickname = u.Nickname
	}

	var typ string
	switch ch.Event {
	case core.EventInsert:
		typ = "member_joined"
	case core.EventDelete:
		typ = "member_left"
	case core.EventUpdate:
		typ = "member_updated"
	default:
		return
	}
	ctl.sendJSON(cl, memberFrame{Type: typ, Room: roomID, Participant: view})
}

// handleLeave exits the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(cl *client) {
	log.Info().Str("module", "signal").Str("sid", string(cl.sid)).Msg("leave")
	room := cl.detach()
	ctl.Registry.RemoveRoom(cl.sid)
	if room != "" {
		ctl.leaveRoom(cl, room)
	}
	ctl.sendJSON(cl, typeOnly{Type: "left"})
}

func (ctl *SignalWSController) leaveRoom(cl *client, room domain.RoomID) {
	if err := ctl.Members.Leave(cl.ctx, room, cl.user.ID); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("room", string(room)).Msg("leave")
		ctl.sendError(cl, err)
	}
}
