package signal

import (
	"errors"
	"time"

	"github.com/dkeye/sharedview/internal/app/control"
	"github.com/dkeye/sharedview/internal/domain"
)

var (
	errBadPayload  = errors.New("bad_payload")
	errUnknownType = errors.New("unknown_type")
	errNotInRoom   = errors.New("not_in_room")
	errRateLimited = domain.ErrRateLimited
)

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type roomStateFrame struct {
	Type         string                   `json:"type"`
	Room         *domain.Room             `json:"room"`
	Controller   domain.UserID            `json:"controller"`
	Participants []domain.ParticipantView `json:"participants"`
	Messages     []domain.ChatMessageView `json:"messages"`
}

type memberFrame struct {
	Type        string                 `json:"type"`
	Room        domain.RoomID          `json:"room"`
	Participant domain.ParticipantView `json:"participant"`
}

type controllerFrame struct {
	Type       string        `json:"type"`
	Room       domain.RoomID `json:"room"`
	Controller domain.UserID `json:"controller"`
	Version    int64         `json:"version"`
	Active     bool          `json:"active"`
}

type controlRequestedFrame struct {
	Type      string        `json:"type"`
	Room      domain.RoomID `json:"room"`
	Requester domain.UserID `json:"requester"`
	At        time.Time     `json:"at"`
}

type controlResultFrame struct {
	Type string `json:"type"`
	Op   string `json:"op"`
	control.Result
}

type chatFrame struct {
	Type    string                 `json:"type"`
	Message domain.ChatMessageView `json:"message"`
}

type whoamiFrame struct {
	Type     string        `json:"type"`
	UserID   domain.UserID `json:"user_id"`
	Nickname string        `json:"nickname"`
	Room     domain.RoomID `json:"room,omitempty"`
	Host     domain.UserID `json:"host,omitempty"`
}

type typeOnly struct {
	Type string `json:"type"`
}
