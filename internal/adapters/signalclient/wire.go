package signalclient

import (
	"errors"
	"time"

	"github.com/dkeye/sharedview/internal/domain"
)

type envelope struct {
	Type string `json:"type"`
}

type roomState struct {
	Room         *domain.Room             `json:"room"`
	Controller   domain.UserID            `json:"controller"`
	Participants []domain.ParticipantView `json:"participants"`
	Messages     []domain.ChatMessageView `json:"messages"`
}

type whoami struct {
	UserID   domain.UserID `json:"user_id"`
	Nickname string        `json:"nickname"`
	Room     domain.RoomID `json:"room"`
}

type controllerChanged struct {
	Room       domain.RoomID `json:"room"`
	Controller domain.UserID `json:"controller"`
	Version    int64         `json:"version"`
	Active     bool          `json:"active"`
}

type controlRequested struct {
	Room      domain.RoomID `json:"room"`
	Requester domain.UserID `json:"requester"`
	At        time.Time     `json:"at"`
}

type controlResult struct {
	Op      string `json:"op"`
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type memberEvent struct {
	Participant domain.ParticipantView `json:"participant"`
}

type chatMessage struct {
	Message domain.ChatMessageView `json:"message"`
}

type serverError struct {
	Error string `json:"error"`
}

var knownErrors = []error{
	domain.ErrNotAuthorized,
	domain.ErrRoomNotFound,
	domain.ErrUserNotFound,
	domain.ErrNotMember,
	domain.ErrRoomFull,
	domain.ErrAlreadyMember,
	domain.ErrRoomClosed,
	domain.ErrMessageEmpty,
	domain.ErrMessageTooLong,
	domain.ErrRateLimited,
}

// remoteError maps a server error string back to its sentinel so callers
// can use errors.Is across the wire.
func remoteError(msg string) error {
	for _, e := range knownErrors {
		if e.Error() == msg {
			return e
		}
	}
	return errors.New(msg)
}
