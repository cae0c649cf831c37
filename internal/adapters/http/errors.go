package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/sharedview/internal/app/auth"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var statusTable = []struct {
	err    error
	status int
}{
	{domain.ErrBadCredentials, http.StatusUnauthorized},
	{auth.ErrInvalidToken, http.StatusUnauthorized},
	{domain.ErrNotAuthorized, http.StatusForbidden},
	{domain.ErrNotMember, http.StatusNotFound},
	{domain.ErrRoomNotFound, http.StatusNotFound},
	{domain.ErrUserNotFound, http.StatusNotFound},
	{domain.ErrRoomFull, http.StatusConflict},
	{domain.ErrAlreadyMember, http.StatusConflict},
	{domain.ErrRoomClosed, http.StatusGone},
	{domain.ErrNicknameTaken, http.StatusConflict},
	{domain.ErrRateLimited, http.StatusTooManyRequests},
	{domain.ErrRoomNameEmpty, http.StatusBadRequest},
	{domain.ErrRoomNameTooLong, http.StatusBadRequest},
	{domain.ErrInvalidCapacity, http.StatusBadRequest},
	{domain.ErrMessageEmpty, http.StatusBadRequest},
	{domain.ErrMessageTooLong, http.StatusBadRequest},
	{domain.ErrNicknameEmpty, http.StatusBadRequest},
	{domain.ErrNicknameTooLong, http.StatusBadRequest},
	{domain.ErrPasswordInvalid, http.StatusBadRequest},
}

func statusOf(err error) int {
	for _, e := range statusTable {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

func ErrorResponse(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{"error": message})
}

// HandleServiceError maps a service error to its status. Unknown errors are
// logged and hidden from the client.
func HandleServiceError(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("unhandled service error")
		ErrorResponse(c, status, "internal error")
		return
	}
	ErrorResponse(c, status, err.Error())
}
