package http

import (
	"net/http"
	"strings"

	"github.com/dkeye/sharedview/internal/app/auth"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	userKey         = "user"
	sessionTokenKey = "token"
)

// extractToken looks at the Authorization header, then the token query
// parameter (browsers cannot set headers on a websocket), then the cookie
// session written at login.
func extractToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
		return ""
	}
	if t := c.Query("token"); t != "" {
		return t
	}
	if t, ok := sessions.Default(c).Get(sessionTokenKey).(string); ok {
		return t
	}
	return ""
}

func AuthMiddleware(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := extractToken(c)
		if raw == "" {
			ErrorResponse(c, http.StatusUnauthorized, "authorization required")
			return
		}
		user, err := svc.Authenticate(c.Request.Context(), raw)
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("auth rejected")
			HandleServiceError(c, err)
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) *domain.User {
	return c.MustGet(userKey).(*domain.User)
}
