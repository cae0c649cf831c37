package http

import (
	"net/http"

	"github.com/dkeye/sharedview/internal/adapters/signal"
	"github.com/dkeye/sharedview/internal/app/auth"
	"github.com/dkeye/sharedview/internal/app/chat"
	"github.com/dkeye/sharedview/internal/app/control"
	"github.com/dkeye/sharedview/internal/app/membership"
	"github.com/dkeye/sharedview/internal/app/rooms"
	"github.com/dkeye/sharedview/internal/config"
	"github.com/dkeye/sharedview/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	auth    *auth.Service
	rooms   *rooms.Service
	members *membership.Tracker
	chat    *chat.Service
	control *control.Coordinator
	rtc     config.RTCConfig
	limiter *signal.RoomRateLimiter
}

// ICEConfig is what peers need to build their transport endpoints.
type ICEConfig struct {
	STUNServers        []string `json:"stun_servers"`
	TURNServers        []string `json:"turn_servers,omitempty"`
	TURNUser           string   `json:"turn_user,omitempty"`
	TURNPass           string   `json:"turn_pass,omitempty"`
	ForceRelay         bool     `json:"force_relay"`
	NegotiationTimeout string   `json:"negotiation_timeout"`
}

type credentials struct {
	Nickname string `json:"nickname" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type authResponse struct {
	User  *domain.User `json:"user"`
	Token string       `json:"token"`
}

func roomID(c *gin.Context) domain.RoomID {
	return domain.RoomID(c.Param("id"))
}

// issue signs a token and also keeps it in the cookie session.
func (h *Handler) issue(c *gin.Context, status int, u *domain.User) {
	token, err := h.auth.IssueToken(u)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	s := sessions.Default(c)
	s.Set(sessionTokenKey, token)
	if err := s.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
	}
	c.JSON(status, authResponse{User: u, Token: token})
}

func (h *Handler) Register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "nickname and password are required")
		return
	}
	u, err := h.auth.Register(c.Request.Context(), req.Nickname, req.Password)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	h.issue(c, http.StatusCreated, u)
}

func (h *Handler) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "nickname and password are required")
		return
	}
	u, err := h.auth.Login(c.Request.Context(), req.Nickname, req.Password)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	h.issue(c, http.StatusOK, u)
}

func (h *Handler) Logout(c *gin.Context) {
	s := sessions.Default(c)
	s.Clear()
	_ = s.Save()
	c.Status(http.StatusNoContent)
}

func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

func (h *Handler) RTCConfig(c *gin.Context) {
	out := ICEConfig{
		STUNServers:        h.rtc.STUNServers,
		ForceRelay:         h.rtc.ForceRelay,
		NegotiationTimeout: h.rtc.NegotiationTimeout.String(),
	}
	if h.rtc.TURNServer != "" {
		out.TURNServers = []string{h.rtc.TURNServer}
		out.TURNUser = h.rtc.TURNUser
		out.TURNPass = h.rtc.TURNPass
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ListRooms(c *gin.Context) {
	list, err := h.rooms.List(c.Request.Context())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type createRoomRequest struct {
	Name            string `json:"name"`
	MaxParticipants int    `json:"max_participants"`
}

func (h *Handler) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "bad room payload")
		return
	}
	room, err := h.rooms.Create(c.Request.Context(), req.Name, currentUser(c).ID, req.MaxParticipants)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (h *Handler) GetRoom(c *gin.Context) {
	d, err := h.rooms.Get(c.Request.Context(), roomID(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) CloseRoom(c *gin.Context) {
	if err := h.rooms.Close(c.Request.Context(), roomID(c), currentUser(c).ID); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) JoinRoom(c *gin.Context) {
	if err := h.members.Join(c.Request.Context(), roomID(c), currentUser(c).ID); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) LeaveRoom(c *gin.Context) {
	if err := h.members.Leave(c.Request.Context(), roomID(c), currentUser(c).ID); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// controlResult always answers {success, error?}; the status carries the
// same outcome for plain HTTP clients.
func controlResult(c *gin.Context, err error) {
	status := http.StatusOK
	if err != nil {
		status = statusOf(err)
	}
	c.JSON(status, control.ResultOf(err))
}

func (h *Handler) RequestControl(c *gin.Context) {
	ctx := c.Request.Context()
	id, user := roomID(c), currentUser(c).ID
	ok, err := h.members.IsMember(ctx, id, user)
	if err == nil && !ok {
		err = domain.ErrNotMember
	}
	if err == nil {
		if allowed, _ := h.limiter.Allow(id, user); !allowed {
			err = domain.ErrRateLimited
		}
	}
	if err == nil {
		err = h.control.RequestControl(ctx, id, user)
	}
	controlResult(c, err)
}

type grantRequest struct {
	Target domain.UserID `json:"target" binding:"required"`
}

func (h *Handler) GrantControl(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, control.Result{Error: "target is required"})
		return
	}
	controlResult(c, h.control.GrantControl(c.Request.Context(), roomID(c), req.Target, currentUser(c).ID))
}

func (h *Handler) RevokeControl(c *gin.Context) {
	controlResult(c, h.control.RevokeControl(c.Request.Context(), roomID(c), currentUser(c).ID))
}

func (h *Handler) requireMember(c *gin.Context) bool {
	ok, err := h.members.IsMember(c.Request.Context(), roomID(c), currentUser(c).ID)
	if err != nil {
		HandleServiceError(c, err)
		return false
	}
	if !ok {
		HandleServiceError(c, domain.ErrNotMember)
		return false
	}
	return true
}

func (h *Handler) ListMessages(c *gin.Context) {
	if !h.requireMember(c) {
		return
	}
	msgs, err := h.chat.Recent(c.Request.Context(), roomID(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "bad message payload")
		return
	}
	msg, err := h.chat.Send(c.Request.Context(), roomID(c), currentUser(c).ID, req.Message)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}
