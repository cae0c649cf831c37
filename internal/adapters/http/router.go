package http

import (
	"context"

	"github.com/dkeye/sharedview/internal/adapters/signal"
	"github.com/dkeye/sharedview/internal/app/auth"
	"github.com/dkeye/sharedview/internal/app/chat"
	"github.com/dkeye/sharedview/internal/app/control"
	"github.com/dkeye/sharedview/internal/app/membership"
	"github.com/dkeye/sharedview/internal/app/rooms"
	"github.com/dkeye/sharedview/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type Deps struct {
	Auth    *auth.Service
	Rooms   *rooms.Service
	Members *membership.Tracker
	Chat    *chat.Service
	Control *control.Coordinator
	Signal  *signal.SignalWSController
	// Limiter caps control requests; share it with the websocket controller.
	Limiter *signal.RoomRateLimiter
}

func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	switch {
	case d.Limiter != nil:
	case d.Signal != nil:
		d.Limiter = d.Signal.Limiter
	case cfg.Control.RequestLimit > 0 && cfg.Control.RequestInterval > 0:
		d.Limiter = signal.NewRoomRateLimiter(cfg.Control.RequestLimit, cfg.Control.RequestInterval)
	default:
		d.Limiter = signal.DefaultRoomRateLimiter()
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: int(cfg.TokenTTL.Seconds()), HttpOnly: true})
	r.Use(sessions.Sessions("SharedViewSessions", store))

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	h := &Handler{auth: d.Auth, rooms: d.Rooms, members: d.Members, chat: d.Chat, control: d.Control, rtc: cfg.RTC, limiter: d.Limiter}
	api := r.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.POST("/register", h.Register)
	authGroup.POST("/login", h.Login)
	authGroup.POST("/logout", h.Logout)

	priv := api.Group("", AuthMiddleware(d.Auth))
	priv.GET("/me", h.Me)
	priv.GET("/rtc/config", h.RTCConfig)

	rg := priv.Group("/rooms")
	rg.GET("", h.ListRooms)
	rg.POST("", h.CreateRoom)
	rg.GET("/:id", h.GetRoom)
	rg.DELETE("/:id", h.CloseRoom)
	rg.POST("/:id/join", h.JoinRoom)
	rg.POST("/:id/leave", h.LeaveRoom)
	rg.POST("/:id/control/request", h.RequestControl)
	rg.POST("/:id/control/grant", h.GrantControl)
	rg.POST("/:id/control/revoke", h.RevokeControl)
	rg.GET("/:id/messages", h.ListMessages)
	rg.POST("/:id/messages", h.SendMessage)

	if d.Signal != nil {
		priv.GET("/ws/signal", func(c *gin.Context) {
			log.Info().Str("module", "adapters.http").Str("user", string(currentUser(c).ID)).Msg("ws signal endpoint hit")
			d.Signal.HandleSignal(ctx, c, currentUser(c))
		})
	}

	return r
}
