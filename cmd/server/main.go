package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/sharedview/internal/adapters/http"
	sigws "github.com/dkeye/sharedview/internal/adapters/signal"
	"github.com/dkeye/sharedview/internal/adapters/store/notify"
	"github.com/dkeye/sharedview/internal/app"
	"github.com/dkeye/sharedview/internal/app/auth"
	"github.com/dkeye/sharedview/internal/app/chat"
	"github.com/dkeye/sharedview/internal/app/control"
	"github.com/dkeye/sharedview/internal/app/membership"
	"github.com/dkeye/sharedview/internal/app/rooms"
	"github.com/dkeye/sharedview/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.Secret == "" {
		log.Fatal().Msg("secret is required to sign tokens")
	}

	records, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer closeStore()

	bus, closeBus, err := openBus(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open bus")
	}
	defer closeBus()

	store := notify.Wrap(records, bus)

	roomSvc := rooms.NewService(store, rooms.Limits{
		DefaultMaxParticipants: cfg.Rooms.DefaultMaxParticipants,
		MaxParticipantsLimit:   cfg.Rooms.MaxParticipantsLimit,
	})
	members := membership.NewTracker(store)
	chatSvc := chat.NewService(store, bus, cfg.Chat.PageSize)
	coord := control.NewCoordinator(control.NewAuthority(store), bus)

	policy, err := app.NewPolicy(cfg.Signal.Backpressure, cfg.Signal.SlowStrikes)
	if err != nil {
		log.Fatal().Err(err).Msg("backpressure policy")
	}
	limiter := sigws.NewRoomRateLimiter(cfg.Control.RequestLimit, cfg.Control.RequestInterval)

	ws := sigws.NewSignalWSController(sigws.Deps{
		Rooms:      roomSvc,
		Members:    members,
		Chat:       chatSvc,
		Control:    coord,
		Users:      store,
		Bus:        bus,
		Registry:   app.NewRegistry(),
		Policy:     policy,
		Limiter:    limiter,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		SendBuffer: cfg.Signal.SendBuffer,
	})

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Auth:    auth.NewService(store, cfg.Secret, cfg.TokenTTL),
		Rooms:   roomSvc,
		Members: members,
		Chat:    chatSvc,
		Control: coord,
		Signal:  ws,
		Limiter: limiter,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("store", cfg.Store.Driver).Str("bus", cfg.Bus.Driver).Msg("sharedview server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
