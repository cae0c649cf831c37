package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	busmem "github.com/dkeye/sharedview/internal/adapters/bus/memory"
	"github.com/dkeye/sharedview/internal/adapters/bus/redisbus"
	"github.com/dkeye/sharedview/internal/adapters/store/gormstore"
	storemem "github.com/dkeye/sharedview/internal/adapters/store/memory"
	"github.com/dkeye/sharedview/internal/config"
	"github.com/dkeye/sharedview/internal/core"
)

func openStore(cfg *config.Config) (core.RecordStore, func(), error) {
	switch cfg.Store.Driver {
	case "mysql":
		s, err := gormstore.Open(cfg.Store.DSN, cfg.Store.AutoMigrate)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Error().Err(err).Str("module", "main").Msg("close store")
			}
		}, nil
	case "memory":
		log.Warn().Str("module", "main").Msg("using in-memory store, data is lost on restart")
		return storemem.New(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func openBus(ctx context.Context, cfg *config.Config) (core.Bus, func(), error) {
	switch cfg.Bus.Driver {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Bus.RedisAddr,
			Password: cfg.Bus.RedisPassword,
			DB:       cfg.Bus.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Bus.RedisAddr, err)
		}
		b := redisbus.New(client, redisbus.Options{KeyPrefix: cfg.Bus.KeyPrefix, FeedMaxLen: cfg.Bus.FeedMaxLen})
		return b, func() {
			_ = b.Close()
			_ = client.Close()
		}, nil
	case "memory":
		b := busmem.New()
		return b, func() { _ = b.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown bus driver %q", cfg.Bus.Driver)
}
