package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "memory", cfg.Bus.Driver)
	assert.Equal(t, 100, cfg.Chat.PageSize)
	assert.Equal(t, "kick", cfg.Signal.Backpressure)
	assert.Equal(t, 64, cfg.Signal.SendBuffer)
	assert.Equal(t, 30*time.Second, cfg.RTC.NegotiationTimeout)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.RTC.STUNServers)
}

func TestFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9090
bus:
  driver: redis
  redis_addr: redis:6379
rooms:
  default_max_participants: 4
  max_participants_limit: 8
signal:
  backpressure: tolerant
  slow_strikes: 3
rtc:
  negotiation_timeout: 10s
`), 0o600))
	t.Setenv("SV_CHAT_PAGE_SIZE", "25")
	t.Setenv("SV_SECRET", "s3cret")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "redis", cfg.Bus.Driver)
	assert.Equal(t, "redis:6379", cfg.Bus.RedisAddr)
	assert.Equal(t, 4, cfg.Rooms.DefaultMaxParticipants)
	assert.Equal(t, 10*time.Second, cfg.RTC.NegotiationTimeout)
	assert.Equal(t, 25, cfg.Chat.PageSize)
	assert.Equal(t, "tolerant", cfg.Signal.Backpressure)
	assert.Equal(t, 3, cfg.Signal.SlowStrikes)
	assert.Equal(t, "s3cret", cfg.Secret)
}

func TestValidate(t *testing.T) {
	t.Setenv("SV_STORE_DRIVER", "mysql")
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "store.dsn")

	t.Setenv("SV_STORE_DRIVER", "postgres")
	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "unknown store.driver")

	t.Setenv("SV_STORE_DRIVER", "memory")
	t.Setenv("SV_ROOMS_DEFAULT_MAX_PARTICIPANTS", "99")
	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "default_max_participants")

	t.Setenv("SV_ROOMS_DEFAULT_MAX_PARTICIPANTS", "10")
	t.Setenv("SV_SIGNAL_BACKPRESSURE", "ignore")
	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "signal.backpressure")
}
