package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "SV"

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`

	Store   StoreConfig   `mapstructure:"store"`
	Bus     BusConfig     `mapstructure:"bus"`
	Rooms   RoomsConfig   `mapstructure:"rooms"`
	Chat    ChatConfig    `mapstructure:"chat"`
	Control ControlConfig `mapstructure:"control"`
	Signal  SignalConfig  `mapstructure:"signal"`
	RTC     RTCConfig     `mapstructure:"rtc"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver"` // memory | mysql
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type BusConfig struct {
	Driver        string `mapstructure:"driver"` // memory | redis
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
	FeedMaxLen    int64  `mapstructure:"feed_max_len"`
}

type RoomsConfig struct {
	DefaultMaxParticipants int `mapstructure:"default_max_participants"`
	MaxParticipantsLimit   int `mapstructure:"max_participants_limit"`
}

type ChatConfig struct {
	PageSize int `mapstructure:"page_size"`
}

type ControlConfig struct {
	RequestLimit    int           `mapstructure:"request_limit"`
	RequestInterval time.Duration `mapstructure:"request_interval"`
}

// SignalConfig tunes websocket fan-out. Backpressure is "kick" or "tolerant".
type SignalConfig struct {
	SendBuffer   int    `mapstructure:"send_buffer"`
	Backpressure string `mapstructure:"backpressure"`
	SlowStrikes  int    `mapstructure:"slow_strikes"`
}

type RTCConfig struct {
	STUNServers        []string      `mapstructure:"stun_servers"`
	TURNServer         string        `mapstructure:"turn_server"`
	TURNUser           string        `mapstructure:"turn_user"`
	TURNPass           string        `mapstructure:"turn_pass"`
	ForceRelay         bool          `mapstructure:"force_relay"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("token_ttl", "24h")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.auto_migrate", true)

	v.SetDefault("bus.driver", "memory")
	v.SetDefault("bus.redis_addr", "localhost:6379")
	v.SetDefault("bus.redis_password", "")
	v.SetDefault("bus.redis_db", 0)
	v.SetDefault("bus.key_prefix", "sv:")
	v.SetDefault("bus.feed_max_len", 10000)

	v.SetDefault("rooms.default_max_participants", 10)
	v.SetDefault("rooms.max_participants_limit", 50)
	v.SetDefault("chat.page_size", 100)
	v.SetDefault("control.request_limit", 3)
	v.SetDefault("control.request_interval", "10s")

	v.SetDefault("signal.send_buffer", 64)
	v.SetDefault("signal.backpressure", "kick")
	v.SetDefault("signal.slow_strikes", 8)

	v.SetDefault("rtc.stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("rtc.turn_server", "")
	v.SetDefault("rtc.turn_user", "")
	v.SetDefault("rtc.turn_pass", "")
	v.SetDefault("rtc.force_relay", false)
	v.SetDefault("rtc.negotiation_timeout", "30s")
}

// Load reads .env, then config/config.<CONFIG_ENV>.yaml, then SV_* env vars.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("module", "config").Msg("failed to read .env")
	}
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile is Load without the .env step. A missing file means defaults.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("store", cfg.Store.Driver).
		Str("bus", cfg.Bus.Driver).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "mysql":
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the mysql driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	switch c.Bus.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown bus.driver %q", c.Bus.Driver)
	}
	if c.Rooms.MaxParticipantsLimit < 1 {
		return errors.New("rooms.max_participants_limit must be positive")
	}
	if c.Rooms.DefaultMaxParticipants < 1 || c.Rooms.DefaultMaxParticipants > c.Rooms.MaxParticipantsLimit {
		return fmt.Errorf("rooms.default_max_participants must be within 1..%d", c.Rooms.MaxParticipantsLimit)
	}
	switch c.Signal.Backpressure {
	case "kick", "tolerant":
	default:
		return fmt.Errorf("unknown signal.backpressure %q", c.Signal.Backpressure)
	}
	if c.Chat.PageSize < 1 {
		return errors.New("chat.page_size must be positive")
	}
	return nil
}
