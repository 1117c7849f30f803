// Package config loads endpoint settings from a TOML file, a .env file and
// WSPRESET_* environment variables, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"wspreset/codec"
)

const EnvPrefix = "WSPRESET_"

// Duration reads TOML strings such as "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type ServerConfig struct {
	Addr              string   `toml:"addr"`
	Path              string   `toml:"path"`
	TCPAddr           string   `toml:"tcp_addr"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	HandshakeTimeout  Duration `toml:"handshake_timeout"`
	DefaultTimeout    Duration `toml:"default_timeout"`
	ReviveDates       bool     `toml:"revive_dates"`
	Codec             string   `toml:"codec"` // json | binary
	Service           string   `toml:"service"`
	Advertise         string   `toml:"advertise"`

	// preset middleware; zero disables
	HandlerTimeout Duration `toml:"handler_timeout"`
	RateLimit      float64  `toml:"rate_limit"` // preset invocations per second
	RateBurst      int      `toml:"rate_burst"`
}

type ClientConfig struct {
	URL           string   `toml:"url"`
	Name          string   `toml:"name"`
	RetryInterval Duration `toml:"retry_interval"`
	MaxRetries    int      `toml:"max_retries"`
	Balancer      string   `toml:"balancer"`
	ReviveDates   bool     `toml:"revive_dates"`
	Codec         string   `toml:"codec"`
}

type EtcdConfig struct {
	Endpoints   []string `toml:"endpoints"`
	TTL         int64    `toml:"ttl"`
	DialTimeout Duration `toml:"dial_timeout"`
}

type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	SessionTTL Duration `toml:"session_ttl"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // console | json
}

type Config struct {
	Server ServerConfig `toml:"server"`
	Client ClientConfig `toml:"client"`
	Etcd   EtcdConfig   `toml:"etcd"`
	Redis  RedisConfig  `toml:"redis"`
	Log    LogConfig    `toml:"log"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:              ":8080",
			Path:              "/ws",
			HeartbeatInterval: Duration{10 * time.Second},
			HandshakeTimeout:  Duration{5 * time.Second},
			DefaultTimeout:    Duration{10 * time.Second},
			Codec:             "json",
			Service:           "wspreset",
		},
		Client: ClientConfig{
			URL:           "ws://127.0.0.1:8080/ws",
			Name:          "main",
			RetryInterval: Duration{2 * time.Second},
			MaxRetries:    10,
			Balancer:      "round_robin",
			Codec:         "json",
		},
		Etcd: EtcdConfig{
			TTL:         10,
			DialTimeout: Duration{5 * time.Second},
		},
		Redis: RedisConfig{
			SessionTTL: Duration{time.Minute},
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads .env (if present), then path (if not empty), then the
// environment. Missing keys keep their defaults.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Server.Addr == "" && c.Server.TCPAddr == "" {
		return errors.New("config: server needs addr or tcp_addr")
	}
	if c.Server.Path == "" || !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("config: server path %q must start with /", c.Server.Path)
	}
	if c.Server.HeartbeatInterval.Duration <= 0 {
		return errors.New("config: heartbeat_interval must be positive")
	}
	if c.Server.HandshakeTimeout.Duration <= 0 {
		return errors.New("config: handshake_timeout must be positive")
	}
	if c.Server.DefaultTimeout.Duration < 0 {
		return errors.New("config: default_timeout must not be negative")
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return errors.New("config: rate_limit and rate_burst must not be negative")
	}
	for _, name := range []string{c.Server.Codec, c.Client.Codec} {
		if _, err := codec.ParseType(name); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if c.Client.MaxRetries < 0 {
		return errors.New("config: max_retries must not be negative")
	}
	if c.Etcd.TTL <= 0 && len(c.Etcd.Endpoints) > 0 {
		return errors.New("config: etcd ttl must be positive")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *Duration) error {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err)
			}
		}
		return nil
	}
	num := func(key string, dst *int) error {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
		return nil
	}
	flag := func(key string, dst *bool) error {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err)
			}
			*dst = b
		}
		return nil
	}

	str("SERVER_ADDR", &cfg.Server.Addr)
	str("SERVER_PATH", &cfg.Server.Path)
	str("SERVER_TCP_ADDR", &cfg.Server.TCPAddr)
	str("SERVER_SERVICE", &cfg.Server.Service)
	str("SERVER_ADVERTISE", &cfg.Server.Advertise)
	str("SERVER_CODEC", &cfg.Server.Codec)
	str("CLIENT_URL", &cfg.Client.URL)
	str("CLIENT_CODEC", &cfg.Client.Codec)
	str("CLIENT_NAME", &cfg.Client.Name)
	str("CLIENT_BALANCER", &cfg.Client.Balancer)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	if v := os.Getenv(EnvPrefix + "ETCD_ENDPOINTS"); v != "" {
		cfg.Etcd.Endpoints = strings.Split(v, ",")
	}

	for _, err := range []error{
		dur("SERVER_HEARTBEAT_INTERVAL", &cfg.Server.HeartbeatInterval),
		dur("SERVER_HANDSHAKE_TIMEOUT", &cfg.Server.HandshakeTimeout),
		dur("SERVER_DEFAULT_TIMEOUT", &cfg.Server.DefaultTimeout),
		dur("SERVER_HANDLER_TIMEOUT", &cfg.Server.HandlerTimeout),
		dur("CLIENT_RETRY_INTERVAL", &cfg.Client.RetryInterval),
		dur("REDIS_SESSION_TTL", &cfg.Redis.SessionTTL),
		num("CLIENT_MAX_RETRIES", &cfg.Client.MaxRetries),
		num("REDIS_DB", &cfg.Redis.DB),
		flag("SERVER_REVIVE_DATES", &cfg.Server.ReviveDates),
		flag("CLIENT_REVIVE_DATES", &cfg.Client.ReviveDates),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}
