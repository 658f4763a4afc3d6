package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	defaultPort           = ":8080"
	defaultMaxMessageSize = 4096
	defaultRateBurst      = 5
	defaultRateRefill     = time.Second
	defaultPingInterval   = 5 * time.Second
	defaultPongGrace      = time.Second
	defaultWriteWait      = 10 * time.Second
	defaultSendBuffer     = 256
	defaultCookieName     = "token"
)

// Config holds the hub and HTTP settings. Zero values fall back to defaults.
type Config struct {
	Port string `env:"SERVER_PORT"`
	// Origins is the raw comma-separated ALLOWED_ORIGINS value; it is parsed
	// into AllowedOrigins. "*" allows every origin.
	Origins        string `env:"ALLOWED_ORIGINS"`
	AllowedOrigins []string
	MaxMessageSize int `env:"MAX_MESSAGE_SIZE"`

	// RateLimitBurst frames may be read per RateLimitRefill; extra frames
	// are discarded.
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST"`
	RateLimitRefill time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL"`

	// A peer that does not answer a ping within PongGrace is evicted.
	PingInterval time.Duration `env:"PING_INTERVAL"`
	PongGrace    time.Duration `env:"PONG_GRACE"`
	WriteWait    time.Duration `env:"WRITE_WAIT"`

	SendBufferSize int    `env:"SEND_BUFFER_SIZE"`
	CookieName     string `env:"COOKIE_NAME"`
	CookieSecure   bool   `env:"COOKIE_SECURE"`
}

func defaultConfig() Config {
	return Config{
		Port:            defaultPort,
		AllowedOrigins:  []string{"http://localhost:8080", "http://localhost:5173"},
		MaxMessageSize:  defaultMaxMessageSize,
		RateLimitBurst:  defaultRateBurst,
		RateLimitRefill: defaultRateRefill,
		PingInterval:    defaultPingInterval,
		PongGrace:       defaultPongGrace,
		WriteWait:       defaultWriteWait,
		SendBufferSize:  defaultSendBuffer,
		CookieName:      defaultCookieName,
	}
}

// sanitizeConfig replaces unset or invalid values with defaults and copies
// the origin list so the caller's slice is never shared.
func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = defaultRateBurst
	}
	if cfg.RateLimitRefill <= 0 {
		cfg.RateLimitRefill = defaultRateRefill
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongGrace <= 0 {
		cfg.PongGrace = defaultPongGrace
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBuffer
	}
	if cfg.CookieName == "" {
		cfg.CookieName = defaultCookieName
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv reads the environment over the defaults. Variables that
// are unset keep their default value.
func NewConfigFromEnv() (*Config, error) {
	cfg := defaultConfig()
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}
	if cfg.Origins != "" {
		cfg.AllowedOrigins = parseOrigins(cfg.Origins)
	}
	cfg = sanitizeConfig(cfg)
	return &cfg, nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
