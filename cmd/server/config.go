package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/Tyrowin/pairchat/internal/store"
)

// Config is the process configuration. Hub and HTTP settings are read
// separately by server.NewConfigFromEnv.
type Config struct {
	JWTSecret string        `env:"JWT_SECRET,required=true"`
	TokenTTL  time.Duration `env:"TOKEN_TTL"`

	// StoreBackend is one of memory, badger, mongo or postgres.
	StoreBackend  string `env:"STORE_BACKEND"`
	BadgerPath    string `env:"BADGER_PATH"`
	MongoURL      string `env:"MONGO_URL"`
	MongoDatabase string `env:"MONGO_DATABASE"`
	DatabaseURL   string `env:"DATABASE_URL"`

	// The Redis presence mirror is enabled when RedisAddr is set.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"`

	LogLevel        string        `env:"LOG_LEVEL"`
	LogFormat       string        `env:"LOG_FORMAT"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
}

func loadConfig() (Config, error) {
	cfg := Config{
		TokenTTL:        24 * time.Hour,
		StoreBackend:    "badger",
		BadgerPath:      "data/badger",
		MongoDatabase:   "pairchat",
		LogLevel:        "info",
		LogFormat:       "text",
		ShutdownTimeout: 10 * time.Second,
	}
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must not be empty")
	}
	switch c.StoreBackend {
	case "memory":
	case "badger":
		if c.BadgerPath == "" {
			return errors.New("BADGER_PATH is required for the badger backend")
		}
	case "mongo":
		if c.MongoURL == "" {
			return errors.New("MONGO_URL is required for the mongo backend")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

// openStore connects the configured backend.
func openStore(ctx context.Context, cfg Config) (store.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "badger":
		s, err := store.OpenBadger(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "mongo":
		s, err := store.OpenMongo(ctx, cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}
