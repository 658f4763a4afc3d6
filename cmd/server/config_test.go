package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, "badger", cfg.StoreBackend)
	require.Equal(t, 24*time.Hour, cfg.TokenTTL)
	require.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	require.Empty(t, cfg.RedisAddr)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing secret", env: map[string]string{"JWT_SECRET": ""}},
		{name: "unknown backend", env: map[string]string{"JWT_SECRET": "x", "STORE_BACKEND": "sqlite"}},
		{name: "mongo without url", env: map[string]string{"JWT_SECRET": "x", "STORE_BACKEND": "mongo"}},
		{name: "postgres without url", env: map[string]string{"JWT_SECRET": "x", "STORE_BACKEND": "postgres"}},
		{name: "bad ttl", env: map[string]string{"JWT_SECRET": "x", "TOKEN_TTL": "forever"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := loadConfig()
			require.Error(t, err)
		})
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	for _, cfg := range []Config{
		{StoreBackend: "memory"},
		{StoreBackend: "badger", BadgerPath: filepath.Join(t.TempDir(), "db")},
	} {
		t.Run(cfg.StoreBackend, func(t *testing.T) {
			s, err := openStore(ctx, cfg)
			require.NoError(t, err)
			defer s.Close()

			_, err = s.Append(ctx, "1", "2", "hi")
			require.NoError(t, err)
		})
	}

	_, err := openStore(ctx, Config{StoreBackend: "nope"})
	require.Error(t, err)
}
