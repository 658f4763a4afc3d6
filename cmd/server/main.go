package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/pairchat/internal/auth"
	"github.com/Tyrowin/pairchat/internal/logging"
	"github.com/Tyrowin/pairchat/internal/presence"
	"github.com/Tyrowin/pairchat/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

// Exit codes reported to the service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pairchat terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal or a server error.
// Returning instead of exiting lets the deferred closes run.
func run() (int, error) {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		return exitConfig, err
	}
	serverCfg, err := server.NewConfigFromEnv()
	if err != nil {
		return exitConfig, err
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return exitRuntime, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	defer func() {
		logger.Info("closing store", "backend", cfg.StoreBackend)
		_ = st.Close()
	}()

	opts := []server.HubOption{server.WithLogger(logger)}
	if cfg.RedisAddr != "" {
		mirror, err := presence.NewRedisMirror(ctx, presence.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return exitRuntime, err
		}
		defer func() { _ = mirror.Close() }()
		opts = append(opts, server.WithPresenceMirror(mirror))
		logger.Info("presence mirror enabled", "redis", cfg.RedisAddr)
	}

	issuer := auth.NewJWTIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL)
	hub := server.NewHub(serverCfg, issuer, st, opts...)
	api := server.NewAPI(hub, st, st, issuer)
	httpServer := server.CreateServer(serverCfg.Port, server.SetupRoutes(hub, api))

	logger.Info("starting pairchat",
		"backend", cfg.StoreBackend,
		"ping_interval", serverCfg.PingInterval,
		"pong_grace", serverCfg.PongGrace)

	errs := make(chan error, 1)
	go func() {
		errs <- server.StartServer(httpServer)
	}()

	select {
	case err := <-errs:
		if err != nil {
			return exitRuntime, fmt.Errorf("http server: %w", err)
		}
		return exitOK, nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout); err != nil {
		logger.Warn("http server did not shut down cleanly", "err", err)
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		return exitRuntime, fmt.Errorf("hub shutdown: %w", err)
	}
	return exitOK, nil
}
