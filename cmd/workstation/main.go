package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/MatinDeevv/moi/internal/api"
	"github.com/MatinDeevv/moi/internal/config"
	"github.com/MatinDeevv/moi/internal/events"
	"github.com/MatinDeevv/moi/internal/orchestrator"
	"github.com/MatinDeevv/moi/internal/runner"
	"github.com/MatinDeevv/moi/internal/store"
)

const version = "1.0.0"

func main() {
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting workstation", "version", version, "storage", cfg.StorageKind())

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// NATS is optional; the workstation runs fine without it.
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name("moi-workstation"))
		if err != nil {
			slog.Error("failed to connect to NATS", "url", cfg.NATSURL, "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		slog.Info("connected to NATS", "url", cfg.NATSURL)
	}

	metrics := orchestrator.NewMetrics()
	client := runner.New(logger)
	recorder := events.NewRecorder(st, nc, logger)
	fallback := runner.Config{BaseURL: cfg.RunnerBaseURL, Token: cfg.RunnerToken}
	orch := orchestrator.NewService(st, client, recorder, fallback, metrics, logger)
	server := api.NewServer(st, orch, client, recorder, fallback, metrics, logger)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		slog.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("shutdown complete")
}

func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.StorageKind() {
	case "postgres":
		return store.OpenPostgres(cfg.DatabaseURL)
	case "sqlite":
		return store.OpenSQLite(cfg.DatabaseURL)
	default:
		return store.NewJSONFileStore(cfg.DataDir)
	}
}
