package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/rowimport/internal/config"
	_ "github.com/JonMunkholm/rowimport/internal/contacts" // registers the contacts profile
	"github.com/JonMunkholm/rowimport/internal/core"
	"github.com/JonMunkholm/rowimport/internal/logging"
	"github.com/JonMunkholm/rowimport/internal/metrics"
	"github.com/JonMunkholm/rowimport/internal/store"
	"github.com/JonMunkholm/rowimport/internal/web"
)

func main() {
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("connected to database", "name", store.DatabaseName(cfg.Database.URL))

	st := store.New(pool, slog.Default())
	if err := st.EnsureSchema(ctx); err != nil {
		slog.Error("failed to create schema", "error", err)
		os.Exit(1)
	}

	service := core.NewService(st, core.Options{
		ChunkSize:     cfg.Import.ChunkSize,
		Delimiter:     cfg.Import.Delimiter,
		MaxFileSize:   cfg.Import.MaxFileSize,
		MaxRows:       cfg.Import.MaxRows,
		MaxConcurrent: cfg.Import.MaxConcurrent,
		MaxWait:       cfg.Import.MaxWaitTime,
		RunTimeout:    cfg.Import.Timeout,
		ResultTTL:     cfg.Import.ResultTTL,
	}, slog.Default())

	recorder := metrics.New(nil)
	service.SetObserver(recorder)

	for _, p := range service.Profiles() {
		slog.Info("profile registered", "key", p.Key, "columns", len(p.Columns))
	}

	server := web.NewServer(service, cfg, recorder.Handler())

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := service.Limiter().Status(); status.Active > 0 {
			slog.Info("waiting for import runs to complete", "active", status.Active)
			if err := service.Shutdown(shutdownCtx); err != nil {
				slog.Warn("import runs did not complete in time", "error", err)
			} else {
				slog.Info("all import runs completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-stopped
	slog.Info("server stopped")
}
