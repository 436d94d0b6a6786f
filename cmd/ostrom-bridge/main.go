package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hisabimbola/ostrom-bridge/handler"
	"github.com/hisabimbola/ostrom-bridge/host"
	"github.com/hisabimbola/ostrom-bridge/internal/config"
)

func main() {
	// Load .env file (optional, falls back to env vars)
	_ = godotenv.Load()

	// Parse configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("starting ostrom bridge",
		"service", cfg.ServiceName,
		"listen_addr", cfg.HTTPListenAddr,
		"zip", cfg.ZipCode,
		"tz", cfg.TZ,
		"refresh_interval", cfg.RefreshInterval(),
	)

	// Create context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Register the configured instance; a failed first refresh is not
	// fatal, the scheduler retries on cadence.
	registry := host.NewRegistry()
	defer registry.Close()

	if _, err := registry.Setup(ctx, host.SetupConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		ZipCode:      cfg.ZipCode,
		AuthURL:      cfg.AuthURL,
		APIURL:       cfg.APIURL,
		Location:     cfg.Location(),
	}); err != nil {
		slog.Warn("instance starting in degraded state", "error", err)
	}

	// Setup HTTP handler
	h := handler.New(registry)
	router := h.NewRouter()

	server := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// WaitGroup for graceful shutdown
	var wg sync.WaitGroup

	// Start HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("HTTP server listening", "addr", cfg.HTTPListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Start refresh scheduler in background
	scheduler := host.NewScheduler(registry, cfg.RefreshInterval())
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scheduler.Run(ctx); err != nil && err != context.Canceled {
			slog.Error("scheduler error", "error", err)
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Shutdown HTTP server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// Wait for all goroutines to complete
	wg.Wait()

	slog.Info("shutdown complete")
}
