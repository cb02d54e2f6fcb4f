package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/artello/eventflow/internal/auth"
	"github.com/artello/eventflow/internal/config"
	"github.com/artello/eventflow/internal/graph/sqlite"
	"github.com/artello/eventflow/internal/queue/badgerq"
	"github.com/artello/eventflow/internal/server"
	"github.com/artello/eventflow/internal/telemetry"
	"github.com/artello/eventflow/internal/writer"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	shutdownTracer, err := telemetry.InitTracer("eventflow", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := sqlite.New(cfg.Store.Path)
	if err != nil {
		log.Fatalf("Failed to open chain store: %v", err)
	}
	defer store.Close()

	q, err := badgerq.Open(badgerq.DefaultConfig(cfg.Queue.Path))
	if err != nil {
		log.Fatalf("Failed to open event queue: %v", err)
	}
	defer q.Close()

	// The writer is the only component linking events into the graph. It
	// runs until its context is canceled and finishes the in-flight message
	// before returning.
	writerCtx, stopWriter := context.WithCancel(context.Background())
	defer stopWriter()

	w := writer.New(q, store, logger)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := w.Run(writerCtx); err != nil {
			logger.Error("writer stopped", slog.String("error", err.Error()))
		}
	}()

	resolver := auth.NewResolver(cfg.Auth.Keys)
	srv := server.New(cfg.Server.Port, cfg.Server.RequestTimeout, logger, resolver, q, store)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	logger.Info("eventflow started",
		slog.Int("port", cfg.Server.Port),
		slog.String("queue", cfg.Queue.Path),
		slog.String("store", cfg.Store.Path),
	)

	// Wait for shutdown signal or server failure
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown: stop accepting requests, then stop the writer so
	// the in-flight message settles, then close queue and store (deferred).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}

	stopWriter()
	select {
	case <-writerDone:
	case <-shutdownCtx.Done():
		logger.Error("writer did not stop in time")
	}

	logger.Info("eventflow shutdown complete")
}
