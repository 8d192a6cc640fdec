package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tendant/simple-derivative-pipeline/internal/config"
	"github.com/tendant/simple-derivative-pipeline/internal/logging"
	"github.com/tendant/simple-derivative-pipeline/pkg/runner"
)

var version = "dev"

// Durable pipeline worker. Runs are enqueued on the DBOS queue and the
// object store is reached through CONTENT_API_URL or STORAGE_DIR.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if cfg.DBOS.DatabaseURL == "" {
		logging.Fatal(logger, "DBOS_SYSTEM_DATABASE_URL is required", errors.New("missing database url"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := runner.New(ctx, *cfg, logger, runner.Options{Async: true})
	if err != nil {
		logging.Fatal(logger, "failed to initialize pipeline", err)
	}
	defer r.Shutdown(10 * time.Second)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r.Handler(version, false),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("pipeline worker starting", "addr", cfg.HTTPAddr, "version", version, "queue", cfg.DBOS.QueueName)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal(logger, "server failed", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server stopped")
}
