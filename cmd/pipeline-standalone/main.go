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

// Standalone pipeline for local testing. Runs execute synchronously against
// filesystem storage (./dev-data) and the object API is served on the same
// port; every PUT raises an object event like a managed bucket would.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if v := os.Getenv("PIPELINE_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	// Standalone always owns its storage
	cfg.ContentAPIURL = ""
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		logging.Fatal(logger, "failed to create storage dir", err, "dir", cfg.StorageDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := runner.New(ctx, *cfg, logger, runner.Options{FinalizeEvents: true})
	if err != nil {
		logging.Fatal(logger, "failed to initialize pipeline", err)
	}
	defer r.Shutdown(5 * time.Second)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r.Handler(version, true),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("standalone pipeline starting",
			"addr", cfg.HTTPAddr,
			"storage", cfg.StorageDir,
			"encoder", cfg.EncoderBackend,
			"recompress", cfg.Recompress.Enabled,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal(logger, "server failed", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server stopped")
}
