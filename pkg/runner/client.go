package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tendant/simple-derivative-pipeline/internal/config"
	"github.com/tendant/simple-derivative-pipeline/internal/dbosruntime"
	"github.com/tendant/simple-derivative-pipeline/internal/workflows"
	"github.com/tendant/simple-derivative-pipeline/pkg/pipeline"
)

// Client provides a client-only API for starting workflows without executing them
// Use this in applications that want to enqueue workflows for workers to execute
type Client struct {
	runtime *dbosruntime.Runtime
	runner  *workflows.WorkflowRunner
}

// NewClient creates a client that can start workflows but doesn't execute them
// Workers must be running separately to execute the enqueued workflows
func NewClient(ctx context.Context, cfg config.DBOSConfig, logger *slog.Logger) (*Client, error) {
	dbosRuntime, err := dbosruntime.NewRuntime(ctx, dbosruntime.Config{
		DatabaseURL:        cfg.DatabaseURL,
		AppName:            cfg.AppName,
		QueueName:          cfg.QueueName,
		Concurrency:        cfg.Concurrency,
		ApplicationVersion: cfg.AppVersion,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize DBOS: %w", err)
	}

	// Registers the dispatch function only; coordinators run on the workers
	workflowRunner := workflows.NewWorkflowRunner(dbosRuntime)

	if err := dbosRuntime.Launch(); err != nil {
		_ = dbosRuntime.Shutdown(0)
		return nil, fmt.Errorf("failed to launch DBOS: %w", err)
	}

	return &Client{
		runtime: dbosRuntime,
		runner:  workflowRunner,
	}, nil
}

// EnqueueIngest enqueues the ingestion coordinator for a raw object
func (c *Client) EnqueueIngest(ctx context.Context, path string) (string, error) {
	return c.runner.RunAsync(ctx, pipeline.ProcessRequest{Job: pipeline.JobIngest, ObjectKey: path})
}

// EnqueueRecompress enqueues the recompression coordinator for a derivative
func (c *Client) EnqueueRecompress(ctx context.Context, path string) (string, error) {
	return c.runner.RunAsync(ctx, pipeline.ProcessRequest{Job: pipeline.JobRecompress, ObjectKey: path})
}

// Status returns the durable status of a run
func (c *Client) Status(ctx context.Context, runID string) (*workflows.WorkflowStatus, error) {
	return c.runner.GetStatus(ctx, runID)
}

// Shutdown gracefully shuts down the client
func (c *Client) Shutdown(timeout time.Duration) {
	if c.runtime != nil {
		_ = c.runtime.Shutdown(timeout)
	}
}
