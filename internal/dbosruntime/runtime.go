// Package dbosruntime owns the DBOS context and the derivative queue that
// durable coordinator runs are enqueued on.
package dbosruntime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	_ "github.com/lib/pq"
)

// ErrDatabaseURLRequired is returned when no system database is configured
var ErrDatabaseURLRequired = errors.New("DBOS_SYSTEM_DATABASE_URL is required")

// Runtime wraps a DBOS context, its queue and a plain connection to the
// system database used for run status queries
type Runtime struct {
	dbosContext dbos.DBOSContext
	queue       dbos.WorkflowQueue
	config      Config
	db          *sql.DB
	logger      *slog.Logger
}

// NewRuntime creates the DBOS context and declares the queue. Workflows must
// be registered before Launch.
func NewRuntime(ctx context.Context, cfg Config, logger *slog.Logger) (*Runtime, error) {
	if cfg.DatabaseURL == "" {
		return nil, ErrDatabaseURLRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.WithDefaults()

	dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
		DatabaseURL:        cfg.DatabaseURL,
		AppName:            cfg.AppName,
		ApplicationVersion: cfg.ApplicationVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("create dbos context: %w", err)
	}

	queue := dbos.NewWorkflowQueue(dbosCtx, cfg.QueueName, dbos.WithWorkerConcurrency(cfg.Concurrency))

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open status connection: %w", err)
	}

	return &Runtime{
		dbosContext: dbosCtx,
		queue:       queue,
		config:      cfg,
		db:          db,
		logger:      logger.With("component", "dbos", "queue", cfg.QueueName),
	}, nil
}

// Launch starts the queue workers and recovers pending runs
func (r *Runtime) Launch() error {
	if err := dbos.Launch(r.dbosContext); err != nil {
		return fmt.Errorf("launch dbos: %w", err)
	}
	r.logger.Info("dbos runtime launched", "app", r.config.AppName, "concurrency", r.config.Concurrency)
	return nil
}

// Shutdown stops the workers and closes the status connection
func (r *Runtime) Shutdown(timeout time.Duration) error {
	dbos.Shutdown(r.dbosContext, timeout)
	r.logger.Info("dbos runtime stopped")
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Context returns the DBOS context
func (r *Runtime) Context() dbos.DBOSContext {
	return r.dbosContext
}

// QueueName returns the name runs are enqueued on
func (r *Runtime) QueueName() string {
	return r.config.QueueName
}

// Concurrency returns the per-worker concurrency of the queue
func (r *Runtime) Concurrency() int {
	return r.config.Concurrency
}
