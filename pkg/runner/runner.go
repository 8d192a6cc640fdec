// Package runner assembles the pipeline from configuration: blob store,
// encoder, coordinators, trigger adapter and, optionally, the durable queue.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tendant/simple-derivative-pipeline/internal/config"
	"github.com/tendant/simple-derivative-pipeline/internal/dbosruntime"
	"github.com/tendant/simple-derivative-pipeline/internal/dedupe"
	"github.com/tendant/simple-derivative-pipeline/internal/encoder"
	"github.com/tendant/simple-derivative-pipeline/internal/encoder/vipsenc"
	"github.com/tendant/simple-derivative-pipeline/internal/fetch"
	"github.com/tendant/simple-derivative-pipeline/internal/handlers"
	"github.com/tendant/simple-derivative-pipeline/internal/naming"
	"github.com/tendant/simple-derivative-pipeline/internal/scratch"
	"github.com/tendant/simple-derivative-pipeline/internal/storage"
	"github.com/tendant/simple-derivative-pipeline/internal/trigger"
	"github.com/tendant/simple-derivative-pipeline/internal/workflows"
	"github.com/tendant/simple-derivative-pipeline/pkg/pipeline"
)

// Options selects optional parts of the assembly
type Options struct {
	// Async enqueues runs on the DBOS queue. Requires cfg.DBOS.DatabaseURL.
	Async bool

	// FinalizeEvents wraps the store so every write emits an object event
	// back into the trigger adapter, the way a managed bucket does.
	FinalizeEvents bool

	// Store overrides the store built from cfg
	Store storage.BlobStore

	// Encoder overrides the backend named by cfg.EncoderBackend
	Encoder encoder.Encoder
}

// Runner provides a high-level API over an assembled pipeline
type Runner struct {
	cfg     config.Config
	logger  *slog.Logger
	store   storage.BlobStore
	runtime *dbosruntime.Runtime
	runner  *workflows.WorkflowRunner
	adapter *trigger.Adapter
	ledger  *dedupe.Tracker
	vips    bool
}

// NewEncoder returns the encoder backend by name
func NewEncoder(backend string, logger *slog.Logger) (encoder.Encoder, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "vips", "libvips":
		vipsenc.Startup(logger)
		return vipsenc.New(logger), nil
	case "imaging", "go":
		return encoder.NewImagingEncoder(), nil
	default:
		return nil, fmt.Errorf("unknown encoder backend %q", backend)
	}
}

// NewStore returns the HTTP object API store when ContentAPIURL is set and
// the filesystem store otherwise
func NewStore(cfg config.Config) (storage.BlobStore, error) {
	if cfg.ContentAPIURL != "" {
		return storage.NewHTTPStorage(cfg.ContentAPIURL), nil
	}
	return storage.NewFilesystemStorage(cfg.StorageDir)
}

// NewFetchClient builds the fallback chain and retry policy from cfg
func NewFetchClient(cfg config.FetchConfig, logger *slog.Logger) *fetch.Client {
	strategies := []fetch.Strategy{fetch.Direct()}
	for _, p := range cfg.Proxies {
		strategies = append(strategies, fetch.Proxy(p.Name, p.Prefix, strings.HasSuffix(p.Prefix, "=")))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	chain := fetch.NewChain(fetch.ChainConfig{
		Strategies: strategies,
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     logger,
	})
	return fetch.NewClient(chain, fetch.RetryConfig{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
	})
}

// New assembles a pipeline. With opts.Async the DBOS runtime is launched
// after both coordinators are registered.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{cfg: cfg, logger: logger}

	base := opts.Store
	if base == nil {
		var err error
		if base, err = NewStore(cfg); err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
	}
	r.store = base
	if opts.FinalizeEvents {
		r.store = storage.NewNotifyingStorage(base, r.onFinalize)
	}

	enc := opts.Encoder
	if enc == nil {
		var err error
		if enc, err = NewEncoder(cfg.EncoderBackend, logger); err != nil {
			return nil, err
		}
		_, r.vips = enc.(*vipsenc.Encoder)
	}

	space, err := scratch.NewSpace(cfg.ScratchDir)
	if err != nil {
		r.Shutdown(0)
		return nil, err
	}

	wfOpts := []workflows.Option{
		workflows.WithLogger(logger),
		workflows.WithAccessURL(workflows.PublicURL(cfg.PublicBaseURL)),
	}
	var seen trigger.SeenCounter
	if cfg.LedgerURL != "" {
		ledger, err := dedupe.Open(ctx, cfg.LedgerURL, logger)
		if err != nil {
			r.Shutdown(0)
			return nil, err
		}
		r.ledger = ledger
		seen = ledger
		wfOpts = append(wfOpts, workflows.WithLedger(ledger))
	}

	if opts.Async {
		rt, err := dbosruntime.NewRuntime(ctx, dbosruntime.Config{
			DatabaseURL:        cfg.DBOS.DatabaseURL,
			AppName:            cfg.DBOS.AppName,
			QueueName:          cfg.DBOS.QueueName,
			Concurrency:        cfg.DBOS.Concurrency,
			ApplicationVersion: cfg.DBOS.AppVersion,
		}, logger)
		if err != nil {
			r.Shutdown(0)
			return nil, fmt.Errorf("failed to initialize DBOS: %w", err)
		}
		r.runtime = rt
	}

	scheme := naming.NewScheme(cfg.RawPrefix, cfg.DerivativePrefix)
	r.runner = workflows.NewWorkflowRunner(r.runtime)

	ingest := workflows.NewIngestWorkflow(r.store, enc, space, workflows.IngestConfig{
		Scheme:  scheme,
		Format:  cfg.DerivativeFormat,
		Quality: cfg.Quality,
	}, wfOpts...)
	r.runner.Register(pipeline.JobIngest, ingest)
	logger.Info("registered workflow", "workflow", ingest.Name(), "job", pipeline.JobIngest, "encoder", enc.Name())

	recompress := workflows.NewRecompressWorkflow(r.store, enc, space, workflows.RecompressConfig{
		Scheme:       scheme,
		CeilingBytes: cfg.Recompress.CeilingBytes,
		MaxWidth:     cfg.Recompress.MaxWidth,
		Format:       cfg.DerivativeFormat,
	}, wfOpts...)
	r.runner.Register(pipeline.JobRecompress, recompress)
	logger.Info("registered workflow", "workflow", recompress.Name(), "job", pipeline.JobRecompress)

	r.adapter = trigger.NewAdapter(trigger.NewRouter(scheme, cfg.Recompress.Enabled), r.runner, seen, logger)

	// Launch DBOS (must be after workflow registration)
	if r.runtime != nil {
		if err := r.runtime.Launch(); err != nil {
			r.Shutdown(0)
			return nil, fmt.Errorf("failed to launch DBOS: %w", err)
		}
	}
	return r, nil
}

func (r *Runner) onFinalize(path string, meta storage.ObjectMeta) {
	if r.adapter == nil {
		return
	}
	ev := trigger.EventFromUpload("", path, meta)
	out, err := r.adapter.Handle(context.Background(), ev)
	if err != nil {
		r.logger.Error("failed to handle finalize event", "object", path, "error", err)
		return
	}
	if out.Result != nil && out.Result.State == workflows.StateFailed {
		r.logger.Warn("finalize event run failed", "object", path, "failure", out.Result.Failure, "reason", out.Result.Reason)
	}
}

// Store returns the store coordinators write through
func (r *Runner) Store() storage.BlobStore {
	return r.store
}

// Handle processes one object event
func (r *Runner) Handle(ctx context.Context, ev pipeline.ObjectEvent) (*trigger.Outcome, error) {
	return r.adapter.Handle(ctx, ev)
}

// RunIngest runs or enqueues the ingestion coordinator for a raw object
func (r *Runner) RunIngest(ctx context.Context, path string) (*trigger.Outcome, error) {
	return r.adapter.Dispatch(ctx, pipeline.ProcessRequest{Job: pipeline.JobIngest, ObjectKey: path})
}

// RunRecompress runs or enqueues the recompression coordinator for a derivative
func (r *Runner) RunRecompress(ctx context.Context, path string) (*trigger.Outcome, error) {
	return r.adapter.Dispatch(ctx, pipeline.ProcessRequest{Job: pipeline.JobRecompress, ObjectKey: path})
}

// Handler returns the HTTP API. withObjects also serves the object API over
// the store, with writes feeding back into the trigger when FinalizeEvents
// is set.
func (r *Runner) Handler(version string, withObjects bool) http.Handler {
	router := handlers.New(r.adapter, r.runner, version, r.logger).Router()
	if withObjects {
		handlers.NewObjects(r.store, r.logger).Mount(router)
	}
	return router
}

// Shutdown gracefully shuts down the pipeline runner
func (r *Runner) Shutdown(timeout time.Duration) {
	if r.runtime != nil {
		if err := r.runtime.Shutdown(timeout); err != nil {
			r.logger.Warn("dbos shutdown", "error", err)
		}
	}
	if r.ledger != nil {
		if err := r.ledger.Close(); err != nil {
			r.logger.Warn("ledger close", "error", err)
		}
	}
	if r.vips {
		vipsenc.Shutdown()
	}
}
