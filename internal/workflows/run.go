package workflows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/tendant/simple-derivative-pipeline/internal/dedupe"
	"github.com/tendant/simple-derivative-pipeline/internal/encoder"
	"github.com/tendant/simple-derivative-pipeline/internal/metrics"
	"github.com/tendant/simple-derivative-pipeline/internal/scratch"
	"github.com/tendant/simple-derivative-pipeline/internal/storage"
	"github.com/tendant/simple-derivative-pipeline/pkg/pipeline"
)

// Ledger records committed derivatives. *dedupe.Tracker satisfies it.
type Ledger interface {
	Lookup(ctx context.Context, sourcePath string) (*dedupe.Entry, error)
	Commit(ctx context.Context, e dedupe.Entry) error
}

// AccessURLFunc builds the access descriptor for a stored derivative
type AccessURLFunc func(path, token string) string

// PublicURL returns an AccessURLFunc serving objects below base. The
// provenance token, when known, is appended as a query parameter. An empty
// base yields empty descriptors.
func PublicURL(base string) AccessURLFunc {
	base = strings.TrimSuffix(base, "/")
	return func(path, token string) string {
		if base == "" {
			return ""
		}
		u := base + "/" + strings.TrimPrefix(path, "/")
		if token != "" {
			u += "?token=" + url.QueryEscape(token)
		}
		return u
	}
}

// options are shared by both coordinators
type options struct {
	access AccessURLFunc
	ledger Ledger
	logger *slog.Logger
}

// Option configures a coordinator
type Option func(*options)

// WithLedger records committed derivatives and consults them for duplicates
func WithLedger(l Ledger) Option {
	return func(o *options) { o.ledger = l }
}

// WithAccessURL sets the access descriptor builder
func WithAccessURL(fn AccessURLFunc) Option {
	return func(o *options) { o.access = fn }
}

// WithLogger sets the coordinator logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func applyOptions(opts []Option) options {
	o := options{access: PublicURL(""), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.access == nil {
		o.access = PublicURL("")
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// run tracks one coordinator execution through its states
type run struct {
	workflow string
	logger   *slog.Logger
	state    State
	started  time.Time
}

func newRun(workflow string, wctx *WorkflowContext, logger *slog.Logger) *run {
	return &run{
		workflow: workflow,
		logger: logger.With(
			"workflow", workflow,
			"run_id", wctx.RunID,
			"object", wctx.Request.ObjectKey),
		state:   StateReceived,
		started: time.Now(),
	}
}

func (r *run) enter(s State) {
	r.state = s
	r.logger.Debug("state transition", "state", s)
}

func (r *run) filtered(reason string) *WorkflowResult {
	r.logger.Info("filtered out", "reason", reason)
	return r.finish(&WorkflowResult{Success: true, State: StateFilteredOut, Reason: reason})
}

func (r *run) fail(kind FailureKind, err error) *WorkflowResult {
	r.logger.Error("run failed", "state", r.state, "kind", kind, "error", err)
	metrics.WorkflowFailuresTotal.WithLabelValues(r.workflow, string(kind)).Inc()
	return r.finish(&WorkflowResult{
		State:    StateFailed,
		Failure:  kind,
		FailedIn: r.state,
		Reason:   err.Error(),
	})
}

func (r *run) done(d *pipeline.DerivativeObject, accessURL string, quality int) *WorkflowResult {
	r.logger.Info("derivative written",
		"derivative", d.DerivativePath,
		"bytes", d.SizeBytes,
		"width", d.Width,
		"height", d.Height,
		"quality", quality)
	metrics.DerivativeBytes.WithLabelValues(r.workflow).Observe(float64(d.SizeBytes))
	return r.finish(&WorkflowResult{
		Success:    true,
		State:      StateDone,
		Derivative: d,
		AccessURL:  accessURL,
		Quality:    quality,
	})
}

func (r *run) finish(res *WorkflowResult) *WorkflowResult {
	metrics.WorkflowRunsTotal.WithLabelValues(r.workflow, string(res.State)).Inc()
	metrics.WorkflowDuration.WithLabelValues(r.workflow).Observe(time.Since(r.started).Seconds())
	return res
}

// recoverInto converts a panic inside a coordinator into a failed result
func (r *run) recoverInto(res **WorkflowResult) {
	if p := recover(); p != nil {
		*res = r.fail(FailureInternal, fmt.Errorf("panic: %v", p))
	}
}

// download copies the object into a scratch file and returns its bytes. The
// scratch file is returned even on error so the caller can release it.
func download(ctx context.Context, store storage.Reader, space *scratch.Space, path string) (*scratch.File, []byte, error) {
	file, err := space.Acquire("derivative-src-*")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	metrics.ScratchFilesOutstanding.Set(float64(space.Outstanding()))

	rc, err := store.Download(ctx, path)
	if err != nil {
		return file, nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer rc.Close()

	if _, err := file.Fill(rc); err != nil {
		return file, nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	data, err := file.Bytes()
	if err != nil {
		return file, nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	return file, data, nil
}

func release(space *scratch.Space, file *scratch.File, logger *slog.Logger) {
	if file == nil {
		return
	}
	if err := file.Release(); err != nil {
		logger.Warn("failed to release scratch file", "file", file.Name(), "error", err)
	}
	metrics.ScratchFilesOutstanding.Set(float64(space.Outstanding()))
}

// encodeFailure maps encoder errors onto failure kinds
func encodeFailure(err error) FailureKind {
	if errors.Is(err, encoder.ErrDecodeFailed) {
		return FailureDecode
	}
	return FailureEncode
}

// formatOf maps a content type or path extension onto an encoder format
func formatOf(contentType, path string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])) {
	case "image/webp":
		return encoder.FormatWebP
	case "image/jpeg", "image/jpg":
		return encoder.FormatJPEG
	case "image/png":
		return encoder.FormatPNG
	}
	if i := strings.LastIndex(path, "."); i >= 0 {
		switch f := encoder.NormalizeFormat(path[i+1:]); f {
		case encoder.FormatWebP, encoder.FormatJPEG, encoder.FormatPNG:
			return f
		}
	}
	return ""
}
