// Package trigger turns "object finalized" events into coordinator runs.
package trigger

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tendant/simple-derivative-pipeline/internal/metrics"
	"github.com/tendant/simple-derivative-pipeline/internal/naming"
	"github.com/tendant/simple-derivative-pipeline/internal/storage"
	"github.com/tendant/simple-derivative-pipeline/internal/workflows"
	"github.com/tendant/simple-derivative-pipeline/pkg/pipeline"
)

// Dispatcher executes coordinator runs. *workflows.WorkflowRunner satisfies it.
type Dispatcher interface {
	Run(wctx *workflows.WorkflowContext) (*workflows.WorkflowResult, error)
	RunAsync(ctx context.Context, req pipeline.ProcessRequest) (string, error)
	Async() bool
}

// SeenCounter counts deliveries per source path. *dedupe.Tracker satisfies it.
type SeenCounter interface {
	Record(ctx context.Context, sourcePath string, pipeline string) (int, error)
}

// Router decides which coordinator an event belongs to
type Router struct {
	scheme     naming.Scheme
	recompress bool
}

// NewRouter creates a router. Derivative events are routed to recompression
// only when recompress is true.
func NewRouter(scheme naming.Scheme, recompress bool) *Router {
	return &Router{scheme: scheme, recompress: recompress}
}

// Route returns the job for an event, or "" when the event is ignored
func (r *Router) Route(ev pipeline.ObjectEvent) string {
	switch r.scheme.Classify(ev.Name) {
	case naming.NamespaceRaw:
		return pipeline.JobIngest
	case naming.NamespaceDerivative:
		if r.recompress {
			return pipeline.JobRecompress
		}
	}
	return ""
}

// Outcome is the result of handling one event
type Outcome struct {
	RunID     string
	Job       string
	Queued    bool
	Result    *workflows.WorkflowResult
	SeenCount int
}

// Response converts the outcome into the wire response
func (o *Outcome) Response() pipeline.ProcessResponse {
	resp := pipeline.ProcessResponse{
		RunID:           o.RunID,
		Job:             o.Job,
		DedupeSeenCount: o.SeenCount,
	}
	switch {
	case o.Queued:
		resp.State = "queued"
	case o.Result != nil:
		resp.State = string(o.Result.State)
		resp.Failure = string(o.Result.Failure)
		resp.Reason = o.Result.Reason
	default:
		resp.State = string(workflows.StateFilteredOut)
		resp.Reason = "no coordinator for this path"
	}
	return resp
}

// Transient reports whether the sender should redeliver the event
func (o *Outcome) Transient() bool {
	return o.Result != nil && o.Result.Failure.Transient()
}

// Adapter routes events and dispatches them
type Adapter struct {
	router     *Router
	dispatcher Dispatcher
	seen       SeenCounter
	logger     *slog.Logger
}

// NewAdapter creates an adapter. seen may be nil.
func NewAdapter(router *Router, dispatcher Dispatcher, seen SeenCounter, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{router: router, dispatcher: dispatcher, seen: seen, logger: logger}
}

// Handle processes one event. Runs are synchronous unless the dispatcher
// supports queueing.
func (a *Adapter) Handle(ctx context.Context, ev pipeline.ObjectEvent) (*Outcome, error) {
	job := a.router.Route(ev)
	if job == "" {
		metrics.EventsReceivedTotal.WithLabelValues("ignored").Inc()
		a.logger.Debug("event ignored", "object", ev.Name)
		return &Outcome{}, nil
	}
	metrics.EventsReceivedTotal.WithLabelValues(job).Inc()

	return a.Dispatch(ctx, ev.ToRequest(job))
}

// Dispatch runs or enqueues a request
func (a *Adapter) Dispatch(ctx context.Context, req pipeline.ProcessRequest) (*Outcome, error) {
	out := &Outcome{Job: req.Job}

	if a.seen != nil {
		count, err := a.seen.Record(ctx, req.ObjectKey, req.Job)
		if err != nil {
			a.logger.Warn("failed to record delivery", "object", req.ObjectKey, "error", err)
		} else {
			out.SeenCount = count
		}
	}

	if a.dispatcher.Async() {
		runID, err := a.dispatcher.RunAsync(ctx, req)
		if err != nil {
			return nil, err
		}
		a.logger.Info("run queued", "run_id", runID, "job", req.Job, "object", req.ObjectKey)
		out.RunID = runID
		out.Queued = true
		return out, nil
	}

	out.RunID = uuid.New().String()
	res, err := a.dispatcher.Run(&workflows.WorkflowContext{
		Ctx:     ctx,
		Request: req,
		RunID:   out.RunID,
	})
	if err != nil {
		return nil, err
	}
	out.Result = res
	return out, nil
}

// EventFromUpload builds the event a blob store emits after a write
func EventFromUpload(bucket, path string, meta storage.ObjectMeta) pipeline.ObjectEvent {
	return pipeline.ObjectEvent{
		Bucket:      bucket,
		Name:        path,
		ContentType: meta.ContentType,
		Metadata:    pipeline.EventMetadata{CustomMetadata: meta.CustomMetadata},
	}
}
