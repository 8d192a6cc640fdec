package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/tendant/simple-derivative-pipeline/internal/dbosruntime"
	"github.com/tendant/simple-derivative-pipeline/pkg/pipeline"
)

// WorkflowContext contains context for workflow execution
type WorkflowContext struct {
	Ctx     context.Context
	Request pipeline.ProcessRequest
	RunID   string
}

// State is a coordinator state
type State string

const (
	StateReceived    State = "received"
	StateFilteredOut State = "filtered_out"
	StateDownloading State = "downloading"
	StateEncoding    State = "encoding"
	StateUploading   State = "uploading"
	StateTagging     State = "tagging"
	StateCleaningUp  State = "cleaning_up"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// WorkflowResult contains the terminal outcome of a run. It is serialised by
// the durable queue, so it carries strings rather than error values.
type WorkflowResult struct {
	Success    bool                       `json:"success"`
	State      State                      `json:"state"`
	Failure    FailureKind                `json:"failure,omitempty"`
	FailedIn   State                      `json:"failed_in,omitempty"`
	Reason     string                     `json:"reason,omitempty"`
	Derivative *pipeline.DerivativeObject `json:"derivative,omitempty"`
	AccessURL  string                     `json:"access_url,omitempty"`
	Quality    int                        `json:"quality,omitempty"`
}

// Workflow defines the interface for processing workflows
type Workflow interface {
	// Execute runs the workflow. Failures are reported through the result;
	// the error return is reserved for dispatch problems.
	Execute(wctx *WorkflowContext) (*WorkflowResult, error)

	// Name returns the workflow name
	Name() string
}

// WorkflowRunner executes workflows
type WorkflowRunner struct {
	workflows   map[string]Workflow
	dbosRuntime *dbosruntime.Runtime
}

// NewWorkflowRunner creates a new workflow runner. A nil runtime gives a
// synchronous-only runner.
func NewWorkflowRunner(dbosRuntime *dbosruntime.Runtime) *WorkflowRunner {
	runner := &WorkflowRunner{
		workflows:   make(map[string]Workflow),
		dbosRuntime: dbosRuntime,
	}

	// Register the DBOS workflow function
	if dbosRuntime != nil {
		dbos.RegisterWorkflow(dbosRuntime.Context(), runner.executeWorkflowDBOS)
	}

	return runner
}

// Register registers a workflow
func (r *WorkflowRunner) Register(job string, workflow Workflow) {
	r.workflows[job] = workflow
}

// Has reports whether a workflow is registered for job
func (r *WorkflowRunner) Has(job string) bool {
	_, ok := r.workflows[job]
	return ok
}

// Async reports whether the runner can enqueue work
func (r *WorkflowRunner) Async() bool {
	return r.dbosRuntime != nil
}

// Run executes a workflow for the given job type synchronously
func (r *WorkflowRunner) Run(wctx *WorkflowContext) (*WorkflowResult, error) {
	workflow, ok := r.workflows[wctx.Request.Job]
	if !ok {
		return &WorkflowResult{
			State:   StateFailed,
			Failure: FailureInvalidRequest,
			Reason:  ErrWorkflowNotFound.Error(),
		}, ErrWorkflowNotFound
	}

	return workflow.Execute(wctx)
}

// RunAsync enqueues a workflow for async execution via DBOS
func (r *WorkflowRunner) RunAsync(ctx context.Context, req pipeline.ProcessRequest) (string, error) {
	if r.dbosRuntime == nil {
		return "", errors.New("DBOS runtime not initialized")
	}

	// Unique per delivery; duplicate deliveries are filtered inside the workflow
	workflowID := fmt.Sprintf("%s-%s-%d", req.Job, req.ObjectKey, time.Now().UnixNano())

	handle, err := dbos.RunWorkflow[pipeline.ProcessRequest, *WorkflowResult](
		r.dbosRuntime.Context(),
		r.executeWorkflowDBOS,
		req,
		dbos.WithWorkflowID(workflowID),
		dbos.WithQueue(r.dbosRuntime.QueueName()),
	)
	if err != nil {
		return "", err
	}

	return handle.GetWorkflowID(), nil
}

// executeWorkflowDBOS is the DBOS workflow function that wraps existing workflows
func (r *WorkflowRunner) executeWorkflowDBOS(dbosCtx dbos.DBOSContext, req pipeline.ProcessRequest) (*WorkflowResult, error) {
	workflow, ok := r.workflows[req.Job]
	if !ok {
		return &WorkflowResult{
			State:   StateFailed,
			Failure: FailureInvalidRequest,
			Reason:  ErrWorkflowNotFound.Error(),
		}, ErrWorkflowNotFound
	}

	workflowID, err := dbosCtx.GetWorkflowID()
	if err != nil {
		return &WorkflowResult{
			State:   StateFailed,
			Failure: FailureInternal,
			Reason:  err.Error(),
		}, err
	}

	// DBOSContext implements context.Context
	wctx := &WorkflowContext{
		Ctx:     dbosCtx,
		Request: req,
		RunID:   workflowID,
	}

	return workflow.Execute(wctx)
}

// WorkflowStatus represents the status of a workflow execution
type WorkflowStatus struct {
	RunID     string    `json:"run_id"`
	State     string    `json:"state"` // PENDING, ENQUEUED, SUCCESS, ERROR, ...
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetStatus retrieves the status of a workflow execution
func (r *WorkflowRunner) GetStatus(ctx context.Context, runID string) (*WorkflowStatus, error) {
	if r.dbosRuntime == nil {
		return nil, errors.New("status tracking requires DBOS runtime")
	}

	info, err := r.dbosRuntime.GetWorkflowStatus(ctx, runID)
	if err != nil {
		return nil, err
	}

	return &WorkflowStatus{
		RunID:     info.WorkflowUUID,
		State:     info.Status,
		Name:      info.Name,
		CreatedAt: time.UnixMilli(info.CreatedAt),
		UpdatedAt: time.UnixMilli(info.UpdatedAt),
	}, nil
}

// RecentRuns lists the most recent runs on the queue, newest first
func (r *WorkflowRunner) RecentRuns(ctx context.Context, limit int) ([]WorkflowStatus, error) {
	if r.dbosRuntime == nil {
		return nil, errors.New("status tracking requires DBOS runtime")
	}

	infos, err := r.dbosRuntime.ListRecentWorkflows(ctx, limit)
	if err != nil {
		return nil, err
	}

	runs := make([]WorkflowStatus, 0, len(infos))
	for _, info := range infos {
		runs = append(runs, WorkflowStatus{
			RunID:     info.WorkflowUUID,
			State:     info.Status,
			Name:      info.Name,
			CreatedAt: time.UnixMilli(info.CreatedAt),
			UpdatedAt: time.UnixMilli(info.UpdatedAt),
		})
	}
	return runs, nil
}
