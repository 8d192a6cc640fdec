package dbosruntime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrRunNotFound is returned when no workflow exists with the given ID
var ErrRunNotFound = errors.New("workflow run not found")

// WorkflowStatusInfo represents the status of a workflow
type WorkflowStatusInfo struct {
	WorkflowUUID string
	Status       string
	Name         string
	CreatedAt    int64
	UpdatedAt    int64
}

// GetWorkflowStatus retrieves the status of a workflow from the DBOS status table
func (r *Runtime) GetWorkflowStatus(ctx context.Context, workflowUUID string) (*WorkflowStatusInfo, error) {
	query := `
		SELECT workflow_uuid, status, COALESCE(name, ''), created_at, updated_at
		FROM dbos.workflow_status
		WHERE workflow_uuid = $1
	`

	var info WorkflowStatusInfo
	err := r.db.QueryRowContext(ctx, query, workflowUUID).Scan(
		&info.WorkflowUUID,
		&info.Status,
		&info.Name,
		&info.CreatedAt,
		&info.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow status: %w", err)
	}

	return &info, nil
}

// ListRecentWorkflows returns the most recently created workflows for this
// application, newest first
func (r *Runtime) ListRecentWorkflows(ctx context.Context, limit int) ([]WorkflowStatusInfo, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT workflow_uuid, status, COALESCE(name, ''), created_at, updated_at
		FROM dbos.workflow_status
		WHERE queue_name = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, r.config.QueueName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var out []WorkflowStatusInfo
	for rows.Next() {
		var info WorkflowStatusInfo
		if err := rows.Scan(&info.WorkflowUUID, &info.Status, &info.Name, &info.CreatedAt, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow status: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}
