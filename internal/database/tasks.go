package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Task states follow the usual task-queue lifecycle.
const (
	TaskPending = "PENDING"
	TaskStarted = "STARTED"
	TaskSuccess = "SUCCESS"
	TaskFailure = "FAILURE"
	TaskRetry   = "RETRY"
)

var ErrTaskNotFound = errors.New("task not found")

// TaskResult is the status record for one submitted transcription task.
type TaskResult struct {
	ID        string
	Status    string
	Result    json.RawMessage
	UpdatedAt time.Time
}

// SetTaskStatus upserts the state of a task, optionally attaching a result
// payload (the transcript on success, an error description on failure).
func (db *DB) SetTaskStatus(ctx context.Context, id, status string, result json.RawMessage) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO task_results (id, status, result, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			updated_at = now()`,
		id, status, result)
	if err != nil {
		return fmt.Errorf("set task %s status: %w", id, err)
	}
	return nil
}

// GetTask fetches a task's status record.
func (db *DB) GetTask(ctx context.Context, id string) (*TaskResult, error) {
	t := &TaskResult{}
	err := db.Pool.QueryRow(ctx, `
		SELECT id, status, COALESCE(result, 'null'::jsonb), updated_at
		FROM task_results WHERE id = $1`, id).
		Scan(&t.ID, &t.Status, &t.Result, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}
