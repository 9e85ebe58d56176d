package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"swarmhive/internal/apperr"
	"swarmhive/internal/model"
)

const executionSelect = `
	SELECT id, task_attempt_id, run_reason, executor_action, before_head_commit,
		after_head_commit, status, exit_code, dropped, pid, started_at,
		completed_at, hive_synced_at
	FROM execution_processes`

func scanExecution(row rowScanner) (model.ExecutionProcess, error) {
	var e model.ExecutionProcess
	var runReason, status, started string
	var exitCode sql.NullInt64
	var dropped int
	var completed, hiveSynced sql.NullString
	err := row.Scan(&e.ID, &e.TaskAttemptID, &runReason, &e.ExecutorAction,
		&e.BeforeHeadCommit, &e.AfterHeadCommit, &status, &exitCode, &dropped,
		&e.PID, &started, &completed, &hiveSynced)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ExecutionProcess{}, fmt.Errorf("execution process: %w", apperr.ErrNotFound)
		}
		return model.ExecutionProcess{}, fmt.Errorf("scan execution process: %w", apperr.ErrDatabase)
	}
	e.RunReason = model.RunReason(runReason)
	e.Status = model.ExecutionStatus(status)
	e.Dropped = dropped != 0
	if exitCode.Valid {
		v := int(exitCode.Int64)
		e.ExitCode = &v
	}
	e.StartedAt = parseTime(started)
	e.CompletedAt = parseTimePtr(completed)
	e.HiveSyncedAt = parseTimePtr(hiveSynced)
	return e, nil
}

// CreateExecution inserts a new execution process row, starting it as running.
func (s *Store) CreateExecution(ctx context.Context, e model.ExecutionProcess) (model.ExecutionProcess, error) {
	if e.ID == "" {
		e.ID = model.NewID()
	}
	if e.Status == "" {
		e.Status = model.ExecRunning
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = parseTime(nowStr())
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_processes (
			id, task_attempt_id, run_reason, executor_action, before_head_commit,
			after_head_commit, status, exit_code, dropped, pid, started_at,
			completed_at, hive_synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.TaskAttemptID, string(e.RunReason), e.ExecutorAction,
		e.BeforeHeadCommit, e.AfterHeadCommit, string(e.Status), nullInt(e.ExitCode),
		boolInt(e.Dropped), e.PID, e.StartedAt.UTC().Format(time.RFC3339Nano),
		timePtrStr(e.CompletedAt), timePtrStr(e.HiveSyncedAt))
	if err != nil {
		return model.ExecutionProcess{}, fmt.Errorf("create execution: %w", apperr.ErrDatabase)
	}
	return s.GetExecution(ctx, e.ID)
}

// GetExecution fetches an execution process by id.
func (s *Store) GetExecution(ctx context.Context, id string) (model.ExecutionProcess, error) {
	row := s.db.QueryRowContext(ctx, executionSelect+` WHERE id = ?`, id)
	return scanExecution(row)
}

// ListExecutionsByAttempt returns every execution for a task attempt, oldest first.
func (s *Store) ListExecutionsByAttempt(ctx context.Context, attemptID string) ([]model.ExecutionProcess, error) {
	rows, err := s.db.QueryContext(ctx, executionSelect+`
		WHERE task_attempt_id = ? ORDER BY started_at ASC`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", apperr.ErrDatabase)
	}
	defer rows.Close()
	var out []model.ExecutionProcess
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RunningExecutions returns every execution still marked running, used by
// the node startup path.
func (s *Store) RunningExecutions(ctx context.Context) ([]model.ExecutionProcess, error) {
	rows, err := s.db.QueryContext(ctx, executionSelect+`
		WHERE status = ? ORDER BY started_at ASC`, string(model.ExecRunning))
	if err != nil {
		return nil, fmt.Errorf("running executions: %w", apperr.ErrDatabase)
	}
	defer rows.Close()
	var out []model.ExecutionProcess
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CompleteExecution transitions a running execution to a terminal status,
// recording its exit code and after-head commit.
func (s *Store) CompleteExecution(ctx context.Context, id string, status model.ExecutionStatus, exitCode *int, afterHead string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE execution_processes
		SET status = ?, exit_code = ?, after_head_commit = ?, completed_at = ?
		WHERE id = ?
	`, string(status), nullInt(exitCode), afterHead, nowStr(), id)
	if err != nil {
		return fmt.Errorf("complete execution: %w", apperr.ErrDatabase)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("execution %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// MarkExecutionDropped flags an execution as dropped (its process vanished
// without a clean completion, e.g. node crash recovery).
func (s *Store) MarkExecutionDropped(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE execution_processes
		SET dropped = 1, status = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, string(model.ExecKilled), nowStr(), id, string(model.ExecRunning))
	if err != nil {
		return fmt.Errorf("mark execution dropped: %w", apperr.ErrDatabase)
	}
	return nil
}

// UnsyncedExecutions returns executions with hive_synced_at IS NULL whose
// attempt has already been hive-synced: executions only sync after their
// owning attempt does.
func (s *Store) UnsyncedExecutions(ctx context.Context, limit int) ([]model.ExecutionProcess, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.task_attempt_id, e.run_reason, e.executor_action,
			e.before_head_commit, e.after_head_commit, e.status, e.exit_code,
			e.dropped, e.pid, e.started_at, e.completed_at, e.hive_synced_at
		FROM execution_processes e
		JOIN task_attempts a ON a.id = e.task_attempt_id
		WHERE e.hive_synced_at IS NULL AND a.hive_synced_at IS NOT NULL
		ORDER BY e.started_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("unsynced executions: %w", apperr.ErrDatabase)
	}
	defer rows.Close()
	var out []model.ExecutionProcess
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkExecutionsSynced sets hive_synced_at = now for exactly the given ids.
func (s *Store) MarkExecutionsSynced(ctx context.Context, ids []string) error {
	return markSyncedBatch(ctx, s.db, "execution_processes", ids)
}

// TaskIDForExecution resolves the task that owns an execution process,
// through its task attempt (used by the approval service's in-progress<->
// in-review toggle).
func (s *Store) TaskIDForExecution(ctx context.Context, executionID string) (string, error) {
	var taskID string
	err := s.db.QueryRowContext(ctx, `
		SELECT a.task_id
		FROM execution_processes e
		JOIN task_attempts a ON a.id = e.task_attempt_id
		WHERE e.id = ?
	`, executionID).Scan(&taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("execution %s: %w", executionID, apperr.ErrNotFound)
		}
		return "", fmt.Errorf("task id for execution: %w", apperr.ErrDatabase)
	}
	return taskID, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
