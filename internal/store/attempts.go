package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"swarmhive/internal/apperr"
	"swarmhive/internal/model"
)

const attemptSelect = `
	SELECT id, task_id, executor, executor_variant, branch, target_branch,
		container, worktree_deleted, setup_completed_at, hive_assignment_id,
		hive_synced_at, created_at, updated_at
	FROM task_attempts`

func scanAttempt(row rowScanner) (model.TaskAttempt, error) {
	var a model.TaskAttempt
	var worktreeDeleted int
	var setupCompleted, hiveSynced sql.NullString
	var created, updated string
	err := row.Scan(&a.ID, &a.TaskID, &a.Executor, &a.ExecutorVariant, &a.Branch,
		&a.TargetBranch, &a.Container, &worktreeDeleted, &setupCompleted,
		&a.HiveAssignmentID, &hiveSynced, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.TaskAttempt{}, fmt.Errorf("task attempt: %w", apperr.ErrNotFound)
		}
		return model.TaskAttempt{}, fmt.Errorf("scan task attempt: %w", apperr.ErrDatabase)
	}
	a.WorktreeDeleted = worktreeDeleted != 0
	a.SetupCompletedAt = parseTimePtr(setupCompleted)
	a.HiveSyncedAt = parseTimePtr(hiveSynced)
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return a, nil
}

// CreateAttempt inserts a new task attempt row.
func (s *Store) CreateAttempt(ctx context.Context, a model.TaskAttempt) (model.TaskAttempt, error) {
	if a.ID == "" {
		a.ID = model.NewID()
	}
	now := nowStr()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_attempts (
			id, task_id, executor, executor_variant, branch, target_branch,
			container, worktree_deleted, setup_completed_at, hive_assignment_id,
			hive_synced_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.TaskID, a.Executor, a.ExecutorVariant, a.Branch, a.TargetBranch,
		a.Container, boolInt(a.WorktreeDeleted), timePtrStr(a.SetupCompletedAt),
		a.HiveAssignmentID, timePtrStr(a.HiveSyncedAt), now, now)
	if err != nil {
		return model.TaskAttempt{}, fmt.Errorf("create attempt: %w", apperr.ErrDatabase)
	}
	return s.GetAttempt(ctx, a.ID)
}

// GetAttempt fetches a task attempt by id.
func (s *Store) GetAttempt(ctx context.Context, id string) (model.TaskAttempt, error) {
	row := s.db.QueryRowContext(ctx, attemptSelect+` WHERE id = ?`, id)
	return scanAttempt(row)
}

// SetHiveAssignmentID records the hive-assigned id once the attempt is
// dispatched via TaskAssign.
func (s *Store) SetHiveAssignmentID(ctx context.Context, attemptID, assignmentID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE task_attempts SET hive_assignment_id = ?, updated_at = ? WHERE id = ?
	`, assignmentID, nowStr(), attemptID)
	if err != nil {
		return fmt.Errorf("set hive assignment id: %w", apperr.ErrDatabase)
	}
	return nil
}

// FindAttemptByAssignment looks up the attempt a hive assignment id was
// recorded against.
func (s *Store) FindAttemptByAssignment(ctx context.Context, assignmentID string) (model.TaskAttempt, error) {
	row := s.db.QueryRowContext(ctx, attemptSelect+` WHERE hive_assignment_id = ?`, assignmentID)
	return scanAttempt(row)
}

// UnsyncedAttempts returns attempts with hive_synced_at IS NULL whose parent
// task already has a shared_task_id, ordered by creation time.
func (s *Store) UnsyncedAttempts(ctx context.Context, limit int) ([]model.TaskAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.task_id, a.executor, a.executor_variant, a.branch,
			a.target_branch, a.container, a.worktree_deleted,
			a.setup_completed_at, a.hive_assignment_id, a.hive_synced_at,
			a.created_at, a.updated_at
		FROM task_attempts a
		JOIN tasks t ON t.id = a.task_id
		WHERE a.hive_synced_at IS NULL AND t.shared_task_id != ''
		ORDER BY a.created_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("unsynced attempts: %w", apperr.ErrDatabase)
	}
	defer rows.Close()
	var out []model.TaskAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkAttemptsSynced sets hive_synced_at = now for exactly the given ids.
func (s *Store) MarkAttemptsSynced(ctx context.Context, ids []string) error {
	return markSyncedBatch(ctx, s.db, "task_attempts", ids)
}

func markSyncedBatch(ctx context.Context, db *sql.DB, table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark synced: %w", apperr.ErrDatabase)
	}
	defer tx.Rollback()
	now := nowStr()
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`UPDATE %s SET hive_synced_at = ? WHERE id = ?`, table))
	if err != nil {
		return fmt.Errorf("mark synced: %w", apperr.ErrDatabase)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, now, id); err != nil {
			return fmt.Errorf("mark synced: %w", apperr.ErrDatabase)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mark synced: %w", apperr.ErrDatabase)
	}
	return nil
}

// ClearHiveSyncForProject is the "force resync" primitive: it
// nulls hive_synced_at for every attempt/execution/log-entry row under tasks
// that belong to project_id.
func (s *Store) ClearHiveSyncForProject(ctx context.Context, projectID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear hive sync: %w", apperr.ErrDatabase)
	}
	defer tx.Rollback()
	stmts := []string{
		`UPDATE task_attempts SET hive_synced_at = NULL
			WHERE task_id IN (SELECT id FROM tasks WHERE project_id = ?)`,
		`UPDATE execution_processes SET hive_synced_at = NULL
			WHERE task_attempt_id IN (
				SELECT a.id FROM task_attempts a JOIN tasks t ON t.id = a.task_id
				WHERE t.project_id = ?
			)`,
		`UPDATE log_entries SET hive_synced_at = NULL
			WHERE execution_id IN (
				SELECT e.id FROM execution_processes e
				JOIN task_attempts a ON a.id = e.task_attempt_id
				JOIN tasks t ON t.id = a.task_id
				WHERE t.project_id = ?
			)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, projectID); err != nil {
			return fmt.Errorf("clear hive sync: %w", apperr.ErrDatabase)
		}
	}
	return tx.Commit()
}
