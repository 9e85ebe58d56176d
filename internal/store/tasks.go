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

const taskSelect = `
	SELECT id, project_id, title, description, status, parent_task_id,
		shared_task_id, remote_assignee_id, remote_assignee_name,
		remote_version, archived_at, activity_at, created_at, updated_at
	FROM tasks`

func scanTask(row rowScanner) (model.Task, error) {
	var t model.Task
	var status, activityAt, created, updated string
	var archived sql.NullString
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &status,
		&t.ParentTaskID, &t.SharedTaskID, &t.RemoteAssigneeID,
		&t.RemoteAssigneeName, &t.RemoteVersion, &archived, &activityAt,
		&created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Task{}, fmt.Errorf("task: %w", apperr.ErrNotFound)
		}
		return model.Task{}, fmt.Errorf("scan task: %w", apperr.ErrDatabase)
	}
	t.Status = model.TaskStatus(status)
	t.ArchivedAt = parseTimePtr(archived)
	t.ActivityAt = parseTime(activityAt)
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return t, nil
}

// CreateTask inserts a new task row.
func (s *Store) CreateTask(ctx context.Context, t model.Task) (model.Task, error) {
	if t.ID == "" {
		t.ID = model.NewID()
	}
	if t.Status == "" {
		t.Status = model.TaskTodo
	}
	now := nowStr()
	if t.ActivityAt.IsZero() {
		t.ActivityAt = parseTime(now)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, project_id, title, description, status, parent_task_id,
			shared_task_id, remote_assignee_id, remote_assignee_name,
			remote_version, archived_at, activity_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.ProjectID, t.Title, t.Description, string(t.Status),
		t.ParentTaskID, t.SharedTaskID, t.RemoteAssigneeID, t.RemoteAssigneeName,
		t.RemoteVersion, timePtrStr(t.ArchivedAt), t.ActivityAt.UTC().Format(time.RFC3339Nano), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Task{}, fmt.Errorf("task shared_task_id: %w", apperr.ErrConflict)
		}
		return model.Task{}, fmt.Errorf("create task: %w", apperr.ErrDatabase)
	}
	return s.GetTask(ctx, t.ID)
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (model.Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelect+` WHERE id = ?`, id)
	return scanTask(row)
}

// SetSharedTaskID persists the hive-assigned id after a successful
// TaskSyncResponse.
func (s *Store) SetSharedTaskID(ctx context.Context, taskID, sharedTaskID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET shared_task_id = ?, updated_at = ? WHERE id = ?
	`, sharedTaskID, nowStr(), taskID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("shared_task_id already used: %w", apperr.ErrConflict)
		}
		return fmt.Errorf("set shared task id: %w", apperr.ErrDatabase)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", taskID, apperr.ErrNotFound)
	}
	return nil
}

// UpdateTaskStatus applies the in-progress<->in-review toggle driven by
// the approval service,
// or any other status transition.
func (s *Store) UpdateTaskStatus(ctx context.Context, taskID string, status model.TaskStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ?, activity_at = ? WHERE id = ?
	`, string(status), nowStr(), nowStr(), taskID)
	if err != nil {
		return fmt.Errorf("update task status: %w", apperr.ErrDatabase)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", taskID, apperr.ErrNotFound)
	}
	return nil
}

// FindTaskBySharedID looks up the local task mirroring a given shared task
// id, used when a TaskAssign arrives for a task this node has already seen.
func (s *Store) FindTaskBySharedID(ctx context.Context, sharedTaskID string) (model.Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelect+` WHERE shared_task_id = ?`, sharedTaskID)
	return scanTask(row)
}

// TasksNeedingSync returns tasks that (a) have no shared_task_id, (b) belong
// to a project with a remote_project_id, and (c) have at least one attempt
// with hive_synced_at IS NULL.
func (s *Store) TasksNeedingSync(ctx context.Context, limit int) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskCols+`
		FROM tasks t
		JOIN projects p ON p.id = t.project_id
		WHERE t.shared_task_id = ''
			AND p.remote_project_id != ''
			AND EXISTS (
				SELECT 1 FROM task_attempts a
				WHERE a.task_id = t.id AND a.hive_synced_at IS NULL
			)
		ORDER BY t.created_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("tasks needing sync: %w", apperr.ErrDatabase)
	}
	defer rows.Close()
	var out []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const taskCols = `t.id, t.project_id, t.title, t.description, t.status, t.parent_task_id,
	t.shared_task_id, t.remote_assignee_id, t.remote_assignee_name,
	t.remote_version, t.archived_at, t.activity_at, t.created_at, t.updated_at`

// CountActiveTasks returns how many tasks are in-progress or in-review,
// the node's "currently occupied" figure for its StatusRequest answer.
func (s *Store) CountActiveTasks(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks WHERE status IN (?, ?)
	`, string(model.TaskInProgress), string(model.TaskInReview)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active tasks: %w", apperr.ErrDatabase)
	}
	return n, nil
}

// ChildTaskChain walks from taskID up to its root parent, returning the
// chain ordered from the task itself to the root.
func (s *Store) ChildTaskChain(ctx context.Context, taskID string) ([]model.Task, error) {
	var chain []model.Task
	cur := taskID
	seen := map[string]bool{}
	for cur != "" {
		if seen[cur] {
			break // cycle guard
		}
		seen[cur] = true
		t, err := s.GetTask(ctx, cur)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				break
			}
			return nil, err
		}
		chain = append(chain, t)
		cur = t.ParentTaskID
	}
	return chain, nil
}
