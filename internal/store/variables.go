package store

import (
	"context"
	"fmt"

	"swarmhive/internal/apperr"
	"swarmhive/internal/model"
)

// SetTaskVariable upserts a user-defined description variable on a task.
func (s *Store) SetTaskVariable(ctx context.Context, taskID, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_variables (task_id, name, value) VALUES (?, ?, ?)
		ON CONFLICT(task_id, name) DO UPDATE SET value = excluded.value
	`, taskID, name, value)
	if err != nil {
		return fmt.Errorf("set task variable: %w", apperr.ErrDatabase)
	}
	return nil
}

// DeleteTaskVariable removes a single variable from a task.
func (s *Store) DeleteTaskVariable(ctx context.Context, taskID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM task_variables WHERE task_id = ? AND name = ?
	`, taskID, name)
	if err != nil {
		return fmt.Errorf("delete task variable: %w", apperr.ErrDatabase)
	}
	return nil
}

// TaskVariables returns the variables defined directly on one task (not
// resolved against its ancestor chain; see internal/variables for that).
func (s *Store) TaskVariables(ctx context.Context, taskID string) ([]model.TaskVariable, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, name, value FROM task_variables WHERE task_id = ? ORDER BY name ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("task variables: %w", apperr.ErrDatabase)
	}
	defer rows.Close()
	var out []model.TaskVariable
	for rows.Next() {
		var v model.TaskVariable
		if err := rows.Scan(&v.TaskID, &v.Name, &v.Value); err != nil {
			return nil, fmt.Errorf("scan task variable: %w", apperr.ErrDatabase)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
