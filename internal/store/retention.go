package store

import (
	"context"
	"fmt"
	"time"

	"swarmhive/internal/apperr"
	"swarmhive/internal/model"
)

// FindArchivedNonTerminal returns tasks that have been archived but whose
// status never reached a terminal one --
// these indicate an archive that happened mid-flight and are surfaced for
// operator attention rather than deleted automatically.
func (s *Store) FindArchivedNonTerminal(ctx context.Context) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, taskSelect+`
		WHERE archived_at IS NOT NULL AND status NOT IN (?, ?)
		ORDER BY archived_at ASC
	`, string(model.TaskDone), string(model.TaskCancelled))
	if err != nil {
		return nil, fmt.Errorf("find archived non-terminal: %w", apperr.ErrDatabase)
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

// archivedTerminalLogEntriesClause selects log entries belonging to
// executions under attempts of tasks that are both archived and terminal,
// with archived_at older than the cutoff. Shared by Count/Delete below.
const archivedTerminalLogEntriesClause = `
	FROM log_entries l
	JOIN execution_processes e ON e.id = l.execution_id
	JOIN task_attempts a ON a.id = e.task_attempt_id
	JOIN tasks t ON t.id = a.task_id
	WHERE t.archived_at IS NOT NULL
		AND t.status IN (?, ?)
		AND t.archived_at < ?`

// CountArchivedTerminalOlderThan counts log entries belonging to archived,
// terminal-status tasks whose archived_at predates now-days.
func (s *Store) CountArchivedTerminalOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := cutoffStr(days)
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) `+archivedTerminalLogEntriesClause,
		string(model.TaskDone), string(model.TaskCancelled), cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count archived terminal older than: %w", apperr.ErrDatabase)
	}
	return n, nil
}

// DeleteArchivedTerminalOlderThan deletes the same set CountArchivedTerminalOlderThan counts.
func (s *Store) DeleteArchivedTerminalOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := cutoffStr(days)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM log_entries
		WHERE (execution_id, id) IN (
			SELECT l.execution_id, l.id `+archivedTerminalLogEntriesClause+`
		)
	`, string(model.TaskDone), string(model.TaskCancelled), cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete archived terminal older than: %w", apperr.ErrDatabase)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountOlderThan counts every log entry older than now-days, regardless of
// task archival state.
func (s *Store) CountOlderThan(ctx context.Context, days int) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM log_entries WHERE timestamp < ?
	`, cutoffStr(days)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count older than: %w", apperr.ErrDatabase)
	}
	return n, nil
}

// DeleteOlderThan deletes every log entry older than now-days.
func (s *Store) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM log_entries WHERE timestamp < ?
	`, cutoffStr(days))
	if err != nil {
		return 0, fmt.Errorf("delete older than: %w", apperr.ErrDatabase)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func cutoffStr(days int) string {
	return parseTime(nowStr()).AddDate(0, 0, -days).UTC().Format(time.RFC3339Nano)
}
