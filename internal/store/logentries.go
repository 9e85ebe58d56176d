package store

import (
	"context"
	"database/sql"
	"fmt"

	"swarmhive/internal/apperr"
	"swarmhive/internal/model"
)

// PageDirection selects the sort order for PaginatedLogEntries.
type PageDirection int

const (
	Forward PageDirection = iota
	Backward
)

// LogPage is the result of PaginatedLogEntries: up to Limit entries, a cursor to resume from when HasMore is
// true, and the total row count for the execution.
type LogPage struct {
	Entries    []model.LogEntry
	NextCursor *int64
	HasMore    bool
	TotalCount int64
}

// AppendLogEntry appends the next sequential log entry for an execution. The
// caller is responsible for serializing calls per execution (the message
// store owns the
// in-memory sequence counter); this assigns id = max(id)+1 within a
// transaction so restarts that replay from the in-memory buffer stay
// consistent.
func (s *Store) AppendLogEntry(ctx context.Context, executionID string, outputType model.OutputType, content string) (model.LogEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.LogEntry{}, fmt.Errorf("append log entry: %w", apperr.ErrDatabase)
	}
	defer tx.Rollback()

	var maxID sql.NullInt64
	if err := tx.QueryRowContext(ctx, `
		SELECT MAX(id) FROM log_entries WHERE execution_id = ?
	`, executionID).Scan(&maxID); err != nil {
		return model.LogEntry{}, fmt.Errorf("append log entry: %w", apperr.ErrDatabase)
	}
	nextID := int64(1)
	if maxID.Valid {
		nextID = maxID.Int64 + 1
	}
	now := nowStr()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO log_entries (id, execution_id, output_type, content, timestamp, hive_synced_at)
		VALUES (?, ?, ?, ?, ?, NULL)
	`, nextID, executionID, string(outputType), content, now); err != nil {
		return model.LogEntry{}, fmt.Errorf("append log entry: %w", apperr.ErrDatabase)
	}
	if err := tx.Commit(); err != nil {
		return model.LogEntry{}, fmt.Errorf("append log entry: %w", apperr.ErrDatabase)
	}
	return model.LogEntry{
		ID:          nextID,
		ExecutionID: executionID,
		OutputType:  outputType,
		Content:     content,
		Timestamp:   parseTime(now),
	}, nil
}

// PaginatedLogEntries pages through an execution's entries by id cursor:
// forward returns entries with id > cursor ascending; backward returns
// entries with id < cursor descending. It fetches limit+1 rows to determine
// has_more, trims to limit, and reports next_cursor as the id of the last
// returned row only when more rows remain.
func (s *Store) PaginatedLogEntries(ctx context.Context, executionID string, cursor *int64, limit int, dir PageDirection) (LogPage, error) {
	if limit <= 0 {
		return LogPage{}, fmt.Errorf("paginated log entries: limit must be positive")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM log_entries WHERE execution_id = ?
	`, executionID).Scan(&total); err != nil {
		return LogPage{}, fmt.Errorf("paginated log entries: %w", apperr.ErrDatabase)
	}
	if total == 0 {
		return LogPage{TotalCount: 0}, nil
	}

	var query string
	var args []any
	switch dir {
	case Forward:
		if cursor != nil {
			query = `SELECT id, execution_id, output_type, content, timestamp, hive_synced_at
				FROM log_entries WHERE execution_id = ? AND id > ? ORDER BY id ASC LIMIT ?`
			args = []any{executionID, *cursor, limit + 1}
		} else {
			query = `SELECT id, execution_id, output_type, content, timestamp, hive_synced_at
				FROM log_entries WHERE execution_id = ? ORDER BY id ASC LIMIT ?`
			args = []any{executionID, limit + 1}
		}
	case Backward:
		if cursor != nil {
			query = `SELECT id, execution_id, output_type, content, timestamp, hive_synced_at
				FROM log_entries WHERE execution_id = ? AND id < ? ORDER BY id DESC LIMIT ?`
			args = []any{executionID, *cursor, limit + 1}
		} else {
			query = `SELECT id, execution_id, output_type, content, timestamp, hive_synced_at
				FROM log_entries WHERE execution_id = ? ORDER BY id DESC LIMIT ?`
			args = []any{executionID, limit + 1}
		}
	default:
		return LogPage{}, fmt.Errorf("paginated log entries: unknown direction")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return LogPage{}, fmt.Errorf("paginated log entries: %w", apperr.ErrDatabase)
	}
	defer rows.Close()

	var fetched []model.LogEntry
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return LogPage{}, err
		}
		fetched = append(fetched, e)
	}
	if err := rows.Err(); err != nil {
		return LogPage{}, fmt.Errorf("paginated log entries: %w", apperr.ErrDatabase)
	}

	page := LogPage{TotalCount: total}
	hasMore := len(fetched) > limit
	if hasMore {
		fetched = fetched[:limit]
	}
	page.Entries = fetched
	page.HasMore = hasMore
	if hasMore && len(fetched) > 0 {
		last := fetched[len(fetched)-1].ID
		page.NextCursor = &last
	}
	return page, nil
}

func scanLogEntry(row rowScanner) (model.LogEntry, error) {
	var e model.LogEntry
	var outputType, ts string
	var hiveSynced sql.NullString
	if err := row.Scan(&e.ID, &e.ExecutionID, &outputType, &e.Content, &ts, &hiveSynced); err != nil {
		return model.LogEntry{}, fmt.Errorf("scan log entry: %w", apperr.ErrDatabase)
	}
	e.OutputType = model.OutputType(outputType)
	e.Timestamp = parseTime(ts)
	e.HiveSyncedAt = parseTimePtr(hiveSynced)
	return e, nil
}

// UnsyncedLogEntries returns log entries grouped implicitly by execution via
// the caller's iteration; entries only become eligible once their owning
// execution has synced.
func (s *Store) UnsyncedLogEntries(ctx context.Context, executionID string, limit int) ([]model.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, output_type, content, timestamp, hive_synced_at
		FROM log_entries
		WHERE execution_id = ? AND hive_synced_at IS NULL
		ORDER BY id ASC
		LIMIT ?
	`, executionID, limit)
	if err != nil {
		return nil, fmt.Errorf("unsynced log entries: %w", apperr.ErrDatabase)
	}
	defer rows.Close()
	var out []model.LogEntry
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ExecutionsWithUnsyncedLogs returns the distinct execution ids that still
// have unsynced log entries but only among executions that have themselves
// already synced, so logs never ship ahead of their execution.
func (s *Store) ExecutionsWithUnsyncedLogs(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT l.execution_id
		FROM log_entries l
		JOIN execution_processes e ON e.id = l.execution_id
		WHERE l.hive_synced_at IS NULL AND e.hive_synced_at IS NOT NULL
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("executions with unsynced logs: %w", apperr.ErrDatabase)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("executions with unsynced logs: %w", apperr.ErrDatabase)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// MarkLogEntriesSynced sets hive_synced_at = now for exactly the given
// (execution_id, id) pairs.
func (s *Store) MarkLogEntriesSynced(ctx context.Context, executionID string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark log entries synced: %w", apperr.ErrDatabase)
	}
	defer tx.Rollback()
	now := nowStr()
	stmt, err := tx.PrepareContext(ctx, `
		UPDATE log_entries SET hive_synced_at = ? WHERE execution_id = ? AND id = ?
	`)
	if err != nil {
		return fmt.Errorf("mark log entries synced: %w", apperr.ErrDatabase)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, now, executionID, id); err != nil {
			return fmt.Errorf("mark log entries synced: %w", apperr.ErrDatabase)
		}
	}
	return tx.Commit()
}
