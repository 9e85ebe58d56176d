package hivestore

import (
	"context"
	"fmt"
	"time"

	"swarmhive/internal/apperr"
	"swarmhive/internal/wire"
)

// SharedAttempt is the hive's copy of a node's task attempt, populated from
// an inbound wire.AttemptSync. The shape endpoint does not serve this table.
type SharedAttempt struct {
	AttemptID       string
	AssignmentID    string
	SharedTaskID    string
	Executor        string
	ExecutorVariant string
	Branch          string
	TargetBranch    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ApplyAttemptSync upserts the hive's mirror of one attempt. An attempt
// with no assignment id was started locally on the node; the hive creates a
// synthetic assignment for it so later LogsBatch traffic has an assignment
// to hang off.
func (s *Store) ApplyAttemptSync(ctx context.Context, nodeID string, msg wire.AttemptSync) error {
	if msg.AssignmentID == "" {
		existing, err := s.GetActiveAssignment(ctx, msg.SharedTaskID)
		switch {
		case err == nil:
			msg.AssignmentID = existing.ID
		default:
			created, err := s.CreateAssignment(ctx, msg.SharedTaskID, nodeID, "")
			if err != nil {
				return fmt.Errorf("synthetic assignment: %w", err)
			}
			msg.AssignmentID = created.ID
		}
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shared_attempts (attempt_id, assignment_id, shared_task_id, executor,
			executor_variant, branch, target_branch, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (attempt_id) DO UPDATE SET
			assignment_id = excluded.assignment_id, executor = excluded.executor,
			executor_variant = excluded.executor_variant, branch = excluded.branch,
			target_branch = excluded.target_branch, updated_at = excluded.updated_at
	`, msg.AttemptID, msg.AssignmentID, msg.SharedTaskID, msg.Executor, msg.ExecutorVariant,
		msg.Branch, msg.TargetBranch, now)
	if err != nil {
		return fmt.Errorf("apply attempt sync: %w", apperr.ErrDatabase)
	}
	return nil
}

// ApplyExecutionSync upserts the hive's mirror of one execution process.
func (s *Store) ApplyExecutionSync(ctx context.Context, msg wire.ExecutionSync) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shared_executions (execution_process_id, attempt_id, run_reason, executor_action,
			before_head_commit, after_head_commit, status, exit_code, pid, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (execution_process_id) DO UPDATE SET
			status = excluded.status, exit_code = excluded.exit_code,
			after_head_commit = excluded.after_head_commit, updated_at = excluded.updated_at
	`, msg.ExecutionProcessID, msg.AttemptID, msg.RunReason, msg.ExecutorAction,
		msg.BeforeHeadCommit, msg.AfterHeadCommit, msg.Status, msg.ExitCode, msg.PID)
	if err != nil {
		return fmt.Errorf("apply execution sync: %w", apperr.ErrDatabase)
	}
	return nil
}

// ApplyLogsBatch appends a node's LogsBatch entries, ignoring ones already
// present (the node may resend a batch it never received an ack for).
func (s *Store) ApplyLogsBatch(ctx context.Context, msg wire.LogsBatch) error {
	if len(msg.Entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply logs batch: %w", apperr.ErrDatabase)
	}
	defer tx.Rollback()
	for _, e := range msg.Entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO shared_log_entries (execution_process_id, sequence_id, output_type, content, timestamp)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (execution_process_id, sequence_id) DO NOTHING
		`, msg.ExecutionProcessID, e.SequenceID, e.OutputType, e.Content, e.Timestamp); err != nil {
			return fmt.Errorf("apply logs batch: %w", apperr.ErrDatabase)
		}
	}
	return tx.Commit()
}

// ListLogEntries returns an execution's log entries in sequence order. The
// shape endpoint does not serve these rows.
func (s *Store) ListLogEntries(ctx context.Context, executionProcessID string) ([]wire.LogEntryWire, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence_id, output_type, content, timestamp
		FROM shared_log_entries WHERE execution_process_id = $1 ORDER BY sequence_id ASC
	`, executionProcessID)
	if err != nil {
		return nil, fmt.Errorf("list log entries: %w", apperr.ErrDatabase)
	}
	defer rows.Close()
	var out []wire.LogEntryWire
	for rows.Next() {
		var e wire.LogEntryWire
		if err := rows.Scan(&e.SequenceID, &e.OutputType, &e.Content, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", apperr.ErrDatabase)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
