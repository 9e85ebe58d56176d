package hivestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"swarmhive/internal/apperr"
	"swarmhive/internal/model"
)

// AssignmentStatus enumerates the lifecycle of a NodeTaskAssignment.
type AssignmentStatus string

const (
	AssignmentActive    AssignmentStatus = "active"
	AssignmentCompleted AssignmentStatus = "completed"
	AssignmentFailed    AssignmentStatus = "failed"
)

// NodeTaskAssignment is the exclusive binding of a task to the one node
// currently executing it.
type NodeTaskAssignment struct {
	ID            string
	TaskID        string
	NodeID        string
	NodeProjectID string
	Status        AssignmentStatus
	FailedReason  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func scanAssignment(row rowScanner) (NodeTaskAssignment, error) {
	var a NodeTaskAssignment
	err := row.Scan(&a.ID, &a.TaskID, &a.NodeID, &a.NodeProjectID, &a.Status,
		&a.FailedReason, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NodeTaskAssignment{}, fmt.Errorf("assignment: %w", apperr.ErrNotFound)
		}
		return NodeTaskAssignment{}, fmt.Errorf("scan assignment: %w", apperr.ErrDatabase)
	}
	return a, nil
}

const assignmentSelect = `
	SELECT id, task_id, node_id, node_project_id, status, failed_reason, created_at, updated_at
	FROM node_task_assignments`

// CreateAssignment assigns a task to a node. Exclusivity (at most one active
// assignment per task_id) is enforced by the migration's partial unique
// index; a collision surfaces as Conflict.
func (s *Store) CreateAssignment(ctx context.Context, taskID, nodeID, nodeProjectID string) (NodeTaskAssignment, error) {
	now := time.Now().UTC()
	a := NodeTaskAssignment{
		ID: model.NewID(), TaskID: taskID, NodeID: nodeID, NodeProjectID: nodeProjectID,
		Status: AssignmentActive, CreatedAt: now, UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO node_task_assignments (id, task_id, node_id, node_project_id, status, failed_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, '', $6, $7)
	`, a.ID, a.TaskID, a.NodeID, a.NodeProjectID, a.Status, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return NodeTaskAssignment{}, fmt.Errorf("create assignment: %w", apperr.ErrConflict)
	}
	return a, nil
}

// GetActiveAssignment returns the active assignment for a task, if any.
func (s *Store) GetActiveAssignment(ctx context.Context, taskID string) (NodeTaskAssignment, error) {
	row := s.db.QueryRowContext(ctx, assignmentSelect+` WHERE task_id = $1 AND status = 'active'`, taskID)
	return scanAssignment(row)
}

// CompleteAssignment marks an assignment completed.
func (s *Store) CompleteAssignment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE node_task_assignments SET status = $1, updated_at = now() WHERE id = $2 AND status = 'active'
	`, AssignmentCompleted, id)
	if err != nil {
		return fmt.Errorf("complete assignment: %w", apperr.ErrDatabase)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("assignment %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// FailAssignment marks an assignment failed with reason.
func (s *Store) FailAssignment(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE node_task_assignments SET status = $1, failed_reason = $2, updated_at = now()
		WHERE id = $3 AND status = 'active'
	`, AssignmentFailed, reason, id)
	if err != nil {
		return fmt.Errorf("fail assignment: %w", apperr.ErrDatabase)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("assignment %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// ListActiveAssignmentsForNode returns every active assignment a node holds.
func (s *Store) ListActiveAssignmentsForNode(ctx context.Context, nodeID string) ([]NodeTaskAssignment, error) {
	rows, err := s.db.QueryContext(ctx, assignmentSelect+` WHERE node_id = $1 AND status = 'active'`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list active assignments: %w", apperr.ErrDatabase)
	}
	defer rows.Close()
	var out []NodeTaskAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
