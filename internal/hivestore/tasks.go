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

// SharedTask is the hive's copy of a node-originated task, what the shape
// endpoint's "tasks" table serves back out to every linked node.
type SharedTask struct {
	SharedTaskID   string
	OrgID          string
	SwarmProjectID string
	LocalTaskID    string
	OriginNodeID   string
	Title          string
	Description    string
	Status         model.TaskStatus
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func scanSharedTask(row rowScanner) (SharedTask, error) {
	var t SharedTask
	err := row.Scan(&t.SharedTaskID, &t.OrgID, &t.SwarmProjectID, &t.LocalTaskID, &t.OriginNodeID,
		&t.Title, &t.Description, &t.Status, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SharedTask{}, fmt.Errorf("shared task: %w", apperr.ErrNotFound)
		}
		return SharedTask{}, fmt.Errorf("scan shared task: %w", apperr.ErrDatabase)
	}
	return t, nil
}

const sharedTaskSelect = `
	SELECT shared_task_id, organization_id, swarm_project_id, local_task_id, origin_node_id,
		title, description, status, version, created_at, updated_at
	FROM shared_tasks`

// GetSharedTask fetches one shared task by id, scoped to orgID.
func (s *Store) GetSharedTask(ctx context.Context, orgID, sharedTaskID string) (SharedTask, error) {
	row := s.db.QueryRowContext(ctx, sharedTaskSelect+` WHERE shared_task_id = $1`, sharedTaskID)
	t, err := scanSharedTask(row)
	if err != nil {
		return SharedTask{}, err
	}
	if t.OrgID != orgID {
		return SharedTask{}, fmt.Errorf("shared task %s: %w", sharedTaskID, apperr.ErrForbidden)
	}
	return t, nil
}

// ListSharedTasks returns every shared task for a swarm project, the rows
// the shape endpoint streams.
func (s *Store) ListSharedTasks(ctx context.Context, swarmProjectID string) ([]SharedTask, error) {
	rows, err := s.db.QueryContext(ctx, sharedTaskSelect+`
		WHERE swarm_project_id = $1 ORDER BY created_at ASC
	`, swarmProjectID)
	if err != nil {
		return nil, fmt.Errorf("list shared tasks: %w", apperr.ErrDatabase)
	}
	defer rows.Close()
	var out []SharedTask
	for rows.Next() {
		t, err := scanSharedTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertTaskSync applies an incoming TaskSync message:
// when isUpdate is false the task is inserted at version 1, allocating a
// shared_task_id if none was given; an
// update to an existing row requires version > stored, otherwise the write
// is rejected as VersionMismatch so the node refetches and retries.
func (s *Store) UpsertTaskSync(ctx context.Context, orgID, swarmProjectID, originNodeID string, localTaskID, sharedTaskID, title, description string, status model.TaskStatus, version int64, isUpdate bool, createdAt, updatedAt time.Time) (SharedTask, error) {
	if sharedTaskID == "" {
		sharedTaskID = model.NewID()
	}
	if !isUpdate {
		t := SharedTask{
			SharedTaskID: sharedTaskID, OrgID: orgID, SwarmProjectID: swarmProjectID,
			LocalTaskID: localTaskID, OriginNodeID: originNodeID, Title: title,
			Description: description, Status: status, Version: 1,
			CreatedAt: createdAt, UpdatedAt: updatedAt,
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO shared_tasks (shared_task_id, organization_id, swarm_project_id, local_task_id,
				origin_node_id, title, description, status, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, t.SharedTaskID, t.OrgID, t.SwarmProjectID, t.LocalTaskID, t.OriginNodeID, t.Title,
			t.Description, t.Status, t.Version, t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return SharedTask{}, fmt.Errorf("insert shared task: %w", apperr.ErrConflict)
		}
		return t, nil
	}

	existing, err := s.GetSharedTask(ctx, orgID, sharedTaskID)
	if err != nil {
		return SharedTask{}, err
	}
	if version <= existing.Version {
		return SharedTask{}, fmt.Errorf("shared task %s: %w", sharedTaskID, apperr.ErrVersionMismatch)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE shared_tasks SET title = $1, description = $2, status = $3, version = $4, updated_at = $5
		WHERE shared_task_id = $6 AND organization_id = $7
	`, title, description, status, version, updatedAt, sharedTaskID, orgID)
	if err != nil {
		return SharedTask{}, fmt.Errorf("update shared task: %w", apperr.ErrDatabase)
	}
	return s.GetSharedTask(ctx, orgID, sharedTaskID)
}
