package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"swarmhive/internal/apperr"
	"swarmhive/internal/model"
)

const labelSelect = `
	SELECT id, org_id, project_id, origin_node_id, name, icon, color, version, deleted_at
	FROM labels`

func scanLabel(row rowScanner) (model.Label, error) {
	var l model.Label
	var deleted sql.NullString
	err := row.Scan(&l.ID, &l.OrgID, &l.ProjectID, &l.OriginNodeID, &l.Name,
		&l.Icon, &l.Color, &l.Version, &deleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Label{}, fmt.Errorf("label: %w", apperr.ErrNotFound)
		}
		return model.Label{}, fmt.Errorf("scan label: %w", apperr.ErrDatabase)
	}
	l.DeletedAt = parseTimePtr(deleted)
	return l, nil
}

// GetLabel fetches a label by id.
func (s *Store) GetLabel(ctx context.Context, id string) (model.Label, error) {
	row := s.db.QueryRowContext(ctx, labelSelect+` WHERE id = ?`, id)
	return scanLabel(row)
}

// ListLabels returns non-deleted labels visible to a project: org-global
// ("swarm") labels plus the project's own.
func (s *Store) ListLabels(ctx context.Context, projectID string) ([]model.Label, error) {
	rows, err := s.db.QueryContext(ctx, labelSelect+`
		WHERE deleted_at IS NULL AND (project_id = '' OR project_id = ?)
		ORDER BY name ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", apperr.ErrDatabase)
	}
	defer rows.Close()
	var out []model.Label
	for rows.Next() {
		l, err := scanLabel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpsertFromNode applies an incoming label replication row with optimistic
// concurrency on version:
// an insert always wins; an update is applied only when version > stored,
// equal or lower versions are discarded silently.
func (s *Store) UpsertFromNode(ctx context.Context, l model.Label) error {
	existing, err := s.GetLabel(ctx, l.ID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			_, err := s.db.ExecContext(ctx, `
				INSERT INTO labels (id, org_id, project_id, origin_node_id, name, icon, color, version, deleted_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, l.ID, l.OrgID, l.ProjectID, l.OriginNodeID, l.Name, l.Icon, l.Color,
				l.Version, timePtrStr(l.DeletedAt))
			if err != nil {
				return fmt.Errorf("insert label: %w", apperr.ErrDatabase)
			}
			return nil
		}
		return err
	}
	if l.Version <= existing.Version {
		return nil // stale update, discarded per monotonicity invariant
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE labels SET org_id = ?, project_id = ?, origin_node_id = ?,
			name = ?, icon = ?, color = ?, version = ?, deleted_at = ?
		WHERE id = ?
	`, l.OrgID, l.ProjectID, l.OriginNodeID, l.Name, l.Icon, l.Color, l.Version,
		timePtrStr(l.DeletedAt), l.ID)
	if err != nil {
		return fmt.Errorf("update label: %w", apperr.ErrDatabase)
	}
	return nil
}

// AttachLabel associates a label with a task, ignoring duplicates.
func (s *Store) AttachLabel(ctx context.Context, taskID, labelID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO task_labels (task_id, label_id) VALUES (?, ?)
	`, taskID, labelID)
	if err != nil {
		return fmt.Errorf("attach label: %w", apperr.ErrDatabase)
	}
	return nil
}

// DetachLabel removes a task/label association.
func (s *Store) DetachLabel(ctx context.Context, taskID, labelID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM task_labels WHERE task_id = ? AND label_id = ?
	`, taskID, labelID)
	if err != nil {
		return fmt.Errorf("detach label: %w", apperr.ErrDatabase)
	}
	return nil
}

// TaskLabels returns the labels attached to a task.
func (s *Store) TaskLabels(ctx context.Context, taskID string) ([]model.Label, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.org_id, l.project_id, l.origin_node_id, l.name, l.icon,
			l.color, l.version, l.deleted_at
		FROM labels l
		JOIN task_labels tl ON tl.label_id = l.id
		WHERE tl.task_id = ? AND l.deleted_at IS NULL
		ORDER BY l.name ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("task labels: %w", apperr.ErrDatabase)
	}
	defer rows.Close()
	var out []model.Label
	for rows.Next() {
		l, err := scanLabel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// MergeLabels moves every task association from source to target (ignoring
// duplicates already on target), then soft-deletes source.
func (s *Store) MergeLabels(ctx context.Context, sourceID, targetID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("merge labels: %w", apperr.ErrDatabase)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO task_labels (task_id, label_id)
		SELECT task_id, ? FROM task_labels WHERE label_id = ?
	`, targetID, sourceID); err != nil {
		return fmt.Errorf("merge labels: %w", apperr.ErrDatabase)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM task_labels WHERE label_id = ?
	`, sourceID); err != nil {
		return fmt.Errorf("merge labels: %w", apperr.ErrDatabase)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE labels SET deleted_at = ?, version = version + 1 WHERE id = ?
	`, nowStr(), sourceID); err != nil {
		return fmt.Errorf("merge labels: %w", apperr.ErrDatabase)
	}
	return tx.Commit()
}
