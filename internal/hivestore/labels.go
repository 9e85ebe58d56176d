package hivestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"swarmhive/internal/apperr"
	"swarmhive/internal/model"
)

const labelSelect = `
	SELECT id, organization_id, project_id, origin_node_id, name, icon, color, version, deleted_at
	FROM labels`

func scanLabel(row rowScanner) (model.Label, error) {
	var l model.Label
	var deleted sql.NullTime
	err := row.Scan(&l.ID, &l.OrgID, &l.ProjectID, &l.OriginNodeID, &l.Name,
		&l.Icon, &l.Color, &l.Version, &deleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Label{}, fmt.Errorf("label: %w", apperr.ErrNotFound)
		}
		return model.Label{}, fmt.Errorf("scan label: %w", apperr.ErrDatabase)
	}
	l.DeletedAt = timePtr(deleted)
	return l, nil
}

// GetLabel fetches a label scoped to orgID, producing Forbidden if the row
// belongs to another organization and NotFound if it does not exist at all.
func (s *Store) GetLabel(ctx context.Context, orgID, id string) (model.Label, error) {
	row := s.db.QueryRowContext(ctx, labelSelect+` WHERE id = $1`, id)
	l, err := scanLabel(row)
	if err != nil {
		return model.Label{}, err
	}
	if l.OrgID != orgID {
		return model.Label{}, fmt.Errorf("label %s: %w", id, apperr.ErrForbidden)
	}
	return l, nil
}

// ListLabels returns non-deleted labels visible to a project within orgID:
// org-global ("swarm") labels plus the project's own.
func (s *Store) ListLabels(ctx context.Context, orgID, projectID string) ([]model.Label, error) {
	rows, err := s.db.QueryContext(ctx, labelSelect+`
		WHERE organization_id = $1 AND deleted_at IS NULL
		AND (project_id = '' OR project_id = $2)
		ORDER BY name ASC
	`, orgID, projectID)
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

// AllLabels returns every label in orgID, soft-deleted rows included, so
// replication consumers observe deletions as version-bumped updates.
func (s *Store) AllLabels(ctx context.Context, orgID string) ([]model.Label, error) {
	rows, err := s.db.QueryContext(ctx, labelSelect+`
		WHERE organization_id = $1 ORDER BY name ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("all labels: %w", apperr.ErrDatabase)
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

// CreateLabel inserts a new project- or org-scoped label. Uniqueness on
// (organization_id, project_id, name, deleted_at) is enforced by the
// migration's unique index; a violation surfaces as Conflict.
func (s *Store) CreateLabel(ctx context.Context, l model.Label) (model.Label, error) {
	if l.ID == "" {
		l.ID = model.NewID()
	}
	if l.Version == 0 {
		l.Version = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO labels (id, organization_id, project_id, origin_node_id, name, icon, color, version, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, l.ID, l.OrgID, l.ProjectID, l.OriginNodeID, l.Name, l.Icon, l.Color, l.Version, nullTime(l.DeletedAt))
	if err != nil {
		return model.Label{}, fmt.Errorf("create label: %w", apperr.ErrConflict)
	}
	return l, nil
}

// UpdateLabel applies an incoming label edit with optimistic concurrency on
// version: the write only lands when incoming.Version >
// stored.Version; otherwise VersionMismatch is returned to the caller, who
// is expected to refetch and retry.
func (s *Store) UpdateLabel(ctx context.Context, orgID string, l model.Label) (model.Label, error) {
	existing, err := s.GetLabel(ctx, orgID, l.ID)
	if err != nil {
		return model.Label{}, err
	}
	if l.Version <= existing.Version {
		return model.Label{}, fmt.Errorf("label %s: %w", l.ID, apperr.ErrVersionMismatch)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE labels SET project_id = $1, name = $2, icon = $3, color = $4, version = $5
		WHERE id = $6 AND organization_id = $7
	`, l.ProjectID, l.Name, l.Icon, l.Color, l.Version, l.ID, orgID)
	if err != nil {
		return model.Label{}, fmt.Errorf("update label: %w", apperr.ErrDatabase)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Label{}, fmt.Errorf("label %s: %w", l.ID, apperr.ErrNotFound)
	}
	return s.GetLabel(ctx, orgID, l.ID)
}

// PromoteLabel turns a project-scoped label into an org-wide swarm label
// (project_id = NULL/"") but only when no swarm label with the same name
// already exists in the organization.
func (s *Store) PromoteLabel(ctx context.Context, orgID, id string) (model.Label, error) {
	existing, err := s.GetLabel(ctx, orgID, id)
	if err != nil {
		return model.Label{}, err
	}
	var collisionID string
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM labels
		WHERE organization_id = $1 AND project_id = '' AND name = $2 AND deleted_at IS NULL
	`, orgID, existing.Name).Scan(&collisionID)
	switch {
	case err == nil:
		return model.Label{}, fmt.Errorf("swarm label %q: %w", existing.Name, apperr.ErrConflict)
	case !errors.Is(err, sql.ErrNoRows):
		return model.Label{}, fmt.Errorf("promote label: %w", apperr.ErrDatabase)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE labels SET project_id = '', version = version + 1 WHERE id = $1 AND organization_id = $2
	`, id, orgID)
	if err != nil {
		return model.Label{}, fmt.Errorf("promote label: %w", apperr.ErrDatabase)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Label{}, fmt.Errorf("label %s: %w", id, apperr.ErrNotFound)
	}
	return s.GetLabel(ctx, orgID, id)
}

// DeleteLabel soft-deletes a label and bumps its version.
func (s *Store) DeleteLabel(ctx context.Context, orgID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE labels SET deleted_at = now(), version = version + 1
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
	`, id, orgID)
	if err != nil {
		return fmt.Errorf("delete label: %w", apperr.ErrDatabase)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("label %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// AttachLabel associates a label with a task, ignoring duplicates.
func (s *Store) AttachLabel(ctx context.Context, taskID, labelID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_labels (task_id, label_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, taskID, labelID)
	if err != nil {
		return fmt.Errorf("attach label: %w", apperr.ErrDatabase)
	}
	return nil
}

// DetachLabel removes a task/label association.
func (s *Store) DetachLabel(ctx context.Context, taskID, labelID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM task_labels WHERE task_id = $1 AND label_id = $2`, taskID, labelID)
	if err != nil {
		return fmt.Errorf("detach label: %w", apperr.ErrDatabase)
	}
	return nil
}

// MergeLabels moves every task association from source to target (favoring
// target on duplicates), then soft-deletes source, as a single transaction.
func (s *Store) MergeLabels(ctx context.Context, orgID, sourceID, targetID string) error {
	if _, err := s.GetLabel(ctx, orgID, sourceID); err != nil {
		return err
	}
	if _, err := s.GetLabel(ctx, orgID, targetID); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("merge labels: %w", apperr.ErrDatabase)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO task_labels (task_id, label_id)
		SELECT task_id, $1 FROM task_labels WHERE label_id = $2
		ON CONFLICT DO NOTHING
	`, targetID, sourceID); err != nil {
		return fmt.Errorf("merge labels: %w", apperr.ErrDatabase)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_labels WHERE label_id = $1`, sourceID); err != nil {
		return fmt.Errorf("merge labels: %w", apperr.ErrDatabase)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE labels SET deleted_at = now(), version = version + 1 WHERE id = $1
	`, sourceID); err != nil {
		return fmt.Errorf("merge labels: %w", apperr.ErrDatabase)
	}
	return tx.Commit()
}
