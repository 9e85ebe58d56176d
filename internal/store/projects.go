package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"swarmhive/internal/apperr"
	"swarmhive/internal/model"
)

// CreateProject inserts a new local or remote project row.
func (s *Store) CreateProject(ctx context.Context, p model.Project) (model.Project, error) {
	if p.ID == "" {
		p.ID = model.NewID()
	}
	now := nowStr()
	copyFiles, err := json.Marshal(p.CopyFiles)
	if err != nil {
		return model.Project{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (
			id, name, repo_path, setup_script, dev_script, cleanup_script,
			copy_files, is_remote, source_node_id, source_node_name,
			remote_project_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.RepoPath, p.SetupScript, p.DevScript, p.CleanupScript,
		string(copyFiles), boolInt(p.IsRemote), p.SourceNodeID, p.SourceNodeName,
		p.RemoteProjectID, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Project{}, fmt.Errorf("project repo path: %w", apperr.ErrConflict)
		}
		return model.Project{}, fmt.Errorf("create project: %w", apperr.ErrDatabase)
	}
	return s.GetProject(ctx, p.ID)
}

// UpdateProject replaces the mutable fields of an existing local project.
func (s *Store) UpdateProject(ctx context.Context, p model.Project) (model.Project, error) {
	copyFiles, err := json.Marshal(p.CopyFiles)
	if err != nil {
		return model.Project{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET
			name = ?, repo_path = ?, setup_script = ?, dev_script = ?,
			cleanup_script = ?, copy_files = ?, updated_at = ?
		WHERE id = ?
	`, p.Name, p.RepoPath, p.SetupScript, p.DevScript, p.CleanupScript,
		string(copyFiles), nowStr(), p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Project{}, fmt.Errorf("project repo path: %w", apperr.ErrConflict)
		}
		return model.Project{}, fmt.Errorf("update project: %w", apperr.ErrDatabase)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Project{}, fmt.Errorf("project %s: %w", p.ID, apperr.ErrNotFound)
	}
	return s.GetProject(ctx, p.ID)
}

// DeleteProject removes a project row (used for visibility-only remote
// projects when a ProjectSync arrives with is_new=false).
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", apperr.ErrDatabase)
	}
	return nil
}

// GetProject fetches a single project by id.
func (s *Store) GetProject(ctx context.Context, id string) (model.Project, error) {
	row := s.db.QueryRowContext(ctx, projectSelect+` WHERE id = ?`, id)
	return scanProject(row)
}

// ListProjects returns every project; onlyLocal restricts to non-remote rows
// (used by the sync engine's per-tick ProjectsSync snapshot).
func (s *Store) ListProjects(ctx context.Context, onlyLocal bool) ([]model.Project, error) {
	q := projectSelect
	if onlyLocal {
		q += ` WHERE is_remote = 0`
	}
	q += ` ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", apperr.ErrDatabase)
	}
	defer rows.Close()
	var out []model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const projectSelect = `
	SELECT id, name, repo_path, setup_script, dev_script, cleanup_script,
		copy_files, is_remote, source_node_id, source_node_name,
		remote_project_id, created_at, updated_at
	FROM projects`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (model.Project, error) {
	var p model.Project
	var isRemote int
	var copyFiles, created, updated string
	err := row.Scan(&p.ID, &p.Name, &p.RepoPath, &p.SetupScript, &p.DevScript,
		&p.CleanupScript, &copyFiles, &isRemote, &p.SourceNodeID,
		&p.SourceNodeName, &p.RemoteProjectID, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Project{}, fmt.Errorf("project: %w", apperr.ErrNotFound)
		}
		return model.Project{}, fmt.Errorf("scan project: %w", apperr.ErrDatabase)
	}
	p.IsRemote = isRemote != 0
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	_ = json.Unmarshal([]byte(copyFiles), &p.CopyFiles)
	return p, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation recognizes sqlite's and postgres's unique-constraint
// error text; both drivers surface this as a plain *sql.DB error without a
// portable sentinel, so callers match on substring.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}
