package hivestore

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"swarmhive/internal/apperr"
)

// NodeProject is the hive's record of one of a node's local projects,
// refreshed each sync tick from wire.ProjectsSync.
// It is what SwarmProject linking offers a human operator to choose among.
type NodeProject struct {
	NodeID         string
	LocalProjectID string
	Name           string
	RepoPath       string
	SyncedAt       time.Time
}

// UpsertNodeProjects replaces a node's local-project inventory with the
// latest snapshot: rows no longer present are removed, present rows are upserted.
func (s *Store) UpsertNodeProjects(ctx context.Context, nodeID string, projects []NodeProject) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert node projects: %w", apperr.ErrDatabase)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	keep := make([]string, 0, len(projects))
	for _, p := range projects {
		keep = append(keep, p.LocalProjectID)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO node_projects (node_id, local_project_id, name, repo_path, synced_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (node_id, local_project_id) DO UPDATE SET
				name = excluded.name, repo_path = excluded.repo_path, synced_at = excluded.synced_at
		`, nodeID, p.LocalProjectID, p.Name, p.RepoPath, now); err != nil {
			return fmt.Errorf("upsert node project %s: %w", p.LocalProjectID, apperr.ErrDatabase)
		}
	}
	if len(keep) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM node_projects WHERE node_id = $1`, nodeID); err != nil {
			return fmt.Errorf("prune node projects: %w", apperr.ErrDatabase)
		}
		return tx.Commit()
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM node_projects WHERE node_id = $1 AND NOT (local_project_id = ANY($2))
	`, nodeID, pq.Array(keep)); err != nil {
		return fmt.Errorf("prune node projects: %w", apperr.ErrDatabase)
	}
	return tx.Commit()
}

// ListNodeProjects returns a node's known local projects.
func (s *Store) ListNodeProjects(ctx context.Context, nodeID string) ([]NodeProject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, local_project_id, name, repo_path, synced_at
		FROM node_projects WHERE node_id = $1 ORDER BY name ASC
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list node projects: %w", apperr.ErrDatabase)
	}
	defer rows.Close()
	var out []NodeProject
	for rows.Next() {
		var p NodeProject
		if err := rows.Scan(&p.NodeID, &p.LocalProjectID, &p.Name, &p.RepoPath, &p.SyncedAt); err != nil {
			return nil, fmt.Errorf("scan node project: %w", apperr.ErrDatabase)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
