package hivestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"swarmhive/internal/apperr"
	"swarmhive/internal/model"
	"swarmhive/internal/wire"
)

// SwarmProject is an organization-wide project spanning one or more nodes.
type SwarmProject struct {
	ID        string
	OrgID     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SwarmProjectNode links a swarm project to one node's local project copy.
type SwarmProjectNode struct {
	SwarmProjectID string
	NodeID         string
	LocalProjectID string
	GitRepoPath    string
	OSType         string
	LinkedAt       time.Time
}

// TaskStatusCounts tallies a swarm project's tasks by status.
type TaskStatusCounts struct {
	Todo       int
	InProgress int
	InReview   int
	Done       int
	Cancelled  int
}

// SwarmProjectSummary is one row of ListSwarmProjects: the project plus its
// linked-node count and aggregate task status counts.
type SwarmProjectSummary struct {
	SwarmProject
	NodeCount int
	Tasks     TaskStatusCounts
}

func scanSwarmProject(row rowScanner) (SwarmProject, error) {
	var p SwarmProject
	err := row.Scan(&p.ID, &p.OrgID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SwarmProject{}, fmt.Errorf("swarm project: %w", apperr.ErrNotFound)
		}
		return SwarmProject{}, fmt.Errorf("scan swarm project: %w", apperr.ErrDatabase)
	}
	return p, nil
}

// ListLinkedProjectsForNode enumerates every swarm project in orgID visible
// to nodeID, flagged is_owned when the node holds a link to it. Sent back
// in the session handshake's AuthResult.
func (s *Store) ListLinkedProjectsForNode(ctx context.Context, orgID, nodeID string) ([]wire.LinkedProject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, COALESCE(l.local_project_id, ''), l.node_id IS NOT NULL
		FROM swarm_projects p
		LEFT JOIN swarm_project_nodes l
			ON l.swarm_project_id = p.id AND l.node_id = $2
		WHERE p.organization_id = $1
		ORDER BY p.name ASC
	`, orgID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list linked projects: %w", apperr.ErrDatabase)
	}
	defer rows.Close()
	var out []wire.LinkedProject
	for rows.Next() {
		var lp wire.LinkedProject
		if err := rows.Scan(&lp.SwarmProjectID, &lp.Name, &lp.LocalProjectID, &lp.IsOwned); err != nil {
			return nil, fmt.Errorf("scan linked project: %w", apperr.ErrDatabase)
		}
		out = append(out, lp)
	}
	return out, rows.Err()
}

// CreateSwarmProject inserts a new swarm project.
func (s *Store) CreateSwarmProject(ctx context.Context, orgID, name string) (SwarmProject, error) {
	now := time.Now().UTC()
	p := SwarmProject{ID: model.NewID(), OrgID: orgID, Name: name, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO swarm_projects (id, organization_id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.OrgID, p.Name, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return SwarmProject{}, fmt.Errorf("create swarm project: %w", apperr.ErrDatabase)
	}
	return p, nil
}

// GetSwarmProject fetches a project scoped to orgID.
func (s *Store) GetSwarmProject(ctx context.Context, orgID, id string) (SwarmProject, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, created_at, updated_at FROM swarm_projects WHERE id = $1
	`, id)
	p, err := scanSwarmProject(row)
	if err != nil {
		return SwarmProject{}, err
	}
	if p.OrgID != orgID {
		return SwarmProject{}, fmt.Errorf("swarm project %s: %w", id, apperr.ErrForbidden)
	}
	return p, nil
}

// ListSwarmProjects returns every swarm project in orgID with its linked
// node count and task status counts.
func (s *Store) ListSwarmProjects(ctx context.Context, orgID string) ([]SwarmProjectSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.organization_id, p.name, p.created_at, p.updated_at,
			COUNT(DISTINCT spn.node_id) AS node_count,
			COUNT(DISTINCT st.shared_task_id) FILTER (WHERE st.status = 'todo') AS todo,
			COUNT(DISTINCT st.shared_task_id) FILTER (WHERE st.status = 'in-progress') AS in_progress,
			COUNT(DISTINCT st.shared_task_id) FILTER (WHERE st.status = 'in-review') AS in_review,
			COUNT(DISTINCT st.shared_task_id) FILTER (WHERE st.status = 'done') AS done,
			COUNT(DISTINCT st.shared_task_id) FILTER (WHERE st.status = 'cancelled') AS cancelled
		FROM swarm_projects p
		LEFT JOIN swarm_project_nodes spn ON spn.swarm_project_id = p.id
		LEFT JOIN shared_tasks st ON st.swarm_project_id = p.id
		WHERE p.organization_id = $1
		GROUP BY p.id
		ORDER BY p.name ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list swarm projects: %w", apperr.ErrDatabase)
	}
	defer rows.Close()
	var out []SwarmProjectSummary
	for rows.Next() {
		var sum SwarmProjectSummary
		if err := rows.Scan(&sum.ID, &sum.OrgID, &sum.Name, &sum.CreatedAt, &sum.UpdatedAt,
			&sum.NodeCount, &sum.Tasks.Todo, &sum.Tasks.InProgress, &sum.Tasks.InReview,
			&sum.Tasks.Done, &sum.Tasks.Cancelled); err != nil {
			return nil, fmt.Errorf("scan swarm project summary: %w", apperr.ErrDatabase)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// LinkNode attaches a node's local project to a swarm project. Uniqueness on
// (swarm_project_id, node_id) and (node_id, local_project_id) is enforced by the migration's indices; a violation of
// either surfaces as Conflict.
func (s *Store) LinkNode(ctx context.Context, link SwarmProjectNode) error {
	if link.LinkedAt.IsZero() {
		link.LinkedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO swarm_project_nodes (swarm_project_id, node_id, local_project_id, git_repo_path, os_type, linked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, link.SwarmProjectID, link.NodeID, link.LocalProjectID, link.GitRepoPath, link.OSType, link.LinkedAt)
	if err != nil {
		return fmt.Errorf("link node: %w", apperr.ErrConflict)
	}
	return nil
}

// UnlinkNode removes one node's link to a swarm project.
func (s *Store) UnlinkNode(ctx context.Context, swarmProjectID, nodeID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM swarm_project_nodes WHERE swarm_project_id = $1 AND node_id = $2
	`, swarmProjectID, nodeID)
	if err != nil {
		return fmt.Errorf("unlink node: %w", apperr.ErrDatabase)
	}
	return nil
}

// ListNodeLinks returns every node linked to a swarm project.
func (s *Store) ListNodeLinks(ctx context.Context, swarmProjectID string) ([]SwarmProjectNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT swarm_project_id, node_id, local_project_id, git_repo_path, os_type, linked_at
		FROM swarm_project_nodes WHERE swarm_project_id = $1
	`, swarmProjectID)
	if err != nil {
		return nil, fmt.Errorf("list node links: %w", apperr.ErrDatabase)
	}
	defer rows.Close()
	var out []SwarmProjectNode
	for rows.Next() {
		var l SwarmProjectNode
		if err := rows.Scan(&l.SwarmProjectID, &l.NodeID, &l.LocalProjectID, &l.GitRepoPath, &l.OSType, &l.LinkedAt); err != nil {
			return nil, fmt.Errorf("scan node link: %w", apperr.ErrDatabase)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// MergeSwarmProjects moves node links from source to target, deduping by
// node_id (favoring the link already on target), then deletes source.
func (s *Store) MergeSwarmProjects(ctx context.Context, orgID, sourceID, targetID string) error {
	if _, err := s.GetSwarmProject(ctx, orgID, sourceID); err != nil {
		return err
	}
	if _, err := s.GetSwarmProject(ctx, orgID, targetID); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("merge swarm projects: %w", apperr.ErrDatabase)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO swarm_project_nodes (swarm_project_id, node_id, local_project_id, git_repo_path, os_type, linked_at)
		SELECT $1, node_id, local_project_id, git_repo_path, os_type, linked_at
		FROM swarm_project_nodes WHERE swarm_project_id = $2
		ON CONFLICT (swarm_project_id, node_id) DO NOTHING
	`, targetID, sourceID); err != nil {
		return fmt.Errorf("merge swarm projects: %w", apperr.ErrDatabase)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE shared_tasks SET swarm_project_id = $1 WHERE swarm_project_id = $2
	`, targetID, sourceID); err != nil {
		return fmt.Errorf("merge swarm projects: %w", apperr.ErrDatabase)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM swarm_project_nodes WHERE swarm_project_id = $1`, sourceID); err != nil {
		return fmt.Errorf("merge swarm projects: %w", apperr.ErrDatabase)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM swarm_projects WHERE id = $1`, sourceID); err != nil {
		return fmt.Errorf("merge swarm projects: %w", apperr.ErrDatabase)
	}
	return tx.Commit()
}
