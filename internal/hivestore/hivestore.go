// Package hivestore is the hive-side persistent store: one PostgreSQL
// database, accessed through lib/pq, holding everything the session
// endpoint and the shape endpoint serve to nodes and to the UI.
// Repositories are split one file per aggregate.
package hivestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Store wraps the hive's Postgres connection pool.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and runs the idempotent migration.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the raw handle for composing cross-aggregate transactions the
// repository methods don't cover.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			machine_id TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			api_key_hash TEXT NOT NULL DEFAULT '',
			api_key_prefix TEXT NOT NULL DEFAULT '',
			capabilities JSONB NOT NULL DEFAULT '{}',
			public_url TEXT NOT NULL DEFAULT '',
			active_tasks INTEGER NOT NULL DEFAULT 0,
			available_capacity INTEGER NOT NULL DEFAULT 0,
			last_seen_at TIMESTAMPTZ,
			last_used_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_nodes_org_machine ON nodes(organization_id, machine_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_nodes_key_prefix ON nodes(api_key_prefix) WHERE api_key_prefix != ''`,

		`CREATE TABLE IF NOT EXISTS swarm_projects (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS swarm_project_nodes (
			swarm_project_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			local_project_id TEXT NOT NULL,
			git_repo_path TEXT NOT NULL DEFAULT '',
			os_type TEXT NOT NULL DEFAULT '',
			linked_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (swarm_project_id, node_id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_spn_node_local ON swarm_project_nodes(node_id, local_project_id)`,

		`CREATE TABLE IF NOT EXISTS labels (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			project_id TEXT NOT NULL DEFAULT '',
			origin_node_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			icon TEXT NOT NULL DEFAULT '',
			color TEXT NOT NULL DEFAULT '',
			version BIGINT NOT NULL DEFAULT 1,
			deleted_at TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_labels_org_project_name_deleted
			ON labels(organization_id, project_id, name, COALESCE(deleted_at, 'epoch'::timestamptz))`,
		`CREATE TABLE IF NOT EXISTS task_labels (
			task_id TEXT NOT NULL,
			label_id TEXT NOT NULL,
			PRIMARY KEY (task_id, label_id)
		)`,

		`CREATE TABLE IF NOT EXISTS shared_tasks (
			shared_task_id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			swarm_project_id TEXT NOT NULL,
			local_task_id TEXT NOT NULL DEFAULT '',
			origin_node_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_shared_tasks_swarm_project ON shared_tasks(swarm_project_id)`,

		`CREATE TABLE IF NOT EXISTS node_task_assignments (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			node_project_id TEXT NOT NULL,
			status TEXT NOT NULL,
			failed_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_assignments_task_active
			ON node_task_assignments(task_id) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_node ON node_task_assignments(node_id)`,

		`CREATE TABLE IF NOT EXISTS node_projects (
			node_id TEXT NOT NULL,
			local_project_id TEXT NOT NULL,
			name TEXT NOT NULL,
			repo_path TEXT NOT NULL DEFAULT '',
			synced_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (node_id, local_project_id)
		)`,

		`CREATE TABLE IF NOT EXISTS shared_attempts (
			attempt_id TEXT PRIMARY KEY,
			assignment_id TEXT NOT NULL DEFAULT '',
			shared_task_id TEXT NOT NULL,
			executor TEXT NOT NULL,
			executor_variant TEXT NOT NULL DEFAULT '',
			branch TEXT NOT NULL DEFAULT '',
			target_branch TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_shared_attempts_task ON shared_attempts(shared_task_id)`,

		`CREATE TABLE IF NOT EXISTS shared_executions (
			execution_process_id TEXT PRIMARY KEY,
			attempt_id TEXT NOT NULL,
			run_reason TEXT NOT NULL,
			executor_action TEXT NOT NULL DEFAULT '',
			before_head_commit TEXT NOT NULL DEFAULT '',
			after_head_commit TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			exit_code INTEGER,
			pid INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_shared_executions_attempt ON shared_executions(attempt_id)`,

		`CREATE TABLE IF NOT EXISTS shared_log_entries (
			execution_process_id TEXT NOT NULL,
			sequence_id BIGINT NOT NULL,
			output_type TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (execution_process_id, sequence_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("hivestore migrate: %w", err)
		}
	}
	return nil
}

// rowScanner lets scan helpers accept either *sql.Row or *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
