// Package store is the node-local embedded relational store, backed by a
// single modernc.org/sqlite file: one *sql.DB with SetMaxOpenConns(1) so
// there is exactly one writer, WAL mode for concurrent readers, and an
// idempotent migration run at Open.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the node's local sqlite database.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and migrates the sqlite file at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the raw handle for callers (logmigrate) that need to
// compose multi-table transactions the repository methods don't cover.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			repo_path TEXT NOT NULL,
			setup_script TEXT NOT NULL DEFAULT '',
			dev_script TEXT NOT NULL DEFAULT '',
			cleanup_script TEXT NOT NULL DEFAULT '',
			copy_files TEXT NOT NULL DEFAULT '[]',
			is_remote INTEGER NOT NULL DEFAULT 0,
			source_node_id TEXT NOT NULL DEFAULT '',
			source_node_name TEXT NOT NULL DEFAULT '',
			remote_project_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_projects_repo_path_local
			ON projects(repo_path) WHERE is_remote = 0;`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			parent_task_id TEXT NOT NULL DEFAULT '',
			shared_task_id TEXT NOT NULL DEFAULT '',
			remote_assignee_id TEXT NOT NULL DEFAULT '',
			remote_assignee_name TEXT NOT NULL DEFAULT '',
			remote_version INTEGER NOT NULL DEFAULT 0,
			archived_at TEXT,
			activity_at TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_project_shared
			ON tasks(project_id, shared_task_id) WHERE shared_task_id != '';`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);`,
		`CREATE TABLE IF NOT EXISTS task_attempts (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			executor TEXT NOT NULL,
			executor_variant TEXT NOT NULL DEFAULT '',
			branch TEXT NOT NULL DEFAULT '',
			target_branch TEXT NOT NULL DEFAULT '',
			container TEXT NOT NULL DEFAULT '',
			worktree_deleted INTEGER NOT NULL DEFAULT 0,
			setup_completed_at TEXT,
			hive_assignment_id TEXT NOT NULL DEFAULT '',
			hive_synced_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_task_attempts_task ON task_attempts(task_id);`,
		`CREATE INDEX IF NOT EXISTS idx_task_attempts_unsynced
			ON task_attempts(created_at) WHERE hive_synced_at IS NULL;`,
		`CREATE TABLE IF NOT EXISTS execution_processes (
			id TEXT PRIMARY KEY,
			task_attempt_id TEXT NOT NULL,
			run_reason TEXT NOT NULL,
			executor_action TEXT NOT NULL DEFAULT '',
			before_head_commit TEXT NOT NULL DEFAULT '',
			after_head_commit TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			exit_code INTEGER,
			dropped INTEGER NOT NULL DEFAULT 0,
			pid INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			hive_synced_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_execution_processes_attempt
			ON execution_processes(task_attempt_id);`,
		`CREATE INDEX IF NOT EXISTS idx_execution_processes_unsynced
			ON execution_processes(started_at) WHERE hive_synced_at IS NULL;`,
		`CREATE TABLE IF NOT EXISTS log_entries (
			id INTEGER NOT NULL,
			execution_id TEXT NOT NULL,
			output_type TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			hive_synced_at TEXT,
			PRIMARY KEY (execution_id, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_log_entries_unsynced
			ON log_entries(execution_id) WHERE hive_synced_at IS NULL;`,
		// Legacy per-batch log table: a one-shot migrator
		// replays these JSONL blobs through the normalizer into log_entries.
		`CREATE TABLE IF NOT EXISTS execution_process_logs (
			execution_id TEXT PRIMARY KEY,
			jsonl TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS labels (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			project_id TEXT NOT NULL DEFAULT '',
			origin_node_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			icon TEXT NOT NULL DEFAULT '',
			color TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1,
			deleted_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS task_labels (
			task_id TEXT NOT NULL,
			label_id TEXT NOT NULL,
			PRIMARY KEY (task_id, label_id)
		);`,
		`CREATE TABLE IF NOT EXISTS task_variables (
			task_id TEXT NOT NULL,
			name TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (task_id, name)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func nowStr() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func timePtrStr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}
