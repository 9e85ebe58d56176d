// Package sync implements the outbound sync engine: a 5s ticker loop that
// pushes a node's local state upstream in five ordered steps (projects,
// tasks, attempts, executions, log entries) so that each stage only ships
// rows whose parent has already been accepted by the hive.
package sync

import (
	"context"
	"log"
	"time"

	"swarmhive/internal/model"
	"swarmhive/internal/wire"
)

// BatchLimit bounds how many rows a single tick ships per table.
const BatchLimit = 50

// Sender is the subset of internal/node.Peer the engine needs; kept as an
// interface so tests can substitute a recorder.
type Sender interface {
	Send(tag wire.Tag, payload any) error
}

// Store is the subset of internal/store.Store the engine reads and marks.
type Store interface {
	ListProjects(ctx context.Context, onlyLocal bool) ([]model.Project, error)

	TasksNeedingSync(ctx context.Context, limit int) ([]model.Task, error)
	GetProject(ctx context.Context, id string) (model.Project, error)

	UnsyncedAttempts(ctx context.Context, limit int) ([]model.TaskAttempt, error)
	MarkAttemptsSynced(ctx context.Context, ids []string) error
	GetTask(ctx context.Context, id string) (model.Task, error)

	UnsyncedExecutions(ctx context.Context, limit int) ([]model.ExecutionProcess, error)
	MarkExecutionsSynced(ctx context.Context, ids []string) error
	GetAttempt(ctx context.Context, id string) (model.TaskAttempt, error)

	GetExecution(ctx context.Context, id string) (model.ExecutionProcess, error)
	ExecutionsWithUnsyncedLogs(ctx context.Context, limit int) ([]string, error)
	UnsyncedLogEntries(ctx context.Context, executionID string, limit int) ([]model.LogEntry, error)
	MarkLogEntriesSynced(ctx context.Context, executionID string, ids []int64) error
}

// Engine drives the five-step tick against a Store and a Sender.
type Engine struct {
	store    Store
	sender   Sender
	interval time.Duration
	logger   *log.Logger
}

// New creates an Engine with the given tick interval (5s if <= 0).
func New(store Store, sender Sender, interval time.Duration, logger *log.Logger) *Engine {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Engine{store: store, sender: sender, interval: interval, logger: logger}
}

// Run ticks until ctx is cancelled. Per-tick stage failures are logged and
// do not stop later stages within the same tick or future ticks.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick runs the five ordered steps once.
func (e *Engine) Tick(ctx context.Context) {
	e.syncProjects(ctx)
	e.syncTasks(ctx)
	e.syncAttempts(ctx)
	e.syncExecutions(ctx)
	e.syncLogs(ctx)
}

func (e *Engine) warnf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

// syncProjects sends a full snapshot of non-remote projects.
func (e *Engine) syncProjects(ctx context.Context) {
	projects, err := e.store.ListProjects(ctx, true)
	if err != nil {
		e.warnf("sync: list projects: %v", err)
		return
	}
	out := make([]wire.LocalProjectInfo, 0, len(projects))
	for _, p := range projects {
		out = append(out, wire.LocalProjectInfo{
			LocalProjectID: p.ID,
			Name:           p.Name,
			RepoPath:       p.RepoPath,
		})
	}
	if err := e.sender.Send(wire.TagProjectsSync, wire.ProjectsSync{Projects: out}); err != nil {
		e.warnf("sync: send projects snapshot: %v", err)
	}
}

// syncTasks offers tasks that still need a shared_task_id. The hive's TaskSyncResponse, handled asynchronously by
// internal/node, is what persists shared_task_id back onto the row.
func (e *Engine) syncTasks(ctx context.Context) {
	tasks, err := e.store.TasksNeedingSync(ctx, BatchLimit)
	if err != nil {
		e.warnf("sync: tasks needing sync: %v", err)
		return
	}
	for _, t := range tasks {
		project, err := e.store.GetProject(ctx, t.ProjectID)
		if err != nil {
			e.warnf("sync: resolve remote project for task %s: %v", t.ID, err)
			continue
		}
		msg := wire.TaskSync{
			LocalTaskID:     t.ID,
			SharedTaskID:    t.SharedTaskID,
			RemoteProjectID: project.RemoteProjectID,
			Title:           t.Title,
			Description:     t.Description,
			Status:          string(t.Status),
			Version:         1,
			IsUpdate:        false,
			CreatedAt:       t.CreatedAt,
			UpdatedAt:       t.UpdatedAt,
		}
		if err := e.sender.Send(wire.TagTaskSync, msg); err != nil {
			e.warnf("sync: send task %s: %v", t.ID, err)
		}
	}
}

// syncAttempts ships unsynced attempts whose parent task has a
// shared_task_id, then marks exactly the ids it enqueued this tick.
func (e *Engine) syncAttempts(ctx context.Context) {
	attempts, err := e.store.UnsyncedAttempts(ctx, BatchLimit)
	if err != nil {
		e.warnf("sync: unsynced attempts: %v", err)
		return
	}
	var sent []string
	for _, a := range attempts {
		task, err := e.store.GetTask(ctx, a.TaskID)
		if err != nil {
			e.warnf("sync: resolve task for attempt %s: %v", a.ID, err)
			continue
		}
		msg := wire.AttemptSync{
			AttemptID:       a.ID,
			AssignmentID:    a.HiveAssignmentID,
			SharedTaskID:    task.SharedTaskID,
			Executor:        a.Executor,
			ExecutorVariant: a.ExecutorVariant,
			Branch:          a.Branch,
			TargetBranch:    a.TargetBranch,
		}
		if err := e.sender.Send(wire.TagAttemptSync, msg); err != nil {
			e.warnf("sync: send attempt %s: %v", a.ID, err)
			continue
		}
		sent = append(sent, a.ID)
	}
	if len(sent) > 0 {
		if err := e.store.MarkAttemptsSynced(ctx, sent); err != nil {
			e.warnf("sync: mark attempts synced: %v", err)
		}
	}
}

// syncExecutions ships unsynced executions whose parent attempt has
// synced, then marks sent ids.
func (e *Engine) syncExecutions(ctx context.Context) {
	executions, err := e.store.UnsyncedExecutions(ctx, BatchLimit)
	if err != nil {
		e.warnf("sync: unsynced executions: %v", err)
		return
	}
	var sent []string
	for _, exe := range executions {
		msg := wire.ExecutionSync{
			ExecutionProcessID: exe.ID,
			AttemptID:          exe.TaskAttemptID,
			RunReason:          string(exe.RunReason),
			ExecutorAction:     exe.ExecutorAction,
			BeforeHeadCommit:   exe.BeforeHeadCommit,
			AfterHeadCommit:    exe.AfterHeadCommit,
			Status:             string(exe.Status),
			ExitCode:           exe.ExitCode,
			PID:                exe.PID,
		}
		if err := e.sender.Send(wire.TagExecutionSync, msg); err != nil {
			e.warnf("sync: send execution %s: %v", exe.ID, err)
			continue
		}
		sent = append(sent, exe.ID)
	}
	if len(sent) > 0 {
		if err := e.store.MarkExecutionsSynced(ctx, sent); err != nil {
			e.warnf("sync: mark executions synced: %v", err)
		}
	}
}

// syncLogs groups unsynced log entries by execution and resolves each
// group's owning assignment id. An execution whose
// attempt has no hive_assignment_id was started before the hive knew
// about it; its log rows are marked synced and skipped rather than sent,
// and no later tick selects them again.
func (e *Engine) syncLogs(ctx context.Context) {
	executionIDs, err := e.store.ExecutionsWithUnsyncedLogs(ctx, BatchLimit)
	if err != nil {
		e.warnf("sync: executions with unsynced logs: %v", err)
		return
	}
	for _, executionID := range executionIDs {
		e.syncLogsForExecution(ctx, executionID)
	}
}

func (e *Engine) syncLogsForExecution(ctx context.Context, executionID string) {
	entries, err := e.store.UnsyncedLogEntries(ctx, executionID, wire.MaxLogsBatchEntries)
	if err != nil {
		e.warnf("sync: unsynced log entries for %s: %v", executionID, err)
		return
	}
	if len(entries) == 0 {
		return
	}

	attempt, err := e.attemptForExecution(ctx, executionID)
	if err != nil {
		e.warnf("sync: resolve attempt for execution %s: %v", executionID, err)
		return
	}
	ids := make([]int64, 0, len(entries))
	for _, l := range entries {
		ids = append(ids, l.ID)
	}

	if attempt.HiveAssignmentID == "" {
		if err := e.store.MarkLogEntriesSynced(ctx, executionID, ids); err != nil {
			e.warnf("sync: mark unassigned logs synced for %s: %v", executionID, err)
		}
		return
	}

	// Only stdout/stderr/system cross the wire; the UI-replay kinds
	// (json_patch, session_id, ...) stay node-local but are still marked
	// synced with the rest of the batch.
	wireEntries := make([]wire.LogEntryWire, 0, len(entries))
	for _, l := range entries {
		switch l.OutputType {
		case model.OutputStdout, model.OutputStderr, model.OutputSystem:
		default:
			continue
		}
		wireEntries = append(wireEntries, wire.LogEntryWire{
			SequenceID: l.ID,
			OutputType: wire.TaskOutputType(l.OutputType),
			Content:    l.Content,
			Timestamp:  l.Timestamp,
		})
	}
	if len(wireEntries) == 0 {
		if err := e.store.MarkLogEntriesSynced(ctx, executionID, ids); err != nil {
			e.warnf("sync: mark logs synced for %s: %v", executionID, err)
		}
		return
	}
	msg := wire.LogsBatch{
		AssignmentID:       attempt.HiveAssignmentID,
		ExecutionProcessID: executionID,
		Entries:            wireEntries,
		Compressed:         false,
	}
	if err := e.sender.Send(wire.TagLogsBatch, msg); err != nil {
		e.warnf("sync: send logs batch for %s: %v", executionID, err)
		return
	}
	if err := e.store.MarkLogEntriesSynced(ctx, executionID, ids); err != nil {
		e.warnf("sync: mark logs synced for %s: %v", executionID, err)
	}
}

func (e *Engine) attemptForExecution(ctx context.Context, executionID string) (model.TaskAttempt, error) {
	exe, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return model.TaskAttempt{}, err
	}
	return e.store.GetAttempt(ctx, exe.TaskAttemptID)
}
