package sync

import (
	"context"
	"testing"
	"time"

	"swarmhive/internal/model"
	"swarmhive/internal/wire"
)

type sentMsg struct {
	tag     wire.Tag
	payload any
}

type recordingSender struct {
	sent []sentMsg
	fail map[wire.Tag]bool
}

func (r *recordingSender) Send(tag wire.Tag, payload any) error {
	if r.fail[tag] {
		return context.DeadlineExceeded
	}
	r.sent = append(r.sent, sentMsg{tag: tag, payload: payload})
	return nil
}

type fakeSyncStore struct {
	projects       []model.Project
	tasksNeedSync  []model.Task
	projectsByID   map[string]model.Project

	unsyncedAttempts []model.TaskAttempt
	attemptsByID     map[string]model.TaskAttempt
	markedAttempts   []string

	tasksByID map[string]model.Task

	unsyncedExecutions []model.ExecutionProcess
	executionsByID     map[string]model.ExecutionProcess
	markedExecutions   []string

	unsyncedLogExecIDs []string
	logsByExecution    map[string][]model.LogEntry
	markedLogs         map[string][]int64
}

func (f *fakeSyncStore) ListProjects(ctx context.Context, onlyLocal bool) ([]model.Project, error) {
	return f.projects, nil
}

func (f *fakeSyncStore) TasksNeedingSync(ctx context.Context, limit int) ([]model.Task, error) {
	return f.tasksNeedSync, nil
}

func (f *fakeSyncStore) GetProject(ctx context.Context, id string) (model.Project, error) {
	return f.projectsByID[id], nil
}

func (f *fakeSyncStore) UnsyncedAttempts(ctx context.Context, limit int) ([]model.TaskAttempt, error) {
	return f.unsyncedAttempts, nil
}

func (f *fakeSyncStore) MarkAttemptsSynced(ctx context.Context, ids []string) error {
	f.markedAttempts = append(f.markedAttempts, ids...)
	return nil
}

func (f *fakeSyncStore) GetTask(ctx context.Context, id string) (model.Task, error) {
	t, ok := f.tasksByID[id]
	if !ok {
		return model.Task{}, context.DeadlineExceeded
	}
	return t, nil
}

func (f *fakeSyncStore) UnsyncedExecutions(ctx context.Context, limit int) ([]model.ExecutionProcess, error) {
	return f.unsyncedExecutions, nil
}

func (f *fakeSyncStore) MarkExecutionsSynced(ctx context.Context, ids []string) error {
	f.markedExecutions = append(f.markedExecutions, ids...)
	return nil
}

func (f *fakeSyncStore) GetExecution(ctx context.Context, id string) (model.ExecutionProcess, error) {
	return f.executionsByID[id], nil
}

func (f *fakeSyncStore) GetAttempt(ctx context.Context, id string) (model.TaskAttempt, error) {
	return f.attemptsByID[id], nil
}

func (f *fakeSyncStore) ExecutionsWithUnsyncedLogs(ctx context.Context, limit int) ([]string, error) {
	return f.unsyncedLogExecIDs, nil
}

func (f *fakeSyncStore) UnsyncedLogEntries(ctx context.Context, executionID string, limit int) ([]model.LogEntry, error) {
	return f.logsByExecution[executionID], nil
}

func (f *fakeSyncStore) MarkLogEntriesSynced(ctx context.Context, executionID string, ids []int64) error {
	if f.markedLogs == nil {
		f.markedLogs = map[string][]int64{}
	}
	f.markedLogs[executionID] = append(f.markedLogs[executionID], ids...)
	return nil
}

func TestTickSendsAllFiveStagesInOrder(t *testing.T) {
	store := &fakeSyncStore{
		projects: []model.Project{{ID: "p1", Name: "proj", RepoPath: "/repo"}},
		tasksNeedSync: []model.Task{
			{ID: "t1", ProjectID: "p1", Title: "task one", Status: model.TaskTodo, CreatedAt: time.Now(), UpdatedAt: time.Now()},
		},
		projectsByID: map[string]model.Project{"p1": {ID: "p1", RemoteProjectID: "rp1"}},
		unsyncedAttempts: []model.TaskAttempt{
			{ID: "a1", TaskID: "t1", Executor: "claude", HiveAssignmentID: "asg1"},
		},
		tasksByID: map[string]model.Task{"t1": {ID: "t1", SharedTaskID: "shared1"}},
		unsyncedExecutions: []model.ExecutionProcess{
			{ID: "e1", TaskAttemptID: "a1", RunReason: model.RunCodingAgent, Status: model.ExecRunning},
		},
		executionsByID: map[string]model.ExecutionProcess{"e1": {ID: "e1", TaskAttemptID: "a1"}},
		attemptsByID:   map[string]model.TaskAttempt{"a1": {ID: "a1", HiveAssignmentID: "asg1"}},
		unsyncedLogExecIDs: []string{"e1"},
		logsByExecution: map[string][]model.LogEntry{
			"e1": {{ID: 1, ExecutionID: "e1", OutputType: model.OutputStdout, Content: "hello"}},
		},
	}
	sender := &recordingSender{}
	e := New(store, sender, time.Second, nil)
	e.Tick(context.Background())

	var tags []wire.Tag
	for _, m := range sender.sent {
		tags = append(tags, m.tag)
	}
	want := []wire.Tag{wire.TagProjectsSync, wire.TagTaskSync, wire.TagAttemptSync, wire.TagExecutionSync, wire.TagLogsBatch}
	if len(tags) != len(want) {
		t.Fatalf("expected %d sends, got %d: %v", len(want), len(tags), tags)
	}
	for i, tag := range want {
		if tags[i] != tag {
			t.Fatalf("stage %d: expected %s, got %s", i, tag, tags[i])
		}
	}
	if len(store.markedAttempts) != 1 || store.markedAttempts[0] != "a1" {
		t.Fatalf("expected attempt a1 marked synced, got %v", store.markedAttempts)
	}
	if len(store.markedExecutions) != 1 || store.markedExecutions[0] != "e1" {
		t.Fatalf("expected execution e1 marked synced, got %v", store.markedExecutions)
	}
	if ids := store.markedLogs["e1"]; len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("expected log entry 1 marked synced for e1, got %v", ids)
	}
}

func TestSyncLogsSkipsWithoutAssignment(t *testing.T) {
	store := &fakeSyncStore{
		unsyncedLogExecIDs: []string{"e1"},
		logsByExecution: map[string][]model.LogEntry{
			"e1": {{ID: 1, ExecutionID: "e1", OutputType: model.OutputStdout, Content: "hello"}},
		},
		executionsByID: map[string]model.ExecutionProcess{"e1": {ID: "e1", TaskAttemptID: "a1"}},
		attemptsByID:   map[string]model.TaskAttempt{"a1": {ID: "a1", HiveAssignmentID: ""}},
	}
	sender := &recordingSender{}
	e := New(store, sender, time.Second, nil)
	e.syncLogs(context.Background())

	if len(sender.sent) != 0 {
		t.Fatalf("expected no LogsBatch sent for unassigned attempt, got %v", sender.sent)
	}
	if ids := store.markedLogs["e1"]; len(ids) != 1 {
		t.Fatalf("expected log entry marked synced despite skip, got %v", ids)
	}
}

func TestSyncLogsKeepsInternalKindsOffTheWire(t *testing.T) {
	store := &fakeSyncStore{
		unsyncedLogExecIDs: []string{"e1"},
		logsByExecution: map[string][]model.LogEntry{
			"e1": {
				{ID: 1, ExecutionID: "e1", OutputType: model.OutputJSONPatch, Content: `[]`},
				{ID: 2, ExecutionID: "e1", OutputType: model.OutputSessionID, Content: "sess"},
			},
		},
		executionsByID: map[string]model.ExecutionProcess{"e1": {ID: "e1", TaskAttemptID: "a1"}},
		attemptsByID:   map[string]model.TaskAttempt{"a1": {ID: "a1", HiveAssignmentID: "asg1"}},
	}
	sender := &recordingSender{}
	e := New(store, sender, time.Second, nil)
	e.syncLogs(context.Background())

	if len(sender.sent) != 0 {
		t.Fatalf("expected no LogsBatch when every entry is node-local, got %v", sender.sent)
	}
	if ids := store.markedLogs["e1"]; len(ids) != 2 {
		t.Fatalf("expected both entries marked synced, got %v", ids)
	}
}

func TestSyncAttemptsOnlyMarksSentIDs(t *testing.T) {
	store := &fakeSyncStore{
		unsyncedAttempts: []model.TaskAttempt{
			{ID: "a1", TaskID: "t1"},
			{ID: "a2", TaskID: "missing"},
		},
		tasksByID: map[string]model.Task{"t1": {ID: "t1", SharedTaskID: "shared1"}},
	}
	sender := &recordingSender{fail: map[wire.Tag]bool{}}
	e := New(store, sender, time.Second, nil)
	e.syncAttempts(context.Background())

	if len(store.markedAttempts) != 1 || store.markedAttempts[0] != "a1" {
		t.Fatalf("expected only a1 marked synced (a2 has no resolvable task), got %v", store.markedAttempts)
	}
}
