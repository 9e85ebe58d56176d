package store

import (
	"context"
	"testing"

	"swarmhive/internal/model"
)

// TestTaskSyncPrecedenceOrdering: insert Task T
// (no shared_task_id) in a project with remote_project_id, plus Attempt A
// under T (hive_synced_at=null). One tick later the engine has sent
// TaskSync(T) but not AttemptSync(A); A remains unsynced. Simulate
// TaskSyncResponse{success:true, shared_task_id:S}; next tick sends
// AttemptSync(A) with shared_task_id=S; A is marked synced.
func TestTaskSyncPrecedenceOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	project, err := s.CreateProject(ctx, model.Project{
		Name: "demo", RepoPath: "/tmp/demo", RemoteProjectID: "remote-proj-1",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	task, err := s.CreateTask(ctx, model.Task{ProjectID: project.ID, Title: "T"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	attempt, err := s.CreateAttempt(ctx, model.TaskAttempt{TaskID: task.ID, Executor: "claude"})
	if err != nil {
		t.Fatalf("create attempt: %v", err)
	}

	needing, err := s.TasksNeedingSync(ctx, 10)
	if err != nil {
		t.Fatalf("tasks needing sync: %v", err)
	}
	if len(needing) != 1 || needing[0].ID != task.ID {
		t.Fatalf("expected task %s to need sync, got %+v", task.ID, needing)
	}

	// Before TaskSyncResponse arrives, the attempt must not be eligible --
	// its parent task has no shared_task_id yet.
	pending, err := s.UnsyncedAttempts(ctx, 10)
	if err != nil {
		t.Fatalf("unsynced attempts: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no attempts eligible before shared_task_id assigned, got %+v", pending)
	}

	if err := s.SetSharedTaskID(ctx, task.ID, "S"); err != nil {
		t.Fatalf("set shared task id: %v", err)
	}

	needing, err = s.TasksNeedingSync(ctx, 10)
	if err != nil {
		t.Fatalf("tasks needing sync: %v", err)
	}
	if len(needing) != 0 {
		t.Fatalf("expected task to no longer need sync, got %+v", needing)
	}

	pending, err = s.UnsyncedAttempts(ctx, 10)
	if err != nil {
		t.Fatalf("unsynced attempts: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != attempt.ID {
		t.Fatalf("expected attempt %s now eligible, got %+v", attempt.ID, pending)
	}

	if err := s.MarkAttemptsSynced(ctx, []string{attempt.ID}); err != nil {
		t.Fatalf("mark attempts synced: %v", err)
	}
	pending, err = s.UnsyncedAttempts(ctx, 10)
	if err != nil {
		t.Fatalf("unsynced attempts: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected attempt to be synced, got %+v", pending)
	}
}

func TestChildTaskChainWalksToRootAndGuardsCycles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	project, err := s.CreateProject(ctx, model.Project{Name: "demo", RepoPath: "/tmp/demo"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	root, err := s.CreateTask(ctx, model.Task{ProjectID: project.ID, Title: "root"})
	if err != nil {
		t.Fatalf("create root task: %v", err)
	}
	child, err := s.CreateTask(ctx, model.Task{ProjectID: project.ID, Title: "child", ParentTaskID: root.ID})
	if err != nil {
		t.Fatalf("create child task: %v", err)
	}
	grandchild, err := s.CreateTask(ctx, model.Task{ProjectID: project.ID, Title: "grandchild", ParentTaskID: child.ID})
	if err != nil {
		t.Fatalf("create grandchild task: %v", err)
	}

	chain, err := s.ChildTaskChain(ctx, grandchild.ID)
	if err != nil {
		t.Fatalf("child task chain: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("expected chain length 3, got %d", len(chain))
	}
	if chain[0].ID != grandchild.ID || chain[1].ID != child.ID || chain[2].ID != root.ID {
		t.Fatalf("unexpected chain order: %+v", chain)
	}
}
