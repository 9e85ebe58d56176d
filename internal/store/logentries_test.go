package store

import (
	"context"
	"path/filepath"
	"testing"

	"swarmhive/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "node.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedExecution(t *testing.T, s *Store) string {
	t.Helper()
	ctx := context.Background()
	p, err := s.CreateProject(ctx, model.Project{Name: "demo", RepoPath: "/tmp/demo"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	task, err := s.CreateTask(ctx, model.Task{ProjectID: p.ID, Title: "t"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	attempt, err := s.CreateAttempt(ctx, model.TaskAttempt{TaskID: task.ID, Executor: "claude"})
	if err != nil {
		t.Fatalf("create attempt: %v", err)
	}
	exec, err := s.CreateExecution(ctx, model.ExecutionProcess{TaskAttemptID: attempt.ID, RunReason: model.RunCodingAgent})
	if err != nil {
		t.Fatalf("create execution: %v", err)
	}
	return exec.ID
}

// Insert 10 log entries with ids 1..10 into execution E; paginated(E, None,
// 5, Forward) returns ids 1..5, next_cursor=5, has_more=true; paginated(E,
// Some(5), 5, Forward) returns ids 6..10, next_cursor=none, has_more=false.
func TestForwardPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	execID := seedExecution(t, s)
	for i := 0; i < 10; i++ {
		if _, err := s.AppendLogEntry(ctx, execID, model.OutputStdout, "line"); err != nil {
			t.Fatalf("append log entry %d: %v", i, err)
		}
	}

	first, err := s.PaginatedLogEntries(ctx, execID, nil, 5, Forward)
	if err != nil {
		t.Fatalf("paginated log entries: %v", err)
	}
	if len(first.Entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(first.Entries))
	}
	for i, e := range first.Entries {
		if e.ID != int64(i+1) {
			t.Fatalf("entry %d: expected id %d, got %d", i, i+1, e.ID)
		}
	}
	if !first.HasMore {
		t.Fatalf("expected has_more=true")
	}
	if first.NextCursor == nil || *first.NextCursor != 5 {
		t.Fatalf("expected next_cursor=5, got %v", first.NextCursor)
	}

	second, err := s.PaginatedLogEntries(ctx, execID, first.NextCursor, 5, Forward)
	if err != nil {
		t.Fatalf("paginated log entries page 2: %v", err)
	}
	if len(second.Entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(second.Entries))
	}
	for i, e := range second.Entries {
		if e.ID != int64(i+6) {
			t.Fatalf("entry %d: expected id %d, got %d", i, i+6, e.ID)
		}
	}
	if second.HasMore {
		t.Fatalf("expected has_more=false")
	}
	if second.NextCursor != nil {
		t.Fatalf("expected next_cursor=none, got %v", *second.NextCursor)
	}
}

// Same 10 entries; paginated(E, None, 5, Backward) returns 10,9,8,7,6 in
// that order; paginated(E, Some(6), 5, Backward) returns 5,4,3,2,1.
func TestBackwardPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	execID := seedExecution(t, s)
	for i := 0; i < 10; i++ {
		if _, err := s.AppendLogEntry(ctx, execID, model.OutputStdout, "line"); err != nil {
			t.Fatalf("append log entry %d: %v", i, err)
		}
	}

	first, err := s.PaginatedLogEntries(ctx, execID, nil, 5, Backward)
	if err != nil {
		t.Fatalf("paginated log entries: %v", err)
	}
	want := []int64{10, 9, 8, 7, 6}
	if len(first.Entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(first.Entries))
	}
	for i, e := range first.Entries {
		if e.ID != want[i] {
			t.Fatalf("entry %d: expected id %d, got %d", i, want[i], e.ID)
		}
	}

	cursor := int64(6)
	second, err := s.PaginatedLogEntries(ctx, execID, &cursor, 5, Backward)
	if err != nil {
		t.Fatalf("paginated log entries page 2: %v", err)
	}
	want2 := []int64{5, 4, 3, 2, 1}
	if len(second.Entries) != len(want2) {
		t.Fatalf("expected %d entries, got %d", len(want2), len(second.Entries))
	}
	for i, e := range second.Entries {
		if e.ID != want2[i] {
			t.Fatalf("entry %d: expected id %d, got %d", i, want2[i], e.ID)
		}
	}
	if second.HasMore {
		t.Fatalf("expected has_more=false")
	}
}

func TestPaginatedLogEntriesEmptyExecutionReturnsZeroTotal(t *testing.T) {
	s := newTestStore(t)
	page, err := s.PaginatedLogEntries(context.Background(), "nonexistent", nil, 5, Forward)
	if err != nil {
		t.Fatalf("paginated log entries: %v", err)
	}
	if page.TotalCount != 0 || len(page.Entries) != 0 || page.HasMore {
		t.Fatalf("expected empty page, got %+v", page)
	}
}
