package approval

import (
	"context"
	"testing"
	"time"

	"swarmhive/internal/apperr"
	"swarmhive/internal/model"
	"swarmhive/internal/msgstore"
	"swarmhive/internal/normalizer"
)

type fakeTaskStore struct {
	tasks map[string]model.Task
	exec  map[string]string // execution id -> task id
}

func (f *fakeTaskStore) TaskIDForExecution(ctx context.Context, executionID string) (string, error) {
	id, ok := f.exec[executionID]
	if !ok {
		return "", apperr.ErrNotFound
	}
	return id, nil
}

func (f *fakeTaskStore) GetTask(ctx context.Context, taskID string) (model.Task, error) {
	t, ok := f.tasks[taskID]
	if !ok {
		return model.Task{}, apperr.ErrNotFound
	}
	return t, nil
}

func (f *fakeTaskStore) UpdateTaskStatus(ctx context.Context, taskID string, status model.TaskStatus) error {
	t := f.tasks[taskID]
	t.Status = status
	f.tasks[taskID] = t
	return nil
}

func newFixture() (*Service, *fakeTaskStore, *msgstore.Log) {
	fs := &fakeTaskStore{
		tasks: map[string]model.Task{"t1": {ID: "t1", Status: model.TaskInProgress}},
		exec:  map[string]string{"e1": "t1"},
	}
	svc := New(fs)
	log := msgstore.New(0)
	svc.RegisterExecution("e1", log)
	return svc, fs, log
}

func seedToolUse(log *msgstore.Log, toolCallID string) {
	entry := model.CanonicalEntry{
		Index:    0,
		Type:     model.EntryToolUse,
		Content:  "run_tests called",
		Action:   &model.ActionType{Kind: model.ActionTool, ToolName: "run_tests"},
		Status:   &model.ToolStatus{Kind: model.ToolCreated},
		Metadata: &model.EntryMetadata{ToolCallID: toolCallID},
	}
	log.PushPatch(normalizer.AddEntry(entry))
}

func TestCreateApproveRoundTrip(t *testing.T) {
	svc, fs, log := newFixture()
	seedToolUse(log, "call-1")

	req := Request{
		ToolCallID:         "call-1",
		ExecutionProcessID: "e1",
		ToolName:           "run_tests",
		TimeoutAt:          time.Now().Add(time.Minute),
	}
	pending, ch, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if pending.EntryIndex != 0 {
		t.Fatalf("expected entry index 0, got %d", pending.EntryIndex)
	}
	if fs.tasks["t1"].Status != model.TaskInReview {
		t.Fatalf("expected task promoted to in-review, got %s", fs.tasks["t1"].Status)
	}

	status, err := svc.Respond(context.Background(), pending.ID, Response{Status: RespApproved})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if status.Kind != model.ToolCreated {
		t.Fatalf("expected approved status %q, got %q", model.ToolCreated, status.Kind)
	}

	select {
	case got := <-ch:
		if got.Kind != model.ToolCreated {
			t.Fatalf("channel delivered unexpected status %q", got.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for approval channel")
	}
	if fs.tasks["t1"].Status != model.TaskInProgress {
		t.Fatalf("expected task demoted back to in-progress, got %s", fs.tasks["t1"].Status)
	}

	if _, err := svc.Respond(context.Background(), pending.ID, Response{Status: RespApproved}); err == nil {
		t.Fatal("expected second respond to fail")
	}
}

func TestCreateDenied(t *testing.T) {
	svc, _, log := newFixture()
	seedToolUse(log, "call-2")

	req := Request{ToolCallID: "call-2", ExecutionProcessID: "e1", ToolName: "run_tests", TimeoutAt: time.Now().Add(time.Minute)}
	pending, ch, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	status, err := svc.Respond(context.Background(), pending.ID, Response{Status: RespDenied, DeniedReason: "no"})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if status.Kind != model.ToolDenied || status.DeniedReason != "no" {
		t.Fatalf("unexpected denial status: %+v", status)
	}
	<-ch
}

func TestCreateTimesOut(t *testing.T) {
	svc, _, log := newFixture()
	seedToolUse(log, "call-3")

	req := Request{ToolCallID: "call-3", ExecutionProcessID: "e1", ToolName: "run_tests", TimeoutAt: time.Now().Add(20 * time.Millisecond)}
	_, ch, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case got := <-ch:
		if got.Kind != model.ToolTimedOut {
			t.Fatalf("expected timed_out, got %q", got.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for timeout delivery")
	}
}

func TestDuplicateCreateSharesPendingApproval(t *testing.T) {
	svc, _, log := newFixture()
	seedToolUse(log, "call-5")

	req := Request{ToolCallID: "call-5", ExecutionProcessID: "e1", ToolName: "run_tests", TimeoutAt: time.Now().Add(time.Minute)}
	first, ch1, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, ch2, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second.EntryIndex != first.EntryIndex {
		t.Fatalf("expected shared entry index %d, got %d", first.EntryIndex, second.EntryIndex)
	}

	if _, err := svc.Respond(context.Background(), first.ID, Response{Status: RespApproved}); err != nil {
		t.Fatalf("respond: %v", err)
	}
	for i, ch := range []<-chan model.ToolStatus{ch1, ch2} {
		select {
		case got := <-ch:
			if got.Kind != model.ToolCreated {
				t.Fatalf("waiter %d: unexpected status %q", i, got.Kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("waiter %d never resolved", i)
		}
	}
}

func TestCreateQuestionSynthesizesEntry(t *testing.T) {
	svc, _, log := newFixture()
	// No seeded tool-use entry; a question with no prior entry synthesizes one.
	req := Request{
		ToolCallID:         "call-4",
		ExecutionProcessID: "e1",
		ToolName:           "AskUserQuestion",
		Questions:          []string{"proceed?"},
		TimeoutAt:          time.Now().Add(time.Minute),
	}
	pending, _, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if pending.EntryIndex != 0 {
		t.Fatalf("expected synthesized entry at index 0, got %d", pending.EntryIndex)
	}
	raw, err := log.MaterializeEntries()
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("expected non-empty materialized document")
	}
}
