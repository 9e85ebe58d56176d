package acp

import (
	"encoding/json"
	"testing"

	"swarmhive/internal/model"
	"swarmhive/internal/normalizer"
)

func decodeEntry(t *testing.T, patch json.RawMessage) (op string, entry model.CanonicalEntry) {
	t.Helper()
	var ops []struct {
		Op    string          `json:"op"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(patch, &ops); err != nil {
		t.Fatalf("decode patch: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("expected single op, got %d", len(ops))
	}
	if err := json.Unmarshal(ops[0].Value, &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	return ops[0].Op, entry
}

func TestExtractSessionIDRecognizesSessionStart(t *testing.T) {
	e := New()
	id, ok := e.ExtractSessionID(`{"type":"session_start","session_id":"sess-1"}`)
	if !ok || id != "sess-1" {
		t.Fatalf("expected session id sess-1, got %q ok=%v", id, ok)
	}
	if _, ok := e.ExtractSessionID(`{"type":"agent_message","text":"hi"}`); ok {
		t.Fatalf("expected non-session-start line to report no session id")
	}
}

func TestAgentMessageChunksCoalesce(t *testing.T) {
	e := New()
	idx := normalizer.NewIndexProvider(0)
	var patches []json.RawMessage
	emit := func(p json.RawMessage) { patches = append(patches, p) }

	e.ProcessLine(`{"type":"agent_message","text":"Hello"}`, idx, emit)
	e.ProcessLine(`{"type":"agent_message","text":", world"}`, idx, emit)

	if len(patches) != 2 {
		t.Fatalf("expected 2 patches, got %d", len(patches))
	}
	op, entry := decodeEntry(t, patches[0])
	if op != "add" || entry.Type != model.EntryAssistantMessage || entry.Content != "Hello" {
		t.Fatalf("unexpected first patch: op=%s entry=%+v", op, entry)
	}
	op, entry = decodeEntry(t, patches[1])
	if op != "replace" || entry.Content != "Hello, world" {
		t.Fatalf("unexpected second patch: op=%s entry=%+v", op, entry)
	}
}

func TestAgentThoughtInterruptsAssistantStreaming(t *testing.T) {
	e := New()
	idx := normalizer.NewIndexProvider(0)
	var patches []json.RawMessage
	emit := func(p json.RawMessage) { patches = append(patches, p) }

	e.ProcessLine(`{"type":"agent_message","text":"partial"}`, idx, emit)
	e.ProcessLine(`{"type":"agent_thought","text":"thinking..."}`, idx, emit)
	e.ProcessLine(`{"type":"agent_message","text":"new message"}`, idx, emit)

	if len(patches) != 3 {
		t.Fatalf("expected 3 patches, got %d", len(patches))
	}
	_, thought := decodeEntry(t, patches[1])
	if thought.Type != model.EntryThinking || thought.Content != "thinking..." {
		t.Fatalf("unexpected thought entry: %+v", thought)
	}
	op, msg := decodeEntry(t, patches[2])
	if op != "add" || msg.Content != "new message" {
		t.Fatalf("expected a fresh assistant entry after the thought interrupted streaming, got op=%s entry=%+v", op, msg)
	}
}

func TestExecuteToolCallProgressesThroughStatuses(t *testing.T) {
	e := New()
	idx := normalizer.NewIndexProvider(0)
	var patches []json.RawMessage
	emit := func(p json.RawMessage) { patches = append(patches, p) }

	e.ProcessLine(`{"type":"tool_call","tool_call":{"id":"exec-1","kind":"execute","title":"go test./... [current working directory /repo]","status":"pending"}}`, idx, emit)
	e.ProcessLine(`{"type":"tool_call_update","tool_call":{"id":"exec-1","status":"completed","content":[{"type":"text","text":"ok"}]}}`, idx, emit)

	if len(patches) != 2 {
		t.Fatalf("expected 2 patches, got %d", len(patches))
	}
	op, entry := decodeEntry(t, patches[0])
	if op != "add" || entry.Action == nil || entry.Action.Kind != model.ActionCommandRun || entry.Action.Command != "go test./..." {
		t.Fatalf("unexpected create patch: op=%s entry=%+v", op, entry)
	}
	if entry.Status == nil || entry.Status.Kind != model.ToolCreated {
		t.Fatalf("expected pending status to map to created, got %+v", entry.Status)
	}
	op, entry = decodeEntry(t, patches[1])
	if op != "replace" || entry.Action.Result == nil || !entry.Action.Result.ExitStatus.Success {
		t.Fatalf("unexpected completion patch: op=%s entry=%+v", op, entry)
	}
	if entry.Status.Kind != model.ToolSuccess {
		t.Fatalf("expected completed status to map to success, got %+v", entry.Status)
	}
}

func TestEditToolCallWithDiffContent(t *testing.T) {
	e := New()
	idx := normalizer.NewIndexProvider(0)
	var patches []json.RawMessage
	e.ProcessLine(`{"type":"tool_call","tool_call":{"id":"edit-1","kind":"edit","title":"main.go","path":"main.go","status":"completed","content":[{"type":"diff","path":"main.go","old_text":"a","new_text":"b"}]}}`,
		idx, func(p json.RawMessage) { patches = append(patches, p) })

	_, entry := decodeEntry(t, patches[0])
	if entry.Action.Kind != model.ActionFileEdit || entry.Action.Changes == nil || entry.Action.Changes.Kind != model.FileChangeEdit {
		t.Fatalf("unexpected file edit action: %+v", entry.Action)
	}
}

func TestPlanEventListsEntries(t *testing.T) {
	e := New()
	idx := normalizer.NewIndexProvider(0)
	var patches []json.RawMessage
	e.ProcessLine(`{"type":"plan","plan":{"entries":[{"content":"write tests"},{"content":"ship it"}]}}`,
		idx, func(p json.RawMessage) { patches = append(patches, p) })

	_, entry := decodeEntry(t, patches[0])
	if entry.Type != model.EntrySystemMessage || entry.Content != "Plan:\n1. write tests\n2. ship it\n" {
		t.Fatalf("unexpected plan entry: %+v", entry)
	}
}

func TestErrorEventBecomesErrorMessage(t *testing.T) {
	e := New()
	idx := normalizer.NewIndexProvider(0)
	var patches []json.RawMessage
	e.ProcessLine(`{"type":"error","message":"boom"}`, idx, func(p json.RawMessage) { patches = append(patches, p) })

	_, entry := decodeEntry(t, patches[0])
	if entry.Type != model.EntryErrorMessage || entry.Content != "boom" {
		t.Fatalf("unexpected error entry: %+v", entry)
	}
}
