package opencode

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

func TestTextEventsAccumulateByMessageID(t *testing.T) {
	e := New()
	idx := normalizer.NewIndexProvider(0)
	var patches []json.RawMessage
	emit := func(p json.RawMessage) { patches = append(patches, p) }

	first := `{"type":"text","sessionID":"ses_1","part":{"id":"p1","messageID":"m1","type":"text","text":"Hello"}}`
	if id, ok := e.ExtractSessionID(first); !ok || id != "ses_1" {
		t.Fatalf("expected inline session id on first event, got %q ok=%v", id, ok)
	}
	e.ProcessLine(first, idx, emit)
	second := `{"type":"text","sessionID":"ses_1","part":{"id":"p2","messageID":"m1","type":"text","text":", world"}}`
	if _, ok := e.ExtractSessionID(second); ok {
		t.Fatal("expected session id reported only once")
	}
	e.ProcessLine(second, idx, emit)

	if len(patches) != 2 {
		t.Fatalf("expected 2 patches, got %d", len(patches))
	}
	op, entry := decodeEntry(t, patches[0])
	if op != "add" || entry.Content != "Hello" {
		t.Fatalf("unexpected first patch: op=%s entry=%+v", op, entry)
	}
	op, entry = decodeEntry(t, patches[1])
	if op != "replace" || entry.Content != "Hello, world" {
		t.Fatalf("unexpected second patch: op=%s entry=%+v", op, entry)
	}
	if !e.sessionSeen || e.sessionID != "ses_1" {
		t.Fatalf("expected session id captured from first event")
	}
}

func TestToolCallJSONBecomesToolUseEntry(t *testing.T) {
	e := New()
	idx := normalizer.NewIndexProvider(0)
	var patches []json.RawMessage
	e.ProcessLine(`{"type":"text","sessionID":"ses_1","part":{"id":"p1","messageID":"m1","type":"text","text":"{\"name\":\"Read\",\"input\":{\"filePath\":\"test.txt\"}}"}}`,
		idx, func(p json.RawMessage) { patches = append(patches, p) })

	if len(patches) != 1 {
		t.Fatalf("expected 1 patch, got %d", len(patches))
	}
	op, entry := decodeEntry(t, patches[0])
	if op != "add" || entry.Type != model.EntryToolUse || entry.Action == nil || entry.Action.ToolName != "Read" {
		t.Fatalf("unexpected tool use entry: op=%s entry=%+v", op, entry)
	}
}

func TestStepEventsProduceNoEntries(t *testing.T) {
	e := New()
	idx := normalizer.NewIndexProvider(0)
	var patches []json.RawMessage
	e.ProcessLine(`{"type":"step_start","sessionID":"ses_1","part":{"id":"p0","messageID":"m1","type":"step-start"}}`,
		idx, func(p json.RawMessage) { patches = append(patches, p) })
	if len(patches) != 0 {
		t.Fatalf("expected no patches for step_start, got %d", len(patches))
	}
}
