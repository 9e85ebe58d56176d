package normalizer

import (
	"encoding/json"
	"testing"

	"swarmhive/internal/model"
)

func decodeEntry(t *testing.T, patch json.RawMessage) (op string, path string, entry model.CanonicalEntry) {
	t.Helper()
	var ops []struct {
		Op    string          `json:"op"`
		Path  string          `json:"path"`
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
	return ops[0].Op, ops[0].Path, entry
}

func TestPlainTextProcessorAccumulatesUntilBlankLine(t *testing.T) {
	p := NewPlainTextProcessor(NewIndexProvider(0))
	var patches []json.RawMessage
	emit := func(p json.RawMessage) { patches = append(patches, p) }

	p.Process("first line", emit)
	p.Process("second line", emit)
	p.Process("", emit) // blank line closes the entry
	p.Process("new entry", emit)

	if len(patches) != 3 {
		t.Fatalf("expected 3 patches, got %d", len(patches))
	}
	op, _, entry := decodeEntry(t, patches[0])
	if op != "add" || entry.Content != "first line" {
		t.Fatalf("unexpected first patch: op=%s entry=%+v", op, entry)
	}
	op, path, entry := decodeEntry(t, patches[1])
	if op != "replace" || path != "/entries/0" || entry.Content != "first line\nsecond line" {
		t.Fatalf("unexpected second patch: op=%s path=%s entry=%+v", op, path, entry)
	}
	op, _, entry = decodeEntry(t, patches[2])
	if op != "add" || entry.Content != "new entry" {
		t.Fatalf("unexpected third patch: op=%s entry=%+v", op, entry)
	}
}

func TestPlainTextProcessorStripsANSI(t *testing.T) {
	p := NewPlainTextProcessor(NewIndexProvider(0))
	var patches []json.RawMessage
	p.Process("\x1b[32mgreen text\x1b[0m", func(m json.RawMessage) { patches = append(patches, m) })
	_, _, entry := decodeEntry(t, patches[0])
	if entry.Content != "green text" {
		t.Fatalf("expected ANSI stripped, got %q", entry.Content)
	}
}
