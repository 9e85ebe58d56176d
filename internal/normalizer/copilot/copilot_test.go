package copilot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"swarmhive/internal/normalizer"
)

func TestExtractSessionID(t *testing.T) {
	e := New(normalizer.NewIndexProvider(0))
	id, ok := e.ExtractSessionID("[copilot-session] abc-123")
	if !ok || id != "abc-123" {
		t.Fatalf("expected session id extracted, got %q ok=%v", id, ok)
	}
	if _, ok := e.ExtractSessionID("plain output line"); ok {
		t.Fatal("expected no session id on a plain line")
	}
}

func TestProcessLineSkipsLogDirAnnouncement(t *testing.T) {
	e := New(normalizer.NewIndexProvider(0))
	var patches []json.RawMessage
	e.ProcessLine("[copilot-log-dir] /tmp/whatever", nil, func(p json.RawMessage) { patches = append(patches, p) })
	if len(patches) != 0 {
		t.Fatalf("expected log-dir line to be suppressed, got %d patches", len(patches))
	}
}

func TestWatchLogDirAnnouncesSessionID(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "state.json"), []byte(`{"sessionId":"sess-9"}`), 0o644); err != nil {
		t.Fatalf("write state file: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var lines []string
	WatchLogDir(ctx, dir, 10*time.Millisecond, func(l string) { lines = append(lines, l) })

	if len(lines) != 1 || lines[0] != "[copilot-session] sess-9" {
		t.Fatalf("expected synthesized session line, got %v", lines)
	}
}

func TestProcessLineSkipsSessionAnnouncement(t *testing.T) {
	e := New(normalizer.NewIndexProvider(0))
	var patches []json.RawMessage
	e.ProcessLine("[copilot-session] sess-9", nil, func(p json.RawMessage) { patches = append(patches, p) })
	if len(patches) != 0 {
		t.Fatalf("expected session line to be suppressed, got %d patches", len(patches))
	}
}

func TestProcessLineEmitsPlainTextEntry(t *testing.T) {
	e := New(normalizer.NewIndexProvider(0))
	var patches []json.RawMessage
	e.ProcessLine("hello from copilot", nil, func(p json.RawMessage) { patches = append(patches, p) })
	if len(patches) != 1 {
		t.Fatalf("expected one patch, got %d", len(patches))
	}
}
