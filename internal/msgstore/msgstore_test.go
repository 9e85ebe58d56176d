package msgstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestSubscriberReplaysHistoryThenFollowsLive(t *testing.T) {
	l := New(0)
	l.PushStdout("line1")
	l.PushStdout("line2")

	sub := l.Subscribe()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	m, err := sub.Next(ctx)
	if err != nil || m.Line != "line1" {
		t.Fatalf("expected line1, got %+v err=%v", m, err)
	}
	m, err = sub.Next(ctx)
	if err != nil || m.Line != "line2" {
		t.Fatalf("expected line2, got %+v err=%v", m, err)
	}

	done := make(chan Message, 1)
	errCh := make(chan error, 1)
	go func() {
		m, err := sub.Next(ctx)
		done <- m
		errCh <- err
	}()
	l.PushStdout("line3")

	select {
	case m := <-done:
		if err := <-errCh; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.Line != "line3" {
			t.Fatalf("expected line3, got %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live message")
	}
}

func TestSubscriberObservesFinished(t *testing.T) {
	l := New(0)
	l.PushStdout("only")
	l.PushFinished()

	sub := l.Subscribe()
	ctx := context.Background()
	if _, err := sub.Next(ctx); err != nil {
		t.Fatalf("unexpected error on first message: %v", err)
	}
	if m, err := sub.Next(ctx); err != nil || m.Kind != KindFinished {
		t.Fatalf("expected the finished marker, got %+v err=%v", m, err)
	}
	if _, err := sub.Next(ctx); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSubscriberLagsWhenHistoryEvicted(t *testing.T) {
	l := New(2)
	sub := l.Subscribe()
	l.PushStdout("a")
	l.PushStdout("b")
	l.PushStdout("c") // evicts "a"; capacity is 2

	ctx := context.Background()
	if _, err := sub.Next(ctx); err != ErrLagged {
		t.Fatalf("expected ErrLagged, got %v", err)
	}
	sub.Resync()
	m, err := sub.Next(ctx)
	if err != nil || m.Line != "b" {
		t.Fatalf("expected resync to land on b, got %+v err=%v", m, err)
	}
}

func TestFilteredSubscriberOnlyDeliversMatchingKind(t *testing.T) {
	l := New(0)
	l.PushStdout("out")
	l.PushStderr("err")
	l.PushStdout("out2")

	sub := l.Subscribe(KindStderr)
	ctx := context.Background()
	m, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Kind != KindStderr || m.Line != "err" {
		t.Fatalf("expected stderr err line, got %+v", m)
	}
}

func TestMaterializeEntriesFoldsPatchesInOrder(t *testing.T) {
	l := New(0)
	add := json.RawMessage(`[{"op":"add","path":"/entries/-","value":{"type":"assistant_message","content":"hi"}}]`)
	replace := json.RawMessage(`[{"op":"replace","path":"/entries/0/content","value":"hi there"}]`)
	l.PushPatch(add)
	l.PushPatch(replace)

	doc, err := l.MaterializeEntries()
	if err != nil {
		t.Fatalf("materialize entries: %v", err)
	}
	var out struct {
		Entries []struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(doc, &out); err != nil {
		t.Fatalf("unmarshal materialized doc: %v", err)
	}
	if len(out.Entries) != 1 || out.Entries[0].Content != "hi there" {
		t.Fatalf("unexpected materialized doc: %+v", out)
	}
}
