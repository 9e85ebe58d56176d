package normalizer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"swarmhive/internal/model"
	"swarmhive/internal/msgstore"
)

// fakeExecutor echoes every non-announcement stdout line as an
// AssistantMessage entry, and treats a line of exactly "SID:x" as a
// session-id announcement, for exercising the shared driver in isolation
// from any real coding agent's wire format.
type fakeExecutor struct{}

func (fakeExecutor) Name() string { return "fake" }

func (fakeExecutor) ExtractSessionID(line string) (string, bool) {
	if len(line) > 4 && line[:4] == "SID:" {
		return line[4:], true
	}
	return "", false
}

func (fakeExecutor) ProcessLine(line string, idx *IndexProvider, emit func(json.RawMessage)) {
	if len(line) > 4 && line[:4] == "SID:" {
		return // announcement line, already consumed by ExtractSessionID
	}
	entry := model.CanonicalEntry{Index: idx.Next(), Type: model.EntryAssistantMessage, Content: line}
	emit(AddEntry(entry))
}

func TestDriverRoutesStdoutAndStderr(t *testing.T) {
	log := msgstore.New(0)
	d := New(log, fakeExecutor{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	log.PushStdout("SID:abc123")
	log.PushStdout("hello")
	log.PushStderr("Connection refused")
	log.PushFinished()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		doc, err := log.MaterializeEntries()
		if err != nil {
			t.Fatalf("materialize: %v", err)
		}
		var out struct {
			Entries []model.CanonicalEntry `json:"entries"`
		}
		if err := json.Unmarshal(doc, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if len(out.Entries) == 2 {
			// The stdout and stderr loops run concurrently, so the two
			// entries may land in either order.
			var sawHello, sawError bool
			for _, e := range out.Entries {
				switch {
				case e.Type == model.EntryAssistantMessage && e.Content == "hello":
					sawHello = true
				case e.Type == model.EntryErrorMessage && e.ErrorKind == model.ErrNetworkError:
					sawError = true
				}
			}
			if !sawHello || !sawError {
				t.Fatalf("expected hello + classified network error, got %+v", out.Entries)
			}
			cancel()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	t.Fatal("timed out waiting for both entries to materialize")
}
