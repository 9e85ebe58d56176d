// Package msgstore implements the per-execution message store: a bounded,
// totally ordered broadcast log that subscribers replay from the beginning
// and then follow live. An append-only log with condition-variable fan-out
// rather than a latest-value snapshot, because the conversation stream
// needs ordered replay.
package msgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// Kind discriminates the five append operations a log accepts.
type Kind string

const (
	KindStdout    Kind = "stdout"
	KindStderr    Kind = "stderr"
	KindPatch     Kind = "patch"
	KindSessionID Kind = "session_id"
	KindFinished  Kind = "finished"
)

// Message is one entry of the broadcast log.
type Message struct {
	Seq     int64 // position in the log's total order, starting at 0
	Kind    Kind
	Line    string // stdout/stderr line, or the session id for KindSessionID
	Patch   json.RawMessage
}

// DefaultCapacity bounds how much history a Log retains in memory; pushes
// beyond it evict the oldest entries, which is what produces a "lag" signal
// for a subscriber that fell behind.
const DefaultCapacity = 4096

// Log is the per-execution broadcast log. The zero value is not usable; use New.
type Log struct {
	mu       sync.Mutex
	cap      int
	history  []Message
	dropped  int64 // count of messages evicted from the front
	finished bool
	notify   chan struct{} // closed and replaced on every push; see wait()
}

// New creates a Log with the given history capacity (DefaultCapacity if <= 0).
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{cap: capacity, notify: make(chan struct{})}
}

// push appends m. Appends are still accepted after PushFinished: the
// normalizer keeps emitting patches while it drains a finished stream, and
// those must land in history even though no new input will.
func (l *Log) push(m Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m.Seq = l.dropped + int64(len(l.history))
	l.history = append(l.history, m)
	if len(l.history) > l.cap {
		evict := len(l.history) - l.cap
		l.history = l.history[evict:]
		l.dropped += int64(evict)
	}
	close(l.notify)
	l.notify = make(chan struct{})
}

// PushStdout appends a stdout line.
func (l *Log) PushStdout(line string) { l.push(Message{Kind: KindStdout, Line: line}) }

// PushStderr appends a stderr line.
func (l *Log) PushStderr(line string) { l.push(Message{Kind: KindStderr, Line: line}) }

// PushPatch appends a JSON-patch document against the virtual
// {"entries": []} document.
func (l *Log) PushPatch(patch json.RawMessage) { l.push(Message{Kind: KindPatch, Patch: patch}) }

// PushSessionID appends the executor's session id once discovered.
func (l *Log) PushSessionID(id string) { l.push(Message{Kind: KindSessionID, Line: id}) }

// PushFinished appends the terminal marker and wakes every subscriber so
// they observe end-of-stream instead of blocking forever.
func (l *Log) PushFinished() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finished {
		return
	}
	l.history = append(l.history, Message{Kind: KindFinished, Seq: l.dropped + int64(len(l.history))})
	l.finished = true
	close(l.notify)
	l.notify = make(chan struct{})
}

// Snapshot returns the full retained history in order.
func (l *Log) Snapshot() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.history))
	copy(out, l.history)
	return out
}

// MaterializeEntries folds every KindPatch message into the virtual
// {"entries": []} document in order, returning the resulting JSON. This is
// the reconstruction path legacy log migration and
// newly-connecting UI clients use instead of replaying raw patches
// themselves.
func (l *Log) MaterializeEntries() ([]byte, error) {
	doc := []byte(`{"entries":[]}`)
	for _, m := range l.Snapshot() {
		if m.Kind != KindPatch {
			continue
		}
		patch, err := jsonpatch.DecodePatch(m.Patch)
		if err != nil {
			return nil, fmt.Errorf("decode patch at seq %d: %w", m.Seq, err)
		}
		next, err := patch.Apply(doc)
		if err != nil {
			return nil, fmt.Errorf("apply patch at seq %d: %w", m.Seq, err)
		}
		doc = next
	}
	return doc, nil
}

// Subscriber replays history from the beginning and then follows new pushes
// in order.
type Subscriber struct {
	log    *Log
	cursor int64
	kinds  map[Kind]bool // nil/empty means "all kinds"
}

// Subscribe returns a Subscriber. When kinds is non-empty, Next only
// delivers messages of those kinds (the stdout-lines/stderr-lines/patch
// streams), but the cursor still advances over the full total order so lag
// detection stays correct regardless of filtering.
func (l *Log) Subscribe(kinds ...Kind) *Subscriber {
	set := map[Kind]bool{}
	for _, k := range kinds {
		set[k] = true
	}
	return &Subscriber{log: l, kinds: set}
}

// ErrLagged is returned by Next when the subscriber's cursor fell behind the
// retained history window; the caller must call Resync and re-fetch a fresh
// Snapshot to recover.
var ErrLagged = fmt.Errorf("msgstore: subscriber lagged behind retained history")

// ErrClosed is returned once the log has finished and no further messages remain.
var ErrClosed = fmt.Errorf("msgstore: log finished")

// Next blocks until the next message is available, ctx is done, or the
// stream is exhausted (finished and fully drained).
func (s *Subscriber) Next(ctx context.Context) (Message, error) {
	l := s.log
	for {
		l.mu.Lock()
		if s.cursor < l.dropped {
			s.cursor = l.dropped
			l.mu.Unlock()
			return Message{}, ErrLagged
		}
		idx := s.cursor - l.dropped
		if idx < int64(len(l.history)) {
			m := l.history[idx]
			s.cursor++
			l.mu.Unlock()
			if len(s.kinds) > 0 && !s.kinds[m.Kind] {
				continue // filtered out; keep scanning without blocking
			}
			return m, nil
		}
		if l.finished {
			l.mu.Unlock()
			return Message{}, ErrClosed
		}
		wait := l.notify
		l.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Resync repositions the cursor at the oldest retained message, used after
// ErrLagged.
func (s *Subscriber) Resync() {
	l := s.log
	l.mu.Lock()
	defer l.mu.Unlock()
	s.cursor = l.dropped
}
