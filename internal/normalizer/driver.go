// Package normalizer implements the shared log-normalization driver: each
// execution's stdout and stderr streams are normalized into canonical
// conversation entries and pushed as JSON patches onto its msgstore.Log.
// Per-executor parsing plugs in through the Executor interface; everything
// an executor doesn't need to special-case (stderr classification, session
// id bookkeeping, plain-text fallback) lives here once.
package normalizer

import (
	"context"
	"encoding/json"
	"log"

	"swarmhive/internal/classify"
	"swarmhive/internal/model"
	"swarmhive/internal/msgstore"
)

// Executor is the pluggable per-coding-agent half of the normalizer
// contract.
// Implementations live in normalizer/claude, normalizer/copilot,
// normalizer/opencode and normalizer/acp.
type Executor interface {
	// Name identifies the executor for logging.
	Name() string

	// ExtractSessionID reports the executor's session id if line carries
	// one. The shared driver records the id and still hands the line to
	// ProcessLine, since some executors carry the id inline on an event
	// that also has conversation content; executors whose announcement
	// lines carry nothing else simply ignore them in ProcessLine.
	ExtractSessionID(line string) (sessionID string, ok bool)

	// ProcessLine handles one stdout line, emitting zero or more patches
	// through emit. idx allocates entry positions for new entries;
	// replacing an existing entry uses the index returned by a prior emit.
	ProcessLine(line string, idx *IndexProvider, emit func(json.RawMessage))
}

// Driver runs the shared stdout/stderr normalization loops for one
// execution against one Executor.
type Driver struct {
	log    *msgstore.Log
	idx    *IndexProvider
	exec   Executor
	logger *log.Logger
}

// New returns a Driver. idx should start from the number of entries already
// materialized for this execution (0 for a fresh run). Warnings are
// discarded until SetLogger is called.
func New(msgLog *msgstore.Log, exec Executor, idx *IndexProvider) *Driver {
	if idx == nil {
		idx = NewIndexProvider(0)
	}
	return &Driver{log: msgLog, idx: idx, exec: exec}
}

// SetLogger directs the driver's warnings to logger instead of discarding
// them.
func (d *Driver) SetLogger(logger *log.Logger) { d.logger = logger }

// Run starts the stdout and stderr normalization loops and blocks until ctx
// is done or both streams are exhausted. Callers typically invoke this in
// its own goroutine per execution.
func (d *Driver) Run(ctx context.Context) {
	done := make(chan struct{}, 2)
	go func() { d.runStderr(ctx); done <- struct{}{} }()
	go func() { d.runStdout(ctx); done <- struct{}{} }()
	<-done
	<-done
}

// runStderr implements the fixed stderr path: every
// stderr line becomes an ErrorMessage entry, independent of executor.
func (d *Driver) runStderr(ctx context.Context) {
	sub := d.log.Subscribe(msgstore.KindStderr)
	for {
		m, err := sub.Next(ctx)
		if err == msgstore.ErrLagged {
			sub.Resync()
			continue
		}
		if err != nil {
			return
		}
		kind := classify.Classify(m.Line)
		entry := model.CanonicalEntry{
			Index:     d.idx.Next(),
			Type:      model.EntryErrorMessage,
			Content:   m.Line,
			ErrorKind: kind,
		}
		d.log.PushPatch(AddEntry(entry))
	}
}

// runStdout dispatches each stdout line to the executor, recording any
// session id it carries first and then handing the same line to
// Executor.ProcessLine.
func (d *Driver) runStdout(ctx context.Context) {
	sub := d.log.Subscribe(msgstore.KindStdout)
	for {
		m, err := sub.Next(ctx)
		if err == msgstore.ErrLagged {
			sub.Resync()
			continue
		}
		if err != nil {
			return
		}
		if sid, ok := d.exec.ExtractSessionID(m.Line); ok {
			d.log.PushSessionID(sid)
		}
		d.processLine(m.Line)
	}
}

func (d *Driver) processLine(line string) {
	defer func() {
		if r := recover(); r != nil {
			// A malformed line must not interrupt the stream.
			if d.logger != nil {
				d.logger.Printf("normalizer %s: recovered processing line: %v", d.exec.Name(), r)
			}
		}
	}()
	d.exec.ProcessLine(line, d.idx, d.log.PushPatch)
}
