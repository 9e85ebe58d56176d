// Package logmigrate is the one-shot startup migrator that replays legacy
// execution_process_logs JSONL blobs through the live normalizer and writes
// the resulting entries into log_entries: fetch the blob, feed it into a
// fresh message store, run normalization, wait with a timeout, then persist
// whatever patches came out and delete the source row.
package logmigrate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"swarmhive/internal/apperr"
	"swarmhive/internal/model"
	"swarmhive/internal/msgstore"
	"swarmhive/internal/normalizer"
	"swarmhive/internal/normalizer/acp"
	"swarmhive/internal/normalizer/claude"
	"swarmhive/internal/normalizer/copilot"
	"swarmhive/internal/normalizer/opencode"
	"swarmhive/internal/store"
)

// NormalizationTimeout bounds how long a single execution's replay may run
// before its migration is abandoned for this startup. The execution is retried on the next startup
// since migration only deletes its source row on success.
const NormalizationTimeout = 10 * time.Second

// Migrator replays legacy per-execution log blobs into canonical log_entries
// rows (one-shot at node startup, before the sync engine and shape
// consumers start).
type Migrator struct {
	store *store.Store
	log   *log.Logger
}

// New returns a Migrator. logger may be nil.
func New(s *store.Store, logger *log.Logger) *Migrator {
	if logger == nil {
		logger = log.New(log.Writer(), "logmigrate ", log.LstdFlags|log.LUTC)
	}
	return &Migrator{store: s, log: logger}
}

// Run migrates every eligible execution once. A single execution's failure
// is logged and skipped rather than returned, so one bad blob cannot block
// migration for the rest.
func (m *Migrator) Run(ctx context.Context) error {
	ids, err := m.pending(ctx)
	if err != nil {
		return fmt.Errorf("logmigrate: list pending: %w", err)
	}
	for _, id := range ids {
		if err := m.migrateOne(ctx, id); err != nil {
			m.log.Printf("logmigrate: execution %s: %v", id, err)
		}
	}
	return nil
}

// pending returns execution ids with a legacy blob, a non-running status,
// and no log_entries rows yet (idempotent: a prior successful migration
// already deleted the blob, so it never reappears here).
func (m *Migrator) pending(ctx context.Context) ([]string, error) {
	rows, err := m.store.DB().QueryContext(ctx, `
		SELECT l.execution_id
		FROM execution_process_logs l
		JOIN execution_processes e ON e.id = l.execution_id
		WHERE e.status != ?
		  AND NOT EXISTS (SELECT 1 FROM log_entries WHERE execution_id = l.execution_id)
	`, string(model.ExecRunning))
	if err != nil {
		return nil, fmt.Errorf("%w", apperr.ErrDatabase)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w", apperr.ErrDatabase)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (m *Migrator) migrateOne(ctx context.Context, executionID string) error {
	var jsonl string
	if err := m.store.DB().QueryRowContext(ctx, `
		SELECT jsonl FROM execution_process_logs WHERE execution_id = ?
	`, executionID).Scan(&jsonl); err != nil {
		return fmt.Errorf("fetch blob: %w", apperr.ErrDatabase)
	}

	exec, err := m.store.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("get execution: %w", err)
	}
	attempt, err := m.store.GetAttempt(ctx, exec.TaskAttemptID)
	if err != nil {
		return fmt.Errorf("get attempt: %w", err)
	}

	lines := strings.Split(jsonl, "\n")
	idx := normalizer.NewIndexProvider(0)
	msgLog := msgstore.New(len(lines)*2 + 16)
	ex := executorFor(attempt.Executor, idx)

	for _, raw := range lines {
		ln, ok, err := parseLegacyLine(raw)
		if err != nil {
			m.log.Printf("logmigrate: execution %s: skipping malformed line: %v", executionID, err)
			continue
		}
		if !ok {
			continue
		}
		switch ln.kind {
		case "Stdout":
			msgLog.PushStdout(ln.text)
		case "Stderr":
			msgLog.PushStderr(ln.text)
		case "JsonPatch":
			msgLog.PushPatch(ln.patch)
		}
	}
	msgLog.PushFinished()

	timeoutCtx, cancel := context.WithTimeout(ctx, NormalizationTimeout)
	defer cancel()
	driver := normalizer.New(msgLog, ex, idx)
	driver.Run(timeoutCtx)
	if timeoutCtx.Err() != nil {
		return fmt.Errorf("%w", apperr.ErrTimeout)
	}

	wrote := 0
	for _, msg := range msgLog.Snapshot() {
		var outputType model.OutputType
		var content string
		switch msg.Kind {
		case msgstore.KindPatch:
			outputType, content = model.OutputJSONPatch, string(msg.Patch)
		case msgstore.KindSessionID:
			outputType, content = model.OutputSessionID, msg.Line
		default:
			// Raw stdout/stderr lines were already consumed by the replay;
			// the finished marker describes the replay store, not the
			// execution, so neither is persisted.
			continue
		}
		if _, err := m.store.AppendLogEntry(ctx, executionID, outputType, content); err != nil {
			return fmt.Errorf("write entry: %w", err)
		}
		wrote++
	}

	if _, err := m.store.DB().ExecContext(ctx, `
		DELETE FROM execution_process_logs WHERE execution_id = ?
	`, executionID); err != nil {
		return fmt.Errorf("delete legacy blob: %w", apperr.ErrDatabase)
	}
	m.log.Printf("logmigrate: execution %s: migrated %d entries", executionID, wrote)
	return nil
}

// executorFor resolves the normalizer.Executor for an attempt's recorded
// executor name, falling back to a bare plain-text processor for anything
// unrecognized (an executor retired since the attempt ran, say) rather than
// failing the whole migration.
func executorFor(name string, idx *normalizer.IndexProvider) normalizer.Executor {
	switch name {
	case "claude":
		return claude.New()
	case "copilot":
		return copilot.New(idx)
	case "opencode":
		return opencode.New()
	case "acp":
		return acp.New()
	default:
		return &plainExecutor{plain: normalizer.NewPlainTextProcessor(idx)}
	}
}

// plainExecutor is the fallback normalizer.Executor for an executor name the
// migrator doesn't recognize: every stdout line routes through the shared
// plain-text accumulator and no session id is ever announced.
type plainExecutor struct {
	plain *normalizer.PlainTextProcessor
}

func (*plainExecutor) Name() string                          { return "plaintext" }
func (*plainExecutor) ExtractSessionID(string) (string, bool) { return "", false }
func (e *plainExecutor) ProcessLine(line string, _ *normalizer.IndexProvider, emit func(json.RawMessage)) {
	e.plain.Process(line, emit)
}
