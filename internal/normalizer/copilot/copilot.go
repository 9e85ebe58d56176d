// Package copilot implements the normalizer.Executor for GitHub Copilot
// CLI: session ids and the
// debug-log directory path arrive as synthesized, prefixed stdout lines
// ("[copilot-session] ", "[copilot-log-dir] "); everything else is plain
// text fed through the shared PlainTextProcessor.
package copilot

import (
	"encoding/json"
	"strings"

	"swarmhive/internal/normalizer"
)

const (
	sessionPrefix = "[copilot-session] "
	logDirPrefix  = "[copilot-log-dir] "
)

// Executor is the Copilot normalizer. The zero value is not usable; use New.
type Executor struct {
	plain *normalizer.PlainTextProcessor
}

// New returns a Copilot normalizer.Executor allocating entry indices from idx.
func New(idx *normalizer.IndexProvider) *Executor {
	return &Executor{plain: normalizer.NewPlainTextProcessor(idx)}
}

func (e *Executor) Name() string { return "copilot" }

// ExtractSessionID recognizes the session-announcement line copilot's log
// file watcher synthesizes onto stdout once it finds the session's log file.
func (e *Executor) ExtractSessionID(line string) (string, bool) {
	if rest, ok := strings.CutPrefix(line, sessionPrefix); ok {
		return strings.TrimSpace(rest), true
	}
	return "", false
}

// ProcessLine strips the session and log-dir announcements (consumed by
// ExtractSessionID and the execution's sandbox respectively, not part of
// the conversation) and otherwise routes the line through the shared
// plain-text processor.
func (e *Executor) ProcessLine(line string, idx *normalizer.IndexProvider, emit func(json.RawMessage)) {
	if strings.HasPrefix(line, sessionPrefix) || strings.HasPrefix(line, logDirPrefix) {
		return
	}
	e.plain.Process(line, emit)
}
