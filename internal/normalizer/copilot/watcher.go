package copilot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Copilot never prints its session id to stdout; it lands in a state file
// under the CLI's debug-log directory. WatchLogDir polls that directory
// until the id appears, then synthesizes the prefixed announcement line
// back into the stdout stream so the shared driver's session-id path
// handles Copilot like every other executor.

type sessionState struct {
	SessionID string `json:"sessionId"`
}

// DefaultWatchInterval is the poll cadence for the session-state file.
const DefaultWatchInterval = 250 * time.Millisecond

// WatchLogDir polls logDir every interval (DefaultWatchInterval if <= 0)
// for a JSON file carrying a sessionId, pushing one synthesized
// "[copilot-session] <id>" line through pushStdout and returning once
// found, or when ctx is done.
func WatchLogDir(ctx context.Context, logDir string, interval time.Duration, pushStdout func(string)) {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if id, ok := findSessionID(logDir); ok {
			pushStdout(sessionPrefix + id)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// findSessionID scans logDir's JSON files newest-first for a sessionId.
func findSessionID(logDir string) (string, bool) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return "", false
	}
	type candidate struct {
		path string
		mod  time.Time
	}
	var files []candidate
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{path: filepath.Join(logDir, e.Name()), mod: info.ModTime()})
	}
	for i := range files {
		newest := i
		for j := i + 1; j < len(files); j++ {
			if files[j].mod.After(files[newest].mod) {
				newest = j
			}
		}
		files[i], files[newest] = files[newest], files[i]
		raw, err := os.ReadFile(files[i].path)
		if err != nil {
			continue
		}
		var st sessionState
		if json.Unmarshal(raw, &st) == nil && st.SessionID != "" {
			return st.SessionID, true
		}
	}
	return "", false
}
