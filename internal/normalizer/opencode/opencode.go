// Package opencode implements the normalizer.Executor for OpenCode's
// `--format json` stdout stream: text events chunked by
// messageID stream into AssistantMessage entries via add-then-replace;
// embedded tool-call JSON becomes a ToolUse entry; step boundaries are
// currently informational only.
package opencode

import (
	"encoding/json"
	"strings"

	"swarmhive/internal/model"
	"swarmhive/internal/normalizer"
)

type jsonEvent struct {
	Type      string  `json:"type"`
	SessionID string  `json:"sessionID"`
	Part      jsonPart `json:"part"`
}

type jsonPart struct {
	ID        string `json:"id"`
	MessageID string `json:"messageID"`
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type toolCallJSON struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Executor is the OpenCode normalizer. The zero value is not usable; use New.
type Executor struct {
	sessionSeen bool
	sessionID   string
	// messageEntries tracks the entry index allocated for each in-flight
	// messageID so later chunks replace rather than append.
	messageEntries map[string]int
	messageText    map[string]string
}

// New returns an OpenCode normalizer.Executor.
func New() *Executor {
	return &Executor{
		messageEntries: make(map[string]int),
		messageText:    make(map[string]string),
	}
}

func (e *Executor) Name() string { return "opencode" }

// ExtractSessionID reports the session id carried inline on the first JSON
// event that has one; OpenCode has no dedicated announcement line, so the
// same event usually also carries content the driver still hands to
// ProcessLine.
func (e *Executor) ExtractSessionID(line string) (string, bool) {
	if e.sessionSeen {
		return "", false
	}
	if !strings.HasPrefix(strings.TrimSpace(line), "{") {
		return "", false
	}
	var ev jsonEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return "", false
	}
	if ev.SessionID == "" {
		return "", false
	}
	e.sessionSeen = true
	e.sessionID = ev.SessionID
	return ev.SessionID, true
}

func (e *Executor) ProcessLine(line string, idx *normalizer.IndexProvider, emit func(json.RawMessage)) {
	if !strings.HasPrefix(strings.TrimSpace(line), "{") {
		return
	}
	var ev jsonEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return // invalid JSON is skipped without logging
	}

	switch ev.Type {
	case "text":
		e.processText(ev.Part, idx, emit)
	case "step_start", "step_finish":
		// step boundaries are tracked for completeness only; no UI entry.
	}
}

func (e *Executor) processText(part jsonPart, idx *normalizer.IndexProvider, emit func(json.RawMessage)) {
	if part.Text == "" {
		return
	}
	trimmed := strings.TrimSpace(part.Text)
	if strings.HasPrefix(trimmed, "{") && strings.Contains(trimmed, `"name"`) {
		var tc toolCallJSON
		if err := json.Unmarshal([]byte(trimmed), &tc); err == nil && tc.Name != "" {
			i := idx.Next()
			var args any
			if len(tc.Input) > 0 {
				_ = json.Unmarshal(tc.Input, &args)
			}
			entry := model.CanonicalEntry{
				Index:   i,
				Type:    model.EntryToolUse,
				Content: tc.Name + " called",
				Action: &model.ActionType{
					Kind:      model.ActionTool,
					ToolName:  tc.Name,
					Arguments: toArgMap(args),
				},
				Status:   &model.ToolStatus{Kind: model.ToolCreated},
				Metadata: &model.EntryMetadata{ToolCallID: part.ID},
			}
			emit(normalizer.AddEntry(entry))
			return
		}
	}

	e.messageText[part.MessageID] += part.Text
	content := e.messageText[part.MessageID]
	entry := model.CanonicalEntry{Type: model.EntryAssistantMessage, Content: content}
	if i, ok := e.messageEntries[part.MessageID]; ok {
		entry.Index = i
		emit(normalizer.ReplaceEntry(i, entry))
		return
	}
	i := idx.Next()
	entry.Index = i
	e.messageEntries[part.MessageID] = i
	emit(normalizer.AddEntry(entry))
}

func toArgMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
