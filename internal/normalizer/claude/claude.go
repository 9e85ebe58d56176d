// Package claude implements the normalizer.Executor for Claude Code's
// `--output-format stream-json` stdout stream: system/assistant/user/result
// message kinds, tool_use/tool_result content blocks, and AskUserQuestion's
// PermissionResult-wrapped answer shape, all feeding the shared
// ActionType/ToolStatus model.
package claude

import (
	"encoding/json"
	"strings"

	"swarmhive/internal/model"
	"swarmhive/internal/normalizer"
)

type streamEvent struct {
	Type      string        `json:"type"`
	Subtype   string        `json:"subtype,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Message   *messageBlock `json:"message,omitempty"`
	Result    string        `json:"result,omitempty"`
	IsError   bool          `json:"is_error,omitempty"`
}

type messageBlock struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type openToolCall struct {
	index    int
	toolName string
	action   *model.ActionType
}

// Executor is the Claude Code normalizer. The zero value is not usable; use New.
type Executor struct {
	// toolEntries maps a tool_use_id to its open ToolUse entry, so a later
	// tool_result in a "user" message can relocate and update it in place
	// without losing the original call's name/arguments.
	toolEntries map[string]openToolCall
}

// New returns a Claude Code normalizer.Executor.
func New() *Executor {
	return &Executor{toolEntries: make(map[string]openToolCall)}
}

func (e *Executor) Name() string { return "claude" }

// ExtractSessionID recognizes the "system"/"init" event Claude Code emits
// first, carrying the session id before any conversation content.
func (e *Executor) ExtractSessionID(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return "", false
	}
	var ev streamEvent
	if err := json.Unmarshal([]byte(trimmed), &ev); err != nil {
		return "", false
	}
	if ev.Type == "system" && ev.Subtype == "init" && ev.SessionID != "" {
		return ev.SessionID, true
	}
	return "", false
}

func (e *Executor) ProcessLine(line string, idx *normalizer.IndexProvider, emit func(json.RawMessage)) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return
	}
	var ev streamEvent
	if err := json.Unmarshal([]byte(trimmed), &ev); err != nil {
		return
	}

	switch ev.Type {
	case "assistant":
		e.processAssistant(ev, idx, emit)
	case "user":
		e.processUser(ev, emit)
	case "result":
		i := idx.Next()
		entry := model.CanonicalEntry{Index: i, Type: model.EntrySystemMessage, Content: ev.Result}
		if ev.IsError {
			entry.Type = model.EntryErrorMessage
		}
		emit(normalizer.AddEntry(entry))
	}
}

func (e *Executor) processAssistant(ev streamEvent, idx *normalizer.IndexProvider, emit func(json.RawMessage)) {
	if ev.Message == nil {
		return
	}
	for _, b := range ev.Message.Content {
		switch b.Type {
		case "text":
			i := idx.Next()
			entry := model.CanonicalEntry{Index: i, Type: model.EntryAssistantMessage, Content: b.Text}
			emit(normalizer.AddEntry(entry))
		case "thinking":
			i := idx.Next()
			entry := model.CanonicalEntry{Index: i, Type: model.EntryThinking, Content: b.Thinking}
			emit(normalizer.AddEntry(entry))
		case "tool_use":
			i := idx.Next()
			var args map[string]any
			if len(b.Input) > 0 {
				_ = json.Unmarshal(b.Input, &args)
			}
			action := mapAction(b.Name, args)
			entry := model.CanonicalEntry{
				Index:    i,
				Type:     model.EntryToolUse,
				Content:  b.Name + " called",
				Action:   action,
				Status:   &model.ToolStatus{Kind: model.ToolCreated},
				Metadata: &model.EntryMetadata{ToolCallID: b.ID},
			}
			e.toolEntries[b.ID] = openToolCall{index: i, toolName: b.Name, action: action}
			emit(normalizer.AddEntry(entry))
		}
	}
}

// processUser handles tool_result content blocks.
func (e *Executor) processUser(ev streamEvent, emit func(json.RawMessage)) {
	if ev.Message == nil {
		return
	}
	for _, b := range ev.Message.Content {
		if b.Type != "tool_result" {
			continue
		}
		call, ok := e.toolEntries[b.ToolUseID]
		if !ok {
			continue
		}
		status := model.ToolStatus{Kind: model.ToolSuccess}
		if b.IsError {
			status.Kind = model.ToolFailed
		}
		var resultText string
		_ = json.Unmarshal(b.Content, &resultText)
		action := call.action
		switch action.Kind {
		case model.ActionCommandRun:
			success := !b.IsError
			action.Result = &model.CommandResult{
				ExitStatus: &model.ExitStatus{Success: success},
				Output:     resultText,
			}
		case model.ActionTool:
			action.ToolResult = resultText
		}
		entry := model.CanonicalEntry{
			Index:    call.index,
			Type:     model.EntryToolUse,
			Content:  call.toolName + " called",
			Action:   action,
			Status:   &status,
			Metadata: &model.EntryMetadata{ToolCallID: b.ToolUseID},
		}
		emit(normalizer.ReplaceEntry(call.index, entry))
		delete(e.toolEntries, b.ToolUseID)
	}
}
