package claude

import (
	"strings"

	"swarmhive/internal/model"
)

// mapAction collapses a Claude Code tool call into the shared ActionType
// shape. Tools without a dedicated variant fall back to the generic Tool
// action carrying the raw arguments.
func mapAction(name string, args map[string]any) *model.ActionType {
	str := func(key string) string {
		v, _ := args[key].(string)
		return v
	}
	switch name {
	case "Read", "NotebookRead":
		return &model.ActionType{Kind: model.ActionFileRead, Path: str("file_path")}
	case "Write":
		return &model.ActionType{
			Kind: model.ActionFileEdit,
			Path: str("file_path"),
			Changes: &model.FileChange{
				Kind:    model.FileChangeWrite,
				Content: str("content"),
			},
		}
	case "Edit", "MultiEdit", "NotebookEdit":
		return &model.ActionType{
			Kind: model.ActionFileEdit,
			Path: str("file_path"),
			Changes: &model.FileChange{
				Kind:        model.FileChangeEdit,
				UnifiedDiff: replacementDiff(str("old_string"), str("new_string")),
			},
		}
	case "Bash":
		return &model.ActionType{Kind: model.ActionCommandRun, Command: str("command")}
	case "Grep":
		return &model.ActionType{Kind: model.ActionSearch, Query: str("pattern")}
	case "Glob":
		return &model.ActionType{Kind: model.ActionSearch, Query: str("pattern")}
	case "WebSearch":
		return &model.ActionType{Kind: model.ActionSearch, Query: str("query")}
	case "WebFetch":
		return &model.ActionType{Kind: model.ActionWebFetch, URL: str("url")}
	case "Task":
		desc := str("description")
		if desc == "" {
			desc = str("prompt")
		}
		return &model.ActionType{Kind: model.ActionTaskCreate, Description: desc}
	case "ExitPlanMode", "exit_plan_mode":
		return &model.ActionType{Kind: model.ActionPlanPresentation, Plan: str("plan")}
	case "TodoWrite":
		return &model.ActionType{
			Kind:      model.ActionTodoManagement,
			Todos:     mapTodos(args["todos"]),
			Operation: "write",
		}
	default:
		return &model.ActionType{Kind: model.ActionTool, ToolName: name, Arguments: args}
	}
}

func mapTodos(v any) []model.Todo {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	todos := make([]model.Todo, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		text, _ := m["content"].(string)
		status, _ := m["status"].(string)
		todos = append(todos, model.Todo{Text: text, Status: status})
	}
	return todos
}

// replacementDiff renders an old/new string pair in unified-diff notation.
// Claude's Edit tool carries the replacement text rather than a real diff,
// so line numbers are unavailable.
func replacementDiff(oldStr, newStr string) string {
	if oldStr == "" && newStr == "" {
		return ""
	}
	var b strings.Builder
	if oldStr != "" {
		for _, l := range strings.Split(oldStr, "\n") {
			b.WriteString("-")
			b.WriteString(l)
			b.WriteString("\n")
		}
	}
	if newStr != "" {
		for _, l := range strings.Split(newStr, "\n") {
			b.WriteString("+")
			b.WriteString(l)
			b.WriteString("\n")
		}
	}
	return b.String()
}
