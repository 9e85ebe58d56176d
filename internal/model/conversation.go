package model

import "time"

// EntryType tags a CanonicalEntry.
type EntryType string

const (
	EntryAssistantMessage EntryType = "assistant_message"
	EntryThinking         EntryType = "thinking"
	EntryToolUse          EntryType = "tool_use"
	EntryErrorMessage     EntryType = "error_message"
	EntrySystemMessage    EntryType = "system_message"
)

// ActionType is the normalized shape every executor's tool call collapses
// into.
type ActionType struct {
	Kind string `json:"kind"` // one of the constants below

	// FileRead
	Path string `json:"path,omitempty"`

	// FileEdit
	Changes *FileChange `json:"changes,omitempty"`

	// CommandRun
	Command string         `json:"command,omitempty"`
	Result  *CommandResult `json:"result,omitempty"`

	// Search
	Query string `json:"query,omitempty"`

	// WebFetch
	URL string `json:"url,omitempty"`

	// Tool (generic)
	ToolName   string         `json:"tool_name,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	ToolResult string         `json:"tool_result,omitempty"`

	// TaskCreate
	Description string `json:"description,omitempty"`

	// PlanPresentation
	Plan string `json:"plan,omitempty"`

	// TodoManagement
	Todos     []Todo `json:"todos,omitempty"`
	Operation string `json:"operation,omitempty"`

	// Other
	Other string `json:"other,omitempty"`
}

const (
	ActionFileRead         = "file_read"
	ActionFileEdit         = "file_edit"
	ActionCommandRun       = "command_run"
	ActionSearch           = "search"
	ActionWebFetch         = "web_fetch"
	ActionTool             = "tool"
	ActionTaskCreate       = "task_create"
	ActionPlanPresentation = "plan_presentation"
	ActionTodoManagement   = "todo_management"
	ActionOther            = "other"
)

// Todo is one item of a TodoManagement action.
type Todo struct {
	Text   string `json:"text"`
	Status string `json:"status"`
}

// CommandResult carries the exit status of a CommandRun action; nil while
// the command is still in flight.
type CommandResult struct {
	ExitStatus *ExitStatus `json:"exit_status,omitempty"`
	Output     string      `json:"output,omitempty"`
}

// ExitStatus is the terminal outcome of a CommandRun.
type ExitStatus struct {
	Success bool `json:"success"`
}

// FileChange describes the nature of a FileEdit action.
type FileChange struct {
	Kind           string `json:"kind"` // write | delete | rename | edit
	Content        string `json:"content,omitempty"`
	NewPath        string `json:"new_path,omitempty"`
	UnifiedDiff    string `json:"unified_diff,omitempty"`
	HasLineNumbers bool   `json:"has_line_numbers,omitempty"`
}

const (
	FileChangeWrite  = "write"
	FileChangeDelete = "delete"
	FileChangeRename = "rename"
	FileChangeEdit   = "edit"
)

// DenialSource enumerates who/what denied a tool call.
type DenialSource string

const (
	DeniedByUser   DenialSource = "user"
	DeniedByHook   DenialSource = "hook"
	DeniedByPolicy DenialSource = "policy"
	DeniedBySystem DenialSource = "system"
)

// ToolStatus is the per-tool-call lifecycle state.
type ToolStatus struct {
	Kind string `json:"kind"`

	// Denied
	DeniedReason string       `json:"denied_reason,omitempty"`
	DeniedSource DenialSource `json:"denied_source,omitempty"`

	// PendingApproval / PendingQuestion
	ApprovalID  string    `json:"approval_id,omitempty"`
	QuestionID  string    `json:"question_id,omitempty"`
	Questions   []string  `json:"questions,omitempty"`
	RequestedAt time.Time `json:"requested_at,omitempty"`
	TimeoutAt   time.Time `json:"timeout_at,omitempty"`

	// TimedOut
	WaitedSeconds *int64 `json:"waited_seconds,omitempty"`

	// Answered
	Answers map[string]string `json:"answers,omitempty"`
}

const (
	ToolCreated         = "created"
	ToolSuccess         = "success"
	ToolFailed          = "failed"
	ToolDenied          = "denied"
	ToolPendingApproval = "pending_approval"
	ToolTimedOut        = "timed_out"
	ToolPendingQuestion = "pending_question"
	ToolAnswered        = "answered"
)

// EntryMetadata carries the fields the approval service needs to relocate a
// tool-use entry later.
type EntryMetadata struct {
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// CanonicalEntry is one item of the canonical conversation.
type CanonicalEntry struct {
	Index     int            `json:"index"`
	Type      EntryType      `json:"type"`
	Content   string         `json:"content"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Action    *ActionType    `json:"action,omitempty"`
	Status    *ToolStatus    `json:"status,omitempty"`
	Metadata  *EntryMetadata `json:"metadata,omitempty"`

	// ErrorKind classifies an EntryErrorMessage entry; empty for
	// every other entry type.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
}

// ErrorKind is the result of the stderr pattern classifier.
type ErrorKind string

const (
	ErrSetupRequired      ErrorKind = "setup_required"
	ErrRateLimited        ErrorKind = "rate_limited"
	ErrNetworkError       ErrorKind = "network_error"
	ErrPermissionDenied   ErrorKind = "permission_denied"
	ErrToolExecutionError ErrorKind = "tool_execution_error"
	ErrAPIError           ErrorKind = "api_error"
	ErrOther              ErrorKind = "other"
)
