// Package model holds the persistent entities: projects, tasks, task
// attempts, execution processes, log entries, and labels. IDs are opaque
// 128-bit values (google/uuid), assigned at creation on the originating
// side.
package model

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus enumerates the statuses a Task may hold.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in-progress"
	TaskInReview   TaskStatus = "in-review"
	TaskDone       TaskStatus = "done"
	TaskCancelled  TaskStatus = "cancelled"
)

// RunReason enumerates the subordinate-process kinds of an ExecutionProcess.
type RunReason string

const (
	RunSetupScript   RunReason = "setupscript"
	RunCleanupScript RunReason = "cleanupscript"
	RunCodingAgent   RunReason = "codingagent"
	RunDevServer     RunReason = "devserver"
)

// ExecutionStatus enumerates the lifecycle of an ExecutionProcess.
type ExecutionStatus string

const (
	ExecRunning   ExecutionStatus = "running"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
	ExecKilled    ExecutionStatus = "killed"
)

// OutputType enumerates the wire-visible kinds of a LogEntry; the
// canonical set used internally extends this with UI-replay-only variants.
type OutputType string

const (
	OutputStdout          OutputType = "stdout"
	OutputStderr          OutputType = "stderr"
	OutputSystem          OutputType = "system"
	OutputJSONPatch       OutputType = "json_patch"
	OutputSessionID       OutputType = "session_id"
	OutputFinished        OutputType = "finished"
	OutputRefreshRequired OutputType = "refresh_required"
)

// NewID allocates a fresh opaque entity id.
func NewID() string { return uuid.NewString() }

// Project is a git working copy plus scripts.
type Project struct {
	ID               string
	Name             string
	RepoPath         string
	SetupScript      string
	DevScript        string
	CleanupScript    string
	CopyFiles        []string
	IsRemote         bool
	SourceNodeID     string
	SourceNodeName   string
	RemoteProjectID  string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Task is a work item scoped to a Project.
type Task struct {
	ID                 string
	ProjectID          string
	Title              string
	Description        string
	Status             TaskStatus
	ParentTaskID       string
	SharedTaskID       string
	RemoteAssigneeID   string
	RemoteAssigneeName string
	RemoteVersion      int64
	ArchivedAt         *time.Time
	ActivityAt         time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TaskAttempt is a single execution attempt of a Task.
type TaskAttempt struct {
	ID                string
	TaskID            string
	Executor          string
	ExecutorVariant   string
	Branch            string
	TargetBranch      string
	Container         string // worktree path
	WorktreeDeleted   bool
	SetupCompletedAt  *time.Time
	HiveAssignmentID  string
	HiveSyncedAt      *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ExecutionProcess is one subordinate process belonging to an attempt.
type ExecutionProcess struct {
	ID               string
	TaskAttemptID    string
	RunReason        RunReason
	ExecutorAction   string // serialized executor action JSON
	BeforeHeadCommit string
	AfterHeadCommit  string
	Status           ExecutionStatus
	ExitCode         *int
	Dropped          bool
	PID              int
	StartedAt        time.Time
	CompletedAt      *time.Time
	HiveSyncedAt     *time.Time
}

// LogEntry is one canonical conversation item.
type LogEntry struct {
	ID           int64 // sequential within execution, starting at 1
	ExecutionID  string
	OutputType   OutputType
	Content      string // for json_patch, a JSON patch document
	Timestamp    time.Time
	HiveSyncedAt *time.Time
}

// Label is a tag for visual categorization. The JSON tags are the row
// shape the hive's shape endpoint streams and the node's label
// materializer decodes.
type Label struct {
	ID           string     `json:"id"`
	OrgID        string     `json:"organization_id"`
	ProjectID    string     `json:"project_id"` // empty = organization-global "swarm label"
	OriginNodeID string     `json:"origin_node_id"`
	Name         string     `json:"name"`
	Icon         string     `json:"icon"`
	Color        string     `json:"color"`
	Version      int64      `json:"version"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// TaskVariable is a user-defined description variable attached to a task.
type TaskVariable struct {
	TaskID string
	Name   string
	Value  string
}

// SystemVariable names the runtime-only variables that override user-defined
// ones of the same name.
type SystemVariable string

const (
	VarTaskID          SystemVariable = "TASK_ID"
	VarParentTaskID    SystemVariable = "PARENT_TASK_ID"
	VarTaskTitle       SystemVariable = "TASK_TITLE"
	VarTaskDescription SystemVariable = "TASK_DESCRIPTION"
	VarTaskLabel       SystemVariable = "TASK_LABEL"
	VarProjectID       SystemVariable = "PROJECT_ID"
	VarProjectTitle    SystemVariable = "PROJECT_TITLE"
	VarIsSubtask       SystemVariable = "IS_SUBTASK"
)
