// Package wire defines the node<->hive session protocol: one JSON object
// per WebSocket text frame, enveloped as {"type":"<tag>","data":{...}},
// with a typed payload struct per tag.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProtocolVersion is the current wire protocol version.
const ProtocolVersion = 1

// Tag identifies an envelope's payload type.
type Tag string

const (
	TagAuth             Tag = "Auth"
	TagAuthResult       Tag = "AuthResult"
	TagHeartbeat        Tag = "Heartbeat"
	TagHeartbeatAck     Tag = "HeartbeatAck"
	TagTaskAssign       Tag = "TaskAssign"
	TagTaskCancel       Tag = "TaskCancel"
	TagProjectSync      Tag = "ProjectSync"
	TagStatusRequest    Tag = "StatusRequest"
	TagLabelSync        Tag = "LabelSync"
	TagTaskSyncResponse Tag = "TaskSyncResponse"
	TagNodeRemoved      Tag = "NodeRemoved"
	TagClose            Tag = "Close"
	TagTaskStatus       Tag = "TaskStatus"
	TagTaskOutput       Tag = "TaskOutput"
	TagTaskProgress     Tag = "TaskProgress"
	TagLinkProject      Tag = "LinkProject"
	TagUnlinkProject    Tag = "UnlinkProject"
	TagAttemptSync      Tag = "AttemptSync"
	TagExecutionSync    Tag = "ExecutionSync"
	TagLogsBatch        Tag = "LogsBatch"
	TagTaskSync         Tag = "TaskSync"
	TagProjectsSync     Tag = "ProjectsSync"
	TagDeregister       Tag = "Deregister"
	TagAck              Tag = "Ack"
	TagError            Tag = "Error"
)

// Envelope is the outermost shape of every frame.
type Envelope struct {
	Type Tag             `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode wraps payload under tag, ready to send as a single text frame.
func Encode(tag Tag, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", tag, err)
	}
	env := Envelope{Type: tag, Data: data}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: encode envelope %s: %w", tag, err)
	}
	return b, nil
}

// Decode splits raw into its envelope; callers then unmarshal env.Data per
// env.Type.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("wire: decode envelope: %w", err)
	}
	return env, nil
}

// NodeStatus enumerates the Heartbeat.status values.
type NodeStatus string

const (
	StatusPending  NodeStatus = "pending"
	StatusOnline   NodeStatus = "online"
	StatusOffline  NodeStatus = "offline"
	StatusBusy     NodeStatus = "busy"
	StatusDraining NodeStatus = "draining"
)

// Capabilities describes what a node can run, sent once at Auth time.
type Capabilities struct {
	Executors          []string `json:"executors"`
	MaxConcurrentTasks int      `json:"max_concurrent_tasks"`
	OS                 string   `json:"os"`
	Arch               string   `json:"arch"`
	Version            string   `json:"version"`
}

// Auth is the first frame a node sends after the socket opens.
type Auth struct {
	APIKey          string       `json:"api_key"`
	MachineID       string       `json:"machine_id"`
	Name            string       `json:"name"`
	Capabilities    Capabilities `json:"capabilities"`
	PublicURL       string       `json:"public_url,omitempty"`
	ProtocolVersion int          `json:"protocol_version"`
}

// LinkedProject is one entry of AuthResult.linked_projects.
type LinkedProject struct {
	SwarmProjectID string `json:"swarm_project_id"`
	LocalProjectID string `json:"local_project_id,omitempty"`
	Name           string `json:"name"`
	IsOwned        bool   `json:"is_owned"`
}

// SwarmLabel is one entry of AuthResult.swarm_labels.
type SwarmLabel struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id,omitempty"`
	Name      string `json:"name"`
	Icon      string `json:"icon,omitempty"`
	Color     string `json:"color,omitempty"`
	Version   int64  `json:"version"`
	IsDeleted bool   `json:"is_deleted"`
}

// AuthResult answers Auth.
type AuthResult struct {
	Success         bool            `json:"success"`
	NodeID          string          `json:"node_id,omitempty"`
	OrganizationID  string          `json:"organization_id,omitempty"`
	Error           string          `json:"error,omitempty"`
	ProtocolVersion int             `json:"protocol_version"`
	LinkedProjects  []LinkedProject `json:"linked_projects,omitempty"`
	SwarmLabels     []SwarmLabel    `json:"swarm_labels,omitempty"`
}

// Heartbeat is sent on a 30s drift-tolerant ticker.
type Heartbeat struct {
	Status            NodeStatus `json:"status"`
	ActiveTasks       int        `json:"active_tasks"`
	AvailableCapacity int        `json:"available_capacity"`
	MemoryUsageMB     *float64   `json:"memory_usage,omitempty"`
	CPUUsagePercent   *float64   `json:"cpu_usage,omitempty"`
	Timestamp         time.Time  `json:"timestamp"`
}

// HeartbeatAck is the hive's informational reply to Heartbeat.
type HeartbeatAck struct {
	ServerTime time.Time `json:"server_time"`
}

// TaskSpec is the embedded task payload of TaskAssign.
type TaskSpec struct {
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	Executor        string `json:"executor"`
	ExecutorVariant string `json:"executor_variant,omitempty"`
	BaseBranch      string `json:"base_branch"`
}

// TaskAssign routes a new task to the node's local executor scheduler.
type TaskAssign struct {
	MessageID      string   `json:"message_id"`
	AssignmentID   string   `json:"assignment_id"`
	TaskID         string   `json:"task_id"`
	NodeProjectID  string   `json:"node_project_id"`
	LocalProjectID string   `json:"local_project_id"`
	Task           TaskSpec `json:"task"`
}

// TaskCancel asks the node to stop a running attempt.
type TaskCancel struct {
	MessageID    string `json:"message_id"`
	AssignmentID string `json:"assignment_id"`
	Reason       string `json:"reason,omitempty"`
}

// ProjectSync creates or removes a visibility-only project entry.
type ProjectSync struct {
	SwarmProjectID string `json:"swarm_project_id"`
	LocalProjectID string `json:"local_project_id,omitempty"`
	Name           string `json:"name"`
	IsNew          bool   `json:"is_new"`
}

// StatusRequest asks the node for an immediate heartbeat.
type StatusRequest struct {
	MessageID string `json:"message_id"`
}

// LabelSync carries a label creation/update/delete from the hive.
type LabelSync struct {
	SharedLabelID string `json:"shared_label_id"`
	ProjectID     string `json:"project_id,omitempty"`
	OriginNodeID  string `json:"origin_node_id"`
	Name          string `json:"name"`
	Icon          string `json:"icon,omitempty"`
	Color         string `json:"color,omitempty"`
	Version       int64  `json:"version"`
	IsDeleted     bool   `json:"is_deleted"`
}

// TaskSyncResponse correlates with an outbound TaskSync.
type TaskSyncResponse struct {
	LocalTaskID  string `json:"local_task_id"`
	SharedTaskID string `json:"shared_task_id"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
}

// NodeRemoved tells a node it (or a peer) was removed from the hive.
type NodeRemoved struct {
	NodeID string `json:"node_id"`
	Reason string `json:"reason,omitempty"`
}

// Close asks the node to disconnect cleanly.
type Close struct {
	Reason string `json:"reason,omitempty"`
}

// TaskStatus reports a task status transition upstream.
type TaskStatus struct {
	AssignmentID string `json:"assignment_id"`
	TaskID       string `json:"task_id"`
	Status       string `json:"status"`
}

// TaskOutputType enumerates the wire-visible output kinds; the
// canonical set in internal/model extends this with UI-only variants that
// never leave the node.
type TaskOutputType string

const (
	TaskOutputStdout TaskOutputType = "stdout"
	TaskOutputStderr TaskOutputType = "stderr"
	TaskOutputSystem TaskOutputType = "system"
)

// TaskOutput streams a single line of process output upstream.
type TaskOutput struct {
	AssignmentID       string         `json:"assignment_id"`
	ExecutionProcessID string         `json:"execution_process_id"`
	OutputType         TaskOutputType `json:"output_type"`
	Content            string         `json:"content"`
}

// ProgressEventType enumerates TaskProgress.event_type.
type ProgressEventType string

const (
	ProgressAgentStarted       ProgressEventType = "agent_started"
	ProgressAgentThinking      ProgressEventType = "agent_thinking"
	ProgressCodeChanges        ProgressEventType = "code_changes"
	ProgressBranchCreated      ProgressEventType = "branch_created"
	ProgressCommitted          ProgressEventType = "committed"
	ProgressPushed             ProgressEventType = "pushed"
	ProgressPullRequestCreated ProgressEventType = "pull_request_created"
	ProgressAgentFinished      ProgressEventType = "agent_finished"
	ProgressCustom             ProgressEventType = "custom"
)

// TaskProgress reports a coarse-grained milestone upstream.
type TaskProgress struct {
	AssignmentID string            `json:"assignment_id"`
	TaskID       string            `json:"task_id"`
	EventType    ProgressEventType `json:"event_type"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
}

// LinkProject asks the hive to link a local project to a swarm project.
type LinkProject struct {
	LocalProjectID string `json:"local_project_id"`
	SwarmProjectID string `json:"swarm_project_id"`
	GitRepoPath    string `json:"git_repo_path,omitempty"`
	OSType         string `json:"os_type,omitempty"`
}

// UnlinkProject reverses LinkProject.
type UnlinkProject struct {
	LocalProjectID string `json:"local_project_id"`
	SwarmProjectID string `json:"swarm_project_id"`
}

// AttemptSync reports a new or updated task attempt upstream.
type AttemptSync struct {
	AttemptID       string `json:"attempt_id"`
	AssignmentID    string `json:"assignment_id,omitempty"`
	SharedTaskID    string `json:"shared_task_id"`
	Executor        string `json:"executor"`
	ExecutorVariant string `json:"executor_variant,omitempty"`
	Branch          string `json:"branch,omitempty"`
	TargetBranch    string `json:"target_branch,omitempty"`
}

// ExecutionSync reports a new or updated execution process upstream.
type ExecutionSync struct {
	ExecutionProcessID string `json:"execution_process_id"`
	AttemptID          string `json:"attempt_id"`
	RunReason          string `json:"run_reason"`
	ExecutorAction     string `json:"executor_action"`
	BeforeHeadCommit   string `json:"before_head_commit,omitempty"`
	AfterHeadCommit    string `json:"after_head_commit,omitempty"`
	Status             string `json:"status"`
	ExitCode           *int   `json:"exit_code,omitempty"`
	PID                int    `json:"pid,omitempty"`
}

// LogEntryWire is one entry of LogsBatch.entries.
type LogEntryWire struct {
	SequenceID int64          `json:"sequence_id"`
	OutputType TaskOutputType `json:"output_type"`
	Content    string         `json:"content"`
	Timestamp  time.Time      `json:"timestamp"`
}

// MaxLogsBatchEntries caps a single LogsBatch frame.
const MaxLogsBatchEntries = 500

// LogsBatch ships one group of log entries for a single execution process.
type LogsBatch struct {
	AssignmentID       string         `json:"assignment_id"`
	ExecutionProcessID string         `json:"execution_process_id"`
	Entries            []LogEntryWire `json:"entries"`
	Compressed         bool           `json:"compressed"`
}

// TaskSync offers a task to the hive for the first time.
type TaskSync struct {
	LocalTaskID     string    `json:"local_task_id"`
	SharedTaskID    string    `json:"shared_task_id,omitempty"`
	RemoteProjectID string    `json:"remote_project_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Status          string    `json:"status"`
	Version         int64     `json:"version"`
	IsUpdate        bool      `json:"is_update"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// LocalProjectInfo is one entry of ProjectsSync.projects.
type LocalProjectInfo struct {
	LocalProjectID string `json:"local_project_id"`
	Name           string `json:"name"`
	RepoPath       string `json:"repo_path"`
}

// ProjectsSync is a full snapshot of every non-remote local project.
type ProjectsSync struct {
	Projects []LocalProjectInfo `json:"projects"`
}

// Deregister tells the hive this node is going away voluntarily.
type Deregister struct {
	Reason string `json:"reason,omitempty"`
}

// Ack acknowledges receipt of a message that carried a message_id.
type Ack struct {
	MessageID string `json:"message_id"`
}

// Error reports a protocol- or request-level failure, optionally
// correlated to a message_id.
type Error struct {
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error"`
}
