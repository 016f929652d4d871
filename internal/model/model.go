// Package model defines the Workflow/Task/Terminal data model shared by
// every orchestration component.
package model

import "time"

// WorkflowStatus enumerates the allowed Workflow lifecycle states.
type WorkflowStatus string

const (
	WorkflowCreated   WorkflowStatus = "created"
	WorkflowStarting  WorkflowStatus = "starting"
	WorkflowReady     WorkflowStatus = "ready"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowPaused    WorkflowStatus = "paused"
	WorkflowMerging   WorkflowStatus = "merging"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// workflowTransitions enumerates the allowed Workflow status transitions.
var workflowTransitions = map[WorkflowStatus][]WorkflowStatus{
	WorkflowCreated:   {WorkflowStarting},
	WorkflowStarting:  {WorkflowReady, WorkflowFailed},
	WorkflowReady:     {WorkflowRunning, WorkflowCancelled},
	WorkflowRunning:   {WorkflowPaused, WorkflowMerging, WorkflowCompleted, WorkflowFailed, WorkflowCancelled},
	WorkflowPaused:    {WorkflowRunning, WorkflowFailed, WorkflowCancelled},
	WorkflowMerging:   {WorkflowCompleted, WorkflowFailed},
	WorkflowCompleted: {},
	WorkflowFailed:    {},
	WorkflowCancelled: {},
}

// CanTransitionWorkflow reports whether from -> to is an allowed Workflow transition.
func CanTransitionWorkflow(from, to WorkflowStatus) bool {
	for _, allowed := range workflowTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TaskStatus enumerates the allowed Task lifecycle states.
type TaskStatus string

const (
	TaskPending       TaskStatus = "pending"
	TaskRunning       TaskStatus = "running"
	TaskReviewPending TaskStatus = "review_pending"
	TaskCompleted     TaskStatus = "completed"
	TaskFailed        TaskStatus = "failed"
	TaskCancelled     TaskStatus = "cancelled"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:       {TaskRunning, TaskFailed, TaskCancelled},
	TaskRunning:       {TaskReviewPending, TaskCompleted, TaskFailed, TaskCancelled},
	TaskReviewPending: {TaskRunning, TaskCompleted, TaskFailed, TaskCancelled},
	TaskCompleted:     {},
	TaskFailed:        {},
	TaskCancelled:     {},
}

func CanTransitionTask(from, to TaskStatus) bool {
	for _, allowed := range taskTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TerminalStatus enumerates the allowed Terminal lifecycle states.
type TerminalStatus string

const (
	TerminalNotStarted     TerminalStatus = "not_started"
	TerminalStarting       TerminalStatus = "starting"
	TerminalWaiting        TerminalStatus = "waiting"
	TerminalWorking        TerminalStatus = "working"
	TerminalCompleted      TerminalStatus = "completed"
	TerminalFailed         TerminalStatus = "failed"
	TerminalCancelled      TerminalStatus = "cancelled"
	TerminalReviewPassed   TerminalStatus = "review_passed"
	TerminalReviewRejected TerminalStatus = "review_rejected"
)

var terminalTransitions = map[TerminalStatus][]TerminalStatus{
	TerminalNotStarted:     {TerminalStarting, TerminalFailed, TerminalCancelled},
	TerminalStarting:       {TerminalWaiting, TerminalFailed, TerminalCancelled},
	TerminalWaiting:        {TerminalWorking, TerminalFailed, TerminalCancelled},
	TerminalWorking:        {TerminalCompleted, TerminalFailed, TerminalCancelled, TerminalReviewPassed, TerminalReviewRejected},
	TerminalReviewRejected: {TerminalWorking, TerminalFailed, TerminalCancelled},
	TerminalReviewPassed:   {},
	// A completed terminal can still receive a review verdict from a
	// later reviewer terminal in the same task.
	TerminalCompleted: {TerminalReviewPassed, TerminalReviewRejected},
	TerminalFailed:    {},
	TerminalCancelled: {},
}

func CanTransitionTerminal(from, to TerminalStatus) bool {
	for _, allowed := range terminalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// OrchestratorConfig configures the LLM the Orchestrator Agent calls.
type OrchestratorConfig struct {
	APIType    string
	BaseURL    string
	KeyHandle  string // opaque; resolved to a decrypted value only by Store
	Model      string
}

// ErrorTerminalConfig configures an optional terminal spawned on workflow failure.
type ErrorTerminalConfig struct {
	CLI     string
	ModelID string
}

// MergeTerminalConfig names the CLI and model used to resolve merge conflicts, if any.
type MergeTerminalConfig struct {
	CLI     string
	ModelID string
}

// Workflow is the top-level orchestration unit.
type Workflow struct {
	ID                 string
	ProjectID          string
	Name               string
	Description        string
	Status             WorkflowStatus
	TargetBranch       string
	Orchestrator       *OrchestratorConfig
	ErrorTerminal      *ErrorTerminalConfig
	MergeTerminal      *MergeTerminalConfig
	UseSlashCommands   bool
	GitWatcherEnabled  bool
	ReadyAt            *time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
}

// Task is a child of Workflow: an ordered sequence of Terminals.
type Task struct {
	ID             string
	WorkflowID     string
	ExternalTaskID string
	Name           string
	Description    string
	Branch         string
	Status         TaskStatus
	OrderIndex     int
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// Terminal is a single scheduled step within a Task.
type Terminal struct {
	ID              string
	TaskID          string
	CLIType         string
	ModelConfigID   string
	BaseURL         string
	KeyHandle       string
	Role            string
	RoleDescription string
	OrderIndex      int
	Status          TerminalStatus
	PID             int
	PTYSessionID    string
	SessionID       string
	ExecutionProcID string
	AutoConfirm     bool
	LastCommitHash  string
	LastCommitMsg   string
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// WorkflowCommand binds a workflow to an ordered slash-command preset.
type WorkflowCommand struct {
	ID           string
	WorkflowID   string
	PresetID     string
	OrderIndex   int
	CustomParams map[string]string
}

// SlashCommandPreset is a named prompt template fed to the LLM at workflow startup.
type SlashCommandPreset struct {
	ID             string
	Command        string
	Description    string
	PromptTemplate string
	IsSystem       bool
}

// GitEventRecord is the audit-trail row for every commit the watcher handles.
type GitEventRecord struct {
	ID            string
	WorkflowID    string
	TerminalID    string
	CommitHash    string
	Branch        string
	CommitMessage string
	Metadata      *CommitMetadata
	ProcessStatus string
	AgentResponse string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

// Issue is a single reviewer-reported problem from a review_reject
// metadata block.
type Issue struct {
	Severity   string `json:"severity"`
	File       string `json:"file"`
	Line       *int   `json:"line,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// CommitMetadataStatus enumerates the status values recognized in a commit's metadata block.
type CommitMetadataStatus string

const (
	MetaCompleted    CommitMetadataStatus = "completed"
	MetaReviewPass   CommitMetadataStatus = "review_pass"
	MetaReviewReject CommitMetadataStatus = "review_reject"
	MetaFailed       CommitMetadataStatus = "failed"
)

// CommitMetadata is the structured record parsed from a commit's
// ---METADATA--- trailer.
type CommitMetadata struct {
	WorkflowID       string
	TaskID           string
	TerminalID       string
	TerminalOrder    int
	CLI              string
	Model            string
	Status           CommitMetadataStatus
	Severity         string
	ReviewedTerminal string
	Issues           []Issue
	NextAction       string
}

// CompletionStatus is the terminal-completion signal derived from a
// commit's metadata.
type CompletionStatus string

const (
	CompletionNone         CompletionStatus = ""
	CompletionCompleted    CompletionStatus = "completed"
	CompletionReviewPass   CompletionStatus = "review_pass"
	CompletionReviewReject CompletionStatus = "review_reject"
	CompletionFailed       CompletionStatus = "failed"
)

// DeriveCompletionStatus maps a metadata block's status/next_action
// pair to the completion signal the watcher should publish.
func DeriveCompletionStatus(m *CommitMetadata) CompletionStatus {
	if m == nil {
		return CompletionNone
	}
	switch m.Status {
	case MetaCompleted:
		if m.NextAction == "continue" || m.NextAction == "retry" {
			return CompletionNone
		}
		return CompletionCompleted
	case MetaReviewPass:
		return CompletionReviewPass
	case MetaReviewReject:
		return CompletionReviewReject
	case MetaFailed:
		return CompletionFailed
	default:
		return CompletionNone
	}
}

// IsCheckpoint reports whether a metadata block describes a checkpoint
// commit: completed status with a continuation next_action.
func (m *CommitMetadata) IsCheckpoint() bool {
	return m != nil && m.Status == MetaCompleted && (m.NextAction == "continue" || m.NextAction == "retry")
}
