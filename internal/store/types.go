package store

import (
	"encoding/json"
	"time"
)

type TaskStatus string

const (
	TaskStatusIdeas    TaskStatus = "ideas"
	TaskStatusTodo     TaskStatus = "todo"
	TaskStatusDoing    TaskStatus = "doing"
	TaskStatusReview   TaskStatus = "review"
	TaskStatusRelease  TaskStatus = "release"
	TaskStatusDone     TaskStatus = "done"
	TaskStatusArchived TaskStatus = "archived"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusIdeas, TaskStatusTodo, TaskStatusDoing, TaskStatusReview,
		TaskStatusRelease, TaskStatusDone, TaskStatusArchived:
		return true
	}
	return false
}

type SessionStatus string

const (
	SessionStatusIdle    SessionStatus = "idle"
	SessionStatusRunning SessionStatus = "running"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

func (s ApprovalStatus) Valid() bool {
	return s == ApprovalStatusPending || s == ApprovalStatusApproved || s == ApprovalStatusRejected
}

type ChecklistState string

const (
	ChecklistStateTodo  ChecklistState = "todo"
	ChecklistStateDoing ChecklistState = "doing"
	ChecklistStateDone  ChecklistState = "done"
)

func (s ChecklistState) Valid() bool {
	return s == ChecklistStateTodo || s == ChecklistStateDoing || s == ChecklistStateDone
}

type Board struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
}

type Agent struct {
	ID          string    `json:"id"`
	ExternalID  string    `json:"external_id"`
	DisplayName string    `json:"display_name"`
	Enabled     bool      `json:"enabled"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
}

type Task struct {
	ID          string     `json:"id"`
	BoardID     string     `json:"board_id"`
	WorkspaceID string     `json:"workspace_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	Position    int        `json:"position"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskPatch carries the optional fields of a task update. Nil means unchanged.
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *TaskStatus
	Position    *int
}

type TaskSession struct {
	ID         string        `json:"id"`
	TaskID     string        `json:"task_id"`
	AgentID    string        `json:"agent_id,omitempty"`
	SessionKey string        `json:"session_key"`
	Status     SessionStatus `json:"status"`
	LastRunID  string        `json:"last_run_id,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

type Run struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	BoardID     string     `json:"board_id"`
	TaskID      string     `json:"task_id"`
	AgentLabel  string     `json:"agent_label"`
	Mode        string     `json:"mode"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	IsStuck     bool       `json:"is_stuck"`
	Steps       []RunStep  `json:"steps"`
}

type RunStep struct {
	ID         string          `json:"id"`
	RunID      string          `json:"run_id"`
	StepIndex  int             `json:"step_index"`
	Kind       string          `json:"kind"`
	Status     RunStatus       `json:"status"`
	Input      json.RawMessage `json:"input"`
	Output     json.RawMessage `json:"output"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// RunFilter selects runs for the run listings. StuckMinutes sets the age
// after which a running run is flagged stuck; StuckOnly keeps only those.
type RunFilter struct {
	TaskID       string
	Status       RunStatus
	StuckMinutes int
	StuckOnly    bool
	Limit        int
}

type Approval struct {
	ID             string         `json:"id"`
	RunID          string         `json:"run_id"`
	StepID         string         `json:"step_id,omitempty"`
	TaskID         string         `json:"task_id"`
	Status         ApprovalStatus `json:"status"`
	Title          string         `json:"title"`
	Body           string         `json:"body"`
	RequestedBy    string         `json:"requested_by"`
	DecidedBy      string         `json:"decided_by,omitempty"`
	DecisionReason string         `json:"decision_reason,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	DecidedAt      *time.Time     `json:"decided_at,omitempty"`
}

type ChecklistItem struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id"`
	Position  int            `json:"position"`
	Text      string         `json:"text"`
	State     ChecklistState `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewChecklistItem is one entry of a wholesale checklist replacement.
type NewChecklistItem struct {
	Text  string
	State ChecklistState
}

type Doc struct {
	Key       string    `json:"key"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}
