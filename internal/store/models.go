package store

import (
	"time"

	"github.com/nyasuto/hive/internal/bee"
)

// TaskStatus is the task lifecycle state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions other
// than the failed -> pending retry path.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Valid reports closed-set membership.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// TaskPriority orders tasks for humans; the engine never schedules by it.
type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityMedium   TaskPriority = "medium"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

// Valid reports closed-set membership.
func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Task is the unit of delegated work.
type Task struct {
	ID           string         `db:"task_id" json:"task_id"`
	Title        string         `db:"title" json:"title"`
	Description  string         `db:"description" json:"description"`
	Status       TaskStatus     `db:"status" json:"status"`
	Priority     TaskPriority   `db:"priority" json:"priority"`
	AssignedTo   *bee.Name      `db:"assigned_to" json:"assigned_to,omitempty"`
	CreatedBy    string         `db:"created_by" json:"created_by"`
	ParentTaskID *string        `db:"parent_task_id" json:"parent_task_id,omitempty"`
	Metadata     map[string]any `db:"-" json:"metadata,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
	StartedAt    *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}

// DependencyType classifies a task dependency edge.
type DependencyType string

const (
	DepBlocks  DependencyType = "blocks"
	DepRelated DependencyType = "related"
	DepSubtask DependencyType = "subtask"
)

// Valid reports closed-set membership.
func (d DependencyType) Valid() bool {
	return d == DepBlocks || d == DepRelated || d == DepSubtask
}

// Dependency is a directed edge: TaskID depends on DependsOnTaskID.
type Dependency struct {
	TaskID          string         `db:"task_id" json:"task_id"`
	DependsOnTaskID string         `db:"depends_on_task_id" json:"depends_on_task_id"`
	Type            DependencyType `db:"dep_type" json:"type"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}

// AssignmentRole distinguishes the single primary from reviewers and
// collaborators.
type AssignmentRole string

const (
	RolePrimary      AssignmentRole = "primary"
	RoleReviewer     AssignmentRole = "reviewer"
	RoleCollaborator AssignmentRole = "collaborator"
)

// Valid reports closed-set membership.
func (r AssignmentRole) Valid() bool {
	return r == RolePrimary || r == RoleReviewer || r == RoleCollaborator
}

// AssignmentStatus tracks an assignment row's own lifecycle.
type AssignmentStatus string

const (
	AssignmentActive     AssignmentStatus = "active"
	AssignmentReassigned AssignmentStatus = "reassigned"
	AssignmentCompleted  AssignmentStatus = "completed"
)

// Assignment is an auxiliary record of who holds a task and in what capacity.
type Assignment struct {
	ID          int64            `db:"assignment_id" json:"assignment_id"`
	TaskID      string           `db:"task_id" json:"task_id"`
	Assignee    bee.Name         `db:"assignee" json:"assignee"`
	Assigner    string           `db:"assigner" json:"assigner"`
	Role        AssignmentRole   `db:"role" json:"role"`
	Status      AssignmentStatus `db:"status" json:"status"`
	AssignedAt  time.Time        `db:"assigned_at" json:"assigned_at"`
	AcceptedAt  *time.Time       `db:"accepted_at" json:"accepted_at,omitempty"`
	CompletedAt *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
}

// MessagePriority orders pending messages for delivery views.
type MessagePriority string

const (
	MsgLow    MessagePriority = "low"
	MsgNormal MessagePriority = "normal"
	MsgHigh   MessagePriority = "high"
	MsgUrgent MessagePriority = "urgent"
)

// Valid reports closed-set membership.
func (p MessagePriority) Valid() bool {
	return p == MsgLow || p == MsgNormal || p == MsgHigh || p == MsgUrgent
}

// Well-known message types. The set extends via config
// (hive.extra_message_types); unknown types are rejected at send time.
const (
	TypeInfo          = "info"
	TypeQuestion      = "question"
	TypeRequest       = "request"
	TypeResponse      = "response"
	TypeAlert         = "alert"
	TypeTaskUpdate    = "task_update"
	TypeInstruction   = "instruction"
	TypeConversation  = "conversation"
	TypeRoleInjection = "role_injection"
	TypeNotification  = "notification"
	TypeHeartbeat     = "heartbeat"
)

// Message is one persisted inter-bee exchange.
type Message struct {
	ID             int64           `db:"message_id" json:"message_id"`
	FromBee        string          `db:"from_bee" json:"from_bee"`
	ToBee          bee.Name        `db:"to_bee" json:"to_bee"`
	Type           string          `db:"message_type" json:"type"`
	Subject        string          `db:"subject" json:"subject,omitempty"`
	Content        string          `db:"content" json:"content"`
	TaskID         *string         `db:"task_id" json:"task_id,omitempty"`
	Priority       MessagePriority `db:"priority" json:"priority"`
	Processed      bool            `db:"processed" json:"processed"`
	ProcessedAt    *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	ExpiresAt      *time.Time      `db:"expires_at" json:"expires_at,omitempty"`
	ReplyTo        *int64          `db:"reply_to" json:"reply_to,omitempty"`
	SenderCLIUsed  bool            `db:"sender_cli_used" json:"sender_cli_used"`
	ConversationID *string         `db:"conversation_id" json:"conversation_id,omitempty"`
}

// AgentStatus is a bee's liveness classification.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentBusy    AgentStatus = "busy"
	AgentWaiting AgentStatus = "waiting"
	AgentOffline AgentStatus = "offline"
	AgentError   AgentStatus = "error"
)

// Valid reports closed-set membership.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentIdle, AgentBusy, AgentWaiting, AgentOffline, AgentError:
		return true
	}
	return false
}

// AgentState is the per-bee supervision row, created at init.
type AgentState struct {
	BeeName          bee.Name    `db:"bee_name" json:"bee_name"`
	Status           AgentStatus `db:"status" json:"status"`
	CurrentTaskID    *string     `db:"current_task_id" json:"current_task_id,omitempty"`
	LastActivity     time.Time   `db:"last_activity" json:"last_activity"`
	LastHeartbeat    time.Time   `db:"last_heartbeat" json:"last_heartbeat"`
	WorkloadScore    int         `db:"workload_score" json:"workload_score"`
	PerformanceScore int         `db:"performance_score" json:"performance_score"`
	Capabilities     []string    `db:"-" json:"capabilities,omitempty"`
	UpdatedAt        time.Time   `db:"updated_at" json:"updated_at"`
}

// Activity types produced by the store's write-through automation.
const (
	ActivityCreated          = "created"
	ActivityStatusChange     = "status_change"
	ActivityAssignmentChange = "assignment_change"
	ActivityNote             = "note"
)

// ActivityEntry is one append-only audit row. Never updated or deleted.
type ActivityEntry struct {
	ID           int64     `db:"activity_id" json:"activity_id"`
	TaskID       string    `db:"task_id" json:"task_id"`
	BeeName      string    `db:"bee_name" json:"bee_name"`
	ActivityType string    `db:"activity_type" json:"activity_type"`
	Description  string    `db:"description" json:"description"`
	OldValue     *string   `db:"old_value" json:"old_value,omitempty"`
	NewValue     *string   `db:"new_value" json:"new_value,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Injection outcomes recorded in the injection log.
const (
	OutcomeDelivered       = "delivered"
	OutcomeDryRun          = "dry_run"
	OutcomePaneNotFound    = "pane_not_found"
	OutcomeSessionNotFound = "session_not_found"
	OutcomeTransportError  = "transport_error"
	OutcomeCancelled       = "cancelled"
)

// InjectionLogEntry records one injector call, whatever its outcome.
type InjectionLogEntry struct {
	ID        int64          `db:"injection_id" json:"injection_id"`
	Session   string         `db:"session" json:"session"`
	Pane      string         `db:"pane" json:"pane"`
	Payload   string         `db:"payload" json:"payload"`
	Type      string         `db:"message_type" json:"type"`
	Sender    string         `db:"sender" json:"sender"`
	Metadata  map[string]any `db:"-" json:"metadata,omitempty"`
	DryRun    bool           `db:"dry_run" json:"dry_run"`
	Outcome   string         `db:"outcome" json:"outcome"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	Status     TaskStatus
	AssignedTo bee.Name
	CreatedBy  string
	Parent     string
	Limit      int
}

// ActiveTask is one row of the active_tasks view.
type ActiveTask struct {
	Task
	DependencyCount int `db:"dependency_count" json:"dependency_count"`
	ChildCount      int `db:"child_count" json:"child_count"`
}

// AgentWorkload is one row of the agent_workload view.
type AgentWorkload struct {
	BeeName           bee.Name    `db:"bee_name" json:"bee_name"`
	Status            AgentStatus `db:"status" json:"status"`
	ActiveTasks       int         `db:"active_tasks" json:"active_tasks"`
	ActiveAssignments int         `db:"active_assignments" json:"active_assignments"`
	UnreadMessages    int         `db:"unread_messages" json:"unread_messages"`
}
