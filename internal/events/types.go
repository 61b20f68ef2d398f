// Package events names the hive's internal event subjects and provides the
// configured bus implementation.
package events

// Task lifecycle events, published by the task engine.
const (
	TaskCreated       = "task.created"
	TaskStatusChanged = "task.status_changed"
	TaskAssigned      = "task.assigned"
)

// Agent events, published by the supervisor.
const (
	AgentStatusChanged = "agent.status_changed"
	AgentHeartbeat     = "agent.heartbeat"
)

// Message events, published by the message bus.
const (
	MessageSent      = "message.sent"
	MessageViolation = "message.violation"
)
