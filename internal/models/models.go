// Package models defines the records persisted by the conversation store and
// shared between the dispatcher, the completion gateway and scheduled jobs.
package models

import (
	"fmt"
	"strings"
	"time"
)

// MessageStatus is the lifecycle state of a logged inbound message.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageProcessed MessageStatus = "processed"
	MessageError     MessageStatus = "error"
)

// TaskStatus is the coarse state of a task.
type TaskStatus string

const (
	TaskUnassigned TaskStatus = "unassigned"
	TaskPending    TaskStatus = "pending"
	TaskCompleted  TaskStatus = "completed"
)

// Valid reports whether s is one of the known task statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskUnassigned, TaskPending, TaskCompleted:
		return true
	}
	return false
}

// Priority of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority accepts the English names as well as the 高/中/低 labels the
// extraction prompt may return. Empty input yields PriorityMedium.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "medium", "中":
		return PriorityMedium, nil
	case "low", "低":
		return PriorityLow, nil
	case "high", "高":
		return PriorityHigh, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// Message is one inbound chat message together with the reply it produced.
type Message struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	GroupID   string            `json:"group_id,omitempty"`
	Type      string            `json:"type"`
	Content   string            `json:"content"`
	Response  string            `json:"response"`
	Timestamp time.Time         `json:"timestamp"`
	Status    MessageStatus     `json:"status"`
	Context   map[string]string `json:"context,omitempty"`
}

// Task is a unit of work tracked by the bot.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Assignee    string     `json:"assignee,omitempty"`
	Department  string     `json:"department,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Priority    Priority   `json:"priority"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskLog records a single mutation of a task. Entries are append-only.
type TaskLog struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	UserID    string    `json:"user_id"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskFlowStep is one department hop in a task's hand-off sequence.
// StepNumber is dense and 1-based, assigned when the flow is saved.
type TaskFlowStep struct {
	TaskID     string    `json:"task_id"`
	StepNumber int       `json:"step_number"`
	Department string    `json:"department"`
	HandlerID  string    `json:"handler_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// User is a registered chat member.
type User struct {
	LineID     string    `json:"line_id"`
	Name       string    `json:"name"`
	Department string    `json:"department"`
	Title      string    `json:"title"`
	JoinDate   time.Time `json:"join_date"`
}

// Settings holds per-user preferences.
type Settings struct {
	UserID              string    `json:"user_id"`
	NotificationEnabled bool      `json:"notification_enabled"`
	Language            string    `json:"language"`
	UpdatedAt           time.Time `json:"updated_at,omitempty"`
}

// DefaultLanguage is used when a user has no stored settings.
const DefaultLanguage = "zh-TW"

// DefaultSettings returns the settings synthesized for users that never saved any.
func DefaultSettings(userID string) *Settings {
	return &Settings{
		UserID:              userID,
		NotificationEnabled: true,
		Language:            DefaultLanguage,
	}
}

// TaskFilter narrows a task query. Zero-valued fields are ignored and all
// set fields are combined with AND.
type TaskFilter struct {
	Status       TaskStatus
	Keyword      string
	Assignee     string
	Department   string
	CreatedAfter time.Time
}

// TaskExtraction is the validated result of asking the model whether a chat
// message describes a task.
type TaskExtraction struct {
	IsTask      bool       `json:"is_task"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Assignee    string     `json:"assignee,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Priority    Priority   `json:"priority,omitempty"`
}

// TaskStats is the aggregate used by status and report renderers.
type TaskStats struct {
	Total     int
	Completed int
	Pending   int
}

// CountTasks aggregates tasks by status.
func CountTasks(tasks []Task) TaskStats {
	stats := TaskStats{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case TaskCompleted:
			stats.Completed++
		case TaskPending:
			stats.Pending++
		}
	}
	return stats
}

// CompletionRate returns completed/total*100, or 0 when there are no tasks.
func (s TaskStats) CompletionRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total) * 100
}
