// Package tasks implements the task model with priority scoring and a
// JSONL-backed manager.
package tasks

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskType categorizes how a task entered the system and how it runs.
type TaskType string

const (
	TypeImmediate TaskType = "immediate"
	TypeTodo      TaskType = "todo"
	TypeScheduled TaskType = "scheduled"
	TypeRecurring TaskType = "recurring"
	TypeTriggered TaskType = "triggered"
	TypeDelegated TaskType = "delegated"
)

// TaskStatus is the lifecycle state.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusWaiting    TaskStatus = "waiting"
	StatusBlocked    TaskStatus = "blocked"
	StatusCompleted  TaskStatus = "completed"
	StatusCancelled  TaskStatus = "cancelled"
	StatusArchived   TaskStatus = "archived"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusArchived:
		return true
	}
	return false
}

// statusGraph enumerates the legal transitions.
var statusGraph = map[TaskStatus][]TaskStatus{
	StatusPending:    {StatusInProgress, StatusCancelled, StatusArchived},
	StatusInProgress: {StatusCompleted, StatusBlocked, StatusWaiting, StatusCancelled},
	StatusWaiting:    {StatusPending, StatusCancelled},
	StatusBlocked:    {StatusPending, StatusCancelled},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range statusGraph[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Priority is the urgency/importance/impact triple, each in [0,1].
type Priority struct {
	Urgency    float64 `json:"urgency"`
	Importance float64 `json:"importance"`
	Impact     float64 `json:"impact"`
}

// PriorityFromString maps the named bands to concrete triples.
func PriorityFromString(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "高":
		return Priority{Urgency: 0.8, Importance: 0.8, Impact: 0.6}
	case "low", "低":
		return Priority{Urgency: 0.2, Importance: 0.3, Impact: 0.2}
	default:
		return Priority{Urgency: 0.5, Importance: 0.5, Impact: 0.5}
	}
}

// base is the weighted triple in [0,1].
func (p Priority) base() float64 {
	return 0.4*p.Urgency + 0.4*p.Importance + 0.2*p.Impact
}

// Task is one unit of work the assistant tracks for the user.
type Task struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	TaskType     TaskType       `json:"task_type"`
	Status       TaskStatus     `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	DueDate      *time.Time     `json:"due_date,omitempty"`
	ScheduledAt  *time.Time     `json:"scheduled_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Priority     Priority       `json:"priority"`
	Dependencies []string       `json:"dependencies,omitempty"`
	WaitingFor   string         `json:"waiting_for,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Assignee     string         `json:"assignee,omitempty"`
}

// NewTask creates a pending todo task with an 8-character id.
func NewTask(title string) *Task {
	return &Task{
		ID:        strings.ReplaceAll(uuid.New().String(), "-", "")[:8],
		Title:     title,
		TaskType:  TypeTodo,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		Priority:  PriorityFromString("medium"),
	}
}

// PriorityScore is the 0-100 sort key: the weighted triple plus an
// overdue boost capped at +30, clamped at 100.
func (t *Task) PriorityScore(now time.Time) float64 {
	score := t.Priority.base() * 100
	if t.Overdue(now) {
		boost := now.Sub(*t.DueDate).Hours() * 2
		if boost > 30 {
			boost = 30
		}
		score += boost
	}
	if score > 100 {
		score = 100
	}
	return score
}

// PriorityBand names the band of the triple, matching the list filter
// contract: high ≥ 0.7, medium ≥ 0.4, low below.
func (t *Task) PriorityBand() string {
	switch b := t.Priority.base(); {
	case b >= 0.7:
		return "high"
	case b >= 0.4:
		return "medium"
	default:
		return "low"
	}
}

// Overdue reports whether the task is past its due date and still open.
func (t *Task) Overdue(now time.Time) bool {
	return t.DueDate != nil && now.After(*t.DueDate) && !t.Status.Terminal()
}
