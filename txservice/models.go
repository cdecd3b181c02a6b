package txservice

import (
	"time"

	"homeflow/transaction"
)

// Status is the lifecycle state of a service.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Assignee names who may complete a task.
type Assignee string

const (
	AssigneeAgent  Assignee = "agent"
	AssigneeClient Assignee = "client"
	AssigneeBoth   Assignee = "both"
)

// Valid reports whether a names a participant.
func (a Assignee) Valid() bool {
	return a == AssigneeAgent || a == AssigneeClient || a == AssigneeBoth
}

// Allows reports whether a participant with role may toggle a task assigned to a.
func (a Assignee) Allows(role transaction.Role) bool {
	switch a {
	case AssigneeBoth:
		return role == transaction.RoleAgent || role == transaction.RoleClient
	case AssigneeAgent:
		return role == transaction.RoleAgent
	case AssigneeClient:
		return role == transaction.RoleClient
	}
	return false
}

// TaskStatus is pending or completed.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
)

// Task is an atomic unit of work owned by exactly one service.
type Task struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Assignee    Assignee   `json:"assignee"`
	Status      TaskStatus `json:"status"`
	CompletedBy *string    `json:"completedBy,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

// Service is a deliverable within a transaction. Status is completed exactly when both
// confirmation flags are set.
type Service struct {
	ID                string
	TransactionID     string
	Name              string
	Status            Status
	Tasks             []Task
	AgentConfirmed    bool
	ClientConfirmed   bool
	AgentConfirmedAt  *time.Time
	ClientConfirmedAt *time.Time
	Rating            *int
	Feedback          *string
	StartedAt         *time.Time
	CompletedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Progress is completed tasks over total tasks. It is always derived and never stored.
type Progress struct {
	Completed int
	Total     int
}

// Ratio returns the completed fraction; a service without tasks reports 0.
func (p Progress) Ratio() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Completed) / float64(p.Total)
}

// Progress counts completed tasks.
func (s Service) Progress() Progress {
	p := Progress{Total: len(s.Tasks)}
	for _, t := range s.Tasks {
		if t.Status == TaskCompleted {
			p.Completed++
		}
	}
	return p
}

// AllTasksCompleted is false for a service without tasks.
func (s Service) AllTasksCompleted() bool {
	p := s.Progress()
	return p.Total > 0 && p.Completed == p.Total
}

// Confirmed reports the flag belonging to role.
func (s Service) Confirmed(role transaction.Role) bool {
	if role == transaction.RoleAgent {
		return s.AgentConfirmed
	}
	return s.ClientConfirmed
}

func (s Service) clone() Service {
	out := s
	out.Tasks = make([]Task, len(s.Tasks))
	copy(out.Tasks, s.Tasks)
	return out
}

// TaskInput describes a task at service creation.
type TaskInput struct {
	Title       string
	Description string
	Assignee    Assignee
	Deadline    *time.Time
}
