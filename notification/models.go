package notification

import "time"

// Type tags the workflow transition that produced a notification.
type Type string

const (
	TypeProposalSubmitted    Type = "proposal_submitted"
	TypeProposalAccepted     Type = "proposal_accepted"
	TypeProposalRejected     Type = "proposal_rejected"
	TypeProposalAutoRejected Type = "proposal_auto_rejected"
	TypeServiceStarted       Type = "service_started"
	TypeTaskCompleted        Type = "task_completed"
	TypeServiceConfirmed     Type = "service_confirmed"
	TypeServiceCompleted     Type = "service_completed"
)

// Notification is an append-only inbox record. Only Read ever changes after insert.
type Notification struct {
	ID        string
	UserID    string
	Type      Type
	Message   string
	ActionURL string
	Read      bool
	CreatedAt time.Time
}

// Request is a notification that has not been persisted yet.
type Request struct {
	UserID    string
	Type      Type
	Message   string
	ActionURL string
}
