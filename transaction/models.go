package transaction

import (
	"time"

	"homeflow/listing"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Open reports whether services may still be added or advanced.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusActive
}

// Role is a participant's position within a transaction.
type Role string

const (
	RoleAgent  Role = "agent"
	RoleClient Role = "client"
)

// Transaction is the working relationship created when a proposal is accepted. The client is the
// listing owner; both participants are authorized actors on its services.
type Transaction struct {
	ID          string
	ProposalID  string
	ListingID   string
	ListingType listing.Type
	ClientID    string
	AgentID     string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RoleOf resolves userID's role. ok is false when userID is not a participant.
func (t Transaction) RoleOf(userID string) (Role, bool) {
	switch {
	case userID == "":
		return "", false
	case userID == t.AgentID:
		return RoleAgent, true
	case userID == t.ClientID:
		return RoleClient, true
	}
	return "", false
}

// Counterpart returns the other participant's user id.
func (t Transaction) Counterpart(role Role) string {
	if role == RoleAgent {
		return t.ClientID
	}
	return t.AgentID
}

// CreateParams describes the accepted proposal a transaction is materialised from.
type CreateParams struct {
	ID          string
	ProposalID  string
	ListingID   string
	ListingType listing.Type
	ClientID    string
	AgentID     string
	CreatedAt   time.Time
}
