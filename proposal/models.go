package proposal

import (
	"time"

	"homeflow/listing"
)

// Status is the lifecycle state of a proposal. Pending is the only non-terminal state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// ReasonAnotherAccepted is recorded on proposals rejected by the acceptance cascade.
const ReasonAnotherAccepted = "Another proposal was accepted"

// Terms is the agent's free-form offer. Pricing is deliberately absent.
type Terms struct {
	Message  string   `json:"message"`
	Services []string `json:"services"`
}

// Proposal is an agent's bid to represent a listing's owner.
type Proposal struct {
	ID             string
	ListingID      string
	ListingType    listing.Type
	AgentID        string
	Terms          Terms
	Status         Status
	RejectedReason *string
	SubmittedAt    time.Time
	AcceptedAt     *time.Time
	RejectedAt     *time.Time
	UpdatedAt      time.Time
}

// TransitionParams describes a conditional status change: it only applies while the proposal is
// still in From.
type TransitionParams struct {
	ID     string
	From   Status
	To     Status
	Reason *string
	At     time.Time
}
