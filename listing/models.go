package listing

import "time"

// Type distinguishes a buyer's search request from a seller's property offering.
type Type string

const (
	TypeBuyer  Type = "buyer"
	TypeSeller Type = "seller"
)

// Valid reports whether t is a known listing variant.
func (t Type) Valid() bool {
	return t == TypeBuyer || t == TypeSeller
}

// Status is the lifecycle state of a listing.
type Status string

const (
	StatusActive   Status = "active"
	StatusAccepted Status = "accepted"
	StatusClosed   Status = "closed"
)

// Listing mirrors the listings table. It is created by its owner and only moves to Accepted
// through proposal acceptance.
type Listing struct {
	ID                 string
	Type               Type
	OwnerID            string
	Title              string
	Description        string
	Status             Status
	AcceptedProposalID *string
	AcceptedAgentID    *string
	AcceptedAt         *time.Time
	Preferences        Preferences
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AcceptParams enumerates the columns written when a proposal is accepted.
type AcceptParams struct {
	ListingID  string
	Type       Type
	ProposalID string
	AgentID    string
	AcceptedAt time.Time
}
