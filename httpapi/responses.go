package httpapi

import (
	"time"

	"homeflow/auth"
	"homeflow/listing"
	"homeflow/notification"
	"homeflow/proposal"
	"homeflow/transaction"
	"homeflow/txservice"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName"`
	Role      auth.Role `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, FullName: u.FullName, Role: u.Role, CreatedAt: u.CreatedAt}
}

type listingResponse struct {
	ID                 string              `json:"id"`
	Type               listing.Type        `json:"type"`
	OwnerID            string              `json:"ownerId"`
	Title              string              `json:"title"`
	Description        string              `json:"description"`
	Status             listing.Status      `json:"status"`
	AcceptedProposalID *string             `json:"acceptedProposalId,omitempty"`
	AcceptedAgentID    *string             `json:"acceptedAgentId,omitempty"`
	AcceptedAt         *time.Time          `json:"acceptedAt,omitempty"`
	Preferences        listing.Preferences `json:"preferences"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

func toListingResponse(l listing.Listing) listingResponse {
	return listingResponse{
		ID:                 l.ID,
		Type:               l.Type,
		OwnerID:            l.OwnerID,
		Title:              l.Title,
		Description:        l.Description,
		Status:             l.Status,
		AcceptedProposalID: l.AcceptedProposalID,
		AcceptedAgentID:    l.AcceptedAgentID,
		AcceptedAt:         l.AcceptedAt,
		Preferences:        l.Preferences,
		CreatedAt:          l.CreatedAt,
		UpdatedAt:          l.UpdatedAt,
	}
}

type proposalResponse struct {
	ID             string          `json:"id"`
	ListingID      string          `json:"listingId"`
	ListingType    listing.Type    `json:"listingType"`
	AgentID        string          `json:"agentId"`
	Terms          proposal.Terms  `json:"terms"`
	Status         proposal.Status `json:"status"`
	RejectedReason *string         `json:"rejectedReason,omitempty"`
	SubmittedAt    time.Time       `json:"submittedAt"`
	AcceptedAt     *time.Time      `json:"acceptedAt,omitempty"`
	RejectedAt     *time.Time      `json:"rejectedAt,omitempty"`
}

func toProposalResponse(p proposal.Proposal) proposalResponse {
	return proposalResponse{
		ID:             p.ID,
		ListingID:      p.ListingID,
		ListingType:    p.ListingType,
		AgentID:        p.AgentID,
		Terms:          p.Terms,
		Status:         p.Status,
		RejectedReason: p.RejectedReason,
		SubmittedAt:    p.SubmittedAt,
		AcceptedAt:     p.AcceptedAt,
		RejectedAt:     p.RejectedAt,
	}
}

func toProposalResponses(list []proposal.Proposal) []proposalResponse {
	out := make([]proposalResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toProposalResponse(p))
	}
	return out
}

type transactionResponse struct {
	ID          string             `json:"id"`
	ProposalID  string             `json:"proposalId"`
	ListingID   string             `json:"listingId"`
	ListingType listing.Type       `json:"listingType"`
	ClientID    string             `json:"clientId"`
	AgentID     string             `json:"agentId"`
	Status      transaction.Status `json:"status"`
	CreatedAt   time.Time          `json:"createdAt"`
}

func toTransactionResponse(t transaction.Transaction) transactionResponse {
	return transactionResponse{
		ID:          t.ID,
		ProposalID:  t.ProposalID,
		ListingID:   t.ListingID,
		ListingType: t.ListingType,
		ClientID:    t.ClientID,
		AgentID:     t.AgentID,
		Status:      t.Status,
		CreatedAt:   t.CreatedAt,
	}
}

type progressResponse struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Ratio     float64 `json:"ratio"`
}

type serviceResponse struct {
	ID                string           `json:"id"`
	TransactionID     string           `json:"transactionId"`
	Name              string           `json:"name"`
	Status            txservice.Status `json:"status"`
	Tasks             []txservice.Task `json:"tasks"`
	Progress          progressResponse `json:"progress"`
	AgentConfirmed    bool             `json:"agentConfirmed"`
	ClientConfirmed   bool             `json:"clientConfirmed"`
	AgentConfirmedAt  *time.Time       `json:"agentConfirmedAt,omitempty"`
	ClientConfirmedAt *time.Time       `json:"clientConfirmedAt,omitempty"`
	Rating            *int             `json:"rating,omitempty"`
	Feedback          *string          `json:"feedback,omitempty"`
	StartedAt         *time.Time       `json:"startedAt,omitempty"`
	CompletedAt       *time.Time       `json:"completedAt,omitempty"`
}

func toServiceResponse(svc txservice.Service) serviceResponse {
	p := svc.Progress()
	tasks := svc.Tasks
	if tasks == nil {
		tasks = []txservice.Task{}
	}
	return serviceResponse{
		ID:                svc.ID,
		TransactionID:     svc.TransactionID,
		Name:              svc.Name,
		Status:            svc.Status,
		Tasks:             tasks,
		Progress:          progressResponse{Completed: p.Completed, Total: p.Total, Ratio: p.Ratio()},
		AgentConfirmed:    svc.AgentConfirmed,
		ClientConfirmed:   svc.ClientConfirmed,
		AgentConfirmedAt:  svc.AgentConfirmedAt,
		ClientConfirmedAt: svc.ClientConfirmedAt,
		Rating:            svc.Rating,
		Feedback:          svc.Feedback,
		StartedAt:         svc.StartedAt,
		CompletedAt:       svc.CompletedAt,
	}
}

type notificationResponse struct {
	ID        string            `json:"id"`
	Type      notification.Type `json:"type"`
	Message   string            `json:"message"`
	ActionURL string            `json:"actionUrl,omitempty"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"createdAt"`
}

func toNotificationResponse(n notification.Notification) notificationResponse {
	return notificationResponse{
		ID:        n.ID,
		Type:      n.Type,
		Message:   n.Message,
		ActionURL: n.ActionURL,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}

// undeliveredResponse is a notification the transition could not deliver. It carries everything
// needed to send it again.
type undeliveredResponse struct {
	UserID    string            `json:"userId"`
	Type      notification.Type `json:"type"`
	Message   string            `json:"message"`
	ActionURL string            `json:"actionUrl,omitempty"`
}

// undelivered renders reqs for the response body and logs each one so it can be re-sent.
func (s *Server) undelivered(c *gin.Context, reqs []notification.Request) []undeliveredResponse {
	out := make([]undeliveredResponse, 0, len(reqs))
	for _, r := range reqs {
		s.logger.Warn("notification undelivered",
			zap.String("path", c.FullPath()),
			zap.String("user_id", r.UserID),
			zap.String("type", string(r.Type)),
			zap.String("action_url", r.ActionURL),
		)
		out = append(out, undeliveredResponse{
			UserID:    r.UserID,
			Type:      r.Type,
			Message:   r.Message,
			ActionURL: r.ActionURL,
		})
	}
	return out
}
