package proposal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"homeflow/apperr"
	"homeflow/listing"
	"homeflow/notification"
	"homeflow/transaction"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Notifier delivers workflow notifications and returns the requests it could not deliver.
type Notifier interface {
	DispatchAll(ctx context.Context, reqs ...notification.Request) []notification.Request
}

// OutboxWriter enqueues an integration event inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Manager owns the proposal lifecycle: submission, rejection and the acceptance cascade.
type Manager struct {
	pool         TxBeginner
	proposals    Repository
	listings     listing.Repository
	transactions transaction.Repository
	notifier     Notifier
	outbox       OutboxWriter
	logger       *zap.Logger
	now          func() time.Time
	idGen        func() string
}

// NewManager wires the proposal lifecycle over the given repositories. Notifications go through notifier.
func NewManager(pool TxBeginner, proposals Repository, listings listing.Repository, transactions transaction.Repository, notifier Notifier) *Manager {
	return &Manager{
		pool:         pool,
		proposals:    proposals,
		listings:     listings,
		transactions: transactions,
		notifier:     notifier,
		logger:       zap.NewNop(),
		now:          time.Now,
		idGen:        func() string { return uuid.NewString() },
	}
}

// WithOutbox enables the proposal.accepted event.
func (m *Manager) WithOutbox(w OutboxWriter) *Manager {
	m.outbox = w
	return m
}

// WithLogger sets the logger.
func (m *Manager) WithLogger(logger *zap.Logger) *Manager {
	m.logger = logger
	return m
}

// WithClock overrides the time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// WithIDGenerator overrides how proposal and transaction ids are minted.
func (m *Manager) WithIDGenerator(gen func() string) *Manager {
	m.idGen = gen
	return m
}

// SubmitParams carries an agent's proposal for a listing.
type SubmitParams struct {
	ListingID   string
	ListingType listing.Type
	AgentID     string
	Terms       Terms
}

// SubmitResult holds the stored proposal and any notification that could not be delivered.
type SubmitResult struct {
	Proposal    Proposal
	Undelivered []notification.Request
}

// AcceptResult reports the committed acceptance plus the outcome of the best-effort cascade.
// CascadeComplete is false when some sibling proposals could not be rejected; CascadeRejections
// finishes the job.
type AcceptResult struct {
	Proposal        Proposal
	Listing         listing.Listing
	Transaction     transaction.Transaction
	Rejected        []Proposal
	CascadeComplete bool
	Undelivered     []notification.Request
}

// RejectResult holds the rejected proposal and any undelivered notification.
type RejectResult struct {
	Proposal    Proposal
	Undelivered []notification.Request
}

// CascadeResult lists the proposals a cascade run rejected. Complete is false when some failed.
type CascadeResult struct {
	Rejected    []Proposal
	Complete    bool
	Undelivered []notification.Request
}

// Submit records a pending proposal from an agent on an active listing and tells the owner.
func (m *Manager) Submit(ctx context.Context, params SubmitParams) (SubmitResult, error) {
	if params.AgentID == "" {
		return SubmitResult{}, apperr.InvalidInput("agent_required", "agent id is required")
	}
	if params.ListingID == "" {
		return SubmitResult{}, apperr.InvalidInput("listing_required", "listing id is required")
	}
	if !params.ListingType.Valid() {
		return SubmitResult{}, apperr.InvalidInput("listing_type_invalid", "listing type must be buyer or seller")
	}

	l, err := m.listings.GetByID(ctx, params.ListingID, params.ListingType)
	if err != nil {
		return SubmitResult{}, translateListing(err, params.ListingID)
	}
	if l.OwnerID == params.AgentID {
		return SubmitResult{}, apperr.Unauthorized("listing", l.ID, "agent other than the owner")
	}
	if l.Status != listing.StatusActive {
		return SubmitResult{}, apperr.InvalidState("listing_not_active", "listing", l.ID, string(l.Status))
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return SubmitResult{}, apperr.Unavailable("submit proposal: begin tx", err)
	}
	defer tx.Rollback(ctx)

	created, err := m.proposals.Create(ctx, tx, Proposal{
		ID:          m.idGen(),
		ListingID:   l.ID,
		ListingType: l.Type,
		AgentID:     params.AgentID,
		Terms:       normalizeTerms(params.Terms),
		Status:      StatusPending,
		SubmittedAt: m.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, ErrDuplicatePending) {
			return SubmitResult{}, apperr.InvalidState("duplicate_proposal", "listing", l.ID, "already has a pending proposal from this agent")
		}
		return SubmitResult{}, apperr.Unavailable("submit proposal", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return SubmitResult{}, apperr.Unavailable("submit proposal: commit", err)
	}

	undelivered := m.notify(ctx, notification.Request{
		UserID:    l.OwnerID,
		Type:      notification.TypeProposalSubmitted,
		Message:   fmt.Sprintf("New proposal received for %q", l.Title),
		ActionURL: proposalURL(created),
	})
	return SubmitResult{Proposal: created, Undelivered: undelivered}, nil
}

// Accept transitions a pending proposal to accepted on behalf of the listing owner. The proposal,
// the listing and the new transaction commit together; rejecting the remaining pending proposals
// happens afterwards and is reported, not rolled back, when it fails part way.
func (m *Manager) Accept(ctx context.Context, proposalID, actingUserID string) (AcceptResult, error) {
	current, err := m.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return AcceptResult{}, translateProposal(err, proposalID)
	}
	owned, err := m.listings.GetByID(ctx, current.ListingID, current.ListingType)
	if err != nil {
		return AcceptResult{}, translateListing(err, current.ListingID)
	}
	if owned.OwnerID != actingUserID {
		return AcceptResult{}, apperr.Unauthorized("proposal", proposalID, "listing owner")
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return AcceptResult{}, apperr.Unavailable("accept proposal: begin tx", err)
	}
	defer tx.Rollback(ctx)

	// Listing first, then proposal: every path that locks both uses this order.
	l, err := m.listings.GetForUpdate(ctx, tx, owned.ID, owned.Type)
	if err != nil {
		return AcceptResult{}, translateListing(err, owned.ID)
	}
	p, err := m.proposals.GetForUpdate(ctx, tx, proposalID)
	if err != nil {
		return AcceptResult{}, translateProposal(err, proposalID)
	}
	if p.Status != StatusPending {
		return AcceptResult{}, apperr.InvalidState("proposal_not_pending", "proposal", p.ID, string(p.Status))
	}
	if l.Status != listing.StatusActive {
		return AcceptResult{}, apperr.InvalidState("listing_not_active", "listing", l.ID, string(l.Status))
	}

	at := m.now().UTC()
	accepted, err := m.proposals.Transition(ctx, tx, TransitionParams{ID: p.ID, From: StatusPending, To: StatusAccepted, At: at})
	if err != nil {
		return AcceptResult{}, translateProposal(err, p.ID)
	}
	updated, err := m.listings.MarkAccepted(ctx, tx, listing.AcceptParams{
		ListingID:  l.ID,
		Type:       l.Type,
		ProposalID: p.ID,
		AgentID:    p.AgentID,
		AcceptedAt: at,
	})
	if err != nil {
		return AcceptResult{}, translateListing(err, l.ID)
	}
	txn, err := m.transactions.CreateFromProposal(ctx, tx, transaction.CreateParams{
		ID:          m.idGen(),
		ProposalID:  p.ID,
		ListingID:   l.ID,
		ListingType: l.Type,
		ClientID:    l.OwnerID,
		AgentID:     p.AgentID,
		CreatedAt:   at,
	})
	if err != nil {
		return AcceptResult{}, apperr.Unavailable("accept proposal: create transaction", err)
	}
	if m.outbox != nil {
		if err := m.outbox.Enqueue(ctx, tx, "proposal.accepted", map[string]any{
			"proposal_id":    p.ID,
			"listing_id":     l.ID,
			"listing_type":   string(l.Type),
			"transaction_id": txn.ID,
			"agent_id":       p.AgentID,
			"client_id":      l.OwnerID,
		}); err != nil {
			return AcceptResult{}, apperr.Unavailable("accept proposal: enqueue event", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return AcceptResult{}, apperr.Unavailable("accept proposal: commit", err)
	}

	result := AcceptResult{
		Proposal:        accepted,
		Listing:         updated,
		Transaction:     txn,
		CascadeComplete: true,
	}

	rejected, cascadeErr := m.cascade(ctx, updated)
	result.Rejected = rejected
	if cascadeErr != nil {
		result.CascadeComplete = false
		m.logger.Error("acceptance cascade incomplete",
			zap.String("listing_id", updated.ID),
			zap.String("proposal_id", accepted.ID),
			zap.Int("rejected", len(rejected)),
			zap.Error(cascadeErr),
		)
	}

	reqs := make([]notification.Request, 0, len(rejected)+1)
	reqs = append(reqs, notification.Request{
		UserID:    accepted.AgentID,
		Type:      notification.TypeProposalAccepted,
		Message:   fmt.Sprintf("Your proposal for %q was accepted", updated.Title),
		ActionURL: "/transactions/" + txn.ID,
	})
	reqs = append(reqs, autoRejectedRequests(updated, rejected)...)
	result.Undelivered = m.notify(ctx, reqs...)
	return result, nil
}

// CascadeRejections rejects whatever is still pending on an accepted listing. Acceptance runs it
// automatically; calling it again after an incomplete cascade only touches the leftovers.
func (m *Manager) CascadeRejections(ctx context.Context, listingID string, typ listing.Type, actingUserID string) (CascadeResult, error) {
	l, err := m.listings.GetByID(ctx, listingID, typ)
	if err != nil {
		return CascadeResult{}, translateListing(err, listingID)
	}
	if l.OwnerID != actingUserID {
		return CascadeResult{}, apperr.Unauthorized("listing", listingID, "owner")
	}
	if l.Status != listing.StatusAccepted {
		return CascadeResult{}, apperr.InvalidState("listing_not_accepted", "listing", listingID, string(l.Status))
	}

	rejected, err := m.cascade(ctx, l)
	result := CascadeResult{Rejected: rejected, Complete: err == nil}
	if err != nil {
		m.logger.Error("cascade retry incomplete", zap.String("listing_id", l.ID), zap.Error(err))
	}
	result.Undelivered = m.notify(ctx, autoRejectedRequests(l, rejected)...)
	return result, nil
}

// cascade rejects each pending proposal of l in its own short transaction. A proposal that left
// pending in the meantime is skipped; other failures are collected and returned together.
func (m *Manager) cascade(ctx context.Context, l listing.Listing) ([]Proposal, error) {
	pending, err := m.proposals.ListPending(ctx, l.ID, l.Type)
	if err != nil {
		return nil, fmt.Errorf("proposal: cascade list pending: %w", err)
	}

	reason := ReasonAnotherAccepted
	rejected := make([]Proposal, 0, len(pending))
	var errs []error
	for _, p := range pending {
		r, err := m.transition(ctx, TransitionParams{ID: p.ID, From: StatusPending, To: StatusRejected, Reason: &reason, At: m.now().UTC()})
		switch {
		case err == nil:
			rejected = append(rejected, r)
		case errors.Is(err, ErrStaleState):
		default:
			errs = append(errs, fmt.Errorf("proposal %s: %w", p.ID, err))
		}
	}
	return rejected, errors.Join(errs...)
}

func (m *Manager) transition(ctx context.Context, params TransitionParams) (Proposal, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return Proposal{}, err
	}
	defer tx.Rollback(ctx)

	p, err := m.proposals.Transition(ctx, tx, params)
	if err != nil {
		return Proposal{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Proposal{}, err
	}
	return p, nil
}

// Reject declines a single pending proposal. Only the listing owner may reject.
func (m *Manager) Reject(ctx context.Context, proposalID, actingUserID, reason string) (RejectResult, error) {
	current, err := m.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return RejectResult{}, translateProposal(err, proposalID)
	}
	l, err := m.listings.GetByID(ctx, current.ListingID, current.ListingType)
	if err != nil {
		return RejectResult{}, translateListing(err, current.ListingID)
	}
	if l.OwnerID != actingUserID {
		return RejectResult{}, apperr.Unauthorized("proposal", proposalID, "listing owner")
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return RejectResult{}, apperr.Unavailable("reject proposal: begin tx", err)
	}
	defer tx.Rollback(ctx)

	p, err := m.proposals.GetForUpdate(ctx, tx, proposalID)
	if err != nil {
		return RejectResult{}, translateProposal(err, proposalID)
	}
	if p.Status != StatusPending {
		return RejectResult{}, apperr.InvalidState("proposal_not_pending", "proposal", p.ID, string(p.Status))
	}

	var why *string
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		why = &trimmed
	}
	rejected, err := m.proposals.Transition(ctx, tx, TransitionParams{ID: p.ID, From: StatusPending, To: StatusRejected, Reason: why, At: m.now().UTC()})
	if err != nil {
		return RejectResult{}, translateProposal(err, p.ID)
	}
	if err := tx.Commit(ctx); err != nil {
		return RejectResult{}, apperr.Unavailable("reject proposal: commit", err)
	}

	undelivered := m.notify(ctx, notification.Request{
		UserID:    rejected.AgentID,
		Type:      notification.TypeProposalRejected,
		Message:   fmt.Sprintf("Your proposal for %q was declined", l.Title),
		ActionURL: proposalURL(rejected),
	})
	return RejectResult{Proposal: rejected, Undelivered: undelivered}, nil
}

// Get returns a proposal to its agent or to the owner of its listing.
func (m *Manager) Get(ctx context.Context, proposalID, actingUserID string) (Proposal, error) {
	p, err := m.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return Proposal{}, translateProposal(err, proposalID)
	}
	if p.AgentID == actingUserID {
		return p, nil
	}
	l, err := m.listings.GetByID(ctx, p.ListingID, p.ListingType)
	if err != nil {
		return Proposal{}, translateListing(err, p.ListingID)
	}
	if l.OwnerID != actingUserID {
		return Proposal{}, apperr.Unauthorized("proposal", proposalID, "agent or listing owner")
	}
	return p, nil
}

// ListForListing returns every proposal on a listing, newest first. Owner only.
func (m *Manager) ListForListing(ctx context.Context, listingID string, typ listing.Type, actingUserID string) ([]Proposal, error) {
	l, err := m.listings.GetByID(ctx, listingID, typ)
	if err != nil {
		return nil, translateListing(err, listingID)
	}
	if l.OwnerID != actingUserID {
		return nil, apperr.Unauthorized("listing", listingID, "owner")
	}
	list, err := m.proposals.ListByListing(ctx, listingID, typ)
	if err != nil {
		return nil, apperr.Unavailable("list proposals", err)
	}
	return list, nil
}

// ListForAgent returns the proposals agentID has submitted, newest first.
func (m *Manager) ListForAgent(ctx context.Context, agentID string) ([]Proposal, error) {
	list, err := m.proposals.ListByAgent(ctx, agentID)
	if err != nil {
		return nil, apperr.Unavailable("list agent proposals", err)
	}
	return list, nil
}

func (m *Manager) notify(ctx context.Context, reqs ...notification.Request) []notification.Request {
	if m.notifier == nil || len(reqs) == 0 {
		return nil
	}
	return m.notifier.DispatchAll(ctx, reqs...)
}

func autoRejectedRequests(l listing.Listing, rejected []Proposal) []notification.Request {
	reqs := make([]notification.Request, 0, len(rejected))
	for _, r := range rejected {
		reqs = append(reqs, notification.Request{
			UserID:    r.AgentID,
			Type:      notification.TypeProposalAutoRejected,
			Message:   fmt.Sprintf("Another proposal was accepted for %q", l.Title),
			ActionURL: proposalURL(r),
		})
	}
	return reqs
}

func proposalURL(p Proposal) string {
	return fmt.Sprintf("/listings/%s/%s/proposals/%s", p.ListingType, p.ListingID, p.ID)
}

func normalizeTerms(t Terms) Terms {
	out := Terms{Message: strings.TrimSpace(t.Message)}
	for _, s := range t.Services {
		if s = strings.TrimSpace(s); s != "" {
			out.Services = append(out.Services, s)
		}
	}
	return out
}

func translateProposal(err error, id string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound("proposal", id)
	case errors.Is(err, ErrStaleState):
		return apperr.InvalidState("proposal_not_pending", "proposal", id, "no longer pending")
	default:
		return apperr.Unavailable("proposal store", err)
	}
}

func translateListing(err error, id string) error {
	switch {
	case errors.Is(err, listing.ErrNotFound):
		return apperr.NotFound("listing", id)
	case errors.Is(err, listing.ErrNotActive):
		return apperr.InvalidState("listing_not_active", "listing", id, "not active")
	default:
		return apperr.Unavailable("listing store", err)
	}
}
