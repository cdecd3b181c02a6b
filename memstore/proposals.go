package memstore

import (
	"context"
	"fmt"

	"homeflow/changefeed"
	"homeflow/listing"
	"homeflow/proposal"

	"github.com/jackc/pgx/v5"
)

// Proposals implements proposal.Repository.
type Proposals struct{ s *Store }

// Proposals returns the proposal repository view of s.
func (s *Store) Proposals() *Proposals { return &Proposals{s: s} }

func pickProposals(st *state) map[string]proposal.Proposal { return st.proposals }

func cloneProposal(p proposal.Proposal) proposal.Proposal {
	if p.Terms.Services != nil {
		p.Terms.Services = append([]string(nil), p.Terms.Services...)
	}
	return p
}

func (r *Proposals) change(t *Tx, p proposal.Proposal) changefeed.Change {
	actors := []string{p.AgentID}
	if l, ok := lookup(r.s, t, pickListings, p.ListingID); ok {
		actors = append(actors, l.OwnerID)
	}
	return changefeed.Change{Entity: changefeed.EntityProposal, ID: p.ID, Status: string(p.Status), Actors: actors, At: p.UpdatedAt}
}

func (r *Proposals) Create(ctx context.Context, tx pgx.Tx, p proposal.Proposal) (proposal.Proposal, error) {
	t, err := r.s.open(tx)
	if err != nil {
		return proposal.Proposal{}, err
	}
	if err := r.s.check("proposal.create", p.ID); err != nil {
		return proposal.Proposal{}, err
	}
	if _, exists := lookup(r.s, t, pickProposals, p.ID); exists {
		return proposal.Proposal{}, fmt.Errorf("memstore: proposal %s already exists", p.ID)
	}
	dup := collect(r.s, t, pickProposals, "proposal:", func(o proposal.Proposal) bool {
		return o.ListingID == p.ListingID && o.ListingType == p.ListingType && o.AgentID == p.AgentID && o.Status == proposal.StatusPending
	})
	if len(dup) > 0 {
		return proposal.Proposal{}, proposal.ErrDuplicatePending
	}

	p.Status = proposal.StatusPending
	p.UpdatedAt = p.SubmittedAt
	t.delta.proposals[p.ID] = cloneProposal(p)
	r.s.nextOrder("proposal:"+p.ID, &t.delta)
	t.record(r.change(t, p))
	return cloneProposal(p), nil
}

func (r *Proposals) GetByID(ctx context.Context, id string) (proposal.Proposal, error) {
	if err := r.s.check("proposal.get", id); err != nil {
		return proposal.Proposal{}, err
	}
	p, ok := lookup(r.s, nil, pickProposals, id)
	if !ok {
		return proposal.Proposal{}, proposal.ErrNotFound
	}
	return cloneProposal(p), nil
}

func (r *Proposals) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (proposal.Proposal, error) {
	t, err := r.s.open(tx)
	if err != nil {
		return proposal.Proposal{}, err
	}
	if err := r.s.check("proposal.get_for_update", id); err != nil {
		return proposal.Proposal{}, err
	}
	p, ok := lookup(r.s, t, pickProposals, id)
	if !ok {
		return proposal.Proposal{}, proposal.ErrNotFound
	}
	return cloneProposal(p), nil
}

func (r *Proposals) Transition(ctx context.Context, tx pgx.Tx, params proposal.TransitionParams) (proposal.Proposal, error) {
	t, err := r.s.open(tx)
	if err != nil {
		return proposal.Proposal{}, err
	}
	if err := r.s.check("proposal.transition", params.ID); err != nil {
		return proposal.Proposal{}, err
	}
	p, ok := lookup(r.s, t, pickProposals, params.ID)
	if !ok {
		return proposal.Proposal{}, proposal.ErrNotFound
	}
	if p.Status != params.From {
		return proposal.Proposal{}, proposal.ErrStaleState
	}

	p = cloneProposal(p)
	at := params.At
	p.Status = params.To
	if params.Reason != nil {
		reason := *params.Reason
		p.RejectedReason = &reason
	}
	switch params.To {
	case proposal.StatusAccepted:
		p.AcceptedAt = &at
	case proposal.StatusRejected:
		p.RejectedAt = &at
	}
	p.UpdatedAt = at

	t.delta.proposals[p.ID] = p
	t.record(r.change(t, p))
	return cloneProposal(p), nil
}

func (r *Proposals) ListPending(ctx context.Context, listingID string, typ listing.Type) ([]proposal.Proposal, error) {
	return r.list("proposal.list_pending", func(p proposal.Proposal) bool {
		return p.ListingID == listingID && p.ListingType == typ && p.Status == proposal.StatusPending
	}, false)
}

func (r *Proposals) ListByListing(ctx context.Context, listingID string, typ listing.Type) ([]proposal.Proposal, error) {
	return r.list("proposal.list", func(p proposal.Proposal) bool {
		return p.ListingID == listingID && p.ListingType == typ
	}, true)
}

func (r *Proposals) ListByAgent(ctx context.Context, agentID string) ([]proposal.Proposal, error) {
	return r.list("proposal.list", func(p proposal.Proposal) bool { return p.AgentID == agentID }, true)
}

func (r *Proposals) list(op string, keep func(proposal.Proposal) bool, newestFirst bool) ([]proposal.Proposal, error) {
	if err := r.s.check(op, ""); err != nil {
		return nil, err
	}
	out := collect(r.s, nil, pickProposals, "proposal:", keep)
	for i := range out {
		out[i] = cloneProposal(out[i])
	}
	if newestFirst {
		reverse(out)
	}
	return out, nil
}
