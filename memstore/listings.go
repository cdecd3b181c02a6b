package memstore

import (
	"context"
	"fmt"
	"time"

	"homeflow/changefeed"
	"homeflow/listing"

	"github.com/jackc/pgx/v5"
)

// Listings implements listing.Repository.
type Listings struct{ s *Store }

// Listings returns the listing repository view of s.
func (s *Store) Listings() *Listings { return &Listings{s: s} }

func pickListings(st *state) map[string]listing.Listing { return st.listings }

func cloneListing(l listing.Listing) listing.Listing {
	l.Preferences = l.Preferences.Clone()
	return l
}

func listingChange(l listing.Listing) changefeed.Change {
	actors := []string{l.OwnerID}
	if l.AcceptedAgentID != nil {
		actors = append(actors, *l.AcceptedAgentID)
	}
	return changefeed.Change{Entity: changefeed.EntityListing, ID: l.ID, Status: string(l.Status), Actors: actors, At: l.UpdatedAt}
}

func (r *Listings) Create(ctx context.Context, tx pgx.Tx, l listing.Listing) (listing.Listing, error) {
	t, err := r.s.open(tx)
	if err != nil {
		return listing.Listing{}, err
	}
	if err := r.s.check("listing.create", l.ID); err != nil {
		return listing.Listing{}, err
	}
	if _, exists := lookup(r.s, t, pickListings, l.ID); exists {
		return listing.Listing{}, fmt.Errorf("memstore: listing %s already exists", l.ID)
	}

	now := r.s.now().UTC()
	l.CreatedAt, l.UpdatedAt = now, now
	t.delta.listings[l.ID] = cloneListing(l)
	r.s.nextOrder("listing:"+l.ID, &t.delta)
	t.record(listingChange(l))
	return cloneListing(l), nil
}

func (r *Listings) GetByID(ctx context.Context, id string, typ listing.Type) (listing.Listing, error) {
	return r.get(nil, id, typ, "listing.get")
}

func (r *Listings) GetForUpdate(ctx context.Context, tx pgx.Tx, id string, typ listing.Type) (listing.Listing, error) {
	t, err := r.s.open(tx)
	if err != nil {
		return listing.Listing{}, err
	}
	return r.get(t, id, typ, "listing.get_for_update")
}

func (r *Listings) get(t *Tx, id string, typ listing.Type, op string) (listing.Listing, error) {
	if err := r.s.check(op, id); err != nil {
		return listing.Listing{}, err
	}
	l, ok := lookup(r.s, t, pickListings, id)
	if !ok || l.Type != typ {
		return listing.Listing{}, listing.ErrNotFound
	}
	return cloneListing(l), nil
}

// MarkAccepted succeeds only while the listing is active.
func (r *Listings) MarkAccepted(ctx context.Context, tx pgx.Tx, params listing.AcceptParams) (listing.Listing, error) {
	return r.update(tx, params.ListingID, params.Type, "listing.mark_accepted", params.AcceptedAt, func(l *listing.Listing) {
		proposalID, agentID, at := params.ProposalID, params.AgentID, params.AcceptedAt
		l.Status = listing.StatusAccepted
		l.AcceptedProposalID = &proposalID
		l.AcceptedAgentID = &agentID
		l.AcceptedAt = &at
	})
}

func (r *Listings) Close(ctx context.Context, tx pgx.Tx, id string, typ listing.Type, at time.Time) (listing.Listing, error) {
	return r.update(tx, id, typ, "listing.close", at, func(l *listing.Listing) {
		l.Status = listing.StatusClosed
	})
}

// update applies mutate only while the listing is active, like the conditional UPDATE it stands in for.
func (r *Listings) update(tx pgx.Tx, id string, typ listing.Type, op string, at time.Time, mutate func(*listing.Listing)) (listing.Listing, error) {
	t, err := r.s.open(tx)
	if err != nil {
		return listing.Listing{}, err
	}
	if err := r.s.check(op, id); err != nil {
		return listing.Listing{}, err
	}
	l, ok := lookup(r.s, t, pickListings, id)
	if !ok || l.Type != typ {
		return listing.Listing{}, listing.ErrNotFound
	}
	if l.Status != listing.StatusActive {
		return listing.Listing{}, listing.ErrNotActive
	}

	l = cloneListing(l)
	mutate(&l)
	l.UpdatedAt = at
	t.delta.listings[id] = l
	t.record(listingChange(l))
	return cloneListing(l), nil
}
