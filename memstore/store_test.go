package memstore

import (
	"context"
	"testing"
	"time"

	"homeflow/changefeed"
	"homeflow/listing"
	"homeflow/transaction"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

func newListing(id string) listing.Listing {
	return listing.Listing{ID: id, Type: listing.TypeBuyer, OwnerID: "owner", Title: "Family home", Status: listing.StatusActive}
}

func TestWritesInvisibleUntilCommit(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = s.Listings().Create(ctx, tx, newListing("l1"))
	require.NoError(t, err)

	_, err = s.Listings().GetByID(ctx, "l1", listing.TypeBuyer)
	require.ErrorIs(t, err, listing.ErrNotFound)

	inTx, err := s.Listings().GetForUpdate(ctx, tx, "l1", listing.TypeBuyer)
	require.NoError(t, err)
	require.Equal(t, "Family home", inTx.Title)

	require.NoError(t, tx.Commit(ctx))
	_, err = s.Listings().GetByID(ctx, "l1", listing.TypeBuyer)
	require.NoError(t, err)

	require.ErrorIs(t, tx.Rollback(ctx), pgx.ErrTxClosed)
	_, err = s.Listings().Create(ctx, tx, newListing("l2"))
	require.ErrorIs(t, err, pgx.ErrTxClosed)
}

func TestRollbackDiscards(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = s.Listings().Create(ctx, tx, newListing("l1"))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	_, err = s.Listings().GetByID(ctx, "l1", listing.TypeBuyer)
	require.ErrorIs(t, err, listing.ErrNotFound)
}

func TestBeginSerialisesWriters(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.Begin(ctx)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = s.Begin(waitCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		tx, err := s.Begin(ctx)
		if err == nil {
			_ = tx.Rollback(ctx)
		}
		close(acquired)
	}()
	require.NoError(t, first.Commit(ctx))

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second writer never acquired the store")
	}
}

func TestMarkAcceptedIsConditional(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx, _ := s.Begin(ctx)
	_, err := s.Listings().Create(ctx, tx, newListing("l1"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	params := listing.AcceptParams{ListingID: "l1", Type: listing.TypeBuyer, ProposalID: "p1", AgentID: "a1", AcceptedAt: time.Now()}
	tx, _ = s.Begin(ctx)
	accepted, err := s.Listings().MarkAccepted(ctx, tx, params)
	require.NoError(t, err)
	require.Equal(t, listing.StatusAccepted, accepted.Status)
	require.NoError(t, tx.Commit(ctx))

	tx, _ = s.Begin(ctx)
	defer tx.Rollback(ctx)
	params.ProposalID = "p2"
	_, err = s.Listings().MarkAccepted(ctx, tx, params)
	require.ErrorIs(t, err, listing.ErrNotActive)
}

func TestCreateFromProposalIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	params := transaction.CreateParams{ID: "t1", ProposalID: "p1", ClientID: "c", AgentID: "a", CreatedAt: time.Now()}

	tx, _ := s.Begin(ctx)
	first, err := s.Transactions().CreateFromProposal(ctx, tx, params)
	require.NoError(t, err)
	params.ID = "t2"
	second, err := s.Transactions().CreateFromProposal(ctx, tx, params)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.NoError(t, tx.Commit(ctx))

	list, err := s.Transactions().ListForUser(ctx, "a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, transaction.StatusActive, list[0].Status)
}

func TestForeignTxRejected(t *testing.T) {
	a, b := New(), New()
	ctx := context.Background()
	tx, err := a.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	_, err = b.Listings().Create(ctx, tx, newListing("l1"))
	require.ErrorIs(t, err, ErrForeignTx)
}

func TestCommitPublishesChanges(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan changefeed.Change, 4)
	ready := make(chan struct{})
	go func() {
		close(ready)
		_ = s.Subscribe(ctx, changefeed.Filter{UserID: "owner"}, func(c changefeed.Change) { got <- c })
	}()
	<-ready
	// Subscribe registers asynchronously; give it a moment before publishing.
	time.Sleep(10 * time.Millisecond)

	tx, _ := s.Begin(ctx)
	_, err := s.Listings().Create(ctx, tx, newListing("l1"))
	require.NoError(t, err)

	select {
	case c := <-got:
		t.Fatalf("change delivered before commit: %+v", c)
	case <-time.After(10 * time.Millisecond):
	}

	require.NoError(t, tx.Commit(ctx))
	select {
	case c := <-got:
		require.Equal(t, changefeed.EntityListing, c.Entity)
		require.Equal(t, "l1", c.ID)
		require.Equal(t, string(listing.StatusActive), c.Status)
	case <-time.After(time.Second):
		t.Fatal("no change delivered after commit")
	}
}

func TestPreferencesAreCopied(t *testing.T) {
	s := New()
	ctx := context.Background()
	l := newListing("l1")
	l.Preferences.Assign("garden", listing.CategoryMustHave)

	tx, _ := s.Begin(ctx)
	_, err := s.Listings().Create(ctx, tx, l)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	got, err := s.Listings().GetByID(ctx, "l1", listing.TypeBuyer)
	require.NoError(t, err)
	got.Preferences.Assign("garden", listing.CategoryNotInterested)

	again, err := s.Listings().GetByID(ctx, "l1", listing.TypeBuyer)
	require.NoError(t, err)
	c, ok := again.Preferences.CategoryOf("garden")
	require.True(t, ok)
	require.Equal(t, listing.CategoryMustHave, c)
}
