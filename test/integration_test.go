package test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeflow/apperr"
	"homeflow/changefeed"
	"homeflow/db"
	"homeflow/listing"
	"homeflow/notification"
	"homeflow/proposal"
	"homeflow/test/infra"
	"homeflow/test/oracles"
	"homeflow/txservice"
)

func isolatedPool(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	pool, teardown, err := infra.PrepareDatabase(ctx, dsn, true)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Close()
		_ = teardown(context.Background())
	})
	return pool
}

// TestPostgresWorkflow runs the acceptance and dual-confirmation flow against real repositories.
// It needs DATABASE_URL and works in an isolated schema.
func TestPostgresWorkflow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	pool := isolatedPool(t, ctx)

	w, relay := wire(pool)
	owner, agentA, agentB := uuid.NewString(), uuid.NewString(), uuid.NewString()

	var (
		mu      sync.Mutex
		changes []changefeed.Change
	)
	listenCtx, stopListening := context.WithCancel(ctx)
	defer stopListening()
	go func() {
		_ = changefeed.NewPGListener(pool).Subscribe(listenCtx, changefeed.Filter{UserID: owner}, func(c changefeed.Change) {
			mu.Lock()
			changes = append(changes, c)
			mu.Unlock()
		})
	}()
	// LISTEN is issued asynchronously
	time.Sleep(200 * time.Millisecond)

	l, err := w.Listings.Create(ctx, listing.CreateParams{OwnerID: owner, Type: listing.TypeSeller, Title: "Corner house"})
	require.NoError(t, err)

	submit := func(agent string) proposal.Proposal {
		res, err := w.Proposals.Submit(ctx, proposal.SubmitParams{
			ListingID: l.ID, ListingType: l.Type, AgentID: agent,
			Terms: proposal.Terms{Message: "hello", Services: []string{"Market Analysis"}},
		})
		require.NoError(t, err)
		return res.Proposal
	}
	pa, pb := submit(agentA), submit(agentB)

	_, err = w.Proposals.Submit(ctx, proposal.SubmitParams{ListingID: l.ID, ListingType: l.Type, AgentID: agentA})
	require.Error(t, err, "second pending proposal from the same agent")

	acc, err := w.Proposals.Accept(ctx, pa.ID, owner)
	require.NoError(t, err)
	assert.True(t, acc.CascadeComplete)
	require.Len(t, acc.Rejected, 1)
	assert.Equal(t, pb.ID, acc.Rejected[0].ID)
	require.NotNil(t, acc.Rejected[0].RejectedReason)
	assert.Equal(t, proposal.ReasonAnotherAccepted, *acc.Rejected[0].RejectedReason)

	created, err := w.Services.CreateService(ctx, txservice.CreateServiceParams{
		TransactionID: acc.Transaction.ID,
		Name:          "Market Analysis",
		ActingUserID:  agentA,
		Tasks: []txservice.TaskInput{
			{Title: "Comparables", Assignee: txservice.AssigneeAgent},
			{Title: "Sign off", Assignee: txservice.AssigneeClient},
		},
	})
	require.NoError(t, err)
	svcID := created.Service.ID

	_, err = w.Services.StartService(ctx, svcID, agentA)
	require.NoError(t, err)
	_, err = w.Services.ToggleTask(ctx, svcID, 0, agentA)
	require.NoError(t, err)
	toggled, err := w.Services.ToggleTask(ctx, svcID, 1, owner)
	require.NoError(t, err)
	assert.True(t, toggled.Service.AgentConfirmed)

	rating := 5
	done, err := w.Services.ConfirmCompletion(ctx, txservice.ConfirmParams{ServiceID: svcID, ActingUserID: owner, Rating: &rating})
	require.NoError(t, err)
	assert.True(t, done.Completed)
	assert.Equal(t, txservice.StatusCompleted, done.Service.Status)

	again, err := w.Services.ConfirmCompletion(ctx, txservice.ConfirmParams{ServiceID: svcID, ActingUserID: owner})
	require.NoError(t, err)
	assert.True(t, again.AlreadyConfirmed)

	stats, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Published, "proposal.accepted and service.completed")

	inbox := notification.NewInbox(notification.NewPGStore(pool))
	unread, err := inbox.ListUnread(ctx, owner, 50)
	require.NoError(t, err)
	var completions int
	for _, n := range unread {
		if n.Type == notification.TypeServiceCompleted {
			completions++
		}
	}
	assert.Equal(t, 1, completions)

	name, row, err := oracles.Run(ctx, pool)
	require.NoError(t, err)
	assert.Empty(t, name, row)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range changes {
			if c.Entity == changefeed.EntityService && c.ID == svcID && c.Status == string(txservice.StatusCompleted) {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)

	var outboxRows int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE status = 'processed'`).Scan(&outboxRows))
	assert.Equal(t, 2, outboxRows)
}

// Ids that are not UUIDs never reach a uuid column; they resolve as not found, not as an outage.
func TestPostgresMalformedIDsAreNotFound(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	pool := isolatedPool(t, ctx)

	w, _ := wire(pool)
	user := uuid.NewString()

	for _, id := range []string{"abc", "42", "{not-a-uuid}"} {
		_, err := w.Proposals.Get(ctx, id, user)
		assert.ErrorIs(t, err, apperr.ErrNotFound, "proposal %q", id)

		_, err = w.Listings.Get(ctx, id, listing.TypeSeller)
		assert.ErrorIs(t, err, apperr.ErrNotFound, "listing %q", id)

		_, err = w.Transactions.Get(ctx, id, user)
		assert.ErrorIs(t, err, apperr.ErrNotFound, "transaction %q", id)

		_, err = w.Services.StartService(ctx, id, user)
		assert.ErrorIs(t, err, apperr.ErrNotFound, "service %q", id)

		err = notification.NewInbox(notification.NewPGStore(pool)).MarkRead(ctx, user, id)
		assert.ErrorIs(t, err, apperr.ErrNotFound, "notification %q", id)
	}

	_, err := proposal.NewRepository(pool).GetByID(ctx, "abc")
	require.ErrorIs(t, err, proposal.ErrNotFound)

	_, err = pool.Exec(ctx, `SELECT 'abc'::uuid`)
	require.Error(t, err)
	assert.True(t, db.IsInvalidText(err))
}
