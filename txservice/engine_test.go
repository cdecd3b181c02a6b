package txservice_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"homeflow/apperr"
	"homeflow/memstore"
	"homeflow/notification"
	"homeflow/transaction"
	"homeflow/txservice"

	"github.com/stretchr/testify/require"
)

const (
	agent  = "agent-1"
	client = "client-1"
)

type fixture struct {
	store  *memstore.Store
	engine *txservice.Engine
	txn    transaction.Transaction
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	txn, err := store.Transactions().CreateFromProposal(ctx, tx, transaction.CreateParams{
		ID:          "txn-1",
		ProposalID:  "proposal-1",
		ListingID:   "listing-1",
		ListingType: "seller",
		ClientID:    client,
		AgentID:     agent,
		CreatedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	dispatcher := notification.NewDispatcher(store.Notifications(), notification.DispatcherOptions{InitialInterval: time.Millisecond})
	engine := txservice.NewEngine(store, store.Services(), store.Transactions(), dispatcher).WithOutbox(store.Outbox())
	return &fixture{store: store, engine: engine, txn: txn}
}

func (f *fixture) service(t *testing.T, tasks ...txservice.TaskInput) txservice.Service {
	t.Helper()
	res, err := f.engine.CreateService(context.Background(), txservice.CreateServiceParams{
		TransactionID: f.txn.ID,
		Name:          "Market Analysis",
		Tasks:         tasks,
		ActingUserID:  agent,
	})
	require.NoError(t, err)
	return res.Service
}

func (f *fixture) started(t *testing.T, tasks ...txservice.TaskInput) txservice.Service {
	t.Helper()
	s := f.service(t, tasks...)
	res, err := f.engine.StartService(context.Background(), s.ID, agent)
	require.NoError(t, err)
	return res.Service
}

func (f *fixture) count(userID string, typ notification.Type) int {
	n := 0
	for _, note := range f.store.Notifications().ForUser(userID) {
		if note.Type == typ {
			n++
		}
	}
	return n
}

func intPtr(v int) *int { return &v }

func agentAndClientTasks() []txservice.TaskInput {
	return []txservice.TaskInput{
		{Title: "Pull comparables", Assignee: txservice.AssigneeAgent},
		{Title: "Approve price band", Assignee: txservice.AssigneeClient},
	}
}

func TestDualConfirmationScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.started(t, agentAndClientTasks()...)
	require.Equal(t, txservice.StatusInProgress, s.Status)
	require.NotNil(t, s.StartedAt)
	require.Equal(t, 1, f.count(client, notification.TypeServiceStarted))

	res, err := f.engine.ToggleTask(ctx, s.ID, 0, agent)
	require.NoError(t, err)
	require.False(t, res.Service.AgentConfirmed, "auto-confirmation needs every task completed")
	require.Equal(t, txservice.Progress{Completed: 1, Total: 2}, res.Progress)
	require.Equal(t, agent, *res.Service.Tasks[0].CompletedBy)

	res, err = f.engine.ToggleTask(ctx, s.ID, 1, client)
	require.NoError(t, err)
	require.True(t, res.Service.AgentConfirmed)
	require.False(t, res.Service.ClientConfirmed)
	require.Equal(t, txservice.StatusInProgress, res.Service.Status)
	require.Equal(t, 1, f.count(client, notification.TypeServiceConfirmed))

	confirm, err := f.engine.ConfirmCompletion(ctx, txservice.ConfirmParams{ServiceID: s.ID, ActingUserID: client})
	require.NoError(t, err)
	require.True(t, confirm.Completed)
	require.Equal(t, txservice.StatusCompleted, confirm.Service.Status)
	require.NotNil(t, confirm.Service.CompletedAt)
	require.True(t, confirm.Service.AgentConfirmed)
	require.True(t, confirm.Service.ClientConfirmed)

	require.Equal(t, 1, f.count(agent, notification.TypeServiceCompleted))
	require.Equal(t, 1, f.count(client, notification.TypeServiceCompleted))

	records := f.store.Outbox().Records()
	require.Len(t, records, 1)
	require.Equal(t, "service.completed", records[0].Topic)
}

func TestStartServiceByClientIsUnauthorized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.service(t, agentAndClientTasks()...)

	_, err := f.engine.StartService(ctx, s.ID, client)
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	e, _ := apperr.As(err)
	require.Equal(t, "agent", e.RequiredRole)

	got, err := f.engine.Get(ctx, s.ID, client)
	require.NoError(t, err)
	require.Equal(t, txservice.StatusPending, got.Service.Status)

	_, err = f.engine.StartService(ctx, s.ID, agent)
	require.NoError(t, err)
	_, err = f.engine.StartService(ctx, s.ID, agent)
	require.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestToggleTaskAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.started(t, agentAndClientTasks()...)

	_, err := f.engine.ToggleTask(ctx, s.ID, 0, client)
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	e, _ := apperr.As(err)
	require.Equal(t, "agent", e.RequiredRole)

	got, err := f.engine.Get(ctx, s.ID, agent)
	require.NoError(t, err)
	require.Equal(t, txservice.TaskPending, got.Service.Tasks[0].Status)

	_, err = f.engine.ToggleTask(ctx, s.ID, 0, "stranger")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.engine.ToggleTask(ctx, s.ID, 5, agent)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.engine.ToggleTask(ctx, s.ID, -1, agent)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.engine.ToggleTask(ctx, "missing", 0, agent)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestToggleTaskRequiresInProgress(t *testing.T) {
	f := newFixture(t)
	s := f.service(t, agentAndClientTasks()...)

	_, err := f.engine.ToggleTask(context.Background(), s.ID, 0, agent)
	require.ErrorIs(t, err, apperr.ErrInvalidState)
	e, _ := apperr.As(err)
	require.Equal(t, "service_not_in_progress", e.Code)
}

func TestUncheckingClearsCompletionButKeepsConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.started(t, txservice.TaskInput{Title: "Sign disclosure", Assignee: txservice.AssigneeBoth})

	res, err := f.engine.ToggleTask(ctx, s.ID, 0, client)
	require.NoError(t, err)
	require.True(t, res.Service.AgentConfirmed, "completing the last task confirms for the agent")
	require.Equal(t, client, *res.Service.Tasks[0].CompletedBy)
	require.NotNil(t, res.Service.Tasks[0].CompletedAt)

	res, err = f.engine.ToggleTask(ctx, s.ID, 0, agent)
	require.NoError(t, err)
	require.Equal(t, txservice.TaskPending, res.Service.Tasks[0].Status)
	require.Nil(t, res.Service.Tasks[0].CompletedBy)
	require.Nil(t, res.Service.Tasks[0].CompletedAt)
	require.True(t, res.Service.AgentConfirmed)
	require.Equal(t, 1, f.count(agent, notification.TypeTaskCompleted))
}

func TestConfirmCompletionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.started(t, agentAndClientTasks()...)

	first, err := f.engine.ConfirmCompletion(ctx, txservice.ConfirmParams{ServiceID: s.ID, ActingUserID: agent})
	require.NoError(t, err)
	require.False(t, first.Completed)
	require.True(t, first.Service.AgentConfirmed)
	require.Equal(t, 1, f.count(client, notification.TypeServiceConfirmed))

	again, err := f.engine.ConfirmCompletion(ctx, txservice.ConfirmParams{ServiceID: s.ID, ActingUserID: agent})
	require.NoError(t, err)
	require.True(t, again.AlreadyConfirmed)
	require.Equal(t, 1, f.count(client, notification.TypeServiceConfirmed))

	done, err := f.engine.ConfirmCompletion(ctx, txservice.ConfirmParams{
		ServiceID:    s.ID,
		ActingUserID: client,
		Rating:       intPtr(4),
		Feedback:     strPtr(" thorough "),
	})
	require.NoError(t, err)
	require.True(t, done.Completed)
	require.Equal(t, 4, *done.Service.Rating)
	require.Equal(t, "thorough", *done.Service.Feedback)

	for _, who := range []string{client, agent} {
		res, err := f.engine.ConfirmCompletion(ctx, txservice.ConfirmParams{ServiceID: s.ID, ActingUserID: who})
		require.NoError(t, err)
		require.True(t, res.AlreadyConfirmed)
		require.False(t, res.Completed)
	}

	rerate, err := f.engine.ConfirmCompletion(ctx, txservice.ConfirmParams{ServiceID: s.ID, ActingUserID: client, Rating: intPtr(1)})
	require.NoError(t, err)
	require.Equal(t, 4, *rerate.Service.Rating, "rating is immutable after completion")
	require.True(t, rerate.FeedbackIgnored)

	outOfRange, err := f.engine.ConfirmCompletion(ctx, txservice.ConfirmParams{ServiceID: s.ID, ActingUserID: client, Rating: intPtr(9)})
	require.NoError(t, err, "a repeated confirmation is a no-op even with a bad rating")
	require.True(t, outOfRange.AlreadyConfirmed)
	require.True(t, outOfRange.FeedbackIgnored)
	require.Equal(t, 4, *outOfRange.Service.Rating)

	require.Equal(t, 1, f.count(agent, notification.TypeServiceCompleted))
	require.Equal(t, 1, f.count(client, notification.TypeServiceCompleted))
	require.Len(t, f.store.Outbox().Records(), 1)
}

func strPtr(s string) *string { return &s }

func TestConfirmCompletionValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := f.service(t, agentAndClientTasks()...)

	_, err := f.engine.ConfirmCompletion(ctx, txservice.ConfirmParams{ServiceID: pending.ID, ActingUserID: agent})
	require.ErrorIs(t, err, apperr.ErrInvalidState)

	s := f.started(t, agentAndClientTasks()...)

	_, err = f.engine.ConfirmCompletion(ctx, txservice.ConfirmParams{ServiceID: s.ID, ActingUserID: agent, Rating: intPtr(5)})
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.engine.ConfirmCompletion(ctx, txservice.ConfirmParams{ServiceID: s.ID, ActingUserID: client, Rating: intPtr(6)})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = f.engine.ConfirmCompletion(ctx, txservice.ConfirmParams{ServiceID: s.ID, ActingUserID: client, Rating: intPtr(0)})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.engine.ConfirmCompletion(ctx, txservice.ConfirmParams{ServiceID: s.ID, ActingUserID: "stranger"})
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	got, err := f.engine.Get(ctx, s.ID, client)
	require.NoError(t, err)
	require.False(t, got.Service.AgentConfirmed)
	require.False(t, got.Service.ClientConfirmed)
}

func TestClientConfirmationBlocksAutoConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.started(t, txservice.TaskInput{Title: "Walkthrough", Assignee: txservice.AssigneeAgent})

	_, err := f.engine.ConfirmCompletion(ctx, txservice.ConfirmParams{ServiceID: s.ID, ActingUserID: client})
	require.NoError(t, err)

	res, err := f.engine.ToggleTask(ctx, s.ID, 0, agent)
	require.NoError(t, err)
	require.False(t, res.Service.AgentConfirmed)
	require.Equal(t, txservice.StatusInProgress, res.Service.Status)

	done, err := f.engine.ConfirmCompletion(ctx, txservice.ConfirmParams{ServiceID: s.ID, ActingUserID: agent})
	require.NoError(t, err)
	require.True(t, done.Completed)
}

// Random interleavings of participant actions never break completed <=> both confirmed.
func TestDualConfirmationInvariantHolds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ctx := context.Background()

	for run := 0; run < 25; run++ {
		f := newFixture(t)
		s := f.started(t,
			txservice.TaskInput{Title: "a", Assignee: txservice.AssigneeAgent},
			txservice.TaskInput{Title: "b", Assignee: txservice.AssigneeClient},
			txservice.TaskInput{Title: "c", Assignee: txservice.AssigneeBoth},
		)
		completions := 0
		for step := 0; step < 30; step++ {
			actor := agent
			if rng.Intn(2) == 0 {
				actor = client
			}
			if rng.Intn(3) == 0 {
				res, err := f.engine.ConfirmCompletion(ctx, txservice.ConfirmParams{ServiceID: s.ID, ActingUserID: actor})
				if err == nil && res.Completed {
					completions++
				}
				if err != nil {
					require.True(t, errors.Is(err, apperr.ErrInvalidState), "unexpected error %v", err)
				}
			} else {
				_, err := f.engine.ToggleTask(ctx, s.ID, rng.Intn(3), actor)
				if err != nil {
					require.True(t, errors.Is(err, apperr.ErrUnauthorized) || errors.Is(err, apperr.ErrInvalidState), "unexpected error %v", err)
				}
			}

			got, err := f.engine.Get(ctx, s.ID, agent)
			require.NoError(t, err)
			both := got.Service.AgentConfirmed && got.Service.ClientConfirmed
			require.Equal(t, both, got.Service.Status == txservice.StatusCompleted)
		}
		require.LessOrEqual(t, completions, 1)
		require.Equal(t, completions, f.count(agent, notification.TypeServiceCompleted))
	}
}

func TestCreateService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateService(ctx, txservice.CreateServiceParams{
		TransactionID: f.txn.ID, Name: "Staging", ActingUserID: client,
	})
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.engine.CreateService(ctx, txservice.CreateServiceParams{
		TransactionID: f.txn.ID, Name: " ", ActingUserID: agent,
	})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.engine.CreateService(ctx, txservice.CreateServiceParams{
		TransactionID: f.txn.ID, Name: "Staging", ActingUserID: agent,
		Tasks: []txservice.TaskInput{{Title: "x", Assignee: "nobody"}},
	})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.engine.CreateService(ctx, txservice.CreateServiceParams{
		TransactionID: "missing", Name: "Staging", ActingUserID: agent,
	})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	first := f.service(t, agentAndClientTasks()...)
	second := f.service(t)
	require.Equal(t, txservice.StatusPending, first.Status)
	require.Len(t, first.Tasks, 2)
	require.Equal(t, txservice.TaskPending, first.Tasks[1].Status)

	list, err := f.engine.ListForTransaction(ctx, f.txn.ID, client)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, first.ID, list[0].ID)
	require.Equal(t, second.ID, list[1].ID)

	_, err = f.engine.ListForTransaction(ctx, f.txn.ID, "stranger")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestStoreFailureAbortsToggle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.started(t, agentAndClientTasks()...)

	f.store.SetFault(func(op, _ string) error {
		if op == "service.update" {
			return errors.New("disk full")
		}
		return nil
	})
	_, err := f.engine.ToggleTask(ctx, s.ID, 0, agent)
	require.ErrorIs(t, err, apperr.ErrDependencyUnavailable)

	f.store.SetFault(nil)
	got, err := f.engine.Get(ctx, s.ID, agent)
	require.NoError(t, err)
	require.Equal(t, txservice.TaskPending, got.Service.Tasks[0].Status)
	require.Zero(t, f.count(client, notification.TypeTaskCompleted))
}
