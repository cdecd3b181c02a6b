package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"homeflow/apperr"

	"github.com/stretchr/testify/require"
)

type flakyStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	ids      []string
	rows     map[string]Notification
}

func newFlakyStore(failures int) *flakyStore {
	return &flakyStore{failures: failures, rows: map[string]Notification{}}
}

func (s *flakyStore) Insert(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.ids = append(s.ids, n.ID)
	if s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		return errors.New("store unavailable")
	}
	if _, ok := s.rows[n.ID]; !ok {
		s.rows[n.ID] = n
	}
	return nil
}

func (s *flakyStore) ListUnread(_ context.Context, userID string, limit int) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Notification
	for _, n := range s.rows {
		if n.UserID == userID && !n.Read {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *flakyStore) MarkRead(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	n.Read = true
	s.rows[id] = n
	return nil
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	next := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		next++
		return fmt.Sprintf("n-%d", next)
	}
}

var req = Request{UserID: "u1", Type: TypeProposalAccepted, Message: "accepted", ActionURL: "/transactions/t1"}

func TestDispatchRetriesWithSameID(t *testing.T) {
	store := newFlakyStore(2)
	d := NewDispatcher(store, DispatcherOptions{MaxRetries: 3, InitialInterval: time.Millisecond}).
		WithIDGenerator(sequentialIDs())

	n, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.False(t, n.Read)
	require.Equal(t, 3, store.calls)
	require.Equal(t, []string{n.ID, n.ID, n.ID}, store.ids, "retries must reuse the id so the insert stays idempotent")
	require.Len(t, store.rows, 1)
}

func TestDispatchGivesUpAfterRetries(t *testing.T) {
	store := newFlakyStore(-1)
	d := NewDispatcher(store, DispatcherOptions{MaxRetries: 2, InitialInterval: time.Millisecond, BreakerFailures: 100})

	_, err := d.Dispatch(context.Background(), req)
	require.ErrorIs(t, err, apperr.ErrDependencyUnavailable)
	require.Equal(t, 3, store.calls)
}

func TestDispatchBreakerOpens(t *testing.T) {
	store := newFlakyStore(-1)
	d := NewDispatcher(store, DispatcherOptions{BreakerFailures: 2, BreakerTimeout: time.Minute, InitialInterval: time.Millisecond})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := d.Dispatch(ctx, req)
		require.Error(t, err)
	}
	require.Equal(t, 2, store.calls)

	_, err := d.Dispatch(ctx, req)
	require.ErrorIs(t, err, apperr.ErrDependencyUnavailable)
	require.Equal(t, 2, store.calls, "open breaker short-circuits the store")
}

func TestDispatchValidation(t *testing.T) {
	d := NewDispatcher(newFlakyStore(0), DispatcherOptions{})

	_, err := d.Dispatch(context.Background(), Request{Type: TypeTaskCompleted})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = d.Dispatch(context.Background(), Request{UserID: "u1"})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestDispatchAllReturnsUndelivered(t *testing.T) {
	store := newFlakyStore(1)
	d := NewDispatcher(store, DispatcherOptions{InitialInterval: time.Millisecond})

	second := Request{UserID: "u2", Type: TypeProposalAutoRejected, Message: "rejected"}
	undelivered := d.DispatchAll(context.Background(), req, second)
	require.Equal(t, []Request{req}, undelivered)
	require.Len(t, store.rows, 1)
}

func TestInbox(t *testing.T) {
	store := newFlakyStore(0)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewDispatcher(store, DispatcherOptions{}).
		WithIDGenerator(sequentialIDs()).
		WithClock(func() time.Time { now = now.Add(time.Minute); return now })
	inbox := NewInbox(store)
	ctx := context.Background()

	first, err := d.Dispatch(ctx, req)
	require.NoError(t, err)
	second, err := d.Dispatch(ctx, Request{UserID: "u1", Type: TypeServiceStarted, Message: "started"})
	require.NoError(t, err)
	_, err = d.Dispatch(ctx, Request{UserID: "u2", Type: TypeServiceStarted, Message: "started"})
	require.NoError(t, err)

	list, err := inbox.ListUnread(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, second.ID, list[0].ID)

	require.NoError(t, inbox.MarkRead(ctx, "u1", first.ID))
	list, err = inbox.ListUnread(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	err = inbox.MarkRead(ctx, "u2", second.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	err = inbox.MarkRead(ctx, "u1", "missing")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}
