package changefeed

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFilterMatch(t *testing.T) {
	c := Change{Entity: EntityService, ID: "s1", Status: "in-progress", Actors: []string{"client", "agent"}}

	require.True(t, Filter{}.Match(c))
	require.True(t, Filter{Entities: []Entity{EntityProposal, EntityService}}.Match(c))
	require.False(t, Filter{Entities: []Entity{EntityListing}}.Match(c))
	require.True(t, Filter{UserID: "agent"}.Match(c))
	require.False(t, Filter{UserID: "stranger"}.Match(c))
	require.True(t, Filter{ID: "s1", UserID: "client"}.Match(c))
	require.False(t, Filter{ID: "s2"}.Match(c))
}

func TestHubDeliversMatchingChanges(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan Change, 4)
	done := make(chan error, 1)
	go func() {
		done <- h.Subscribe(ctx, Filter{UserID: "u1"}, func(c Change) { got <- c })
	}()
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.subs) == 1
	}, time.Second, time.Millisecond)

	h.Publish(
		Change{Entity: EntityNotification, ID: "n1", Actors: []string{"u2"}},
		Change{Entity: EntityNotification, ID: "n2", Actors: []string{"u1"}},
	)

	select {
	case c := <-got:
		require.Equal(t, "n2", c.ID)
	case <-time.After(time.Second):
		t.Fatal("change not delivered")
	}

	cancel()
	require.NoError(t, <-done)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Empty(t, h.subs)
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	h := NewHub()
	h.buffer = 1
	ch := make(chan Change, h.buffer)
	h.subs[0] = ch

	h.Publish(Change{ID: "a"}, Change{ID: "b"})
	require.Len(t, ch, 1)
	require.Equal(t, "a", (<-ch).ID)
}

type countingSource struct {
	subscriptions atomic.Int32
	ready         chan func(Change)
}

func (s *countingSource) Subscribe(ctx context.Context, _ Filter, onChange func(Change)) error {
	s.subscriptions.Add(1)
	s.ready <- onChange
	<-ctx.Done()
	return ctx.Err()
}

func TestHubForwardSharesOneUpstream(t *testing.T) {
	h := NewHub()
	src := &countingSource{ready: make(chan func(Change), 1)}
	ctx, cancel := context.WithCancel(context.Background())

	forwarded := make(chan error, 1)
	go func() { forwarded <- h.Forward(ctx, src) }()
	emit := <-src.ready

	const subscribers = 8
	var (
		wg  sync.WaitGroup
		got = make(chan string, subscribers)
	)
	for i := 0; i < subscribers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Subscribe(ctx, Filter{Entities: []Entity{EntityService}}, func(c Change) { got <- c.ID })
		}()
	}
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.subs) == subscribers
	}, time.Second, time.Millisecond)

	emit(Change{Entity: EntityListing, ID: "l1"})
	emit(Change{Entity: EntityService, ID: "s1"})

	for i := 0; i < subscribers; i++ {
		select {
		case id := <-got:
			require.Equal(t, "s1", id)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d missed the change", i)
		}
	}
	require.EqualValues(t, 1, src.subscriptions.Load())

	cancel()
	wg.Wait()
	require.NoError(t, <-forwarded)
}
