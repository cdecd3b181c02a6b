package outbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"homeflow/memstore"
	"homeflow/outbox"

	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	fail   map[string]bool
	topics []string
}

func (p *recordingPublisher) Publish(_ context.Context, ev outbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[ev.Topic] {
		return errors.New("broker unavailable")
	}
	p.topics = append(p.topics, ev.Topic)
	return nil
}

func enqueue(t *testing.T, store *memstore.Store, topics ...string) {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	for _, topic := range topics {
		require.NoError(t, store.Outbox().Enqueue(ctx, tx, topic, map[string]any{"topic": topic}))
	}
	require.NoError(t, tx.Commit(ctx))
}

func TestRelayPublishesInOrder(t *testing.T) {
	store := memstore.New()
	enqueue(t, store, "proposal.accepted", "service.completed")

	pub := &recordingPublisher{}
	relay := outbox.NewRelay(store.Outbox(), pub, outbox.RelayOptions{BatchSize: 10, MaxAttempts: 3})

	stats, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, outbox.Stats{Claimed: 2, Published: 2}, stats)
	require.Equal(t, []string{"proposal.accepted", "service.completed"}, pub.topics)

	stats, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.Claimed)
}

func TestRelayRetriesThenMarksDead(t *testing.T) {
	store := memstore.New()
	enqueue(t, store, "service.completed")

	pub := &recordingPublisher{fail: map[string]bool{"service.completed": true}}
	relay := outbox.NewRelay(store.Outbox(), pub, outbox.RelayOptions{MaxAttempts: 2})
	ctx := context.Background()

	stats, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failed)

	stats, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Dead)

	records := store.Outbox().Records()
	require.Len(t, records, 1)
	require.Equal(t, "dead", records[0].Status)
	require.Equal(t, 2, records[0].Attempts)
	require.Equal(t, "broker unavailable", records[0].LastError)

	stats, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Claimed)
}

func TestRolledBackEventsNeverRelay(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Outbox().Enqueue(ctx, tx, "proposal.accepted", nil))
	require.NoError(t, tx.Rollback(ctx))

	require.Empty(t, store.Outbox().Records())
	require.ErrorIs(t, func() error {
		tx, _ := store.Begin(ctx)
		defer tx.Rollback(ctx)
		return store.Outbox().Enqueue(ctx, tx, "", nil)
	}(), outbox.ErrEmptyTopic)
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	store := memstore.New()
	enqueue(t, store, "proposal.accepted")
	pub := &recordingPublisher{}
	relay := outbox.NewRelay(store.Outbox(), pub, outbox.RelayOptions{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, relay.Run(ctx))
	require.Equal(t, []string{"proposal.accepted"}, pub.topics)
}
