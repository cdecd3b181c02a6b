package memstore

import (
	"context"
	"encoding/json"
	"fmt"

	"homeflow/outbox"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OutboxRecord is an outbox event with its delivery state.
type OutboxRecord struct {
	outbox.Event
	Status    string
	LastError string
}

// Outbox implements outbox.Writer and outbox.Store.
type Outbox struct{ s *Store }

// Outbox returns the outbox writer and store view of s.
func (s *Store) Outbox() *Outbox { return &Outbox{s: s} }

func pickOutbox(st *state) map[string]OutboxRecord { return st.outbox }

// Enqueue records an event that becomes visible when tx commits.
func (o *Outbox) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	t, err := o.s.open(tx)
	if err != nil {
		return err
	}
	if topic == "" {
		return outbox.ErrEmptyTopic
	}
	if err := o.s.check("outbox.enqueue", topic); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("memstore: marshal outbox payload: %w", err)
	}
	id := uuid.NewString()
	t.delta.outbox[id] = OutboxRecord{
		Event:  outbox.Event{ID: id, Topic: topic, Payload: body, CreatedAt: o.s.now().UTC()},
		Status: "pending",
	}
	o.s.nextOrder("outbox:"+id, &t.delta)
	return nil
}

// Process runs as a write transaction so it never interleaves with an enqueueing one.
func (o *Outbox) Process(ctx context.Context, limit, maxAttempts int, handle func(context.Context, outbox.Event) error) (outbox.Stats, error) {
	var stats outbox.Stats
	if err := o.s.check("outbox.process", ""); err != nil {
		return stats, err
	}
	select {
	case o.s.sem <- struct{}{}:
	case <-ctx.Done():
		return stats, ctx.Err()
	}
	defer func() { <-o.s.sem }()

	pending := collect(o.s, nil, pickOutbox, "outbox:", func(r OutboxRecord) bool { return r.Status == "pending" })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	stats.Claimed = len(pending)

	for _, rec := range pending {
		if err := handle(ctx, rec.Event); err != nil {
			rec.Attempts++
			rec.LastError = err.Error()
			if rec.Attempts >= maxAttempts {
				rec.Status = "dead"
				stats.Dead++
			} else {
				stats.Failed++
			}
		} else {
			rec.Status = "processed"
			stats.Published++
		}
		o.s.mu.Lock()
		o.s.state.outbox[rec.ID] = rec
		o.s.mu.Unlock()
	}
	return stats, nil
}

// Records returns every outbox row in enqueue order.
func (o *Outbox) Records() []OutboxRecord {
	return collect(o.s, nil, pickOutbox, "outbox:", func(OutboxRecord) bool { return true })
}

var (
	_ outbox.Writer = (*Outbox)(nil)
	_ outbox.Store  = (*Outbox)(nil)
)
