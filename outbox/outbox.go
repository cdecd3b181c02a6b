// Package outbox records integration events in the same database transaction as the state change
// that produced them, and relays them to a broker afterwards.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrEmptyTopic = errors.New("outbox: empty topic")

// Event is one outbox row.
type Event struct {
	ID        string
	Topic     string
	Payload   json.RawMessage
	Attempts  int
	CreatedAt time.Time
}

// Writer enqueues an event inside the caller's transaction.
type Writer interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Store is the relay side of the outbox. Process claims up to limit pending events, calls handle
// for each one and records the outcome before releasing the claim.
type Store interface {
	Process(ctx context.Context, limit, maxAttempts int, handle func(context.Context, Event) error) (Stats, error)
}

// Stats summarises one relay pass.
type Stats struct {
	Claimed   int
	Published int
	Failed    int
	Dead      int
}

// PGWriter writes outbox rows through the caller's transaction.
type PGWriter struct {
	now   func() time.Time
	idGen func() string
}

// NewWriter returns a writer. It holds no connection of its own.
func NewWriter() *PGWriter {
	return &PGWriter{now: time.Now, idGen: func() string { return uuid.NewString() }}
}

// Enqueue inserts a pending event inside tx so it commits or rolls back with the state change.
func (w *PGWriter) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox (id, topic, payload, status, attempts, created_at)
		VALUES ($1, $2, $3::jsonb, 'pending', 0, $4)
	`, w.idGen(), topic, body, w.now().UTC())
	if err != nil {
		return fmt.Errorf("outbox: enqueue %s: %w", topic, err)
	}
	return nil
}

// PGStore claims rows with FOR UPDATE SKIP LOCKED so several relays can run side by side.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore creates a PostgreSQL-backed outbox store.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Process claims up to limit pending rows with SKIP LOCKED and hands each to handle. Rows that
// fail maxAttempts times are marked dead.
func (s *PGStore) Process(ctx context.Context, limit, maxAttempts int, handle func(context.Context, Event) error) (Stats, error) {
	var stats Stats

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return stats, fmt.Errorf("outbox: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id::text, topic, payload, attempts, created_at
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, limit)
	if err != nil {
		return stats, fmt.Errorf("outbox: claim: %w", err)
	}
	events := make([]Event, 0, limit)
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.Payload, &ev.Attempts, &ev.CreatedAt); err != nil {
			rows.Close()
			return stats, fmt.Errorf("outbox: scan: %w", err)
		}
		events = append(events, ev)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("outbox: iterate: %w", err)
	}
	stats.Claimed = len(events)

	for _, ev := range events {
		herr := handle(ctx, ev)
		if herr == nil {
			if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'processed', last_attempt = NOW() WHERE id = $1`, ev.ID); err != nil {
				return stats, fmt.Errorf("outbox: mark processed: %w", err)
			}
			stats.Published++
			continue
		}

		next := "pending"
		if ev.Attempts+1 >= maxAttempts {
			next = "dead"
			stats.Dead++
		} else {
			stats.Failed++
		}
		if _, err := tx.Exec(ctx, `
			UPDATE outbox SET attempts = attempts + 1, status = $2, last_error = $3, last_attempt = NOW()
			WHERE id = $1
		`, ev.ID, next, herr.Error()); err != nil {
			return stats, fmt.Errorf("outbox: record failure: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return stats, fmt.Errorf("outbox: commit: %w", err)
	}
	return stats, nil
}
