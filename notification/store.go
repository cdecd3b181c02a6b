package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"homeflow/db"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the notification does not exist for the recipient.
var ErrNotFound = errors.New("notification: not found")

// Store persists notifications. Insert must be idempotent on Notification.ID so retries never
// append a second record.
type Store interface {
	Insert(ctx context.Context, n Notification) error
	ListUnread(ctx context.Context, userID string, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
}

// PGStore keeps notifications in the notifications table.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PostgreSQL-backed inbox store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Insert stores n. Re-inserting the same id is a no-op.
func (s *PGStore) Insert(ctx context.Context, n Notification) error {
	const query = `
		INSERT INTO notifications (id, user_id, type, message, action_url, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := s.pool.Exec(ctx, query, n.ID, n.UserID, n.Type, n.Message, n.ActionURL, n.Read, n.CreatedAt); err != nil {
		return fmt.Errorf("notification: insert: %w", err)
	}
	return nil
}

// ListUnread returns up to limit unread notifications, newest first.
func (s *PGStore) ListUnread(ctx context.Context, userID string, limit int) ([]Notification, error) {
	const query = `
		SELECT id::text, user_id::text, type, message, action_url, read, created_at
		FROM notifications
		WHERE user_id = $1 AND read = false
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("notification: list unread: %w", err)
	}
	defer rows.Close()

	out := make([]Notification, 0, limit)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Message, &n.ActionURL, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("notification: scan: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notification: iterate: %w", err)
	}
	return out, nil
}

// MarkRead flips the read flag on the recipient's own notification.
func (s *PGStore) MarkRead(ctx context.Context, userID, id string) error {
	if !db.ValidID(id) {
		return ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `UPDATE notifications SET read = true WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("notification: mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// insertTimeout bounds a single store write issued by the dispatcher.
const insertTimeout = 5 * time.Second
