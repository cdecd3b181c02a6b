package notification

import (
	"context"
	"errors"

	"homeflow/apperr"
)

const (
	defaultInboxLimit = 20
	maxInboxLimit     = 100
)

// Inbox serves the bell/inbox reads.
type Inbox struct {
	store Store
}

// NewInbox creates an inbox reader over store.
func NewInbox(store Store) *Inbox {
	return &Inbox{store: store}
}

// ListUnread returns up to limit unread notifications for userID, newest first.
func (i *Inbox) ListUnread(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = defaultInboxLimit
	}
	if limit > maxInboxLimit {
		limit = maxInboxLimit
	}
	list, err := i.store.ListUnread(ctx, userID, limit)
	if err != nil {
		return nil, apperr.Unavailable("list notifications", err)
	}
	return list, nil
}

// MarkRead flips the read flag. Notifications of other users resolve as not found.
func (i *Inbox) MarkRead(ctx context.Context, userID, id string) error {
	if err := i.store.MarkRead(ctx, userID, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFound("notification", id)
		}
		return apperr.Unavailable("mark notification read", err)
	}
	return nil
}
