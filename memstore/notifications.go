package memstore

import (
	"context"
	"sort"

	"homeflow/changefeed"
	"homeflow/notification"
)

// Notifications implements notification.Store.
type Notifications struct{ s *Store }

// Notifications returns the inbox store view of s.
func (s *Store) Notifications() *Notifications { return &Notifications{s: s} }

func (r *Notifications) Insert(ctx context.Context, n notification.Notification) error {
	if err := r.s.check("notification.insert", n.UserID); err != nil {
		return err
	}
	r.s.mu.Lock()
	if _, exists := r.s.notifications[n.ID]; exists {
		r.s.mu.Unlock()
		return nil
	}
	r.s.notifications[n.ID] = n
	r.s.state.order["notification:"+n.ID] = r.s.seq.Add(1)
	r.s.mu.Unlock()

	r.s.hub.Publish(changefeed.Change{
		Entity: changefeed.EntityNotification,
		ID:     n.ID,
		Actors: []string{n.UserID},
		At:     n.CreatedAt,
	})
	return nil
}

func (r *Notifications) ListUnread(ctx context.Context, userID string, limit int) ([]notification.Notification, error) {
	if err := r.s.check("notification.list", userID); err != nil {
		return nil, err
	}
	out := r.ForUser(userID)
	unread := out[:0]
	for _, n := range out {
		if !n.Read {
			unread = append(unread, n)
		}
	}
	if limit > 0 && len(unread) > limit {
		unread = unread[:limit]
	}
	return unread, nil
}

func (r *Notifications) MarkRead(ctx context.Context, userID, id string) error {
	if err := r.s.check("notification.mark_read", id); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.notifications[id]
	if !ok || n.UserID != userID {
		return notification.ErrNotFound
	}
	n.Read = true
	r.s.notifications[id] = n
	return nil
}

// ForUser returns every notification addressed to userID, read or not, newest first.
func (r *Notifications) ForUser(userID string) []notification.Notification {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]notification.Notification, 0, 8)
	for _, n := range r.s.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return r.s.state.order["notification:"+out[i].ID] > r.s.state.order["notification:"+out[j].ID]
	})
	return out
}
