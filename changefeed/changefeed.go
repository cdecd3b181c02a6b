// Package changefeed delivers eventually-consistent change notifications for workflow entities.
// Delivery order is only meaningful within one entity.
package changefeed

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Entity names a changed table.
type Entity string

const (
	EntityListing      Entity = "listing"
	EntityProposal     Entity = "proposal"
	EntityTransaction  Entity = "transaction"
	EntityService      Entity = "service"
	EntityNotification Entity = "notification"
)

// Change carries enough to refetch the entity; consumers never patch local state from it.
type Change struct {
	Entity Entity    `json:"entity"`
	ID     string    `json:"id"`
	Status string    `json:"status,omitempty"`
	Actors []string  `json:"actors,omitempty"`
	At     time.Time `json:"at"`
}

// Filter selects changes. Zero values match everything.
type Filter struct {
	Entities []Entity
	UserID   string
	ID       string
}

// Match reports whether c passes every set criterion.
func (f Filter) Match(c Change) bool {
	if len(f.Entities) > 0 && !slices.Contains(f.Entities, c.Entity) {
		return false
	}
	if f.ID != "" && f.ID != c.ID {
		return false
	}
	if f.UserID != "" && !slices.Contains(c.Actors, f.UserID) {
		return false
	}
	return true
}

// Subscriber blocks, calling onChange for every matching change, until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, filter Filter, onChange func(Change)) error
}

// Hub fans changes out to in-process subscribers. Slow subscribers drop changes rather than block
// the publisher.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Change
	buffer int
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Change), buffer: 64}
}

// Publish offers every change to every current subscriber.
func (h *Hub) Publish(changes ...Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range changes {
		for _, ch := range h.subs {
			select {
			case ch <- c:
			default:
			}
		}
	}
}

// Subscribe registers a buffered subscription for the lifetime of ctx.
func (h *Hub) Subscribe(ctx context.Context, filter Filter, onChange func(Change)) error {
	ch := make(chan Change, h.buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-ch:
			if filter.Match(c) {
				onChange(c)
			}
		}
	}
}

// Forward republishes everything src delivers until ctx is done. One upstream subscription then
// serves any number of hub subscribers.
func (h *Hub) Forward(ctx context.Context, src Subscriber) error {
	err := src.Subscribe(ctx, Filter{}, func(c Change) { h.Publish(c) })
	if ctx.Err() != nil {
		return nil
	}
	return err
}
