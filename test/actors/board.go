package actors

import (
	"math/rand"
	"sync"

	"homeflow/listing"
)

// Board is the shared set of listings actors pick targets from.
type Board struct {
	mu       sync.Mutex
	listings []listing.Listing
	max      int
}

// NewBoard keeps at most max recent listings.
func NewBoard(max int) *Board {
	return &Board{max: max}
}

// Collect adds listings from created until it is closed. Old listings fall off once max is reached.
func (b *Board) Collect(created <-chan listing.Listing) {
	for l := range created {
		b.mu.Lock()
		b.listings = append(b.listings, l)
		if len(b.listings) > b.max {
			b.listings = b.listings[len(b.listings)-b.max:]
		}
		b.mu.Unlock()
	}
}

// Random picks a listing, reporting false while the board is empty.
func (b *Board) Random() (listing.Listing, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.listings) == 0 {
		return listing.Listing{}, false
	}
	return b.listings[rand.Intn(len(b.listings))], true
}
