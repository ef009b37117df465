// Package memstore is an in-process implementation of store.Store. Every
// transaction runs under a single writer lock against a private copy of the
// data, which is swapped in on success and discarded on error, so the
// isolation it offers is serializable.
package memstore

import (
	"context"
	"maps"
	"sync"

	"github.com/xtrntr/auctionhouse/internal/models"
	"github.com/xtrntr/auctionhouse/internal/store"
)

type state struct {
	users         map[int]models.User
	artworks      map[int]models.Artwork
	auctions      map[int]models.Auction
	bids          map[int]models.Bid
	balances      map[int]models.Balance
	transactions  []models.Transaction
	activities    []models.Activity
	notifications []models.Notification
	seq           int
}

func (s *state) clone() *state {
	return &state{
		users:         maps.Clone(s.users),
		artworks:      maps.Clone(s.artworks),
		auctions:      maps.Clone(s.auctions),
		bids:          maps.Clone(s.bids),
		balances:      maps.Clone(s.balances),
		transactions:  append([]models.Transaction(nil), s.transactions...),
		activities:    append([]models.Activity(nil), s.activities...),
		notifications: append([]models.Notification(nil), s.notifications...),
		seq:           s.seq,
	}
}

func (s *state) nextID() int {
	s.seq++
	return s.seq
}

// Store keeps all data in memory
type Store struct {
	mu   sync.Mutex
	data *state
}

var _ store.Store = (*Store)(nil)

// New returns an empty store
func New() *Store {
	return &Store{data: &state{
		users:    map[int]models.User{},
		artworks: map[int]models.Artwork{},
		auctions: map[int]models.Auction{},
		bids:     map[int]models.Bid{},
		balances: map[int]models.Balance{},
	}}
}

// WithTx runs fn against a copy of the data and commits it if fn succeeds
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(&tx{s: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

// Close is a no-op
func (s *Store) Close() {}

// Notifications returns a copy of every persisted notification
func (s *Store) Notifications() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Notification(nil), s.data.notifications...)
}
