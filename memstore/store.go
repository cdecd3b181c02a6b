// Package memstore is an in-memory implementation of every repository and store in homeflow.
//
// Write transactions are serialised: Begin blocks until the previous transaction commits or rolls
// back, which gives the same read-modify-write exclusion the Postgres repositories get from
// SELECT ... FOR UPDATE. Writes made inside a transaction are buffered and only become visible to
// other readers on Commit. Notifications and users are written outside transactions, as their
// Postgres counterparts are.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"homeflow/auth"
	"homeflow/changefeed"
	"homeflow/listing"
	"homeflow/notification"
	"homeflow/proposal"
	"homeflow/transaction"
	"homeflow/txservice"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrForeignTx signals a pgx.Tx that was not started by this store.
	ErrForeignTx = errors.New("memstore: transaction not started by this store")
	// ErrSQLUnsupported is returned by the raw SQL methods of Tx.
	ErrSQLUnsupported = errors.New("memstore: raw SQL is not supported")
)

type state struct {
	listings     map[string]listing.Listing
	proposals    map[string]proposal.Proposal
	transactions map[string]transaction.Transaction
	services     map[string]txservice.Service
	outbox       map[string]OutboxRecord
	order        map[string]int64
}

func newState() state {
	return state{
		listings:     map[string]listing.Listing{},
		proposals:    map[string]proposal.Proposal{},
		transactions: map[string]transaction.Transaction{},
		services:     map[string]txservice.Service{},
		outbox:       map[string]OutboxRecord{},
		order:        map[string]int64{},
	}
}

func (st *state) merge(delta state) {
	for k, v := range delta.listings {
		st.listings[k] = v
	}
	for k, v := range delta.proposals {
		st.proposals[k] = v
	}
	for k, v := range delta.transactions {
		st.transactions[k] = v
	}
	for k, v := range delta.services {
		st.services[k] = v
	}
	for k, v := range delta.outbox {
		st.outbox[k] = v
	}
	for k, v := range delta.order {
		st.order[k] = v
	}
}

// Store holds committed state and hands out serialised transactions.
type Store struct {
	sem chan struct{}

	mu            sync.RWMutex
	state         state
	notifications map[string]notification.Notification
	users         map[string]auth.User
	userEmails    map[string]string

	faultMu sync.Mutex
	fault   func(op, id string) error

	seq atomic.Int64
	hub *changefeed.Hub
	now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		sem:           make(chan struct{}, 1),
		state:         newState(),
		notifications: map[string]notification.Notification{},
		users:         map[string]auth.User{},
		userEmails:    map[string]string{},
		hub:           changefeed.NewHub(),
		now:           time.Now,
	}
}

// WithClock overrides the time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// SetFault installs a hook consulted before every store operation. A non-nil return fails the
// operation with that error. Operation names are "<entity>.<verb>", e.g. "proposal.transition".
func (s *Store) SetFault(fn func(op, id string) error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.fault = fn
}

func (s *Store) check(op, id string) error {
	s.faultMu.Lock()
	fn := s.fault
	s.faultMu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(op, id)
}

// Subscribe implements changefeed.Subscriber for committed changes.
func (s *Store) Subscribe(ctx context.Context, filter changefeed.Filter, onChange func(changefeed.Change)) error {
	return s.hub.Subscribe(ctx, filter, onChange)
}

// Begin starts a write transaction, waiting for the current one to finish.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := s.check("tx.begin", ""); err != nil {
		return nil, err
	}
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &Tx{store: s, delta: newState()}, nil
}

func (s *Store) nextOrder(key string, delta *state) {
	delta.order[key] = s.seq.Add(1)
}

// Tx buffers writes until Commit. It satisfies pgx.Tx so the workflow packages can run unchanged;
// the raw SQL methods are not available.
type Tx struct {
	store   *Store
	delta   state
	changes []changefeed.Change
	done    bool
}

// Commit applies the overlay, publishes its changes and releases the writer slot.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	if err := t.store.check("tx.commit", ""); err != nil {
		t.finish()
		return err
	}
	t.store.mu.Lock()
	t.store.state.merge(t.delta)
	t.store.mu.Unlock()
	t.finish()
	t.store.hub.Publish(t.changes...)
	return nil
}

// Rollback discards the overlay. After Commit it reports pgx.ErrTxClosed.
func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.finish()
	return nil
}

func (t *Tx) finish() {
	t.done = true
	<-t.store.sem
}

func (t *Tx) record(c changefeed.Change) {
	t.changes = append(t.changes, c)
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("memstore: nested transactions are not supported")
}

func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, ErrSQLUnsupported
}

func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("memstore: SendBatch is not supported")
}

func (t *Tx) LargeObjects() pgx.LargeObjects {
	panic("memstore: LargeObjects is not supported")
}

func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, ErrSQLUnsupported
}

func (t *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, ErrSQLUnsupported
}

func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, ErrSQLUnsupported
}

func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{}
}

func (t *Tx) Conn() *pgx.Conn {
	return nil
}

type errRow struct{}

func (errRow) Scan(...any) error { return ErrSQLUnsupported }

// open resolves tx to a live *Tx from this store.
func (s *Store) open(tx pgx.Tx) (*Tx, error) {
	t, ok := tx.(*Tx)
	if !ok || t.store != s {
		return nil, ErrForeignTx
	}
	if t.done {
		return nil, pgx.ErrTxClosed
	}
	return t, nil
}

// lookup reads id through t's buffered writes, falling back to committed state. t may be nil.
func lookup[T any](s *Store, t *Tx, pick func(*state) map[string]T, id string) (T, bool) {
	if t != nil {
		if v, ok := pick(&t.delta)[id]; ok {
			return v, true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := pick(&s.state)[id]
	return v, ok
}

// collect returns every row matching keep, merged through t's buffered writes, in creation order.
func collect[T any](s *Store, t *Tx, pick func(*state) map[string]T, prefix string, keep func(T) bool) []T {
	merged := map[string]T{}
	order := map[string]int64{}

	s.mu.RLock()
	for k, v := range pick(&s.state) {
		merged[k] = v
		order[k] = s.state.order[prefix+k]
	}
	s.mu.RUnlock()
	if t != nil {
		for k, v := range pick(&t.delta) {
			merged[k] = v
			if o, ok := t.delta.order[prefix+k]; ok {
				order[k] = o
			}
		}
	}

	keys := make([]string, 0, len(merged))
	for k, v := range merged {
		if keep(v) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return order[keys[i]] < order[keys[j]] })

	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, merged[k])
	}
	return out
}

func reverse[T any](in []T) []T {
	for i, j := 0, len(in)-1; i < j; i, j = i+1, j-1 {
		in[i], in[j] = in[j], in[i]
	}
	return in
}

var (
	_ pgx.Tx                 = (*Tx)(nil)
	_ listing.Repository     = (*Listings)(nil)
	_ proposal.Repository    = (*Proposals)(nil)
	_ transaction.Repository = (*Transactions)(nil)
	_ txservice.Repository   = (*Services)(nil)
	_ notification.Store     = (*Notifications)(nil)
	_ auth.Repository        = (*Users)(nil)
	_ changefeed.Subscriber  = (*Store)(nil)
)
