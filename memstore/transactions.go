package memstore

import (
	"context"
	"errors"

	"homeflow/changefeed"
	"homeflow/transaction"

	"github.com/jackc/pgx/v5"
)

// Transactions implements transaction.Repository.
type Transactions struct{ s *Store }

// Transactions returns the transaction repository view of s.
func (s *Store) Transactions() *Transactions { return &Transactions{s: s} }

func pickTransactions(st *state) map[string]transaction.Transaction { return st.transactions }

func (r *Transactions) CreateFromProposal(ctx context.Context, tx pgx.Tx, params transaction.CreateParams) (transaction.Transaction, error) {
	t, err := r.s.open(tx)
	if err != nil {
		return transaction.Transaction{}, err
	}
	if params.ProposalID == "" {
		return transaction.Transaction{}, errors.New("memstore: missing proposal id")
	}
	if params.ClientID == "" || params.AgentID == "" {
		return transaction.Transaction{}, errors.New("memstore: participants required")
	}
	if err := r.s.check("transaction.create", params.ProposalID); err != nil {
		return transaction.Transaction{}, err
	}

	existing := collect(r.s, t, pickTransactions, "transaction:", func(x transaction.Transaction) bool {
		return x.ProposalID == params.ProposalID
	})
	if len(existing) > 0 {
		return existing[0], nil
	}

	created := transaction.Transaction{
		ID:          params.ID,
		ProposalID:  params.ProposalID,
		ListingID:   params.ListingID,
		ListingType: params.ListingType,
		ClientID:    params.ClientID,
		AgentID:     params.AgentID,
		Status:      transaction.StatusActive,
		CreatedAt:   params.CreatedAt,
		UpdatedAt:   params.CreatedAt,
	}
	t.delta.transactions[created.ID] = created
	r.s.nextOrder("transaction:"+created.ID, &t.delta)
	t.record(changefeed.Change{
		Entity: changefeed.EntityTransaction,
		ID:     created.ID,
		Status: string(created.Status),
		Actors: []string{created.ClientID, created.AgentID},
		At:     created.CreatedAt,
	})
	return created, nil
}

func (r *Transactions) GetByID(ctx context.Context, id string) (transaction.Transaction, error) {
	if err := r.s.check("transaction.get", id); err != nil {
		return transaction.Transaction{}, err
	}
	x, ok := lookup(r.s, nil, pickTransactions, id)
	if !ok {
		return transaction.Transaction{}, transaction.ErrNotFound
	}
	return x, nil
}

func (r *Transactions) ListForUser(ctx context.Context, userID string) ([]transaction.Transaction, error) {
	if err := r.s.check("transaction.list", userID); err != nil {
		return nil, err
	}
	out := collect(r.s, nil, pickTransactions, "transaction:", func(x transaction.Transaction) bool {
		return x.ClientID == userID || x.AgentID == userID
	})
	return reverse(out), nil
}
