package transaction

import (
	"context"
	"errors"
	"fmt"

	"homeflow/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals no transaction exists for the id.
var ErrNotFound = errors.New("transaction: not found")

// Repository is the entity store access for transactions.
type Repository interface {
	CreateFromProposal(ctx context.Context, tx pgx.Tx, params CreateParams) (Transaction, error)
	GetByID(ctx context.Context, id string) (Transaction, error)
	ListForUser(ctx context.Context, userID string) ([]Transaction, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed transaction repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const transactionColumns = `id::text, proposal_id::text, listing_id::text, listing_type, client_id::text,
	agent_id::text, status, created_at, updated_at`

// CreateFromProposal materialises the transaction for an accepted proposal inside the caller's
// transaction. A proposal maps to exactly one transaction, so an existing row is returned as is.
func (r *PGRepository) CreateFromProposal(ctx context.Context, tx pgx.Tx, params CreateParams) (Transaction, error) {
	if params.ProposalID == "" {
		return Transaction{}, fmt.Errorf("transaction: missing proposal id")
	}
	if params.ClientID == "" || params.AgentID == "" {
		return Transaction{}, fmt.Errorf("transaction: participants required")
	}

	existing, err := scanTransaction(tx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE proposal_id = $1`, params.ProposalID))
	switch {
	case err == nil:
		return existing, nil
	case errors.Is(err, pgx.ErrNoRows):
		// continue with insert
	default:
		return Transaction{}, fmt.Errorf("transaction: check existing: %w", err)
	}

	query := `
		INSERT INTO transactions (id, proposal_id, listing_id, listing_type, client_id, agent_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'active', $7, $7)
		RETURNING ` + transactionColumns

	created, err := scanTransaction(tx.QueryRow(ctx, query,
		params.ID,
		params.ProposalID,
		params.ListingID,
		params.ListingType,
		params.ClientID,
		params.AgentID,
		params.CreatedAt,
	))
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction: insert from proposal: %w", err)
	}
	return created, nil
}

// GetByID loads a transaction. Malformed ids resolve as ErrNotFound.
func (r *PGRepository) GetByID(ctx context.Context, id string) (Transaction, error) {
	if !db.ValidID(id) {
		return Transaction{}, ErrNotFound
	}
	t, err := scanTransaction(r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || db.IsInvalidText(err) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, fmt.Errorf("transaction: get by id: %w", err)
	}
	return t, nil
}

// ListForUser returns the transactions where userID is client or agent.
func (r *PGRepository) ListForUser(ctx context.Context, userID string) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE client_id = $1 OR agent_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("transaction: list for user: %w", err)
	}
	defer rows.Close()

	out := make([]Transaction, 0, 8)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("transaction: scan: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transaction: iterate: %w", err)
	}
	return out, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	return t, row.Scan(
		&t.ID,
		&t.ProposalID,
		&t.ListingID,
		&t.ListingType,
		&t.ClientID,
		&t.AgentID,
		&t.Status,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
}
