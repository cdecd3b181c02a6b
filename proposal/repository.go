package proposal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"homeflow/db"
	"homeflow/listing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals no proposal exists for the id.
	ErrNotFound = errors.New("proposal: not found")
	// ErrStaleState signals a conditional transition found the proposal outside the expected state.
	ErrStaleState = errors.New("proposal: stale state")
	// ErrDuplicatePending signals the agent already has a pending proposal on the listing.
	ErrDuplicatePending = errors.New("proposal: duplicate pending proposal")
)

// Repository is the entity store access for proposals.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, p Proposal) (Proposal, error)
	GetByID(ctx context.Context, id string) (Proposal, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Proposal, error)
	Transition(ctx context.Context, tx pgx.Tx, params TransitionParams) (Proposal, error)
	ListPending(ctx context.Context, listingID string, typ listing.Type) ([]Proposal, error)
	ListByListing(ctx context.Context, listingID string, typ listing.Type) ([]Proposal, error)
	ListByAgent(ctx context.Context, agentID string) ([]Proposal, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed proposal repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const proposalColumns = `id::text, listing_id::text, listing_type, agent_id::text, terms, status,
	rejected_reason, submitted_at, accepted_at, rejected_at, updated_at`

// Create inserts p. A second pending proposal from the same agent reports ErrDuplicatePending.
func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, p Proposal) (Proposal, error) {
	terms, err := json.Marshal(p.Terms)
	if err != nil {
		return Proposal{}, fmt.Errorf("proposal: marshal terms: %w", err)
	}

	query := `
		INSERT INTO proposals (id, listing_id, listing_type, agent_id, terms, status, submitted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, 'pending', $6, $6)
		RETURNING ` + proposalColumns

	created, err := scanProposal(tx.QueryRow(ctx, query, p.ID, p.ListingID, p.ListingType, p.AgentID, terms, p.SubmittedAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Proposal{}, ErrDuplicatePending
		}
		return Proposal{}, fmt.Errorf("proposal: insert: %w", err)
	}
	return created, nil
}

// GetByID loads a proposal. Malformed ids resolve as ErrNotFound.
func (r *PGRepository) GetByID(ctx context.Context, id string) (Proposal, error) {
	if !db.ValidID(id) {
		return Proposal{}, ErrNotFound
	}
	p, err := scanProposal(r.pool.QueryRow(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || db.IsInvalidText(err) {
			return Proposal{}, ErrNotFound
		}
		return Proposal{}, fmt.Errorf("proposal: get by id: %w", err)
	}
	return p, nil
}

// GetForUpdate loads and row-locks a proposal for the rest of tx.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Proposal, error) {
	if !db.ValidID(id) {
		return Proposal{}, ErrNotFound
	}
	p, err := scanProposal(tx.QueryRow(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || db.IsInvalidText(err) {
			return Proposal{}, ErrNotFound
		}
		return Proposal{}, fmt.Errorf("proposal: get for update: %w", err)
	}
	return p, nil
}

// Transition applies params only while the row is still in params.From, which makes it safe to
// re-run: a second attempt finds nothing to update and reports ErrStaleState.
func (r *PGRepository) Transition(ctx context.Context, tx pgx.Tx, params TransitionParams) (Proposal, error) {
	query := `
		UPDATE proposals
		SET status = $3,
		    rejected_reason = COALESCE($4::text, rejected_reason),
		    accepted_at = CASE WHEN $3::text = 'accepted' THEN $5 ELSE accepted_at END,
		    rejected_at = CASE WHEN $3::text = 'rejected' THEN $5 ELSE rejected_at END,
		    updated_at = $5
		WHERE id = $1 AND status = $2
		RETURNING ` + proposalColumns

	p, err := scanProposal(tx.QueryRow(ctx, query, params.ID, params.From, params.To, params.Reason, params.At))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Proposal{}, fmt.Errorf("proposal: transition: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM proposals WHERE id = $1)`, params.ID).Scan(&exists); err != nil {
		return Proposal{}, fmt.Errorf("proposal: transition check: %w", err)
	}
	if !exists {
		return Proposal{}, ErrNotFound
	}
	return Proposal{}, ErrStaleState
}

// ListPending returns the listing's pending proposals, oldest first.
func (r *PGRepository) ListPending(ctx context.Context, listingID string, typ listing.Type) ([]Proposal, error) {
	return r.list(ctx, `WHERE listing_id = $1 AND listing_type = $2 AND status = 'pending' ORDER BY submitted_at`, listingID, typ)
}

func (r *PGRepository) ListByListing(ctx context.Context, listingID string, typ listing.Type) ([]Proposal, error) {
	return r.list(ctx, `WHERE listing_id = $1 AND listing_type = $2 ORDER BY submitted_at DESC`, listingID, typ)
}

func (r *PGRepository) ListByAgent(ctx context.Context, agentID string) ([]Proposal, error) {
	return r.list(ctx, `WHERE agent_id = $1 ORDER BY submitted_at DESC`, agentID)
}

func (r *PGRepository) list(ctx context.Context, clause string, args ...any) ([]Proposal, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+proposalColumns+` FROM proposals `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("proposal: list: %w", err)
	}
	defer rows.Close()

	out := make([]Proposal, 0, 8)
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("proposal: scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("proposal: iterate: %w", err)
	}
	return out, nil
}

func scanProposal(row pgx.Row) (Proposal, error) {
	var (
		p     Proposal
		terms []byte
	)
	if err := row.Scan(
		&p.ID,
		&p.ListingID,
		&p.ListingType,
		&p.AgentID,
		&terms,
		&p.Status,
		&p.RejectedReason,
		&p.SubmittedAt,
		&p.AcceptedAt,
		&p.RejectedAt,
		&p.UpdatedAt,
	); err != nil {
		return Proposal{}, err
	}
	if len(terms) > 0 {
		if err := json.Unmarshal(terms, &p.Terms); err != nil {
			return Proposal{}, fmt.Errorf("proposal: decode terms: %w", err)
		}
	}
	return p, nil
}
