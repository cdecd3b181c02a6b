package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"homeflow/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals no listing exists for the id and type.
	ErrNotFound = errors.New("listing: not found")
	// ErrNotActive signals a conditional update found the listing outside the active state.
	ErrNotActive = errors.New("listing: not active")
)

// Repository is the entity store access needed by listing and proposal workflows.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, l Listing) (Listing, error)
	GetByID(ctx context.Context, id string, typ Type) (Listing, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string, typ Type) (Listing, error)
	MarkAccepted(ctx context.Context, tx pgx.Tx, params AcceptParams) (Listing, error)
	Close(ctx context.Context, tx pgx.Tx, id string, typ Type, at time.Time) (Listing, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed listing repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const listingColumns = `id::text, listing_type, owner_id::text, title, description, status,
	accepted_proposal_id::text, accepted_agent_id::text, accepted_at, preferences, created_at, updated_at`

// Create inserts l inside tx.
func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, l Listing) (Listing, error) {
	prefs, err := json.Marshal(l.Preferences)
	if err != nil {
		return Listing{}, fmt.Errorf("listing: marshal preferences: %w", err)
	}

	query := `
		INSERT INTO listings (id, listing_type, owner_id, title, description, status, preferences)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		RETURNING ` + listingColumns

	created, err := scanListing(tx.QueryRow(ctx, query, l.ID, l.Type, l.OwnerID, l.Title, l.Description, l.Status, prefs))
	if err != nil {
		return Listing{}, fmt.Errorf("listing: insert: %w", err)
	}
	return created, nil
}

// GetByID loads a listing by id and type. Malformed ids resolve as ErrNotFound.
func (r *PGRepository) GetByID(ctx context.Context, id string, typ Type) (Listing, error) {
	if !db.ValidID(id) {
		return Listing{}, ErrNotFound
	}
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1 AND listing_type = $2`

	l, err := scanListing(r.pool.QueryRow(ctx, query, id, typ))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || db.IsInvalidText(err) {
			return Listing{}, ErrNotFound
		}
		return Listing{}, fmt.Errorf("listing: get by id: %w", err)
	}
	return l, nil
}

// GetForUpdate loads and row-locks a listing for the rest of tx.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string, typ Type) (Listing, error) {
	if !db.ValidID(id) {
		return Listing{}, ErrNotFound
	}
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1 AND listing_type = $2 FOR UPDATE`

	l, err := scanListing(tx.QueryRow(ctx, query, id, typ))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || db.IsInvalidText(err) {
			return Listing{}, ErrNotFound
		}
		return Listing{}, fmt.Errorf("listing: get for update: %w", err)
	}
	return l, nil
}

// MarkAccepted flips an active listing to accepted. The status predicate makes the write
// conditional so only one acceptance can ever land.
func (r *PGRepository) MarkAccepted(ctx context.Context, tx pgx.Tx, params AcceptParams) (Listing, error) {
	query := `
		UPDATE listings
		SET status = 'accepted',
		    accepted_proposal_id = $3,
		    accepted_agent_id = $4,
		    accepted_at = $5,
		    updated_at = $5
		WHERE id = $1 AND listing_type = $2 AND status = 'active'
		RETURNING ` + listingColumns

	l, err := scanListing(tx.QueryRow(ctx, query, params.ListingID, params.Type, params.ProposalID, params.AgentID, params.AcceptedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Listing{}, ErrNotActive
		}
		return Listing{}, fmt.Errorf("listing: mark accepted: %w", err)
	}
	return l, nil
}

// Close moves an active listing to closed. Any other state reports ErrNotActive.
func (r *PGRepository) Close(ctx context.Context, tx pgx.Tx, id string, typ Type, at time.Time) (Listing, error) {
	query := `
		UPDATE listings
		SET status = 'closed', updated_at = $3
		WHERE id = $1 AND listing_type = $2 AND status = 'active'
		RETURNING ` + listingColumns

	l, err := scanListing(tx.QueryRow(ctx, query, id, typ, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Listing{}, ErrNotActive
		}
		return Listing{}, fmt.Errorf("listing: close: %w", err)
	}
	return l, nil
}

func scanListing(row pgx.Row) (Listing, error) {
	var (
		l     Listing
		prefs []byte
	)
	if err := row.Scan(
		&l.ID,
		&l.Type,
		&l.OwnerID,
		&l.Title,
		&l.Description,
		&l.Status,
		&l.AcceptedProposalID,
		&l.AcceptedAgentID,
		&l.AcceptedAt,
		&prefs,
		&l.CreatedAt,
		&l.UpdatedAt,
	); err != nil {
		return Listing{}, err
	}
	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &l.Preferences); err != nil {
			return Listing{}, fmt.Errorf("listing: decode preferences: %w", err)
		}
	}
	return l, nil
}
