package txservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"homeflow/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals no service exists for the id.
var ErrNotFound = errors.New("txservice: not found")

// Repository is the entity store access for services. Tasks are persisted with their service.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, s Service) (Service, error)
	GetByID(ctx context.Context, id string) (Service, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Service, error)
	Update(ctx context.Context, tx pgx.Tx, s Service) (Service, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]Service, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed service repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const serviceColumns = `id::text, transaction_id::text, name, status, tasks, agent_confirmed, client_confirmed,
	agent_confirmed_at, client_confirmed_at, rating, feedback, started_at, completed_at, created_at, updated_at`

// Create copies the participants from the owning transaction so change notifications can be routed
// without a join.
func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, s Service) (Service, error) {
	tasks, err := json.Marshal(s.Tasks)
	if err != nil {
		return Service{}, fmt.Errorf("txservice: marshal tasks: %w", err)
	}

	query := `
		INSERT INTO services (id, transaction_id, agent_id, client_id, name, status, tasks, created_at, updated_at)
		SELECT $1, t.id, t.agent_id, t.client_id, $3, 'pending', $4::jsonb, $5, $5
		FROM transactions t
		WHERE t.id = $2
		RETURNING ` + serviceColumns

	created, err := scanService(tx.QueryRow(ctx, query, s.ID, s.TransactionID, s.Name, tasks, s.CreatedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Service{}, fmt.Errorf("txservice: transaction %s missing", s.TransactionID)
		}
		return Service{}, fmt.Errorf("txservice: insert: %w", err)
	}
	return created, nil
}

// GetByID loads a service. Malformed ids resolve as ErrNotFound.
func (r *PGRepository) GetByID(ctx context.Context, id string) (Service, error) {
	if !db.ValidID(id) {
		return Service{}, ErrNotFound
	}
	s, err := scanService(r.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || db.IsInvalidText(err) {
			return Service{}, ErrNotFound
		}
		return Service{}, fmt.Errorf("txservice: get by id: %w", err)
	}
	return s, nil
}

// GetForUpdate loads and row-locks a service for the rest of tx.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Service, error) {
	if !db.ValidID(id) {
		return Service{}, ErrNotFound
	}
	s, err := scanService(tx.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || db.IsInvalidText(err) {
			return Service{}, ErrNotFound
		}
		return Service{}, fmt.Errorf("txservice: get for update: %w", err)
	}
	return s, nil
}

// Update writes the mutable columns of a row previously locked with GetForUpdate.
func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, s Service) (Service, error) {
	tasks, err := json.Marshal(s.Tasks)
	if err != nil {
		return Service{}, fmt.Errorf("txservice: marshal tasks: %w", err)
	}

	query := `
		UPDATE services
		SET status = $2,
		    tasks = $3::jsonb,
		    agent_confirmed = $4,
		    client_confirmed = $5,
		    agent_confirmed_at = $6,
		    client_confirmed_at = $7,
		    rating = $8,
		    feedback = $9,
		    started_at = $10,
		    completed_at = $11,
		    updated_at = $12
		WHERE id = $1
		RETURNING ` + serviceColumns

	updated, err := scanService(tx.QueryRow(ctx, query,
		s.ID,
		s.Status,
		tasks,
		s.AgentConfirmed,
		s.ClientConfirmed,
		s.AgentConfirmedAt,
		s.ClientConfirmedAt,
		s.Rating,
		s.Feedback,
		s.StartedAt,
		s.CompletedAt,
		s.UpdatedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Service{}, ErrNotFound
		}
		return Service{}, fmt.Errorf("txservice: update: %w", err)
	}
	return updated, nil
}

// ListByTransaction returns a transaction's services in creation order.
func (r *PGRepository) ListByTransaction(ctx context.Context, transactionID string) ([]Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE transaction_id = $1
		ORDER BY created_at
	`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("txservice: list by transaction: %w", err)
	}
	defer rows.Close()

	out := make([]Service, 0, 4)
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("txservice: scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("txservice: iterate: %w", err)
	}
	return out, nil
}

func scanService(row pgx.Row) (Service, error) {
	var (
		s     Service
		tasks []byte
	)
	if err := row.Scan(
		&s.ID,
		&s.TransactionID,
		&s.Name,
		&s.Status,
		&tasks,
		&s.AgentConfirmed,
		&s.ClientConfirmed,
		&s.AgentConfirmedAt,
		&s.ClientConfirmedAt,
		&s.Rating,
		&s.Feedback,
		&s.StartedAt,
		&s.CompletedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return Service{}, err
	}
	if len(tasks) > 0 {
		if err := json.Unmarshal(tasks, &s.Tasks); err != nil {
			return Service{}, fmt.Errorf("txservice: decode tasks: %w", err)
		}
	}
	return s, nil
}
