package listing

import (
	"context"
	"errors"
	"strings"
	"time"

	"homeflow/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service exposes the owner-side listing operations.
type Service struct {
	pool  TxBeginner
	repo  Repository
	now   func() time.Time
	idGen func() string
}

// CreateParams carries the owner's input for a new listing.
type CreateParams struct {
	OwnerID     string
	Type        Type
	Title       string
	Description string
	Preferences Preferences
}

// NewService creates a listing service over repo. Writes run in transactions begun on pool.
func NewService(pool TxBeginner, repo Repository) *Service {
	return &Service{
		pool:  pool,
		repo:  repo,
		now:   time.Now,
		idGen: func() string { return uuid.NewString() },
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create opens a new active listing owned by params.OwnerID.
func (s *Service) Create(ctx context.Context, params CreateParams) (Listing, error) {
	if params.OwnerID == "" {
		return Listing{}, apperr.InvalidInput("owner_required", "listing owner is required")
	}
	if !params.Type.Valid() {
		return Listing{}, apperr.InvalidInput("listing_type_invalid", "listing type must be buyer or seller")
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return Listing{}, apperr.InvalidInput("title_required", "listing title is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Listing{}, apperr.Unavailable("create listing: begin tx", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Create(ctx, tx, Listing{
		ID:          s.idGen(),
		Type:        params.Type,
		OwnerID:     params.OwnerID,
		Title:       title,
		Description: strings.TrimSpace(params.Description),
		Status:      StatusActive,
		Preferences: params.Preferences,
	})
	if err != nil {
		return Listing{}, apperr.Unavailable("create listing", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Listing{}, apperr.Unavailable("create listing: commit", err)
	}
	return created, nil
}

// Get returns the current snapshot of a listing.
func (s *Service) Get(ctx context.Context, id string, typ Type) (Listing, error) {
	l, err := s.repo.GetByID(ctx, id, typ)
	if err != nil {
		return Listing{}, translate(err, id)
	}
	return l, nil
}

// Close withdraws an active listing. Only the owner may close it.
func (s *Service) Close(ctx context.Context, id string, typ Type, actingUserID string) (Listing, error) {
	current, err := s.repo.GetByID(ctx, id, typ)
	if err != nil {
		return Listing{}, translate(err, id)
	}
	if current.OwnerID != actingUserID {
		return Listing{}, apperr.Unauthorized("listing", id, "owner")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Listing{}, apperr.Unavailable("close listing: begin tx", err)
	}
	defer tx.Rollback(ctx)

	locked, err := s.repo.GetForUpdate(ctx, tx, id, typ)
	if err != nil {
		return Listing{}, translate(err, id)
	}
	if locked.Status != StatusActive {
		return Listing{}, apperr.InvalidState("listing_not_active", "listing", id, string(locked.Status))
	}

	closed, err := s.repo.Close(ctx, tx, id, typ, s.now().UTC())
	if err != nil {
		return Listing{}, translate(err, id)
	}
	if err := tx.Commit(ctx); err != nil {
		return Listing{}, apperr.Unavailable("close listing: commit", err)
	}
	return closed, nil
}

func translate(err error, id string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound("listing", id)
	case errors.Is(err, ErrNotActive):
		return apperr.InvalidState("listing_not_active", "listing", id, "not active")
	default:
		return apperr.Unavailable("listing store", err)
	}
}
