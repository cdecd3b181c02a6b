package transaction

import (
	"context"
	"errors"

	"homeflow/apperr"
)

// Service exposes participant reads over transactions.
type Service struct {
	repo Repository
}

// NewService creates a read service over repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns the transaction when actingUserID participates in it.
func (s *Service) Get(ctx context.Context, id, actingUserID string) (Transaction, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Transaction{}, apperr.NotFound("transaction", id)
		}
		return Transaction{}, apperr.Unavailable("get transaction", err)
	}
	if _, ok := t.RoleOf(actingUserID); !ok {
		return Transaction{}, apperr.Unauthorized("transaction", id, "participant")
	}
	return t, nil
}

// ListForUser returns every transaction userID participates in, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Transaction, error) {
	list, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Unavailable("list transactions", err)
	}
	return list, nil
}
