package memstore

import (
	"context"
	"strings"

	"homeflow/auth"
)

// Users implements auth.Repository.
type Users struct{ s *Store }

// Users returns the user repository view of s.
func (s *Store) Users() *Users { return &Users{s: s} }

func (r *Users) CreateUser(ctx context.Context, params auth.CreateUserParams) (auth.User, error) {
	if err := r.s.check("user.create", params.Email); err != nil {
		return auth.User{}, err
	}
	key := strings.ToLower(params.Email)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.userEmails[key]; exists {
		return auth.User{}, auth.ErrDuplicateEmail
	}
	now := r.s.now().UTC()
	u := auth.User{
		ID:           params.ID,
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.s.users[u.ID] = u
	r.s.userEmails[key] = u.ID
	return u, nil
}

func (r *Users) GetUserByEmail(ctx context.Context, email string) (auth.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.userEmails[strings.ToLower(email)]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return r.s.users[id], nil
}

func (r *Users) GetUserByID(ctx context.Context, userID string) (auth.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[userID]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return u, nil
}
