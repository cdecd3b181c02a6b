package auth

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestService_RegisterAndLogin(t *testing.T) {
	svc := NewService(newFakeRepository(), "test-secret", time.Hour)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterRequest{
		Email:    " Alice@Example.com ",
		Password: "supersafe",
		FullName: "Alice Agent",
		Role:     RoleAgent,
	})
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", user.Email)
	require.Equal(t, RoleAgent, user.Role)
	require.NotEqual(t, "supersafe", user.PasswordHash)

	res, err := svc.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "supersafe"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Token)
	require.Equal(t, user.ID, res.User.ID)

	p, err := svc.VerifyToken(res.Token)
	require.NoError(t, err)
	require.Equal(t, Principal{UserID: user.ID, Role: RoleAgent}, p)
}

func TestService_RegisterValidation(t *testing.T) {
	svc := NewService(newFakeRepository(), "test-secret", time.Hour)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{Email: "a@example.com", Password: "short", FullName: "A", Role: RoleBuyer})
	require.ErrorIs(t, err, ErrWeakPassword)

	_, err = svc.Register(ctx, RegisterRequest{Email: "not-an-email", Password: "strongpassword", FullName: "A", Role: RoleBuyer})
	require.ErrorIs(t, err, ErrInvalidRegistration)

	_, err = svc.Register(ctx, RegisterRequest{Email: "a@example.com", Password: "strongpassword", FullName: " ", Role: RoleBuyer})
	require.ErrorIs(t, err, ErrInvalidRegistration)

	_, err = svc.Register(ctx, RegisterRequest{Email: "a@example.com", Password: "strongpassword", FullName: "A"})
	require.ErrorIs(t, err, ErrInvalidRegistration, "role is mandatory")

	_, err = svc.Register(ctx, RegisterRequest{Email: "a@example.com", Password: "strongpassword", FullName: "A", Role: "broker_admin"})
	require.ErrorIs(t, err, ErrInvalidRegistration)
}

func TestService_DuplicateEmail(t *testing.T) {
	svc := NewService(newFakeRepository(), "test-secret", time.Hour)
	req := RegisterRequest{Email: "seller@example.com", Password: "strongpassword", FullName: "Sam Seller", Role: RoleSeller}

	_, err := svc.Register(context.Background(), req)
	require.NoError(t, err)

	req.Email = "SELLER@example.com"
	_, err = svc.Register(context.Background(), req)
	require.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	svc := NewService(newFakeRepository(), "test-secret", time.Hour)
	ctx := context.Background()

	_, err := svc.Login(ctx, LoginRequest{Email: "unknown@example.com", Password: "irrelevant"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Register(ctx, RegisterRequest{Email: "b@example.com", Password: "strongpassword", FullName: "B", Role: RoleBuyer})
	require.NoError(t, err)
	_, err = svc.Login(ctx, LoginRequest{Email: "b@example.com", Password: "wrongpassword"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_VerifyTokenRejects(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(newFakeRepository(), "test-secret", time.Hour).WithClock(func() time.Time { return now })

	token, _, err := svc.IssueToken(Principal{UserID: "u1", Role: RoleBuyer})
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		later := NewService(newFakeRepository(), "test-secret", time.Hour).
			WithClock(func() time.Time { return now.Add(2 * time.Hour) })
		_, err := later.VerifyToken(token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewService(newFakeRepository(), "other-secret", time.Hour).WithClock(func() time.Time { return now })
		_, err := other.VerifyToken(token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unknown role", func(t *testing.T) {
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			Role: "broker_admin",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "u1",
				Issuer:    issuer,
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		}).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = svc.VerifyToken(forged)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.VerifyToken("not.a.token")
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

type fakeRepository struct {
	usersByEmail map[string]User
	usersByID    map[string]User
	nextID       int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		usersByEmail: make(map[string]User),
		usersByID:    make(map[string]User),
		nextID:       1,
	}
}

func (f *fakeRepository) CreateUser(_ context.Context, params CreateUserParams) (User, error) {
	if _, exists := f.usersByEmail[strings.ToLower(params.Email)]; exists {
		return User{}, ErrDuplicateEmail
	}
	id := params.ID
	if id == "" {
		id = fmt.Sprintf("user-%d", f.nextID)
		f.nextID++
	}
	user := User{
		ID:           id,
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	f.usersByEmail[strings.ToLower(user.Email)] = user
	f.usersByID[user.ID] = user
	return user, nil
}

func (f *fakeRepository) GetUserByEmail(_ context.Context, email string) (User, error) {
	user, ok := f.usersByEmail[strings.ToLower(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeRepository) GetUserByID(_ context.Context, userID string) (User, error) {
	user, ok := f.usersByID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}
