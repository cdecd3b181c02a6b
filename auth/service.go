package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials  = errors.New("auth: invalid credentials")
	ErrWeakPassword        = errors.New("auth: password must be at least 8 characters")
	ErrInvalidRegistration = errors.New("auth: invalid registration")
	ErrInvalidToken        = errors.New("auth: invalid token")
)

const issuer = "homeflow"

// Claims is the signed token body.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Service registers users and issues and verifies session tokens.
type Service struct {
	repo      Repository
	jwtSecret []byte
	ttl       time.Duration
	now       func() time.Time
	idGen     func() string
}

// LoginResult is returned after successful authentication.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      User
}

// NewService creates an auth service issuing HS256 tokens valid for ttl.
func NewService(repo Repository, jwtSecret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		ttl:       ttl,
		now:       time.Now,
		idGen:     func() string { return uuid.NewString() },
	}
}

// WithClock overrides the time source used for token issue and expiry.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register creates a user. Role is required; there is no default actor type.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (User, error) {
	if len(req.Password) < 8 {
		return User{}, ErrWeakPassword
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return User{}, fmt.Errorf("%w: email %q", ErrInvalidRegistration, req.Email)
	}
	name := strings.TrimSpace(req.FullName)
	if name == "" {
		return User{}, fmt.Errorf("%w: full_name is required", ErrInvalidRegistration)
	}
	role := Role(strings.TrimSpace(string(req.Role)))
	if !role.Valid() {
		return User{}, fmt.Errorf("%w: role %q", ErrInvalidRegistration, req.Role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("auth: hash password: %w", err)
	}

	return s.repo.CreateUser(ctx, CreateUserParams{
		ID:           s.idGen(),
		Email:        email,
		FullName:     name,
		PasswordHash: string(hash),
		Role:         role,
	})
}

// Login checks the password and returns a signed token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	user, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, expiresAt, err := s.IssueToken(Principal{UserID: user.ID, Role: user.Role})
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// GetUserByID fetches a user profile by id.
func (s *Service) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.repo.GetUserByID(ctx, userID)
}

// IssueToken signs a token for p valid for the configured TTL.
func (s *Service) IssueToken(p Principal) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := Claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyToken validates a bearer token and returns its principal.
func (s *Service) VerifyToken(tokenString string) (Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return Principal{}, fmt.Errorf("%w: missing subject or role", ErrInvalidToken)
	}
	return Principal{UserID: claims.Subject, Role: claims.Role}, nil
}
