package db

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// invalidTextRepresentation is raised when a parameter cannot be cast to its column type.
const invalidTextRepresentation = "22P02"

// ValidID reports whether id is a canonical UUID, the only form the id columns hold. Callers
// treat anything else as an id that resolves to nothing.
func ValidID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.String() == strings.ToLower(id)
}

// IsInvalidText reports whether err is Postgres rejecting a malformed literal.
func IsInvalidText(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation
}
