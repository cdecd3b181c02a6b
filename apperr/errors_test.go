package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMatchesKindSentinel(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", InvalidState("proposal_not_pending", "proposal", "p1", "accepted"))

	require.ErrorIs(t, err, ErrInvalidState)
	require.NotErrorIs(t, err, ErrUnauthorized)
	require.Equal(t, KindInvalidState, KindOf(err))

	typed, ok := As(err)
	require.True(t, ok)
	require.Equal(t, "accepted", typed.CurrentState)
	require.Equal(t, "proposal_not_pending", typed.Code)
}

func TestUnavailableKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Unavailable("accept proposal", cause)

	require.ErrorIs(t, err, ErrDependencyUnavailable)
	require.ErrorIs(t, err, cause)
	require.True(t, err.Retryable())
	require.Contains(t, err.Error(), "connection refused")
}

func TestUnauthorizedCarriesRequiredRole(t *testing.T) {
	err := Unauthorized("service", "s1", "agent")

	require.False(t, err.Retryable())
	require.Equal(t, "agent", err.RequiredRole)
	require.Equal(t, "unauthorized (role_required): service s1 requires role agent", err.Error())
}

func TestKindOfUntypedError(t *testing.T) {
	require.Equal(t, KindDependencyUnavailable, KindOf(errors.New("boom")))
	require.Equal(t, KindNotFound, KindOf(NotFound("listing", "l1")))
}
