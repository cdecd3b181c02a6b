package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/app?sslmode=disable": "pgx5://u:p@localhost:5432/app?sslmode=disable",
		"postgresql://u@db/app":                             "pgx5://u@db/app",
		"pgx5://u@db/app?search_path=run_1":                 "pgx5://u@db/app?search_path=run_1",
	}
	for in, want := range cases {
		got, err := migrateURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
}

func TestMigrateURLRejectsKeywordDSN(t *testing.T) {
	_, err := migrateURL("host=localhost user=app password=secret")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}

func TestNewPoolRejectsEmpty(t *testing.T) {
	_, err := NewPool(t.Context(), "")
	require.Error(t, err)
}
