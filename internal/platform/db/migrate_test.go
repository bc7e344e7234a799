package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/ledger?sslmode=disable", migrateURL("postgres://u:p@localhost:5432/ledger?sslmode=disable"))
	require.Equal(t, "pgx5://db/ledger", migrateURL("postgresql://db/ledger"))
	require.Equal(t, "pgx5://already", migrateURL("pgx5://already"))
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	entries, err := migrationFS.ReadDir("migrations")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(entries), 2)
}
