package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/freightledger/ledger/internal/shared"
)

func TestTranslateErrorMapsConcurrencyCodes(t *testing.T) {
	for _, code := range []string{CodeUniqueViolation, CodeSerializationFailure, CodeDeadlockDetected} {
		err := TranslateError(fmt.Errorf("insert: %w", &pgconn.PgError{Code: code, TableName: "invoice_operations", ConstraintName: "invoice_operations_pkey"}))
		require.ErrorIs(t, err, shared.ErrConflict, code)
	}
}

func TestTranslateErrorMapsIntegrityViolations(t *testing.T) {
	for _, code := range []string{CodeForeignKeyViolation, CodeCheckViolation} {
		err := TranslateError(fmt.Errorf("insert: %w", &pgconn.PgError{Code: code, TableName: "invoices", ConstraintName: "invoices_client_id_fkey"}))
		require.ErrorIs(t, err, shared.ErrValidation, code)
		e, ok := shared.AsError(err)
		require.True(t, ok)
		require.Equal(t, "invoices", e.Entity)
		require.Equal(t, "invoices_client_id_fkey", e.Rule)
	}
}

func TestTranslateErrorSerializationRule(t *testing.T) {
	e, ok := shared.AsError(TranslateError(&pgconn.PgError{Code: CodeSerializationFailure}))
	require.True(t, ok)
	require.Equal(t, "serialization_failure", e.Rule)
}

func TestTranslateErrorPassesThrough(t *testing.T) {
	plain := errors.New("boom")
	require.Same(t, plain, TranslateError(plain))
	require.NoError(t, TranslateError(nil))

	other := &pgconn.PgError{Code: "22001"}
	require.ErrorIs(t, TranslateError(other), other)

	domain := shared.NotFound("operation", 3)
	require.Same(t, domain, TranslateError(domain))
}
