package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/freightledger/ledger/internal/shared"
)

// SQLSTATE codes the ledger reacts to.
const (
	CodeForeignKeyViolation  = "23503"
	CodeCheckViolation       = "23514"
	CodeUniqueViolation      = "23505"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
)

// TranslateError maps PostgreSQL concurrency and uniqueness failures to ledger
// conflicts, and foreign key or check violations to validation failures.
// Other errors are returned unchanged.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := shared.AsError(err); ok {
		return err
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case CodeUniqueViolation:
		return &shared.Error{
			Kind:    shared.KindConflict,
			Entity:  pgErr.TableName,
			Rule:    pgErr.ConstraintName,
			Message: "concurrent write already recorded this row",
		}
	case CodeSerializationFailure, CodeDeadlockDetected:
		return &shared.Error{
			Kind:    shared.KindConflict,
			Rule:    "serialization_failure",
			Message: "transaction lost a race with a concurrent writer",
		}
	case CodeForeignKeyViolation:
		return &shared.Error{
			Kind:    shared.KindValidation,
			Entity:  pgErr.TableName,
			Rule:    pgErr.ConstraintName,
			Message: "referenced record does not exist",
		}
	case CodeCheckViolation:
		return &shared.Error{
			Kind:    shared.KindValidation,
			Entity:  pgErr.TableName,
			Rule:    pgErr.ConstraintName,
			Message: "value violates a ledger constraint",
		}
	}
	return err
}

// IsNoRows reports whether err is pgx.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
