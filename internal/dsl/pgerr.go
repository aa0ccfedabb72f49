package dsl

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/plinthdb/plinth/internal/errs"
)

// translatePgError maps storage-engine failures onto the error
// taxonomy, carrying hint/detail where the engine provides them.
// Server-internal (5xx-class) causes are generalized so internals do
// not leak to clients.
func translatePgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.Transient("statement cancelled"), err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return errs.Wrap(errs.Internal("storage request failed"), err)
	}

	mapped := classify(pgErr)
	mapped.WithDiagnostics(pgErr.Hint, pgErr.Detail)
	return errs.Wrap(mapped, err)
}

func classify(pgErr *pgconn.PgError) *errs.Error {
	switch pgErr.Code {
	case "23505": // unique_violation
		return errs.Conflict("duplicate value violates a unique constraint")
	case "23503": // foreign_key_violation
		return errs.Conflict("value violates a relationship constraint")
	case "23502", "23514": // not_null, check
		return errs.Validation("%s", pgErr.Message)
	case "42P01": // undefined_table
		return errs.NotFound("relation does not exist")
	case "42703": // undefined_column
		return errs.NotFound("column does not exist")
	case "42883": // undefined_function
		return errs.NotFound("function does not exist")
	case "42501": // insufficient_privilege
		return errs.Authorization("insufficient privilege for this statement")
	}

	switch class(pgErr.Code) {
	case "42": // syntax or access rule violations
		return errs.Validation("%s", pgErr.Message)
	case "22": // data exceptions
		return errs.Validation("%s", pgErr.Message)
	case "08", "53", "57": // connection, resources, operator intervention
		return errs.Transient("storage temporarily unavailable")
	}

	// Everything else is server-internal: generalize.
	return errs.Internal("storage request failed")
}

func class(code string) string {
	if len(code) < 2 {
		return code
	}
	return code[:2]
}

// IsUniqueViolation reports whether err is a duplicate-key failure,
// used by the schema engine to surface Conflict on create.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
