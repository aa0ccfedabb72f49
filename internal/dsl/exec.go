package dsl

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/plinthdb/plinth/internal/errs"
)

// Beginner opens a transaction; satisfied by *pgxpool.Pool,
// *pgxpool.Conn, and *pgx.Conn.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Session is the per-request execution context: the effective database
// role (for row-level security) and request-scoped session variables
// (for audit attribution). Variables are set with set_config(..., true)
// so they are transaction-local and can never leak across requests or
// tenants.
type Session struct {
	Role      string
	Variables map[string]string
}

// Execute runs one compiled statement inside its own transaction:
// set role, set session variables, execute, commit. The transaction is
// never shared or held open across requests.
func Execute(ctx context.Context, db Beginner, session Session, stmt *Statement) ([]map[string]any, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, translatePgError(err)
	}
	defer tx.Rollback(ctx)

	if err := applySession(ctx, tx, session); err != nil {
		return nil, err
	}

	rows, err := collect(ctx, tx, stmt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, translatePgError(err)
	}
	return rows, nil
}

func applySession(ctx context.Context, tx pgx.Tx, session Session) error {
	if session.Role != "" {
		if !validIdent(session.Role) {
			return errs.Validation("invalid database role %q", session.Role)
		}
		if _, err := tx.Exec(ctx, "SET LOCAL ROLE "+quoteIdent(session.Role)); err != nil {
			return translatePgError(err)
		}
	}

	keys := make([]string, 0, len(session.Variables))
	for k := range session.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := tx.Exec(ctx, "SELECT set_config($1, $2, true)", k, session.Variables[k]); err != nil {
			return translatePgError(err)
		}
	}
	return nil
}

func collect(ctx context.Context, tx pgx.Tx, stmt *Statement) ([]map[string]any, error) {
	rows, err := tx.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, translatePgError(err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := []map[string]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, translatePgError(err)
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[f.Name] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, translatePgError(err)
	}
	return out, nil
}

// CompileCall builds a function invocation. Positional arguments
// compile to plain parameter placeholders; named arguments compile to
// "name := $n" placeholders.
func (c *Compiler) CompileCall(function string, positional []any, named map[string]any) (*Statement, error) {
	ref, err := ParseTableRef(function)
	if err != nil {
		return nil, err
	}
	ref, err = c.resolve(ref)
	if err != nil {
		return nil, err
	}
	if len(positional) > 0 && len(named) > 0 {
		return nil, errs.Validation("function arguments must be all positional or all named")
	}

	b := &builder{}
	var params []string
	for _, v := range positional {
		params = append(params, b.bind(v))
	}
	if len(named) > 0 {
		keys := make([]string, 0, len(named))
		for k := range named {
			if !validIdent(k) {
				return nil, errs.Validation("invalid argument name %q", k)
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			params = append(params, fmt.Sprintf("%s := %s", quoteIdent(k), b.bind(named[k])))
		}
	}

	sql := fmt.Sprintf("SELECT * FROM %s(%s)", qualify(ref), strings.Join(params, ", "))
	return &Statement{SQL: sql, Args: b.args}, nil
}

// ExecuteCall runs a compiled function invocation and unwraps the
// result: a single-row, single-column result whose only column name
// equals the function name yields that scalar/array value; anything
// else comes back as the raw row set.
func ExecuteCall(ctx context.Context, db Beginner, session Session, function string, stmt *Statement) (any, error) {
	rows, err := Execute(ctx, db, session, stmt)
	if err != nil {
		return nil, err
	}

	name := function
	if ref, err := ParseTableRef(function); err == nil {
		name = ref.Name
	}
	if len(rows) == 1 && len(rows[0]) == 1 {
		if v, ok := rows[0][name]; ok {
			return v, nil
		}
	}
	return rows, nil
}
