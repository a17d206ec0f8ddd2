// Package dbconn wraps database/sql with the placeholder-expansion helper
// and DBConfig struct spirit's dbconn package provides to its Runner. The
// sync processor uses it the same way: %n for a backtick-quoted identifier,
// %? for a bound value, so a table or schema name picked up from the
// registry can be interpolated safely alongside ordinary bound parameters.
package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DBConfig holds the connection-pool tuning spirit exposes on its Runner.
// edgesync only ever opens one pool per process, so these are conservative
// fixed defaults rather than something threaded through from the CLI.
type DBConfig struct {
	MaxOpenConnections int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	LockWaitTimeout    int
}

// NewDBConfig returns the defaults used when the caller has no special
// requirements, mirroring spirit's NewDBConfig().
func NewDBConfig() *DBConfig {
	return &DBConfig{
		MaxOpenConnections: 10,
		MaxIdleConnections: 5,
		ConnMaxLifetime:    time.Hour,
		LockWaitTimeout:    30,
	}
}

// New opens a *sql.DB against dsn and applies cfg's pool settings.
func New(dsn string, cfg *DBConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		db.SetMaxOpenConns(cfg.MaxOpenConnections)
		db.SetMaxIdleConns(cfg.MaxIdleConnections)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx, so Exec and Query work
// identically whether the caller is inside the per-batch transaction or not.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Exec expands %n and %? placeholders in query against args and runs it.
// %n consumes one arg and quotes it as an identifier; %? consumes one arg
// and becomes an ordinary bound "?" placeholder. The two are interleaved in
// the order they appear, matching how spirit builds its checkpoint and
// DDL statements.
func Exec(ctx context.Context, db querier, query string, args ...any) error {
	expanded, bound, err := expand(query, args)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, expanded, bound...)
	return err
}

// ExecResult behaves like Exec but returns the sql.Result, for callers
// that need a last-insert-id (e.g. a surrogate ProcessedFile id).
func ExecResult(ctx context.Context, db querier, query string, args ...any) (sql.Result, error) {
	expanded, bound, err := expand(query, args)
	if err != nil {
		return nil, err
	}
	return db.ExecContext(ctx, expanded, bound...)
}

// Expand applies %n/%? placeholder substitution without running the
// query, for callers that need to build SQL text incrementally (a bulk
// multi-row INSERT) using the same identifier-quoting rules as Exec.
func Expand(query string, args ...any) (string, []any, error) {
	return expand(query, args)
}

// QueryRow behaves like Exec but returns a single row, for lookups such as
// the content-hash ledger check.
func QueryRow(ctx context.Context, db querier, query string, args ...any) (*sql.Row, error) {
	expanded, bound, err := expand(query, args)
	if err != nil {
		return nil, err
	}
	return db.QueryRowContext(ctx, expanded, bound...), nil
}

// Query behaves like Exec but returns a row set.
func Query(ctx context.Context, db querier, query string, args ...any) (*sql.Rows, error) {
	expanded, bound, err := expand(query, args)
	if err != nil {
		return nil, err
	}
	return db.QueryContext(ctx, expanded, bound...)
}

func expand(query string, args []any) (string, []any, error) {
	var b strings.Builder
	bound := make([]any, 0, len(args))
	argIdx := 0
	i := 0
	for i < len(query) {
		if query[i] == '%' && i+1 < len(query) {
			switch query[i+1] {
			case 'n':
				if argIdx >= len(args) {
					return "", nil, fmt.Errorf("dbconn: not enough args for %%n in query %q", query)
				}
				name, ok := args[argIdx].(string)
				if !ok {
					return "", nil, fmt.Errorf("dbconn: %%n argument at position %d is not a string", argIdx)
				}
				b.WriteByte('`')
				b.WriteString(strings.ReplaceAll(name, "`", "``"))
				b.WriteByte('`')
				argIdx++
				i += 2
				continue
			case '?':
				if argIdx >= len(args) {
					return "", nil, fmt.Errorf("dbconn: not enough args for %%? in query %q", query)
				}
				b.WriteByte('?')
				bound = append(bound, args[argIdx])
				argIdx++
				i += 2
				continue
			}
		}
		b.WriteByte(query[i])
		i++
	}
	return b.String(), bound, nil
}
