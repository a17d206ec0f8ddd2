// Package check runs the preflight validations that must pass before the
// consumer loop starts, mirroring spirit's pattern of running every check
// (binlog format, privileges, replica lag) before Runner.setup ever
// touches the table being migrated. Here the checks are: config is valid,
// the database is reachable, and the ledger schema's two tables exist.
package check

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/loopworks/edgesync/pkg/config"
	"github.com/loopworks/edgesync/pkg/syncerr"
)

// Preflight runs every start-up check and returns a *syncerr.Error of kind
// KindConfig on the first failure. It never partially succeeds: either
// every check passes or the process should exit nonzero without starting
// the consumer loop.
func Preflight(ctx context.Context, cfg *config.Config, db *sql.DB) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := pingDatabase(ctx, db); err != nil {
		return err
	}
	if err := ledgerTablesExist(ctx, db, cfg.LedgerSchema); err != nil {
		return err
	}
	return nil
}

func pingDatabase(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return syncerr.Wrap(syncerr.KindConfig, "cannot reach configured database", err)
	}
	return nil
}

func ledgerTablesExist(ctx context.Context, db *sql.DB, schemaName string) error {
	for _, table := range []string{"processing_log", "processed_file"} {
		row := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?",
			schemaName, table)
		var count int
		if err := row.Scan(&count); err != nil {
			return syncerr.Wrap(syncerr.KindConfig, fmt.Sprintf("failed to check for table %s.%s", schemaName, table), err)
		}
		if count == 0 {
			return syncerr.New(syncerr.KindConfig, fmt.Sprintf("required table %s.%s does not exist; apply the out-of-band migration first", schemaName, table))
		}
	}
	return nil
}
