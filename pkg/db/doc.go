// Package db provides the PostgreSQL plumbing of the engine service.
//
// It wraps [github.com/jackc/pgx/v5/pgxpool] for pooling and startup retries,
// exposes the pool through database/sql for the stores, and runs the embedded
// [github.com/pressly/goose/v3] migrations.
//
// # Configuration
//
// All settings are loaded from environment variables:
//
//	DATABASE_CONN_URL           - PostgreSQL connection URL (required)
//	DATABASE_MAX_OPEN_CONNS     - Maximum open connections (default: 20)
//	DATABASE_MIN_CONNS          - Minimum idle connections (default: 2)
//	DATABASE_HEALTHCHECK_PERIOD - Health check interval (default: 1m)
//	DATABASE_MAX_CONN_IDLE_TIME - Maximum connection idle time (default: 10m)
//	DATABASE_MAX_CONN_LIFETIME  - Maximum connection lifetime (default: 30m)
//	DATABASE_RETRY_ATTEMPTS     - Connection retry attempts (default: 3)
//	DATABASE_RETRY_INTERVAL     - Base retry interval (default: 5s)
//	DATABASE_MIGRATIONS_TABLE   - Goose version table (default: emailengine_migrations)
//	DATABASE_AUTO_MIGRATE       - Apply migrations on startup (default: true)
//
// # Usage
//
//	pool, err := db.Connect(ctx, cfg.Database)
//	if err != nil {
//		return err
//	}
//	conn := db.StdDB(pool)
//
//	if err := db.Migrate(ctx, conn, postgres.Migrations, postgres.MigrationsDir, cfg.Database.MigrationsTable, log); err != nil {
//		return err
//	}
//
// # Transactions
//
// [WithTx] rolls back when the callback fails or panics:
//
//	err := db.WithTx(ctx, conn, func(tx *sql.Tx) error {
//		_, err := tx.ExecContext(ctx, "UPDATE email_sends SET ...")
//		return err
//	})
//
// # Error Handling
//
//   - [ErrFailedToParseDBConfig] - Invalid connection string format
//   - [ErrFailedToOpenDBConnection] - Connection failed after all retries
//   - [ErrHealthcheckFailed] - Database ping failed
//   - [ErrBeginTx], [ErrCommitTx] - Transaction boundaries failed
//   - [ErrSetDialect], [ErrApplyMigrations] - Migration errors
//
// Errors are wrapped using [errors.Join] to preserve the original error context.
package db
