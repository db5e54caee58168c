package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// migrationLockID serializes directory migrations across servers starting
// at the same time.
const migrationLockID = 0x68736b64

const migrationsTable = `CREATE TABLE IF NOT EXISTS auth_directory_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type migration struct {
	version int
	stmt    string
}

var directoryMigrations = []migration{
	{version: 1, stmt: InstanceSchema},
	{version: 2, stmt: `CREATE INDEX IF NOT EXISTS auth_instances_updated_at_idx ON auth_instances (updated_at)`},
}

// SchemaVersion returns the highest applied directory migration, 0 when the
// directory was never migrated.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM auth_directory_migrations`).Scan(&version)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P01" {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: schema version: %w", err)
	}
	return version, nil
}

// applyMigrations runs the pending steps of ms in one transaction and
// records each applied version.
func applyMigrations(ctx context.Context, db *sql.DB, ms []migration) (err error) {
	if db == nil {
		return errors.New("postgres: db is nil")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("postgres: migrate lock: %w", err)
	}
	if _, err = tx.ExecContext(ctx, migrationsTable); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	var current int
	if err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM auth_directory_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	for _, m := range ms {
		if m.version <= current {
			continue
		}
		if _, err = tx.ExecContext(ctx, m.stmt); err != nil {
			return fmt.Errorf("postgres: migrate v%d: %w", m.version, err)
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO auth_directory_migrations (version) VALUES ($1)`, m.version); err != nil {
			return fmt.Errorf("postgres: migrate v%d: %w", m.version, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}
