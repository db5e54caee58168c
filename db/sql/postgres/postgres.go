// Package postgres stores the multi-tenant instance directory in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
)

// OpenDirectory connects, applies the directory schema and returns the
// repository together with the pool it owns.
func OpenDirectory(ctx context.Context, opts ...Option) (*InstanceRepository, *sql.DB, error) {
	db, err := Open(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}
	repo := NewInstanceRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return repo, db, nil
}
