package resources

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"

	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrations embed.FS

// migrationLock serialises concurrent replicas applying the same migration.
const migrationLock = 0x76756f73

// Migrate applies the embedded schema migrations that are not yet recorded in
// _migrations, each in its own transaction, in file name order.
func Migrate(ctx context.Context, db DBInstance) error {
	return migrate(ctx, db, migrations)
}

func migrate(ctx context.Context, db DBInstance, fsys fs.FS) error {
	logger := log.Ctx(ctx).With().Str("stage", "startup").Str("component", "migrations").Logger()

	_, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS _migrations (
		name       text PRIMARY KEY,
		applied_at timestamptz NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	names, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}

	slices.Sort(names)

	for _, name := range names {
		script, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		applied, err := apply(ctx, db, path.Base(name), string(script))
		if err != nil {
			return err
		}

		if applied {
			logger.Info().Str("migration", path.Base(name)).Msg("migration applied")
		}
	}

	return nil
}

func apply(ctx context.Context, db DBInstance, name string, script string) (bool, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin migration %s: %w", name, err)
	}

	abort := func(err error) (bool, error) {
		_ = tx.Rollback(ctx)
		return false, err
	}

	_, err = tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLock)
	if err != nil {
		return abort(fmt.Errorf("failed to lock migrations: %w", err))
	}

	var done bool

	err = tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM _migrations WHERE name = $1)", name).Scan(&done)
	if err != nil {
		return abort(fmt.Errorf("failed to check migration %s: %w", name, err))
	}

	if done {
		return abort(nil)
	}

	_, err = tx.Exec(ctx, script)
	if err != nil {
		return abort(fmt.Errorf("failed to apply migration %s: %w", name, err))
	}

	_, err = tx.Exec(ctx, "INSERT INTO _migrations (name) VALUES ($1)", name)
	if err != nil {
		return abort(fmt.Errorf("failed to record migration %s: %w", name, err))
	}

	err = tx.Commit(ctx)
	if err != nil {
		return abort(fmt.Errorf("failed to commit migration %s: %w", name, err))
	}

	return true, nil
}
