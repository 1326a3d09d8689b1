package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// runStatusValues are re-asserted at every boot. ADD VALUE IF NOT EXISTS is
// idempotent, so a database created by an older binary picks up new enum
// values without a numbered migration.
var runStatusValues = []string{"queued", "running", "success", "partial", "error"}

// Migrate applies the embedded migrations in order, then re-asserts enum
// values. A database already at the latest version is a no-op.
func (s *Store) Migrate(ctx context.Context) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	driver, err := pgx.WithInstance(s.db.DB, &pgx.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx", driver)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	for _, value := range runStatusValues {
		stmt := fmt.Sprintf("ALTER TYPE run_status ADD VALUE IF NOT EXISTS '%s'", value)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("assert run_status value %s: %w", value, err)
		}
	}

	s.logger.Info().Msg("Database migrations applied")
	return nil
}
