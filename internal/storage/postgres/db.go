package postgres

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/ternarybob/arbor"
)

// Store bundles the repositories over one Postgres connection pool.
type Store struct {
	db     *sqlx.DB
	logger arbor.ILogger

	Sources   *SourceRepository
	Schedules *ScheduleRepository
	Runs      *RunRepository
	Instagram *InstagramRepository
	WordPress *WordPressRepository
}

// Open connects to Postgres through the pgx driver and verifies the
// connection with a ping so store misconfiguration fails at boot.
func Open(ctx context.Context, databaseURL string, logger arbor.ILogger) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info().Msg("Postgres connected")

	return &Store{
		db:        db,
		logger:    logger,
		Sources:   &SourceRepository{db: db},
		Schedules: &ScheduleRepository{db: db},
		Runs:      &RunRepository{db: db},
		Instagram: &InstagramRepository{db: db},
		WordPress: &WordPressRepository{db: db},
	}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
