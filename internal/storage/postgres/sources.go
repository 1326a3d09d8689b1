package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vanevents/harvester/internal/common"
	"github.com/vanevents/harvester/internal/interfaces"
	"github.com/vanevents/harvester/internal/models"
)

// SourceRepository implements interfaces.SourceStorage. Deletes are soft so
// historical runs keep their source reference.
type SourceRepository struct {
	db *sqlx.DB
}

const sourceCols = `id, module_key, name, base_url, active, default_timezone,
	rate_limit, source_type, created_at, updated_at, deleted_at`

func (r *SourceRepository) CreateSource(ctx context.Context, source *models.Source) error {
	if source.ID == "" {
		source.ID = common.NewID()
	}
	now := time.Now()
	source.CreatedAt = now
	source.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sources (id, module_key, name, base_url, active, default_timezone,
		 rate_limit, source_type, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		source.ID, source.ModuleKey, source.Name, source.BaseURL, source.Active,
		source.DefaultTimezone, source.RateLimit, source.SourceType, now, now)
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}
	return nil
}

func (r *SourceRepository) GetSource(ctx context.Context, id string) (*models.Source, error) {
	var source models.Source
	err := r.db.GetContext(ctx, &source,
		`SELECT `+sourceCols+` FROM sources WHERE id = $1 AND deleted_at IS NULL`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source %s: %w", id, err)
	}
	return &source, nil
}

func (r *SourceRepository) GetSourceByModuleKey(ctx context.Context, moduleKey string) (*models.Source, error) {
	var source models.Source
	err := r.db.GetContext(ctx, &source,
		`SELECT `+sourceCols+` FROM sources WHERE module_key = $1 AND deleted_at IS NULL`, moduleKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source by module key %s: %w", moduleKey, err)
	}
	return &source, nil
}

func (r *SourceRepository) ListSources(ctx context.Context, activeOnly bool) ([]*models.Source, error) {
	query := `SELECT ` + sourceCols + ` FROM sources WHERE deleted_at IS NULL`
	if activeOnly {
		query += ` AND active = TRUE`
	}
	query += ` ORDER BY created_at DESC`

	sources := []*models.Source{}
	if err := r.db.SelectContext(ctx, &sources, query); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}

func (r *SourceRepository) UpdateSource(ctx context.Context, source *models.Source) error {
	source.UpdatedAt = time.Now()
	result, err := r.db.ExecContext(ctx,
		`UPDATE sources SET module_key = $2, name = $3, base_url = $4, active = $5,
		 default_timezone = $6, rate_limit = $7, source_type = $8, updated_at = $9
		 WHERE id = $1 AND deleted_at IS NULL`,
		source.ID, source.ModuleKey, source.Name, source.BaseURL, source.Active,
		source.DefaultTimezone, source.RateLimit, source.SourceType, source.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update source %s: %w", source.ID, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (r *SourceRepository) DeleteSource(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sources SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("delete source %s: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}
