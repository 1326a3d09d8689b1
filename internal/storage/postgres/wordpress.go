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

// WordPressRepository implements interfaces.WordPressStorage.
type WordPressRepository struct {
	db *sqlx.DB
}

func (r *WordPressRepository) GetSettings(ctx context.Context, id string) (*models.WordPressSettings, error) {
	var settings models.WordPressSettings
	err := r.db.GetContext(ctx, &settings,
		`SELECT id, site_url, username, app_password, active, created_at
		 FROM wordpress_settings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wordpress settings %s: %w", id, err)
	}
	return &settings, nil
}

func (r *WordPressRepository) ListSettings(ctx context.Context) ([]*models.WordPressSettings, error) {
	settings := []*models.WordPressSettings{}
	err := r.db.SelectContext(ctx, &settings,
		`SELECT id, site_url, username, app_password, active, created_at
		 FROM wordpress_settings ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list wordpress settings: %w", err)
	}
	return settings, nil
}

func (r *WordPressRepository) CreateExport(ctx context.Context, export *models.WordPressExport) error {
	if export.ID == "" {
		export.ID = common.NewID()
	}
	if export.Status == "" {
		export.Status = models.ExportStatusProcessing
	}
	if export.Filters == nil {
		export.Filters = models.JSONMap{}
	}
	export.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO wordpress_exports (id, settings_id, status, format, filters, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		export.ID, export.SettingsID, export.Status, export.Format, export.Filters, export.CreatedAt)
	if err != nil {
		return fmt.Errorf("create wordpress export: %w", err)
	}
	return nil
}

func (r *WordPressRepository) UpdateExportStatus(ctx context.Context, id string, status string, errorMsg *string) error {
	var finishedAt *time.Time
	if status == models.ExportStatusCompleted || status == models.ExportStatusFailed {
		now := time.Now()
		finishedAt = &now
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE wordpress_exports SET status = $2, error = $3,
		 finished_at = COALESCE(finished_at, $4) WHERE id = $1`,
		id, status, errorMsg, finishedAt)
	if err != nil {
		return fmt.Errorf("update wordpress export %s: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (r *WordPressRepository) ListExports(ctx context.Context, settingsID string, limit int) ([]*models.WordPressExport, error) {
	if limit <= 0 {
		limit = 50
	}
	exports := []*models.WordPressExport{}
	err := r.db.SelectContext(ctx, &exports,
		`SELECT id, settings_id, status, format, filters, error, created_at, finished_at
		 FROM wordpress_exports WHERE settings_id = $1
		 ORDER BY created_at DESC LIMIT $2`, settingsID, limit)
	if err != nil {
		return nil, fmt.Errorf("list wordpress exports: %w", err)
	}
	return exports, nil
}
