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

// ScheduleRepository implements interfaces.ScheduleStorage.
type ScheduleRepository struct {
	db *sqlx.DB
}

const scheduleCols = `id, schedule_type, source_id, wordpress_settings_id, cron,
	timezone, active, config, repeat_key, created_at, updated_at`

func (r *ScheduleRepository) CreateSchedule(ctx context.Context, schedule *models.Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}
	if schedule.ID == "" {
		schedule.ID = common.NewID()
	}
	if schedule.Config == nil {
		schedule.Config = models.JSONMap{}
	}
	now := time.Now()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO schedules (id, schedule_type, source_id, wordpress_settings_id,
		 cron, timezone, active, config, repeat_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		schedule.ID, schedule.ScheduleType, schedule.SourceID, schedule.WordPressSettingsID,
		schedule.Cron, schedule.Timezone, schedule.Active, schedule.Config,
		schedule.RepeatKey, now, now)
	if err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

func (r *ScheduleRepository) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	var schedule models.Schedule
	err := r.db.GetContext(ctx, &schedule,
		`SELECT `+scheduleCols+` FROM schedules WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule %s: %w", id, err)
	}
	return &schedule, nil
}

func (r *ScheduleRepository) ListSchedules(ctx context.Context) ([]*models.Schedule, error) {
	schedules := []*models.Schedule{}
	err := r.db.SelectContext(ctx, &schedules,
		`SELECT `+scheduleCols+` FROM schedules ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return schedules, nil
}

func (r *ScheduleRepository) ListActiveSchedules(ctx context.Context) ([]*models.Schedule, error) {
	schedules := []*models.Schedule{}
	err := r.db.SelectContext(ctx, &schedules,
		`SELECT `+scheduleCols+` FROM schedules WHERE active = TRUE ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list active schedules: %w", err)
	}
	return schedules, nil
}

func (r *ScheduleRepository) UpdateSchedule(ctx context.Context, schedule *models.Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}
	schedule.UpdatedAt = time.Now()
	result, err := r.db.ExecContext(ctx,
		`UPDATE schedules SET schedule_type = $2, source_id = $3,
		 wordpress_settings_id = $4, cron = $5, timezone = $6, active = $7,
		 config = $8, repeat_key = $9, updated_at = $10
		 WHERE id = $1`,
		schedule.ID, schedule.ScheduleType, schedule.SourceID, schedule.WordPressSettingsID,
		schedule.Cron, schedule.Timezone, schedule.Active, schedule.Config,
		schedule.RepeatKey, schedule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update schedule %s: %w", schedule.ID, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (r *ScheduleRepository) SetRepeatKey(ctx context.Context, id string, repeatKey *string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE schedules SET repeat_key = $2, updated_at = NOW() WHERE id = $1`, id, repeatKey)
	if err != nil {
		return fmt.Errorf("set repeat key for schedule %s: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (r *ScheduleRepository) DeleteSchedule(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule %s: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}
