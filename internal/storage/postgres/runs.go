package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vanevents/harvester/internal/common"
	"github.com/vanevents/harvester/internal/interfaces"
	"github.com/vanevents/harvester/internal/models"
)

// RunRepository implements interfaces.RunStorage.
type RunRepository struct {
	db *sqlx.DB
}

const runCols = `id, source_id, status, started_at, finished_at, events_found,
	pages_crawled, parent_run_id, metadata, created_at`

func (r *RunRepository) CreateRun(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		run.ID = common.NewID()
	}
	if run.Status == "" {
		run.Status = models.RunStatusQueued
	}
	if run.Metadata == nil {
		run.Metadata = models.JSONMap{}
	}
	run.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO runs (id, source_id, status, started_at, finished_at,
		 events_found, pages_crawled, parent_run_id, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.SourceID, run.Status, run.StartedAt, run.FinishedAt,
		run.EventsFound, run.PagesCrawled, run.ParentRunID, run.Metadata, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (r *RunRepository) GetRun(ctx context.Context, id string) (*models.Run, error) {
	var run models.Run
	err := r.db.GetContext(ctx, &run, `SELECT `+runCols+` FROM runs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &run, nil
}

// GetRunByJobID resolves a run through the jobId written into its metadata.
// This is the reverse lookup cancellation uses once the broker has evicted
// the job record.
func (r *RunRepository) GetRunByJobID(ctx context.Context, jobID string) (*models.Run, error) {
	var run models.Run
	err := r.db.GetContext(ctx, &run,
		`SELECT `+runCols+` FROM runs WHERE metadata->>'jobId' = $1
		 ORDER BY created_at DESC LIMIT 1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run by job id %s: %w", jobID, err)
	}
	return &run, nil
}

func (r *RunRepository) ListRuns(ctx context.Context, filter interfaces.RunFilter) ([]*models.Run, error) {
	var conditions []string
	var args []interface{}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, strings.Replace(clause, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	if filter.ScheduleID != nil {
		add(`metadata->>'scheduleId' = ?`, *filter.ScheduleID)
	}
	if filter.SourceID != nil {
		add(`source_id = ?`, *filter.SourceID)
	}
	if filter.Status != nil {
		add(`status = ?`, *filter.Status)
	}
	if filter.ParentsOnly {
		conditions = append(conditions, `parent_run_id IS NULL`)
	}

	query := `SELECT ` + runCols + ` FROM runs`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + strconv.Itoa(limit)

	runs := []*models.Run{}
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (r *RunRepository) ListChildRuns(ctx context.Context, parentRunID string) ([]*models.Run, error) {
	runs := []*models.Run{}
	err := r.db.SelectContext(ctx, &runs,
		`SELECT `+runCols+` FROM runs WHERE parent_run_id = $1 ORDER BY created_at`, parentRunID)
	if err != nil {
		return nil, fmt.Errorf("list child runs of %s: %w", parentRunID, err)
	}
	return runs, nil
}

// UpdateRunStatus writes a status transition. While terminal, finished_at
// keeps its first value; transitioning back to a non-terminal status clears
// it, since a retried run is no longer finished.
func (r *RunRepository) UpdateRunStatus(ctx context.Context, id string, status string, errorMsg *string, startedAt, finishedAt *time.Time) error {
	terminal := models.IsTerminalRunStatus(status)
	result, err := r.db.ExecContext(ctx,
		`UPDATE runs SET
		 status = $2,
		 started_at = COALESCE(started_at, $3),
		 finished_at = CASE WHEN $6 THEN COALESCE(finished_at, $4) ELSE NULL END,
		 metadata = CASE WHEN $5::text IS NULL THEN metadata
		            ELSE metadata || jsonb_build_object('error', $5::text) END
		 WHERE id = $1`,
		id, status, startedAt, finishedAt, errorMsg, terminal)
	if err != nil {
		return fmt.Errorf("update run %s status: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (r *RunRepository) UpdateRunCounters(ctx context.Context, id string, eventsFound, eventsProcessed, pagesProcessed int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE runs SET events_found = $2, pages_crawled = $3,
		 metadata = metadata || jsonb_build_object('eventsProcessed', $4::int)
		 WHERE id = $1`,
		id, eventsFound, pagesProcessed, eventsProcessed)
	if err != nil {
		return fmt.Errorf("update run %s counters: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

// UpdateRunRollup writes the derived parent state in one statement. The
// finished timestamp is set once, the first time the parent settles.
func (r *RunRepository) UpdateRunRollup(ctx context.Context, id string, status string, eventsTotal, pagesTotal int, settled bool, batch models.JSONMap) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE runs SET status = $2, events_found = $3, pages_crawled = $4,
		 finished_at = CASE WHEN $5 THEN COALESCE(finished_at, NOW()) ELSE finished_at END,
		 metadata = metadata || jsonb_build_object('batch', $6::jsonb)
		 WHERE id = $1`,
		id, status, eventsTotal, pagesTotal, settled, batch)
	if err != nil {
		return fmt.Errorf("rollup run %s: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

// MergeRunMetadata merges keys into the metadata document, last write wins
// per key.
func (r *RunRepository) MergeRunMetadata(ctx context.Context, id string, metadata models.JSONMap) error {
	if len(metadata) == 0 {
		return nil
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE runs SET metadata = metadata || $2 WHERE id = $1`, id, metadata)
	if err != nil {
		return fmt.Errorf("merge run %s metadata: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

// GetRunChildStats aggregates the parent's children in one query so the
// rollup reads a consistent snapshot.
func (r *RunRepository) GetRunChildStats(ctx context.Context, parentRunID string) (*models.RunChildStats, error) {
	var stats models.RunChildStats
	err := r.db.GetContext(ctx, &stats,
		`SELECT
		 COUNT(*) AS total,
		 COUNT(*) FILTER (WHERE status = 'success') AS success_count,
		 COUNT(*) FILTER (WHERE status IN ('error', 'partial')) AS failed_count,
		 COUNT(*) FILTER (WHERE status IN ('queued', 'running')) AS pending_count,
		 COALESCE(SUM(events_found), 0) AS events_total,
		 COALESCE(SUM(pages_crawled), 0) AS pages_total
		 FROM runs WHERE parent_run_id = $1`, parentRunID)
	if err != nil {
		return nil, fmt.Errorf("aggregate children of %s: %w", parentRunID, err)
	}
	return &stats, nil
}
