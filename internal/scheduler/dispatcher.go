package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/vanevents/harvester/internal/broker"
	"github.com/vanevents/harvester/internal/instagram"
	"github.com/vanevents/harvester/internal/interfaces"
	"github.com/vanevents/harvester/internal/models"
	"github.com/vanevents/harvester/internal/runs"
	"github.com/vanevents/harvester/internal/scraper"
)

// batchTrigger is the slice of the instagram coordinator the dispatcher
// needs.
type batchTrigger interface {
	TriggerAllActiveScrapes(ctx context.Context, opts instagram.BatchOptions, extraMeta models.JSONMap) (*instagram.BatchResult, error)
}

// Dispatcher consumes the schedule queue and branches on schedule type.
// Misconfigured schedules log and no-op; infra failures re-raise so the
// broker's retry policy governs reattempts. The dispatcher never mutates run
// rows beyond creation.
type Dispatcher struct {
	broker    *broker.Broker
	schedules interfaces.ScheduleStorage
	sources   interfaces.SourceStorage
	wordpress interfaces.WordPressStorage
	exporter  interfaces.WordPressExporter
	instagram batchTrigger
	recorder  *runs.Recorder
	logger    arbor.ILogger
}

func NewDispatcher(
	b *broker.Broker,
	schedules interfaces.ScheduleStorage,
	sources interfaces.SourceStorage,
	wordpress interfaces.WordPressStorage,
	exporter interfaces.WordPressExporter,
	coordinator batchTrigger,
	recorder *runs.Recorder,
	logger arbor.ILogger,
) *Dispatcher {
	return &Dispatcher{
		broker:    b,
		schedules: schedules,
		sources:   sources,
		wordpress: wordpress,
		exporter:  exporter,
		instagram: coordinator,
		recorder:  recorder,
		logger:    logger,
	}
}

// Handle is the broker pool handler for the schedule queue.
func (d *Dispatcher) Handle(ctx context.Context, job *broker.Job) error {
	var payload TriggerPayload
	if err := job.UnmarshalData(&payload); err != nil {
		return fmt.Errorf("decode trigger: %w", err)
	}

	schedule, err := d.schedules.GetSchedule(ctx, payload.ScheduleID)
	if errors.Is(err, interfaces.ErrNotFound) {
		// Deleted since the firing was scheduled; reconciliation will
		// remove the binding.
		d.logger.Warn().Str("schedule_id", payload.ScheduleID).Msg("Trigger for missing schedule, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	if !schedule.Active && !payload.Manual {
		d.logger.Debug().Str("schedule_id", schedule.ID).Msg("Trigger for inactive schedule, skipping")
		return nil
	}

	config := schedule.Config.Merge(payload.Config)

	switch schedule.ScheduleType {
	case models.ScheduleTypeScrape:
		return d.dispatchScrape(ctx, schedule, config)
	case models.ScheduleTypeWordPressExport:
		return d.dispatchWordPressExport(ctx, schedule, config)
	case models.ScheduleTypeInstagramScrape:
		return d.dispatchInstagramScrape(ctx, schedule, config)
	default:
		d.logger.Warn().
			Str("schedule_id", schedule.ID).
			Str("schedule_type", schedule.ScheduleType).
			Msg("Unknown schedule type, skipping")
		return nil
	}
}

// dispatchScrape creates one run and one scrape job for the schedule's
// source. Inactive or missing sources are misconfiguration: log and no-op.
func (d *Dispatcher) dispatchScrape(ctx context.Context, schedule *models.Schedule, config models.JSONMap) error {
	if schedule.SourceID == nil {
		d.logger.Warn().Str("schedule_id", schedule.ID).Msg("Scrape schedule without source, skipping")
		return nil
	}

	source, err := d.sources.GetSource(ctx, *schedule.SourceID)
	if errors.Is(err, interfaces.ErrNotFound) {
		d.logger.Warn().
			Str("schedule_id", schedule.ID).
			Str("source_id", *schedule.SourceID).
			Msg("Scrape schedule references missing source, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	if !source.Active {
		d.logger.Debug().
			Str("schedule_id", schedule.ID).
			Str("source_id", source.ID).
			Msg("Source inactive, skipping")
		return nil
	}

	run, err := d.recorder.CreateRun(ctx, &source.ID, models.JSONMap{
		"scheduleId": schedule.ID,
		"moduleKey":  source.ModuleKey,
	})
	if err != nil {
		return err
	}

	scrapeJob, err := d.broker.Enqueue(ctx, broker.QueueScrape, scraper.ScrapeJob{
		RunID:      run.ID,
		SourceID:   source.ID,
		ModuleKey:  source.ModuleKey,
		SourceName: source.Name,
		TestMode:   config.Bool("testMode"),
		MaxPages:   config.Int("maxPages"),
	}, nil)
	if err != nil {
		return fmt.Errorf("enqueue scrape for source %s: %w", source.ID, err)
	}

	if err := d.recorder.AttachJobID(ctx, run.ID, scrapeJob.ID); err != nil {
		return err
	}

	d.logger.Info().
		Str("schedule_id", schedule.ID).
		Str("source", source.Name).
		Str("run_id", run.ID).
		Msg("Scrape dispatched")
	return nil
}

// dispatchWordPressExport runs the export synchronously. On failure the
// export row is marked failed before the error re-raises, so a row never
// sits in processing while the broker retries.
func (d *Dispatcher) dispatchWordPressExport(ctx context.Context, schedule *models.Schedule, config models.JSONMap) error {
	if schedule.WordPressSettingsID == nil {
		d.logger.Warn().Str("schedule_id", schedule.ID).Msg("Export schedule without settings, skipping")
		return nil
	}

	settings, err := d.wordpress.GetSettings(ctx, *schedule.WordPressSettingsID)
	if errors.Is(err, interfaces.ErrNotFound) {
		d.logger.Warn().
			Str("schedule_id", schedule.ID).
			Str("settings_id", *schedule.WordPressSettingsID).
			Msg("Export schedule references missing settings, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	format := config.String("format")
	if format == "" {
		format = "json"
	}

	export := &models.WordPressExport{
		SettingsID: settings.ID,
		Status:     models.ExportStatusProcessing,
		Format:     format,
		Filters:    config,
	}
	if err := d.wordpress.CreateExport(ctx, export); err != nil {
		return err
	}

	if err := d.exporter.Export(ctx, settings, export); err != nil {
		msg := err.Error()
		if markErr := d.wordpress.UpdateExportStatus(ctx, export.ID, models.ExportStatusFailed, &msg); markErr != nil {
			d.logger.Warn().Err(markErr).Str("export_id", export.ID).Msg("Failed to mark export failed")
		}
		return fmt.Errorf("wordpress export %s: %w", export.ID, err)
	}

	if err := d.wordpress.UpdateExportStatus(ctx, export.ID, models.ExportStatusCompleted, nil); err != nil {
		return err
	}

	d.logger.Info().
		Str("schedule_id", schedule.ID).
		Str("export_id", export.ID).
		Msg("WordPress export completed")
	return nil
}

// dispatchInstagramScrape delegates to the batch coordinator, merging the
// schedule id into the parent metadata for traceability. Zero active
// accounts is an empty result, not a retryable failure.
func (d *Dispatcher) dispatchInstagramScrape(ctx context.Context, schedule *models.Schedule, config models.JSONMap) error {
	opts := instagram.BatchOptions{
		PostLimit:    config.Int("postLimit"),
		AccountLimit: config.Int("accountLimit"),
		BatchSize:    config.Int("batchSize"),
	}

	result, err := d.instagram.TriggerAllActiveScrapes(ctx, opts, models.JSONMap{"scheduleId": schedule.ID})
	if errors.Is(err, instagram.ErrNoActiveInstagramAccounts) {
		d.logger.Info().Str("schedule_id", schedule.ID).Msg("No active instagram accounts, nothing to do")
		return nil
	}
	if err != nil {
		return err
	}

	d.logger.Info().
		Str("schedule_id", schedule.ID).
		Str("parent_run_id", result.ParentRunID).
		Int("children", len(result.Children)).
		Msg("Instagram batch dispatched")
	return nil
}
