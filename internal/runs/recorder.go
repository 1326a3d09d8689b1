package runs

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/vanevents/harvester/internal/interfaces"
	"github.com/vanevents/harvester/internal/models"
)

// Recorder is the sole writer of run status, timestamps, and counters.
// Workers and the cancellation service call back into it instead of touching
// the runs table directly.
type Recorder struct {
	storage interfaces.RunStorage
	logger  arbor.ILogger
}

func NewRecorder(storage interfaces.RunStorage, logger arbor.ILogger) *Recorder {
	return &Recorder{storage: storage, logger: logger}
}

// CreateParentRun inserts a queued parent for a batch fan-out.
func (r *Recorder) CreateParentRun(ctx context.Context, metadata models.JSONMap) (*models.Run, error) {
	run := &models.Run{
		Status:   models.RunStatusQueued,
		Metadata: metadata,
	}
	if err := r.storage.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create parent run: %w", err)
	}
	return run, nil
}

// CreateChildRun inserts a queued child under parentRunID. The child row
// exists before any broker job is enqueued for it, so a worker never starts
// against a missing run.
func (r *Recorder) CreateChildRun(ctx context.Context, parentRunID string, sourceID *string, metadata models.JSONMap) (*models.Run, error) {
	run := &models.Run{
		SourceID:    sourceID,
		Status:      models.RunStatusQueued,
		ParentRunID: &parentRunID,
		Metadata:    metadata,
	}
	if err := r.storage.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create child run: %w", err)
	}
	return run, nil
}

// CreateRun inserts a standalone queued run (no parent).
func (r *Recorder) CreateRun(ctx context.Context, sourceID *string, metadata models.JSONMap) (*models.Run, error) {
	run := &models.Run{
		SourceID: sourceID,
		Status:   models.RunStatusQueued,
		Metadata: metadata,
	}
	if err := r.storage.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// AttachJobID records the broker job id in run metadata so cancellation can
// resolve the run after the broker evicts the job.
func (r *Recorder) AttachJobID(ctx context.Context, runID, jobID string) error {
	return r.storage.MergeRunMetadata(ctx, runID, models.JSONMap{models.RunMetaJobID: jobID})
}

// MarkRunning moves a run to running and stamps started_at. Re-entry is
// allowed: a broker retry reuses the run row, and started_at keeps its first
// value.
func (r *Recorder) MarkRunning(ctx context.Context, runID string) error {
	now := time.Now()
	if err := r.storage.UpdateRunStatus(ctx, runID, models.RunStatusRunning, nil, &now, nil); err != nil {
		return fmt.Errorf("mark run %s running: %w", runID, err)
	}
	return r.rollupIfChild(ctx, runID)
}

// MarkFinished moves a run to a terminal status with final counters. The
// errorMsg lands in metadata for error and partial outcomes.
func (r *Recorder) MarkFinished(ctx context.Context, runID, status string, eventsFound, pagesCrawled int, errorMsg *string) error {
	if !models.IsTerminalRunStatus(status) {
		return fmt.Errorf("status %s is not terminal", status)
	}

	if err := r.storage.UpdateRunCounters(ctx, runID, eventsFound, eventsFound, pagesCrawled); err != nil {
		return err
	}

	now := time.Now()
	if err := r.storage.UpdateRunStatus(ctx, runID, status, errorMsg, nil, &now); err != nil {
		return fmt.Errorf("mark run %s finished: %w", runID, err)
	}

	r.logger.Info().
		Str("run_id", runID).
		Str("status", status).
		Int("events_found", eventsFound).
		Int("pages_crawled", pagesCrawled).
		Msg("Run finished")

	return r.rollupIfChild(ctx, runID)
}

// MarkCancelled lands a run on partial with the cancelled marker set. Work
// completed before the flag was honored keeps its counters; cancellation is
// an outcome, not a distinct status.
func (r *Recorder) MarkCancelled(ctx context.Context, runID string) error {
	run, err := r.storage.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.IsTerminal() {
		return nil
	}

	if err := r.storage.MergeRunMetadata(ctx, runID, models.JSONMap{models.RunMetaCancelled: true}); err != nil {
		return err
	}

	now := time.Now()
	if err := r.storage.UpdateRunStatus(ctx, runID, models.RunStatusPartial, nil, nil, &now); err != nil {
		return fmt.Errorf("mark run %s cancelled: %w", runID, err)
	}

	r.logger.Info().Str("run_id", runID).Msg("Run cancelled")
	return r.rollupIfChild(ctx, runID)
}

// MarkCancelRequested records that a cancel flag was raised for a running
// run. The worker still owns the terminal transition.
func (r *Recorder) MarkCancelRequested(ctx context.Context, runID string) error {
	return r.storage.MergeRunMetadata(ctx, runID, models.JSONMap{models.RunMetaCancelRequested: true})
}

// UpdateProgress writes interim counters during a run.
func (r *Recorder) UpdateProgress(ctx context.Context, runID string, eventsFound, pagesCrawled int) error {
	return r.storage.UpdateRunCounters(ctx, runID, eventsFound, eventsFound, pagesCrawled)
}

// RollupParent recomputes a parent from its children and writes the derived
// state. Safe to call any number of times; concurrent callers converge
// because the aggregate reads current child state.
func (r *Recorder) RollupParent(ctx context.Context, parentRunID string) error {
	stats, err := r.storage.GetRunChildStats(ctx, parentRunID)
	if err != nil {
		return err
	}

	status := stats.RollupStatus()
	settled := stats.PendingCount == 0

	err = r.storage.UpdateRunRollup(ctx, parentRunID, status,
		stats.EventsTotal, stats.PagesTotal, settled, stats.BatchSummary())
	if err != nil {
		return fmt.Errorf("rollup parent %s: %w", parentRunID, err)
	}

	r.logger.Debug().
		Str("parent_run_id", parentRunID).
		Str("status", status).
		Int("pending", stats.PendingCount).
		Msg("Parent rollup applied")
	return nil
}

// rollupIfChild triggers a parent rollup after a child state change.
func (r *Recorder) rollupIfChild(ctx context.Context, runID string) error {
	run, err := r.storage.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.ParentRunID == nil {
		return nil
	}
	return r.RollupParent(ctx, *run.ParentRunID)
}
