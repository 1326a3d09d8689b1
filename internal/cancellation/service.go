package cancellation

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ternarybob/arbor"

	"github.com/vanevents/harvester/internal/broker"
	"github.com/vanevents/harvester/internal/interfaces"
	"github.com/vanevents/harvester/internal/runs"
)

// Cancel actions reported per job id.
const (
	ActionRemoved         = "removed"
	ActionCancelRequested = "cancel_requested"
	ActionAlreadyFinished = "already_finished"
	ActionMissing         = "missing"
)

// CancelResult is the per-id outcome of a cancel request.
type CancelResult struct {
	JobID  string `json:"jobId"`
	State  string `json:"state"`
	Action string `json:"action"`
}

// JobStatus is the per-id status tuple returned to the admin surface.
type JobStatus struct {
	JobID        string          `json:"jobId"`
	State        string          `json:"state"`
	AttemptsMade int             `json:"attemptsMade,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`
	ProcessedOn  *int64          `json:"processedOn,omitempty"`
	FinishedOn   *int64          `json:"finishedOn,omitempty"`
	Timestamp    int64           `json:"timestamp,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	CancelState  string          `json:"cancelState,omitempty"`
}

// Service classifies cancel requests by broker state and applies the
// matching action while keeping the run recorder consistent.
type Service struct {
	broker   *broker.Broker
	recorder *runs.Recorder
	storage  interfaces.RunStorage
	logger   arbor.ILogger
}

func NewService(b *broker.Broker, recorder *runs.Recorder, storage interfaces.RunStorage, logger arbor.ILogger) *Service {
	return &Service{broker: b, recorder: recorder, storage: storage, logger: logger}
}

// CancelJobs processes each id independently; one failure never blocks the
// rest of the batch.
func (s *Service) CancelJobs(ctx context.Context, jobIDs []string) []CancelResult {
	results := make([]CancelResult, 0, len(jobIDs))
	for _, jobID := range jobIDs {
		results = append(results, s.cancelOne(ctx, jobID))
	}
	return results
}

func (s *Service) cancelOne(ctx context.Context, jobID string) CancelResult {
	return s.classify(ctx, jobID, true)
}

// classify resolves the job's current broker state to an action. retry
// permits one reclassification when a pending removal loses a race; it is
// never passed down a second time, so a Redis that keeps failing writes
// yields an error result instead of unbounded recursion.
func (s *Service) classify(ctx context.Context, jobID string, retry bool) CancelResult {
	job, err := s.broker.GetJob(ctx, jobID)
	if errors.Is(err, broker.ErrJobNotFound) {
		return s.cancelMissing(ctx, jobID)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Cancel lookup failed")
		return CancelResult{JobID: jobID, State: "error", Action: ActionMissing}
	}

	switch job.State {
	case broker.StateCompleted, broker.StateFailed:
		if err := s.broker.ClearCancelFlag(ctx, jobID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to clear cancel flag")
		}
		return CancelResult{JobID: jobID, State: string(job.State), Action: ActionAlreadyFinished}

	case broker.StateWaiting, broker.StateDelayed, broker.StatePaused:
		return s.cancelPending(ctx, job, retry)

	default:
		// Active: signal and let the worker abort at its next checkpoint.
		if err := s.broker.SetCancelFlag(ctx, jobID, broker.CancelRequested); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to set cancel flag")
			return CancelResult{JobID: jobID, State: string(job.State), Action: ActionMissing}
		}
		if run, err := s.storage.GetRunByJobID(ctx, jobID); err == nil {
			if err := s.recorder.MarkCancelRequested(ctx, run.ID); err != nil {
				s.logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to record cancel request")
			}
		}
		s.logger.Info().Str("job_id", jobID).Msg("Cancel requested for active job")
		return CancelResult{JobID: jobID, State: string(job.State), Action: ActionCancelRequested}
	}
}

// cancelPending removes a not-yet-running job outright.
func (s *Service) cancelPending(ctx context.Context, job *broker.Job, retry bool) CancelResult {
	state := string(job.State)
	if err := s.broker.RemoveJob(ctx, job.ID); err != nil {
		if retry {
			// Lost a race with a worker or promoter; reclassify on fresh state.
			s.logger.Debug().Err(err).Str("job_id", job.ID).Msg("Remove raced, reclassifying")
			return s.classify(ctx, job.ID, false)
		}
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Remove failed after reclassification")
		return CancelResult{JobID: job.ID, State: "error", Action: ActionMissing}
	}

	if err := s.broker.SetCancelFlag(ctx, job.ID, broker.CancelCancelled); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to set cancel flag")
	}
	s.cancelRunForJob(ctx, job.ID)

	s.logger.Info().Str("job_id", job.ID).Str("state", state).Msg("Pending job removed")
	return CancelResult{JobID: job.ID, State: state, Action: ActionRemoved}
}

// cancelMissing handles ids the broker no longer knows: orphaned or evicted
// jobs whose run rows may still be live.
func (s *Service) cancelMissing(ctx context.Context, jobID string) CancelResult {
	s.cancelRunForJob(ctx, jobID)
	if err := s.broker.SetCancelFlag(ctx, jobID, broker.CancelCancelled); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to set cancel flag")
	}
	return CancelResult{JobID: jobID, State: "missing", Action: ActionMissing}
}

func (s *Service) cancelRunForJob(ctx context.Context, jobID string) {
	run, err := s.storage.GetRunByJobID(ctx, jobID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Run lookup failed during cancel")
		return
	}
	if err := s.recorder.MarkCancelled(ctx, run.ID); err != nil {
		s.logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to cancel run")
	}
}

// GetJobStatuses resolves each id to its broker state plus cancel flag.
// Unknown ids report "missing".
func (s *Service) GetJobStatuses(ctx context.Context, jobIDs []string) []JobStatus {
	statuses := make([]JobStatus, 0, len(jobIDs))
	for _, jobID := range jobIDs {
		statuses = append(statuses, s.jobStatus(ctx, jobID))
	}
	return statuses
}

func (s *Service) jobStatus(ctx context.Context, jobID string) JobStatus {
	cancelState, err := s.broker.GetCancelFlag(ctx, jobID)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Cancel flag lookup failed")
	}

	job, err := s.broker.GetJob(ctx, jobID)
	if errors.Is(err, broker.ErrJobNotFound) {
		state := "missing"
		if cancelState == broker.CancelCancelled {
			state = "cancelled"
		}
		return JobStatus{JobID: jobID, State: state, CancelState: string(cancelState)}
	}
	if err != nil {
		return JobStatus{JobID: jobID, State: "error", CancelState: string(cancelState)}
	}

	return JobStatus{
		JobID:        job.ID,
		State:        string(job.State),
		AttemptsMade: job.AttemptsMade,
		FailedReason: job.FailedReason,
		ProcessedOn:  job.ProcessedOn,
		FinishedOn:   job.FinishedOn,
		Timestamp:    job.Timestamp,
		Data:         job.Data,
		CancelState:  string(cancelState),
	}
}
