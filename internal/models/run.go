package models

import (
	"time"
)

// Run status constants. A run is terminal in success, partial, or error;
// cancellation lands on partial (work may have completed before the flag was
// honored). There is no cancelled status in the table - "cancelled" exists
// only as a transient cancel-flag value in the broker.
const (
	RunStatusQueued  = "queued"
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusPartial = "partial"
	RunStatusError   = "error"
)

// Reserved run metadata keys written by the core. All other metadata keys
// are opaque pass-through.
const (
	RunMetaJobID           = "jobId"
	RunMetaBatch           = "batch"
	RunMetaCancelRequested = "cancelRequested"
	RunMetaCancelled       = "cancelled"
)

// Run is one execution record. Batch scrapes build a parent/child tree: the
// parent's status and counters are derived from its children and never
// written independently.
type Run struct {
	ID           string     `json:"id" db:"id"`
	SourceID     *string    `json:"source_id,omitempty" db:"source_id"`
	Status       string     `json:"status" db:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	EventsFound  int        `json:"events_found" db:"events_found"`
	PagesCrawled int        `json:"pages_crawled" db:"pages_crawled"`
	ParentRunID  *string    `json:"parent_run_id,omitempty" db:"parent_run_id"`
	Metadata     JSONMap    `json:"metadata" db:"metadata"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// IsTerminal reports whether the run has reached an absorbing status.
func (r *Run) IsTerminal() bool {
	return IsTerminalRunStatus(r.Status)
}

// IsTerminalRunStatus reports whether status is absorbing.
func IsTerminalRunStatus(status string) bool {
	switch status {
	case RunStatusSuccess, RunStatusPartial, RunStatusError:
		return true
	}
	return false
}

// JobID returns the broker job id recorded in metadata, if any.
func (r *Run) JobID() string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata.String(RunMetaJobID)
}

// RunChildStats is the single-query aggregate over a parent's children used
// by the rollup.
type RunChildStats struct {
	Total        int `db:"total"`
	SuccessCount int `db:"success_count"`
	FailedCount  int `db:"failed_count"` // error + partial children
	PendingCount int `db:"pending_count"`
	EventsTotal  int `db:"events_total"`
	PagesTotal   int `db:"pages_total"`
}

// RollupStatus derives the parent status from child state.
func (s RunChildStats) RollupStatus() string {
	switch {
	case s.PendingCount > 0:
		return RunStatusRunning
	case s.FailedCount > 0:
		return RunStatusPartial
	default:
		return RunStatusSuccess
	}
}

// BatchSummary is the metadata.batch document written onto parent runs.
func (s RunChildStats) BatchSummary() JSONMap {
	return JSONMap{
		"total":   s.Total,
		"success": s.SuccessCount,
		"failed":  s.FailedCount,
		"pending": s.PendingCount,
	}
}
