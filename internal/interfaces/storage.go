package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/vanevents/harvester/internal/models"
)

// ErrNotFound is returned by storage lookups for missing rows.
var ErrNotFound = errors.New("not found")

// SourceStorage persists scrapeable sources.
type SourceStorage interface {
	CreateSource(ctx context.Context, source *models.Source) error
	GetSource(ctx context.Context, id string) (*models.Source, error)
	GetSourceByModuleKey(ctx context.Context, moduleKey string) (*models.Source, error)
	ListSources(ctx context.Context, activeOnly bool) ([]*models.Source, error)
	UpdateSource(ctx context.Context, source *models.Source) error
	DeleteSource(ctx context.Context, id string) error
}

// ScheduleStorage persists schedule definitions. RepeatKey round-trips the
// broker's binding identity so the relational side and Redis reconcile.
type ScheduleStorage interface {
	CreateSchedule(ctx context.Context, schedule *models.Schedule) error
	GetSchedule(ctx context.Context, id string) (*models.Schedule, error)
	ListSchedules(ctx context.Context) ([]*models.Schedule, error)
	ListActiveSchedules(ctx context.Context) ([]*models.Schedule, error)
	UpdateSchedule(ctx context.Context, schedule *models.Schedule) error
	SetRepeatKey(ctx context.Context, id string, repeatKey *string) error
	DeleteSchedule(ctx context.Context, id string) error
}

// RunStorage persists the hierarchical run history.
type RunStorage interface {
	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	GetRunByJobID(ctx context.Context, jobID string) (*models.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*models.Run, error)
	ListChildRuns(ctx context.Context, parentRunID string) ([]*models.Run, error)

	// UpdateRunStatus moves a run to status, stamping timestamps as the
	// transition requires. finishedAt is only applied on terminal statuses
	// and never moves backwards.
	UpdateRunStatus(ctx context.Context, id string, status string, errorMsg *string, startedAt, finishedAt *time.Time) error

	// UpdateRunCounters overwrites the progress counters.
	UpdateRunCounters(ctx context.Context, id string, eventsFound, eventsProcessed, pagesProcessed int) error

	// UpdateRunRollup writes a derived parent state in one statement: status,
	// aggregated counters, the batch summary, and finished_at when settled.
	// finished_at never moves backwards.
	UpdateRunRollup(ctx context.Context, id string, status string, eventsTotal, pagesTotal int, settled bool, batch models.JSONMap) error

	// MergeRunMetadata merges keys into the run's metadata JSON, last write
	// wins per key.
	MergeRunMetadata(ctx context.Context, id string, metadata models.JSONMap) error

	// GetRunChildStats aggregates the children of a parent run in one query.
	GetRunChildStats(ctx context.Context, parentRunID string) (*models.RunChildStats, error)
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	ScheduleID  *string
	SourceID    *string
	Status      *string
	ParentsOnly bool
	Limit       int
}

// InstagramStorage persists instagram accounts registered for scraping.
type InstagramStorage interface {
	CreateAccount(ctx context.Context, account *models.InstagramAccount) error
	GetAccount(ctx context.Context, id string) (*models.InstagramAccount, error)
	GetAccountByUsername(ctx context.Context, username string) (*models.InstagramAccount, error)
	ListAccounts(ctx context.Context, activeOnly bool) ([]*models.InstagramAccount, error)
	UpdateAccount(ctx context.Context, account *models.InstagramAccount) error
	TouchLastScraped(ctx context.Context, id string, at time.Time) error
	DeleteAccount(ctx context.Context, id string) error
}

// WordPressStorage persists export settings and export attempts.
type WordPressStorage interface {
	GetSettings(ctx context.Context, id string) (*models.WordPressSettings, error)
	ListSettings(ctx context.Context) ([]*models.WordPressSettings, error)
	CreateExport(ctx context.Context, export *models.WordPressExport) error
	UpdateExportStatus(ctx context.Context, id string, status string, errorMsg *string) error
	ListExports(ctx context.Context, settingsID string, limit int) ([]*models.WordPressExport, error)
}
