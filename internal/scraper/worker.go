package scraper

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/vanevents/harvester/internal/broker"
	"github.com/vanevents/harvester/internal/interfaces"
	"github.com/vanevents/harvester/internal/models"
	"github.com/vanevents/harvester/internal/runs"
)

// ScrapeJob is the payload of one job on the scrape queue.
type ScrapeJob struct {
	RunID      string `json:"runId"`
	SourceID   string `json:"sourceId"`
	ModuleKey  string `json:"moduleKey"`
	SourceName string `json:"sourceName"`
	TestMode   bool   `json:"testMode,omitempty"`
	MaxPages   int    `json:"maxPages,omitempty"`
}

// defaultMaxPages bounds a paginated scrape when the payload sets no limit.
const defaultMaxPages = 50

// Worker runs paginated scrapes with a cancel checkpoint and rate-limit wait
// before each page.
type Worker struct {
	sources  interfaces.SourceStorage
	recorder *runs.Recorder
	broker   *broker.Broker
	logger   arbor.ILogger
}

func NewWorker(sources interfaces.SourceStorage, recorder *runs.Recorder, b *broker.Broker, logger arbor.ILogger) *Worker {
	return &Worker{sources: sources, recorder: recorder, broker: b, logger: logger}
}

// Handle is the broker pool handler for the scrape queue.
func (w *Worker) Handle(ctx context.Context, job *broker.Job) error {
	var payload ScrapeJob
	if err := job.UnmarshalData(&payload); err != nil {
		return fmt.Errorf("decode scrape job: %w", err)
	}

	source, err := w.sources.GetSource(ctx, payload.SourceID)
	if err != nil {
		return w.fail(ctx, payload.RunID, fmt.Errorf("load source %s: %w", payload.SourceID, err))
	}

	module, ok := Get(payload.ModuleKey)
	if !ok {
		return w.fail(ctx, payload.RunID, fmt.Errorf("no scraper module for key %q", payload.ModuleKey))
	}

	if err := w.recorder.MarkRunning(ctx, payload.RunID); err != nil {
		return err
	}

	limiter := sourceLimiter(source)
	maxPages := payload.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	if payload.TestMode {
		maxPages = 1
	}

	eventsFound := 0
	pagesCrawled := 0
	cancelled := false

	for page := 1; page <= maxPages; page++ {
		if page > 1 {
			flag, err := w.broker.GetCancelFlag(ctx, job.ID)
			if err != nil {
				w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Cancel flag check failed")
			}
			if flag == broker.CancelRequested {
				cancelled = true
				break
			}
		}

		if err := limiter.Wait(ctx); err != nil {
			return w.fail(ctx, payload.RunID, err)
		}

		events, hasMore, err := module.ScrapePage(ctx, source, page)
		if err != nil {
			return w.fail(ctx, payload.RunID, fmt.Errorf("scrape page %d of %s: %w", page, source.Name, err))
		}

		eventsFound += len(events)
		pagesCrawled++
		if err := w.recorder.UpdateProgress(ctx, payload.RunID, eventsFound, pagesCrawled); err != nil {
			w.logger.Warn().Err(err).Str("run_id", payload.RunID).Msg("Progress update failed")
		}

		if !hasMore {
			break
		}
	}

	status := models.RunStatusSuccess
	if cancelled {
		status = models.RunStatusPartial
		w.logger.Info().
			Str("run_id", payload.RunID).
			Int("pages_crawled", pagesCrawled).
			Msg("Scrape cancelled at page checkpoint")
	}
	return w.recorder.MarkFinished(ctx, payload.RunID, status, eventsFound, pagesCrawled, nil)
}

// fail records the error on the run and re-raises so the broker retry policy
// governs reattempts.
func (w *Worker) fail(ctx context.Context, runID string, err error) error {
	msg := err.Error()
	if markErr := w.recorder.MarkFinished(ctx, runID, models.RunStatusError, 0, 0, &msg); markErr != nil {
		w.logger.Warn().Err(markErr).Str("run_id", runID).Msg("Failed to record error")
	}
	return err
}

// sourceLimiter builds a per-request limiter from the source's
// requests-per-minute setting. Zero means unlimited.
func sourceLimiter(source *models.Source) *rate.Limiter {
	if source.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	perSecond := rate.Limit(float64(source.RateLimit) / 60.0)
	return rate.NewLimiter(perSecond, 1)
}
