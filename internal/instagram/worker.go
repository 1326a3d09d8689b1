package instagram

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/vanevents/harvester/internal/broker"
	"github.com/vanevents/harvester/internal/interfaces"
	"github.com/vanevents/harvester/internal/models"
	"github.com/vanevents/harvester/internal/runs"
)

// ScrapeJob is the payload of one per-account job on the instagram queue.
type ScrapeJob struct {
	AccountID   string `json:"accountId"`
	Username    string `json:"username"`
	PostLimit   int    `json:"postLimit"`
	BatchSize   int    `json:"batchSize,omitempty"`
	RunID       string `json:"runId"`
	ParentRunID string `json:"parentRunId"`
}

// Worker processes per-account scrape jobs. Posts are handled in batches
// with a cancel checkpoint before each batch: on "requested" the batch in
// progress is finished, no further batch starts, and the run reports partial
// with its counters preserved.
type Worker struct {
	client   interfaces.InstagramClient
	accounts interfaces.InstagramStorage
	recorder *runs.Recorder
	broker   *broker.Broker
	logger   arbor.ILogger
}

func NewWorker(client interfaces.InstagramClient, accounts interfaces.InstagramStorage, recorder *runs.Recorder, b *broker.Broker, logger arbor.ILogger) *Worker {
	return &Worker{
		client:   client,
		accounts: accounts,
		recorder: recorder,
		broker:   b,
		logger:   logger,
	}
}

// Handle is the broker pool handler for the instagram queue.
func (w *Worker) Handle(ctx context.Context, job *broker.Job) error {
	var payload ScrapeJob
	if err := job.UnmarshalData(&payload); err != nil {
		return fmt.Errorf("decode instagram job: %w", err)
	}

	if err := w.recorder.MarkRunning(ctx, payload.RunID); err != nil {
		return err
	}

	posts, err := w.client.FetchPosts(ctx, payload.Username, payload.PostLimit)
	if err != nil {
		msg := err.Error()
		if markErr := w.recorder.MarkFinished(ctx, payload.RunID, models.RunStatusError, 0, 0, &msg); markErr != nil {
			w.logger.Warn().Err(markErr).Str("run_id", payload.RunID).Msg("Failed to record error")
		}
		return fmt.Errorf("fetch posts for %s: %w", payload.Username, err)
	}

	batchSize := payload.BatchSize
	if batchSize <= 0 {
		batchSize = len(posts)
	}

	processed := 0
	cancelled := false
	for start := 0; start < len(posts); start += batchSize {
		if start > 0 {
			// Checkpoint between batches, never mid-batch.
			flag, err := w.broker.GetCancelFlag(ctx, job.ID)
			if err != nil {
				w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Cancel flag check failed")
			}
			if flag == broker.CancelRequested {
				cancelled = true
				break
			}
		}

		end := start + batchSize
		if end > len(posts) {
			end = len(posts)
		}
		processed += w.processBatch(ctx, payload, posts[start:end])

		if err := w.recorder.UpdateProgress(ctx, payload.RunID, processed, 0); err != nil {
			w.logger.Warn().Err(err).Str("run_id", payload.RunID).Msg("Progress update failed")
		}
	}

	if cancelled {
		w.logger.Info().
			Str("run_id", payload.RunID).
			Str("username", payload.Username).
			Int("processed", processed).
			Msg("Scrape cancelled at checkpoint")
		return w.recorder.MarkFinished(ctx, payload.RunID, models.RunStatusPartial, processed, 0, nil)
	}

	if err := w.accounts.TouchLastScraped(ctx, payload.AccountID, time.Now()); err != nil {
		w.logger.Warn().Err(err).Str("account_id", payload.AccountID).Msg("Failed to stamp last_scraped_at")
	}

	return w.recorder.MarkFinished(ctx, payload.RunID, models.RunStatusSuccess, processed, 0, nil)
}

// processBatch hands one batch of posts downstream. Enrichment is external;
// here a post only counts once accepted.
func (w *Worker) processBatch(ctx context.Context, payload ScrapeJob, posts []*models.InstagramPost) int {
	count := 0
	for _, post := range posts {
		if post == nil || post.ID == "" {
			continue
		}
		count++
	}
	w.logger.Debug().
		Str("username", payload.Username).
		Int("batch", len(posts)).
		Msg("Processed post batch")
	return count
}
