package instagram

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/vanevents/harvester/internal/broker"
	"github.com/vanevents/harvester/internal/interfaces"
	"github.com/vanevents/harvester/internal/models"
	"github.com/vanevents/harvester/internal/runs"
)

// ErrNoActiveInstagramAccounts is returned when a batch trigger finds no
// accounts to fan out to.
var ErrNoActiveInstagramAccounts = errors.New("no active instagram accounts")

// BatchOptions tune one batch trigger. Zero values fall back to configured
// defaults.
type BatchOptions struct {
	PostLimit    int `json:"postLimit,omitempty"`
	AccountLimit int `json:"accountLimit,omitempty"`
	BatchSize    int `json:"batchSize,omitempty"`
}

// ChildJob describes one enqueued per-account scrape.
type ChildJob struct {
	AccountID string `json:"accountId"`
	Username  string `json:"username"`
	JobID     string `json:"jobId"`
	RunID     string `json:"runId"`
}

// BatchResult is the outcome of a batch trigger.
type BatchResult struct {
	ParentRunID string     `json:"parentRunId"`
	Children    []ChildJob `json:"children"`
}

// Coordinator fans one batch trigger out into per-account child jobs, each
// independently cancellable.
type Coordinator struct {
	accounts         interfaces.InstagramStorage
	recorder         *runs.Recorder
	broker           *broker.Broker
	defaultPostLimit int
	defaultBatchSize int
	logger           arbor.ILogger
}

func NewCoordinator(accounts interfaces.InstagramStorage, recorder *runs.Recorder, b *broker.Broker, defaultPostLimit, defaultBatchSize int, logger arbor.ILogger) *Coordinator {
	if defaultPostLimit <= 0 {
		defaultPostLimit = 12
	}
	if defaultBatchSize <= 0 {
		defaultBatchSize = 5
	}
	return &Coordinator{
		accounts:         accounts,
		recorder:         recorder,
		broker:           b,
		defaultPostLimit: defaultPostLimit,
		defaultBatchSize: defaultBatchSize,
		logger:           logger,
	}
}

// TriggerAllActiveScrapes creates one parent run and a child run plus broker
// job per active account. The child row is inserted before its job is
// enqueued, so a worker never starts against a missing run; the job id is
// merged back into child metadata once the broker accepts the job.
func (c *Coordinator) TriggerAllActiveScrapes(ctx context.Context, opts BatchOptions, extraMeta models.JSONMap) (*BatchResult, error) {
	if opts.PostLimit <= 0 {
		opts.PostLimit = c.defaultPostLimit
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = c.defaultBatchSize
	}

	accounts, err := c.accounts.ListAccounts(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list active accounts: %w", err)
	}
	if opts.AccountLimit > 0 && len(accounts) > opts.AccountLimit {
		accounts = accounts[:opts.AccountLimit]
	}
	if len(accounts) == 0 {
		return nil, ErrNoActiveInstagramAccounts
	}

	parentMeta := models.JSONMap{
		"type":          "instagram_batch",
		"accountsTotal": len(accounts),
		"options": models.JSONMap{
			"postLimit": opts.PostLimit,
			"batchSize": opts.BatchSize,
		},
	}
	for k, v := range extraMeta {
		parentMeta[k] = v
	}

	parent, err := c.recorder.CreateParentRun(ctx, parentMeta)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{ParentRunID: parent.ID}
	for i, account := range accounts {
		child, err := c.recorder.CreateChildRun(ctx, parent.ID, nil, models.JSONMap{
			"instagramAccountId": account.ID,
			"instagramUsername":  account.Username,
			"queuePosition":      i + 1,
		})
		if err != nil {
			return nil, err
		}

		payload := ScrapeJob{
			AccountID:   account.ID,
			Username:    account.Username,
			PostLimit:   opts.PostLimit,
			BatchSize:   opts.BatchSize,
			RunID:       child.ID,
			ParentRunID: parent.ID,
		}
		job, err := c.broker.Enqueue(ctx, broker.QueueInstagram, payload, nil)
		if err != nil {
			return nil, fmt.Errorf("enqueue scrape for %s: %w", account.Username, err)
		}

		if err := c.recorder.AttachJobID(ctx, child.ID, job.ID); err != nil {
			return nil, err
		}

		result.Children = append(result.Children, ChildJob{
			AccountID: account.ID,
			Username:  account.Username,
			JobID:     job.ID,
			RunID:     child.ID,
		})
	}

	if err := c.recorder.RollupParent(ctx, parent.ID); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("parent_run_id", parent.ID).
		Int("accounts", len(accounts)).
		Msg("Instagram batch triggered")
	return result, nil
}
