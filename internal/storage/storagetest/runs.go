// Package storagetest provides in-memory storage fakes shared by tests.
package storagetest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vanevents/harvester/internal/interfaces"
	"github.com/vanevents/harvester/internal/models"
)

// FakeRunStorage is an in-memory interfaces.RunStorage.
type FakeRunStorage struct {
	mu   sync.Mutex
	runs map[string]*models.Run
}

func NewFakeRunStorage() *FakeRunStorage {
	return &FakeRunStorage{runs: make(map[string]*models.Run)}
}

func (f *FakeRunStorage) CreateRun(ctx context.Context, run *models.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Metadata == nil {
		run.Metadata = models.JSONMap{}
	}
	run.CreatedAt = time.Now()
	clone := *run
	f.runs[run.ID] = &clone
	return nil
}

func (f *FakeRunStorage) GetRun(ctx context.Context, id string) (*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	clone := *run
	return &clone, nil
}

func (f *FakeRunStorage) GetRunByJobID(ctx context.Context, jobID string) (*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, run := range f.runs {
		if run.Metadata.String(models.RunMetaJobID) == jobID {
			clone := *run
			return &clone, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (f *FakeRunStorage) ListRuns(ctx context.Context, filter interfaces.RunFilter) ([]*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Run
	for _, run := range f.runs {
		if filter.ParentsOnly && run.ParentRunID != nil {
			continue
		}
		if filter.Status != nil && run.Status != *filter.Status {
			continue
		}
		if filter.SourceID != nil && (run.SourceID == nil || *run.SourceID != *filter.SourceID) {
			continue
		}
		clone := *run
		out = append(out, &clone)
	}
	return out, nil
}

func (f *FakeRunStorage) ListChildRuns(ctx context.Context, parentRunID string) ([]*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Run
	for _, run := range f.runs {
		if run.ParentRunID != nil && *run.ParentRunID == parentRunID {
			clone := *run
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *FakeRunStorage) UpdateRunStatus(ctx context.Context, id string, status string, errorMsg *string, startedAt, finishedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	run.Status = status
	if run.StartedAt == nil && startedAt != nil {
		run.StartedAt = startedAt
	}
	if models.IsTerminalRunStatus(status) {
		if run.FinishedAt == nil && finishedAt != nil {
			run.FinishedAt = finishedAt
		}
	} else {
		run.FinishedAt = nil
	}
	if errorMsg != nil {
		run.Metadata["error"] = *errorMsg
	}
	return nil
}

func (f *FakeRunStorage) UpdateRunCounters(ctx context.Context, id string, eventsFound, eventsProcessed, pagesProcessed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	run.EventsFound = eventsFound
	run.PagesCrawled = pagesProcessed
	return nil
}

func (f *FakeRunStorage) UpdateRunRollup(ctx context.Context, id string, status string, eventsTotal, pagesTotal int, settled bool, batch models.JSONMap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	run.Status = status
	run.EventsFound = eventsTotal
	run.PagesCrawled = pagesTotal
	if settled && run.FinishedAt == nil {
		now := time.Now()
		run.FinishedAt = &now
	}
	run.Metadata[models.RunMetaBatch] = batch
	return nil
}

func (f *FakeRunStorage) MergeRunMetadata(ctx context.Context, id string, metadata models.JSONMap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	for k, v := range metadata {
		run.Metadata[k] = v
	}
	return nil
}

func (f *FakeRunStorage) GetRunChildStats(ctx context.Context, parentRunID string) (*models.RunChildStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &models.RunChildStats{}
	for _, run := range f.runs {
		if run.ParentRunID == nil || *run.ParentRunID != parentRunID {
			continue
		}
		stats.Total++
		stats.EventsTotal += run.EventsFound
		stats.PagesTotal += run.PagesCrawled
		switch run.Status {
		case models.RunStatusSuccess:
			stats.SuccessCount++
		case models.RunStatusError, models.RunStatusPartial:
			stats.FailedCount++
		default:
			stats.PendingCount++
		}
	}
	return stats, nil
}
