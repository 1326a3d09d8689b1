package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/vanevents/harvester/internal/broker"
	"github.com/vanevents/harvester/internal/interfaces"
	"github.com/vanevents/harvester/internal/models"
	"github.com/vanevents/harvester/internal/runs"
	"github.com/vanevents/harvester/internal/storage/storagetest"
)

// fakeModule emits a fixed number of events per page across a fixed number
// of pages.
type fakeModule struct {
	key           string
	pages         int
	eventsPerPage int
	err           error
	pagesServed   int
}

func (m *fakeModule) Key() string { return m.key }

// asFactory registers the same instance so tests can inspect it afterwards.
func (m *fakeModule) asFactory() func() interfaces.ScraperModule {
	return func() interfaces.ScraperModule { return m }
}

func (m *fakeModule) ScrapePage(ctx context.Context, source *models.Source, page int) ([]*models.Event, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	m.pagesServed++
	events := make([]*models.Event, m.eventsPerPage)
	for i := range events {
		events[i] = &models.Event{Title: "event", URL: source.BaseURL}
	}
	return events, page < m.pages, nil
}

type workerFixture struct {
	broker   *broker.Broker
	sources  *storagetest.FakeSourceStorage
	runStore *storagetest.FakeRunStorage
	recorder *runs.Recorder
	worker   *Worker
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := arbor.NewLogger()
	b := broker.New(client, logger)
	sources := storagetest.NewFakeSourceStorage()
	runStore := storagetest.NewFakeRunStorage()
	recorder := runs.NewRecorder(runStore, logger)

	return &workerFixture{
		broker:   b,
		sources:  sources,
		runStore: runStore,
		recorder: recorder,
		worker:   NewWorker(sources, recorder, b, logger),
	}
}

func (f *workerFixture) enqueueScrape(t *testing.T, moduleKey string) (*models.Run, *broker.Job) {
	t.Helper()
	ctx := context.Background()

	source := &models.Source{
		ModuleKey:  moduleKey,
		Name:       "Test Source",
		BaseURL:    "https://example.com/events",
		Active:     true,
		SourceType: models.SourceTypeWebsite,
	}
	require.NoError(t, f.sources.CreateSource(ctx, source))

	run, err := f.recorder.CreateRun(ctx, &source.ID, models.JSONMap{})
	require.NoError(t, err)

	job, err := f.broker.Enqueue(ctx, broker.QueueScrape, ScrapeJob{
		RunID:      run.ID,
		SourceID:   source.ID,
		ModuleKey:  moduleKey,
		SourceName: source.Name,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, f.recorder.AttachJobID(ctx, run.ID, job.ID))
	return run, job
}

func TestRegistryRegisterAndGet(t *testing.T) {
	Register("test-registry-module", (&fakeModule{key: "test-registry-module"}).asFactory())

	module, ok := Get("test-registry-module")
	require.True(t, ok)
	assert.Equal(t, "test-registry-module", module.Key())

	_, ok = Get("does-not-exist")
	assert.False(t, ok)

	assert.Contains(t, Keys(), "generic_html")
}

func TestWorkerScrapesAllPages(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	module := &fakeModule{key: "multi-page-test", pages: 3, eventsPerPage: 4}
	Register(module.key, module.asFactory())

	run, job := f.enqueueScrape(t, module.key)
	require.NoError(t, f.worker.Handle(ctx, job))

	loaded, err := f.runStore.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, loaded.Status)
	assert.Equal(t, 12, loaded.EventsFound)
	assert.Equal(t, 3, loaded.PagesCrawled)
}

func TestWorkerUnknownModuleFails(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	run, job := f.enqueueScrape(t, "never-registered")
	err := f.worker.Handle(ctx, job)
	assert.Error(t, err)

	loaded, err := f.runStore.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusError, loaded.Status)
}

func TestWorkerModuleErrorMarksRunError(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	module := &fakeModule{key: "broken-module-test", err: errors.New("selector drift")}
	Register(module.key, module.asFactory())

	run, job := f.enqueueScrape(t, module.key)
	err := f.worker.Handle(ctx, job)
	assert.Error(t, err)

	loaded, err := f.runStore.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusError, loaded.Status)
	assert.Contains(t, loaded.Metadata["error"], "selector drift")
}

func TestWorkerCancelsAtPageCheckpoint(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	module := &fakeModule{key: "cancel-page-test", pages: 10, eventsPerPage: 2}
	Register(module.key, module.asFactory())

	run, job := f.enqueueScrape(t, module.key)
	require.NoError(t, f.broker.SetCancelFlag(ctx, job.ID, broker.CancelRequested))

	require.NoError(t, f.worker.Handle(ctx, job))

	// Page one is the unit in progress and completes; no later page starts.
	loaded, err := f.runStore.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPartial, loaded.Status)
	assert.Equal(t, 1, loaded.PagesCrawled)
	assert.Equal(t, 2, loaded.EventsFound)
	assert.Equal(t, 1, module.pagesServed)
}

func TestSourceLimiter(t *testing.T) {
	unlimited := sourceLimiter(&models.Source{RateLimit: 0})
	assert.True(t, unlimited.Allow())

	limited := sourceLimiter(&models.Source{RateLimit: 60})
	assert.True(t, limited.Allow())
	// One request per second: the second immediate request must wait.
	assert.False(t, limited.Allow())
	time.Sleep(1100 * time.Millisecond)
	assert.True(t, limited.Allow())
}
