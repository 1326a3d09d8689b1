package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/vanevents/harvester/internal/broker"
	"github.com/vanevents/harvester/internal/instagram"
	"github.com/vanevents/harvester/internal/interfaces"
	"github.com/vanevents/harvester/internal/models"
	"github.com/vanevents/harvester/internal/runs"
	"github.com/vanevents/harvester/internal/scraper"
	"github.com/vanevents/harvester/internal/storage/storagetest"
)

type fakeExporter struct {
	err   error
	calls int
}

func (e *fakeExporter) Export(ctx context.Context, settings *models.WordPressSettings, export *models.WordPressExport) error {
	e.calls++
	return e.err
}

type dispatcherFixture struct {
	broker    *broker.Broker
	schedules *storagetest.FakeScheduleStorage
	sources   *storagetest.FakeSourceStorage
	wordpress *storagetest.FakeWordPressStorage
	accounts  *storagetest.FakeInstagramStorage
	runStore  *storagetest.FakeRunStorage
	recorder  *runs.Recorder
	exporter  *fakeExporter
	dispatch  *Dispatcher
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := arbor.NewLogger()
	b := broker.New(client, logger)

	schedules := storagetest.NewFakeScheduleStorage()
	sources := storagetest.NewFakeSourceStorage()
	wordpress := storagetest.NewFakeWordPressStorage()
	accounts := storagetest.NewFakeInstagramStorage()
	runStore := storagetest.NewFakeRunStorage()
	recorder := runs.NewRecorder(runStore, logger)
	exporter := &fakeExporter{}
	coordinator := instagram.NewCoordinator(accounts, recorder, b, 12, 5, logger)

	return &dispatcherFixture{
		broker:    b,
		schedules: schedules,
		sources:   sources,
		wordpress: wordpress,
		accounts:  accounts,
		runStore:  runStore,
		recorder:  recorder,
		exporter:  exporter,
		dispatch:  NewDispatcher(b, schedules, sources, wordpress, exporter, coordinator, recorder, logger),
	}
}

// triggerJob builds the schedule-queue job the promoter would have produced.
func (f *dispatcherFixture) triggerJob(t *testing.T, payload TriggerPayload) *broker.Job {
	t.Helper()
	job, err := f.broker.Enqueue(context.Background(), broker.QueueSchedule, payload, nil)
	require.NoError(t, err)
	return job
}

func (f *dispatcherFixture) addSource(t *testing.T, active bool) *models.Source {
	t.Helper()
	source := &models.Source{
		ModuleKey:  "generic_html",
		Name:       "Dispatcher Test Source",
		BaseURL:    "https://example.com/events",
		Active:     active,
		SourceType: models.SourceTypeWebsite,
	}
	require.NoError(t, f.sources.CreateSource(context.Background(), source))
	return source
}

func (f *dispatcherFixture) addScrapeSchedule(t *testing.T, sourceID string, config models.JSONMap) *models.Schedule {
	t.Helper()
	schedule := &models.Schedule{
		ScheduleType: models.ScheduleTypeScrape,
		SourceID:     &sourceID,
		Cron:         "0 * * * *",
		Active:       true,
		Config:       config,
	}
	require.NoError(t, f.schedules.CreateSchedule(context.Background(), schedule))
	return schedule
}

func TestDispatchScrapeCreatesRunAndJob(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	source := f.addSource(t, true)
	schedule := f.addScrapeSchedule(t, source.ID, models.JSONMap{"maxPages": 5})

	job := f.triggerJob(t, TriggerPayload{ScheduleID: schedule.ID})
	require.NoError(t, f.dispatch.Handle(ctx, job))

	all, err := f.runStore.ListRuns(ctx, interfaces.RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	run := all[0]
	assert.Equal(t, models.RunStatusQueued, run.Status)
	assert.Equal(t, schedule.ID, run.Metadata.String("scheduleId"))

	count, err := f.broker.WaitingCount(ctx, broker.QueueScrape)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// The run's jobId metadata resolves to the enqueued scrape job.
	scrapeJob, err := f.broker.GetJob(ctx, run.Metadata.String(models.RunMetaJobID))
	require.NoError(t, err)

	var payload scraper.ScrapeJob
	require.NoError(t, scrapeJob.UnmarshalData(&payload))
	assert.Equal(t, run.ID, payload.RunID)
	assert.Equal(t, source.ID, payload.SourceID)
	assert.Equal(t, "generic_html", payload.ModuleKey)
	assert.Equal(t, 5, payload.MaxPages)
}

func TestDispatchMergesManualConfigOverSchedule(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	source := f.addSource(t, true)
	schedule := f.addScrapeSchedule(t, source.ID, models.JSONMap{"maxPages": 5, "testMode": false})

	job := f.triggerJob(t, TriggerPayload{
		ScheduleID: schedule.ID,
		Manual:     true,
		Config:     models.JSONMap{"testMode": true},
	})
	require.NoError(t, f.dispatch.Handle(ctx, job))

	all, err := f.runStore.ListRuns(ctx, interfaces.RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)

	scrapeJob, err := f.broker.GetJob(ctx, all[0].Metadata.String(models.RunMetaJobID))
	require.NoError(t, err)

	var payload scraper.ScrapeJob
	require.NoError(t, scrapeJob.UnmarshalData(&payload))
	assert.True(t, payload.TestMode)
	assert.Equal(t, 5, payload.MaxPages)
}

func TestDispatchMissingScheduleIsNoOp(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	job := f.triggerJob(t, TriggerPayload{ScheduleID: "deleted"})
	require.NoError(t, f.dispatch.Handle(ctx, job))

	all, err := f.runStore.ListRuns(ctx, interfaces.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDispatchInactiveScheduleSkipsUnlessManual(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	source := f.addSource(t, true)
	schedule := f.addScrapeSchedule(t, source.ID, nil)
	schedule.Active = false
	require.NoError(t, f.schedules.UpdateSchedule(ctx, schedule))

	job := f.triggerJob(t, TriggerPayload{ScheduleID: schedule.ID})
	require.NoError(t, f.dispatch.Handle(ctx, job))

	all, err := f.runStore.ListRuns(ctx, interfaces.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)

	// Manual triggers bypass the active check.
	manual := f.triggerJob(t, TriggerPayload{ScheduleID: schedule.ID, Manual: true})
	require.NoError(t, f.dispatch.Handle(ctx, manual))

	all, err = f.runStore.ListRuns(ctx, interfaces.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDispatchInactiveSourceIsNoOp(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	source := f.addSource(t, false)
	schedule := f.addScrapeSchedule(t, source.ID, nil)

	job := f.triggerJob(t, TriggerPayload{ScheduleID: schedule.ID})
	require.NoError(t, f.dispatch.Handle(ctx, job))

	all, err := f.runStore.ListRuns(ctx, interfaces.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)

	count, err := f.broker.WaitingCount(ctx, broker.QueueScrape)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDispatchMissingSourceIsNoOp(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	schedule := f.addScrapeSchedule(t, "no-such-source", nil)

	job := f.triggerJob(t, TriggerPayload{ScheduleID: schedule.ID})
	require.NoError(t, f.dispatch.Handle(ctx, job))

	all, err := f.runStore.ListRuns(ctx, interfaces.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDispatchWordPressExportSuccess(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	settings := &models.WordPressSettings{SiteURL: "https://blog.example.com", Active: true}
	f.wordpress.AddSettings(settings)

	schedule := &models.Schedule{
		ScheduleType:        models.ScheduleTypeWordPressExport,
		WordPressSettingsID: &settings.ID,
		Cron:                "0 6 * * *",
		Active:              true,
	}
	require.NoError(t, f.schedules.CreateSchedule(ctx, schedule))

	job := f.triggerJob(t, TriggerPayload{ScheduleID: schedule.ID})
	require.NoError(t, f.dispatch.Handle(ctx, job))

	assert.Equal(t, 1, f.exporter.calls)

	exports, err := f.wordpress.ListExports(ctx, settings.ID, 10)
	require.NoError(t, err)
	require.Len(t, exports, 1)
	assert.Equal(t, models.ExportStatusCompleted, exports[0].Status)
	assert.Equal(t, "json", exports[0].Format)
	assert.NotNil(t, exports[0].FinishedAt)
}

func TestDispatchWordPressExportFailureMarksRow(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	settings := &models.WordPressSettings{SiteURL: "https://blog.example.com", Active: true}
	f.wordpress.AddSettings(settings)
	f.exporter.err = errors.New("site unreachable")

	schedule := &models.Schedule{
		ScheduleType:        models.ScheduleTypeWordPressExport,
		WordPressSettingsID: &settings.ID,
		Cron:                "0 6 * * *",
		Active:              true,
	}
	require.NoError(t, f.schedules.CreateSchedule(ctx, schedule))

	job := f.triggerJob(t, TriggerPayload{ScheduleID: schedule.ID})
	err := f.dispatch.Handle(ctx, job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "site unreachable")

	// The row is marked failed before the error re-raises for broker retry.
	exports, listErr := f.wordpress.ListExports(ctx, settings.ID, 10)
	require.NoError(t, listErr)
	require.Len(t, exports, 1)
	assert.Equal(t, models.ExportStatusFailed, exports[0].Status)
	require.NotNil(t, exports[0].Error)
	assert.Contains(t, *exports[0].Error, "site unreachable")
}

func TestDispatchInstagramFansOut(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	for _, username := range []string{"venue_a", "venue_b"} {
		require.NoError(t, f.accounts.CreateAccount(ctx, &models.InstagramAccount{
			Username: username,
			Active:   true,
		}))
	}

	schedule := &models.Schedule{
		ScheduleType: models.ScheduleTypeInstagramScrape,
		Cron:         "0 */6 * * *",
		Active:       true,
		Config:       models.JSONMap{"postLimit": 20},
	}
	require.NoError(t, f.schedules.CreateSchedule(ctx, schedule))

	job := f.triggerJob(t, TriggerPayload{ScheduleID: schedule.ID})
	require.NoError(t, f.dispatch.Handle(ctx, job))

	parents, err := f.runStore.ListRuns(ctx, interfaces.RunFilter{ParentsOnly: true})
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, schedule.ID, parents[0].Metadata.String("scheduleId"))

	children, err := f.runStore.ListChildRuns(ctx, parents[0].ID)
	require.NoError(t, err)
	assert.Len(t, children, 2)

	count, err := f.broker.WaitingCount(ctx, broker.QueueInstagram)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestDispatchInstagramNoAccountsIsNoOp(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	schedule := &models.Schedule{
		ScheduleType: models.ScheduleTypeInstagramScrape,
		Cron:         "0 */6 * * *",
		Active:       true,
	}
	require.NoError(t, f.schedules.CreateSchedule(ctx, schedule))

	job := f.triggerJob(t, TriggerPayload{ScheduleID: schedule.ID})
	require.NoError(t, f.dispatch.Handle(ctx, job))

	all, err := f.runStore.ListRuns(ctx, interfaces.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}
