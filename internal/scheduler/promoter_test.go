package scheduler

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
	"github.com/vanevents/harvester/internal/common"
	"github.com/vanevents/harvester/internal/models"
	"github.com/vanevents/harvester/internal/storage/storagetest"
)

type promoterFixture struct {
	broker    *broker.Broker
	schedules *storagetest.FakeScheduleStorage
	promoter  *Promoter
}

func newPromoterFixture(t *testing.T) *promoterFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := arbor.NewLogger()
	b := broker.New(client, logger)
	schedules := storagetest.NewFakeScheduleStorage()

	cfg := common.SchedulerConfig{
		PromoteIntervalMS:  5000,
		PromoteLookaheadMS: 1000,
		PromoteBatchSize:   50,
		SyncIntervalMS:     60000,
		DefaultTimezone:    "UTC",
	}

	return &promoterFixture{
		broker:    b,
		schedules: schedules,
		promoter:  NewPromoter(b, schedules, cfg, logger),
	}
}

func (f *promoterFixture) addSchedule(t *testing.T, cron string, active bool) *models.Schedule {
	t.Helper()
	sourceID := "source-" + cron
	schedule := &models.Schedule{
		ScheduleType: models.ScheduleTypeScrape,
		SourceID:     &sourceID,
		Cron:         cron,
		Active:       active,
	}
	require.NoError(t, f.schedules.CreateSchedule(context.Background(), schedule))
	return schedule
}

func TestPromoterRegisterPersistsRepeatKey(t *testing.T) {
	f := newPromoterFixture(t)
	ctx := context.Background()

	schedule := f.addSchedule(t, "0 * * * *", true)
	require.NoError(t, f.promoter.Register(ctx, schedule))
	require.NotNil(t, schedule.RepeatKey)

	bindings, err := f.broker.ListRepeatable(ctx, broker.QueueSchedule)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, *schedule.RepeatKey, bindings[0].RepeatKey)
	assert.Equal(t, common.ScheduleJobID(schedule.ID), bindings[0].JobID)
	assert.Equal(t, "0 * * * *", bindings[0].Cron)
	assert.Equal(t, "UTC", bindings[0].Timezone)

	// The key round-trips through the store.
	stored, err := f.schedules.GetSchedule(ctx, schedule.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RepeatKey)
	assert.Equal(t, *schedule.RepeatKey, *stored.RepeatKey)

	// Registration schedules the first firing as a delayed trigger.
	delayed, err := f.broker.GetDelayed(ctx, broker.QueueSchedule, 10)
	require.NoError(t, err)
	require.Len(t, delayed, 1)
	assert.Contains(t, delayed[0].ID, common.ScheduleJobID(schedule.ID))
}

func TestPromoterUnregisterRemovesBindingAndTriggers(t *testing.T) {
	f := newPromoterFixture(t)
	ctx := context.Background()

	schedule := f.addSchedule(t, "*/5 * * * *", true)
	require.NoError(t, f.promoter.Register(ctx, schedule))

	require.NoError(t, f.promoter.Unregister(ctx, schedule))
	assert.Nil(t, schedule.RepeatKey)

	bindings, err := f.broker.ListRepeatable(ctx, broker.QueueSchedule)
	require.NoError(t, err)
	assert.Empty(t, bindings)

	delayed, err := f.broker.GetDelayed(ctx, broker.QueueSchedule, 10)
	require.NoError(t, err)
	assert.Empty(t, delayed)

	stored, err := f.schedules.GetSchedule(ctx, schedule.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.RepeatKey)
}

func TestPromoterReregisterChangesKey(t *testing.T) {
	f := newPromoterFixture(t)
	ctx := context.Background()

	schedule := f.addSchedule(t, "0 * * * *", true)
	require.NoError(t, f.promoter.Register(ctx, schedule))
	oldKey := *schedule.RepeatKey

	schedule.Cron = "30 * * * *"
	require.NoError(t, f.schedules.UpdateSchedule(ctx, schedule))
	require.NoError(t, f.promoter.Reregister(ctx, schedule))

	require.NotNil(t, schedule.RepeatKey)
	assert.NotEqual(t, oldKey, *schedule.RepeatKey)

	bindings, err := f.broker.ListRepeatable(ctx, broker.QueueSchedule)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, "30 * * * *", bindings[0].Cron)
}

func TestPromoterTriggerScheduleNow(t *testing.T) {
	f := newPromoterFixture(t)
	ctx := context.Background()

	schedule := f.addSchedule(t, "0 0 * * *", true)

	jobID, err := f.promoter.TriggerScheduleNow(ctx, schedule.ID, models.JSONMap{"testMode": true})
	require.NoError(t, err)

	job, err := f.broker.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, broker.StateWaiting, job.State)

	var payload TriggerPayload
	require.NoError(t, job.UnmarshalData(&payload))
	assert.Equal(t, schedule.ID, payload.ScheduleID)
	assert.True(t, payload.Manual)
	assert.True(t, payload.Config.Bool("testMode"))
}

func TestPromoterTriggerUnknownSchedule(t *testing.T) {
	f := newPromoterFixture(t)

	_, err := f.promoter.TriggerScheduleNow(context.Background(), "no-such-schedule", nil)
	assert.Error(t, err)
}

func TestSyncOnceRegistersMissingBindings(t *testing.T) {
	f := newPromoterFixture(t)
	ctx := context.Background()

	active := f.addSchedule(t, "0 * * * *", true)
	f.addSchedule(t, "0 0 * * *", false)

	require.NoError(t, f.promoter.SyncOnce(ctx))

	bindings, err := f.broker.ListRepeatable(ctx, broker.QueueSchedule)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, common.ScheduleJobID(active.ID), bindings[0].JobID)

	stored, err := f.schedules.GetSchedule(ctx, active.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.RepeatKey)
}

func TestSyncOnceReregistersOnCronDrift(t *testing.T) {
	f := newPromoterFixture(t)
	ctx := context.Background()

	schedule := f.addSchedule(t, "0 * * * *", true)
	require.NoError(t, f.promoter.Register(ctx, schedule))

	// The row changes behind the promoter's back.
	schedule.Cron = "15 * * * *"
	require.NoError(t, f.schedules.UpdateSchedule(ctx, schedule))

	require.NoError(t, f.promoter.SyncOnce(ctx))

	bindings, err := f.broker.ListRepeatable(ctx, broker.QueueSchedule)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, "15 * * * *", bindings[0].Cron)

	stored, err := f.schedules.GetSchedule(ctx, schedule.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RepeatKey)
	assert.Equal(t, bindings[0].RepeatKey, *stored.RepeatKey)
}

func TestSyncOnceCorrectsRepeatKeyDrift(t *testing.T) {
	f := newPromoterFixture(t)
	ctx := context.Background()

	schedule := f.addSchedule(t, "0 * * * *", true)
	require.NoError(t, f.promoter.Register(ctx, schedule))
	goodKey := *schedule.RepeatKey

	stale := "stale-key"
	require.NoError(t, f.schedules.SetRepeatKey(ctx, schedule.ID, &stale))

	require.NoError(t, f.promoter.SyncOnce(ctx))

	stored, err := f.schedules.GetSchedule(ctx, schedule.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RepeatKey)
	assert.Equal(t, goodKey, *stored.RepeatKey)
}

func TestSyncOnceUnregistersInactiveSchedules(t *testing.T) {
	f := newPromoterFixture(t)
	ctx := context.Background()

	schedule := f.addSchedule(t, "0 * * * *", true)
	require.NoError(t, f.promoter.Register(ctx, schedule))

	schedule.Active = false
	require.NoError(t, f.schedules.UpdateSchedule(ctx, schedule))

	require.NoError(t, f.promoter.SyncOnce(ctx))

	bindings, err := f.broker.ListRepeatable(ctx, broker.QueueSchedule)
	require.NoError(t, err)
	assert.Empty(t, bindings)

	stored, err := f.schedules.GetSchedule(ctx, schedule.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.RepeatKey)
}

func TestSyncOnceRemovesOrphanBindings(t *testing.T) {
	f := newPromoterFixture(t)
	ctx := context.Background()

	// A binding for a schedule row that no longer exists.
	_, err := f.broker.EnqueueRepeatable(ctx, broker.QueueSchedule,
		common.ScheduleJobID("deleted-schedule"), TriggerPayload{ScheduleID: "deleted-schedule"},
		"0 * * * *", "UTC")
	require.NoError(t, err)

	require.NoError(t, f.promoter.SyncOnce(ctx))

	bindings, err := f.broker.ListRepeatable(ctx, broker.QueueSchedule)
	require.NoError(t, err)
	assert.Empty(t, bindings)

	// Its pending trigger job is gone with it.
	delayed, err := f.broker.GetDelayed(ctx, broker.QueueSchedule, 10)
	require.NoError(t, err)
	assert.Empty(t, delayed)
}

func TestPromoteTickPromotesPastDueJobs(t *testing.T) {
	f := newPromoterFixture(t)
	ctx := context.Background()

	due, err := f.broker.Enqueue(ctx, broker.QueueSchedule,
		TriggerPayload{ScheduleID: "due"}, &broker.EnqueueOptions{Delay: 10 * time.Millisecond})
	require.NoError(t, err)
	future, err := f.broker.Enqueue(ctx, broker.QueueSchedule,
		TriggerPayload{ScheduleID: "future"}, &broker.EnqueueOptions{Delay: time.Hour})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, f.promoter.PromoteTick(ctx, time.Now()))

	promoted, err := f.broker.GetJob(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, broker.StateWaiting, promoted.State)

	left, err := f.broker.GetJob(ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, broker.StateDelayed, left.State)

	count, err := f.broker.WaitingCount(ctx, broker.QueueSchedule)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPromoteTickIsIdempotent(t *testing.T) {
	f := newPromoterFixture(t)
	ctx := context.Background()

	_, err := f.broker.Enqueue(ctx, broker.QueueSchedule,
		TriggerPayload{ScheduleID: "once"}, &broker.EnqueueOptions{Delay: 10 * time.Millisecond})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, f.promoter.PromoteTick(ctx, time.Now()))
	require.NoError(t, f.promoter.PromoteTick(ctx, time.Now()))

	count, err := f.broker.WaitingCount(ctx, broker.QueueSchedule)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPromoteTickPromotesWorkerQueueRetries(t *testing.T) {
	f := newPromoterFixture(t)
	ctx := context.Background()

	attempts := 0
	handler := func(ctx context.Context, job *broker.Job) error {
		attempts++
		if attempts == 1 {
			return errors.New("fetch timeout")
		}
		return nil
	}
	pool := broker.NewPool(f.broker, broker.QueueScrape, 1, time.Millisecond, handler, arbor.NewLogger())

	job, err := f.broker.Enqueue(ctx, broker.QueueScrape, map[string]string{"runId": "r1"}, nil)
	require.NoError(t, err)

	// First attempt fails and the retry is parked in the scrape queue's
	// delayed set, out of reach of the pool until promoted.
	require.NoError(t, pool.ProcessOne(0))
	parked, err := f.broker.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, broker.StateDelayed, parked.State)
	require.ErrorIs(t, pool.ProcessOne(0), broker.ErrNoJob)

	require.NoError(t, f.promoter.PromoteTick(ctx, time.Now().Add(time.Minute)))

	require.NoError(t, pool.ProcessOne(0))
	assert.Equal(t, 2, attempts)

	done, err := f.broker.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, broker.StateCompleted, done.State)
}

func TestPromoteTickAdvancesRepeatables(t *testing.T) {
	f := newPromoterFixture(t)
	ctx := context.Background()

	schedule := f.addSchedule(t, "* * * * *", true)
	require.NoError(t, f.promoter.Register(ctx, schedule))

	// Registration planted the next firing; the tick must not duplicate it.
	require.NoError(t, f.promoter.PromoteTick(ctx, time.Now()))

	delayed, err := f.broker.GetDelayed(ctx, broker.QueueSchedule, 10)
	require.NoError(t, err)
	assert.Len(t, delayed, 1)
}
