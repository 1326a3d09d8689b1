package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/vanevents/harvester/internal/broker"
	"github.com/vanevents/harvester/internal/common"
	"github.com/vanevents/harvester/internal/interfaces"
	"github.com/vanevents/harvester/internal/models"
)

// TriggerPayload rides the schedule queue. Repeatable firings and manual
// triggers carry the same shape; the dispatcher loads the schedule row fresh
// so a stale payload cannot resurrect deleted configuration.
type TriggerPayload struct {
	ScheduleID string         `json:"scheduleId"`
	Manual     bool           `json:"manual,omitempty"`
	Config     models.JSONMap `json:"config,omitempty"`
}

// Promoter keeps the broker's repeatable set equal to the active schedule
// rows and moves past-due delayed firings to the waiting list.
type Promoter struct {
	broker    *broker.Broker
	schedules interfaces.ScheduleStorage
	cfg       common.SchedulerConfig
	logger    arbor.ILogger

	syncInProgress atomic.Bool
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

func NewPromoter(b *broker.Broker, schedules interfaces.ScheduleStorage, cfg common.SchedulerConfig, logger arbor.ILogger) *Promoter {
	ctx, cancel := context.WithCancel(context.Background())
	return &Promoter{
		broker:    b,
		schedules: schedules,
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Register binds a schedule as a repeatable broker job and persists the
// returned repeat key on the row.
func (p *Promoter) Register(ctx context.Context, schedule *models.Schedule) error {
	payload := TriggerPayload{ScheduleID: schedule.ID}
	tz := schedule.EffectiveTimezone(p.cfg.DefaultTimezone)

	repeatKey, err := p.broker.EnqueueRepeatable(ctx, broker.QueueSchedule,
		common.ScheduleJobID(schedule.ID), payload, schedule.Cron, tz)
	if err != nil {
		return fmt.Errorf("register schedule %s: %w", schedule.ID, err)
	}

	if err := p.schedules.SetRepeatKey(ctx, schedule.ID, &repeatKey); err != nil {
		return err
	}
	schedule.RepeatKey = &repeatKey

	p.logger.Info().
		Str("schedule_id", schedule.ID).
		Str("cron", schedule.Cron).
		Str("timezone", tz).
		Msg("Schedule registered")
	return nil
}

// Unregister removes a schedule's repeatable binding and clears the stored
// repeat key. Unknown bindings are a no-op.
func (p *Promoter) Unregister(ctx context.Context, schedule *models.Schedule) error {
	if schedule.RepeatKey != nil {
		if err := p.broker.RemoveRepeatable(ctx, broker.QueueSchedule, *schedule.RepeatKey); err != nil {
			return fmt.Errorf("unregister schedule %s: %w", schedule.ID, err)
		}
	}
	if err := p.schedules.SetRepeatKey(ctx, schedule.ID, nil); err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return err
	}
	schedule.RepeatKey = nil

	p.logger.Info().Str("schedule_id", schedule.ID).Msg("Schedule unregistered")
	return nil
}

// Reregister implements cron/timezone updates as unregister-then-register.
func (p *Promoter) Reregister(ctx context.Context, schedule *models.Schedule) error {
	if err := p.Unregister(ctx, schedule); err != nil {
		return err
	}
	return p.Register(ctx, schedule)
}

// TriggerScheduleNow enqueues a one-shot manual trigger, semantically
// equivalent to a cron fire. Returns the broker job id.
func (p *Promoter) TriggerScheduleNow(ctx context.Context, scheduleID string, config models.JSONMap) (string, error) {
	if _, err := p.schedules.GetSchedule(ctx, scheduleID); err != nil {
		return "", err
	}

	payload := TriggerPayload{ScheduleID: scheduleID, Manual: true, Config: config}
	job, err := p.broker.Enqueue(ctx, broker.QueueSchedule, payload, nil)
	if err != nil {
		return "", fmt.Errorf("trigger schedule %s: %w", scheduleID, err)
	}

	p.logger.Info().Str("schedule_id", scheduleID).Str("job_id", job.ID).Msg("Manual trigger enqueued")
	return job.ID, nil
}

// SyncOnce reconciles the broker's repeatable set against the schedules
// table. A latch prevents overlapping runs; a sync that fails mid-loop
// leaves both stores consistent-but-outdated and the next cycle corrects it.
func (p *Promoter) SyncOnce(ctx context.Context) error {
	if !p.syncInProgress.CompareAndSwap(false, true) {
		p.logger.Debug().Msg("Reconciliation already running, skipping")
		return nil
	}
	defer p.syncInProgress.Store(false)

	schedules, err := p.schedules.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("reconciliation: %w", err)
	}
	bindings, err := p.broker.ListRepeatable(ctx, broker.QueueSchedule)
	if err != nil {
		return fmt.Errorf("reconciliation: %w", err)
	}

	bindingsByJobID := make(map[string]broker.RepeatableBinding, len(bindings))
	for _, binding := range bindings {
		bindingsByJobID[binding.JobID] = binding
	}
	scheduleJobIDs := make(map[string]bool, len(schedules))

	for _, schedule := range schedules {
		jobID := common.ScheduleJobID(schedule.ID)
		scheduleJobIDs[jobID] = true
		binding, bound := bindingsByJobID[jobID]

		switch {
		case schedule.Active && !bound:
			if err := p.Register(ctx, schedule); err != nil {
				p.logger.Warn().Err(err).Str("schedule_id", schedule.ID).Msg("Reconciliation register failed")
			}

		case schedule.Active && bound:
			tz := schedule.EffectiveTimezone(p.cfg.DefaultTimezone)
			if binding.Cron != schedule.Cron || binding.Timezone != tz {
				if err := p.Reregister(ctx, schedule); err != nil {
					p.logger.Warn().Err(err).Str("schedule_id", schedule.ID).Msg("Reconciliation reregister failed")
				}
			} else if schedule.RepeatKey == nil || *schedule.RepeatKey != binding.RepeatKey {
				// Binding is right, stored key drifted; correct the row.
				key := binding.RepeatKey
				if err := p.schedules.SetRepeatKey(ctx, schedule.ID, &key); err != nil {
					p.logger.Warn().Err(err).Str("schedule_id", schedule.ID).Msg("Repeat key correction failed")
				}
			}

		case !schedule.Active && bound:
			key := binding.RepeatKey
			schedule.RepeatKey = &key
			if err := p.Unregister(ctx, schedule); err != nil {
				p.logger.Warn().Err(err).Str("schedule_id", schedule.ID).Msg("Reconciliation unregister failed")
			}

		case !schedule.Active && schedule.RepeatKey != nil:
			if err := p.schedules.SetRepeatKey(ctx, schedule.ID, nil); err != nil {
				p.logger.Warn().Err(err).Str("schedule_id", schedule.ID).Msg("Repeat key clear failed")
			}
		}
	}

	// Bindings with no schedule row are orphans from deleted rows.
	for jobID, binding := range bindingsByJobID {
		if scheduleJobIDs[jobID] {
			continue
		}
		if err := p.broker.RemoveRepeatable(ctx, broker.QueueSchedule, binding.RepeatKey); err != nil {
			p.logger.Warn().Err(err).Str("job_id", jobID).Msg("Orphan unregister failed")
			continue
		}
		p.logger.Info().Str("job_id", jobID).Msg("Orphan repeatable removed")
	}

	p.logger.Debug().
		Int("schedules", len(schedules)).
		Int("bindings", len(bindings)).
		Msg("Reconciliation complete")
	return nil
}

// promotedQueues lists every queue whose delayed zset the promoter drains.
// Schedule firings land there at registration; retry backoffs from the worker
// pools land in their own queue's zset and need the same promotion.
var promotedQueues = []string{broker.QueueSchedule, broker.QueueScrape, broker.QueueInstagram}

// PromoteTick advances repeatable bindings and promotes past-due delayed
// jobs across all queues. Lost promotion races are no-ops.
func (p *Promoter) PromoteTick(ctx context.Context, now time.Time) error {
	if err := p.broker.AdvanceRepeatables(ctx, broker.QueueSchedule, now); err != nil {
		return err
	}

	cutoff := now.Add(p.cfg.PromoteLookahead())
	for _, queue := range promotedQueues {
		delayed, err := p.broker.GetDelayed(ctx, queue, p.cfg.PromoteBatchSize)
		if err != nil {
			return err
		}

		for _, job := range delayed {
			if job.ScheduledAt().After(cutoff) {
				continue
			}
			err := p.broker.Promote(ctx, job.ID)
			if err != nil && !errors.Is(err, broker.ErrNotDelayed) && !errors.Is(err, broker.ErrJobNotFound) {
				p.logger.Warn().Err(err).Str("job_id", job.ID).Str("queue", queue).Msg("Promotion failed")
				continue
			}
			if err == nil {
				p.logger.Debug().Str("job_id", job.ID).Str("queue", queue).Msg("Delayed job promoted")
			}
		}
	}
	return nil
}

// Start runs one reconciliation synchronously, then launches the sync and
// promotion loops. The initial sync completes before any promotion so
// orphans from a previous deployment are cleaned before they can fire.
func (p *Promoter) Start() error {
	if err := p.SyncOnce(p.ctx); err != nil {
		return err
	}

	if interval := p.cfg.SyncInterval(); interval > 0 {
		p.wg.Add(1)
		go p.syncLoop(interval)
	} else {
		p.logger.Warn().Msg("Reconciliation loop disabled")
	}

	p.wg.Add(1)
	go p.promoteLoop()

	p.logger.Info().
		Dur("promote_interval", p.cfg.PromoteInterval()).
		Dur("sync_interval", p.cfg.SyncInterval()).
		Msg("Schedule promoter started")
	return nil
}

// Stop halts both loops and waits for them to exit.
func (p *Promoter) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Promoter) syncLoop(interval time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := p.SyncOnce(p.ctx); err != nil {
				p.logger.Warn().Err(err).Msg("Reconciliation failed, will retry next cycle")
			}
		}
	}
}

func (p *Promoter) promoteLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PromoteInterval())
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := p.PromoteTick(p.ctx, time.Now()); err != nil {
				p.logger.Warn().Err(err).Msg("Promotion tick failed, will retry next tick")
			}
		}
	}
}
