package broker

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

// RepeatableBinding is the broker's record of a cron-keyed recurring job.
// The relational side stores only the RepeatKey the broker hands back, so
// the two stores can be reconciled without trusting either in isolation.
type RepeatableBinding struct {
	RepeatKey string          `json:"repeatKey"`
	Queue     string          `json:"queue"`
	JobID     string          `json:"jobId"`
	Cron      string          `json:"pattern"`
	Timezone  string          `json:"tz"`
	Data      json.RawMessage `json:"data"`
	CreatedAt int64           `json:"createdAt"`
}

// repeatTriggerPrefix namespaces the delayed trigger jobs a binding spawns.
func repeatTriggerPrefix(jobID string) string {
	return "repeat:" + jobID + ":"
}

// repeatKeyFor derives a deterministic repeat key from the binding identity.
// Re-registering the same definition yields the same key, so reconciliation
// after a crash converges instead of churning.
func repeatKeyFor(queue, jobID, cronExpr, tz string) string {
	h := sha1.Sum([]byte(queue + "|" + jobID + "|" + cronExpr + "|" + tz))
	return hex.EncodeToString(h[:])[:16]
}

// EnqueueRepeatable registers a repeatable definition and schedules its next
// firing as a delayed trigger job. Returns the repeat key callers persist.
func (b *Broker) EnqueueRepeatable(ctx context.Context, queue, jobID string, data interface{}, cronExpr, tz string) (string, error) {
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return "", fmt.Errorf("invalid cron pattern %q: %w", cronExpr, err)
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "", fmt.Errorf("invalid timezone %q: %w", tz, err)
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal repeatable data: %w", err)
	}

	binding := RepeatableBinding{
		RepeatKey: repeatKeyFor(queue, jobID, cronExpr, tz),
		Queue:     queue,
		JobID:     jobID,
		Cron:      cronExpr,
		Timezone:  tz,
		Data:      payload,
		CreatedAt: nowMS(),
	}

	encoded, err := json.Marshal(binding)
	if err != nil {
		return "", fmt.Errorf("encode repeatable binding: %w", err)
	}
	if err := b.client.HSet(ctx, repeatHashKey(queue), binding.RepeatKey, encoded).Err(); err != nil {
		return "", fmt.Errorf("register repeatable %s: %w", jobID, err)
	}

	if err := b.scheduleNextTrigger(ctx, &binding, time.Now()); err != nil {
		return "", err
	}

	return binding.RepeatKey, nil
}

// RemoveRepeatable unregisters a binding and removes any trigger jobs it has
// pending. Removing an unknown repeat key is a no-op.
func (b *Broker) RemoveRepeatable(ctx context.Context, queue, repeatKey string) error {
	encoded, err := b.client.HGet(ctx, repeatHashKey(queue), repeatKey).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load repeatable %s: %w", repeatKey, err)
	}

	var binding RepeatableBinding
	if err := json.Unmarshal([]byte(encoded), &binding); err != nil {
		return fmt.Errorf("decode repeatable %s: %w", repeatKey, err)
	}

	if err := b.client.HDel(ctx, repeatHashKey(queue), repeatKey).Err(); err != nil {
		return fmt.Errorf("unregister repeatable %s: %w", repeatKey, err)
	}

	return b.removePendingTriggers(ctx, queue, binding.JobID)
}

// ListRepeatable returns all bindings registered on a queue.
func (b *Broker) ListRepeatable(ctx context.Context, queue string) ([]RepeatableBinding, error) {
	entries, err := b.client.HGetAll(ctx, repeatHashKey(queue)).Result()
	if err != nil {
		return nil, fmt.Errorf("list repeatable: %w", err)
	}

	bindings := make([]RepeatableBinding, 0, len(entries))
	for key, encoded := range entries {
		var binding RepeatableBinding
		if err := json.Unmarshal([]byte(encoded), &binding); err != nil {
			b.logger.Warn().Str("repeat_key", key).Err(err).Msg("Skipping undecodable repeatable binding")
			continue
		}
		bindings = append(bindings, binding)
	}
	return bindings, nil
}

// AdvanceRepeatables ensures every binding has its next firing scheduled as
// a delayed trigger. Trigger job ids embed the firing instant, so repeated
// calls (and concurrent promoters) deduplicate to one job per firing.
func (b *Broker) AdvanceRepeatables(ctx context.Context, queue string, now time.Time) error {
	bindings, err := b.ListRepeatable(ctx, queue)
	if err != nil {
		return err
	}

	for i := range bindings {
		if err := b.scheduleNextTrigger(ctx, &bindings[i], now); err != nil {
			b.logger.Warn().
				Str("job_id", bindings[i].JobID).
				Err(err).
				Msg("Failed to advance repeatable binding")
		}
	}
	return nil
}

// NextFire computes the binding's next firing instant after now.
func (bd *RepeatableBinding) NextFire(now time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(bd.Cron)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron %q: %w", bd.Cron, err)
	}
	loc, err := time.LoadLocation(bd.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone %q: %w", bd.Timezone, err)
	}
	return sched.Next(now.In(loc)), nil
}

func (b *Broker) scheduleNextTrigger(ctx context.Context, binding *RepeatableBinding, now time.Time) error {
	next, err := binding.NextFire(now)
	if err != nil {
		return err
	}

	triggerID := fmt.Sprintf("%s%d", repeatTriggerPrefix(binding.JobID), next.UnixMilli())
	_, err = b.Enqueue(ctx, binding.Queue, json.RawMessage(binding.Data), &EnqueueOptions{
		JobID:        triggerID,
		Delay:        time.Until(next),
		repeatJobKey: binding.RepeatKey,
	})
	if err == ErrJobExists {
		return nil
	}
	return err
}

// removePendingTriggers drops not-yet-consumed trigger jobs for a binding
// from both the delayed set and the waiting list.
func (b *Broker) removePendingTriggers(ctx context.Context, queue, jobID string) error {
	prefix := repeatTriggerPrefix(jobID)

	delayed, err := b.client.ZRange(ctx, delayedKey(queue), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("scan delayed triggers: %w", err)
	}
	for _, id := range delayed {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		if err := b.client.ZRem(ctx, delayedKey(queue), id).Err(); err != nil {
			return err
		}
		if err := b.deleteJob(ctx, id); err != nil {
			return err
		}
	}

	waiting, err := b.client.LRange(ctx, waitingKey(queue), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("scan waiting triggers: %w", err)
	}
	for _, id := range waiting {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		if err := b.client.LRem(ctx, waitingKey(queue), 0, id).Err(); err != nil {
			return err
		}
		if err := b.deleteJob(ctx, id); err != nil {
			return err
		}
	}

	return nil
}
