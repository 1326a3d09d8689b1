package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
)

// Sentinel errors surfaced by queue operations.
var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job id already enqueued")
	ErrNotDelayed  = errors.New("job is not in the delayed set")
	ErrNoJob       = errors.New("no jobs waiting")
)

const (
	keyPrefix = "broker:"

	// defaultRetention bounds the completed/failed history kept per queue.
	defaultRetention = 100

	defaultMaxAttempts = 3
)

// Broker provides named Redis-backed queues with immediate and delayed
// delivery, jobId deduplication, repeatable (cron) bindings, and cancel
// flags. It is a thin persistence layer: promotion and dispatch policy live
// in the scheduler package.
type Broker struct {
	client      *redis.Client
	logger      arbor.ILogger
	retention   int64
	maxAttempts int
}

// New creates a broker over an existing Redis client.
func New(client *redis.Client, logger arbor.ILogger) *Broker {
	return &Broker{
		client:      client,
		logger:      logger,
		retention:   defaultRetention,
		maxAttempts: defaultMaxAttempts,
	}
}

// NewFromURL connects to Redis and returns a broker. The connection is
// verified with a ping so broker misconfiguration fails at boot.
func NewFromURL(ctx context.Context, url string, logger arbor.ILogger) (*Broker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info().Str("addr", opts.Addr).Msg("Redis broker connected")
	return New(client, logger), nil
}

// SetMaxAttempts overrides the default retry limit applied at enqueue time.
func (b *Broker) SetMaxAttempts(n int) {
	if n > 0 {
		b.maxAttempts = n
	}
}

// Close releases the underlying Redis connection.
func (b *Broker) Close() error {
	return b.client.Close()
}

// --- key helpers ---

func jobKey(id string) string             { return keyPrefix + "job:" + id }
func idsKey() string                      { return keyPrefix + "ids" }
func waitingKey(queue string) string      { return keyPrefix + queue + ":waiting" }
func delayedKey(queue string) string      { return keyPrefix + queue + ":delayed" }
func completedKey(queue string) string    { return keyPrefix + queue + ":completed" }
func failedKey(queue string) string       { return keyPrefix + queue + ":failed" }
func repeatHashKey(queue string) string   { return keyPrefix + queue + ":repeat" }
func cancelFlagKey(jobID string) string   { return keyPrefix + "cancel:" + jobID }

// EnqueueOptions tune a single enqueue call.
type EnqueueOptions struct {
	// JobID acts as a deduplication key; empty means a random id.
	JobID string
	// Delay defers delivery; zero enqueues to the waiting list directly.
	Delay time.Duration
	// MaxAttempts overrides the broker default retry limit.
	MaxAttempts int

	repeatJobKey string
}

// Enqueue adds a job to the named queue. Re-adding an existing JobID returns
// ErrJobExists without touching the queue, which gives repeatable triggers
// their at-most-once-per-firing guarantee.
func (b *Broker) Enqueue(ctx context.Context, queue string, data interface{}, opts *EnqueueOptions) (*Job, error) {
	if opts == nil {
		opts = &EnqueueOptions{}
	}

	id := opts.JobID
	if id == "" {
		id = uuid.New().String()
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal job data: %w", err)
	}

	added, err := b.client.SAdd(ctx, idsKey(), id).Result()
	if err != nil {
		return nil, fmt.Errorf("dedup check: %w", err)
	}
	if added == 0 {
		return nil, ErrJobExists
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = b.maxAttempts
	}

	job := &Job{
		ID:           id,
		Queue:        queue,
		Data:         payload,
		Timestamp:    nowMS(),
		Delay:        opts.Delay.Milliseconds(),
		MaxAttempts:  maxAttempts,
		RepeatJobKey: opts.repeatJobKey,
	}

	// From here on a failure must release the dedup reservation, or the id
	// stays poisoned and every future enqueue of it gets ErrJobExists.
	if opts.Delay > 0 {
		job.State = StateDelayed
		if err := b.saveJob(ctx, job); err != nil {
			b.client.SRem(ctx, idsKey(), id)
			return nil, err
		}
		score := float64(job.Timestamp + job.Delay)
		if err := b.client.ZAdd(ctx, delayedKey(queue), redis.Z{Score: score, Member: id}).Err(); err != nil {
			b.deleteJob(ctx, id)
			return nil, fmt.Errorf("enqueue delayed: %w", err)
		}
	} else {
		job.State = StateWaiting
		if err := b.saveJob(ctx, job); err != nil {
			b.client.SRem(ctx, idsKey(), id)
			return nil, err
		}
		if err := b.client.LPush(ctx, waitingKey(queue), id).Err(); err != nil {
			b.deleteJob(ctx, id)
			return nil, fmt.Errorf("enqueue waiting: %w", err)
		}
	}

	return job, nil
}

// GetJob loads a job record by id. The lookup is queue-agnostic: job records
// share one key namespace so cancellation can resolve ids without knowing
// the queue.
func (b *Broker) GetJob(ctx context.Context, id string) (*Job, error) {
	data, err := b.client.Get(ctx, jobKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// RemoveJob removes a waiting, delayed, or paused job from its queue and
// deletes its record. Active or finished jobs are not removable.
func (b *Broker) RemoveJob(ctx context.Context, id string) error {
	job, err := b.GetJob(ctx, id)
	if err != nil {
		return err
	}

	switch job.State {
	case StateWaiting, StatePaused:
		if err := b.client.LRem(ctx, waitingKey(job.Queue), 0, id).Err(); err != nil {
			return fmt.Errorf("remove waiting job %s: %w", id, err)
		}
	case StateDelayed:
		if err := b.client.ZRem(ctx, delayedKey(job.Queue), id).Err(); err != nil {
			return fmt.Errorf("remove delayed job %s: %w", id, err)
		}
	default:
		return fmt.Errorf("job %s is %s and cannot be removed", id, job.State)
	}

	return b.deleteJob(ctx, id)
}

// GetDelayed returns up to limit delayed jobs ordered by delivery time.
func (b *Broker) GetDelayed(ctx context.Context, queue string, limit int) ([]*Job, error) {
	ids, err := b.client.ZRange(ctx, delayedKey(queue), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list delayed: %w", err)
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := b.GetJob(ctx, id)
		if err == ErrJobNotFound {
			// Record evicted out from under the zset; drop the orphan member.
			b.client.ZRem(ctx, delayedKey(queue), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Promote moves a delayed job to the waiting list. Promoting a job that is
// no longer delayed returns ErrNotDelayed; callers treat that as a no-op
// because a concurrent promoter won the race.
func (b *Broker) Promote(ctx context.Context, id string) error {
	job, err := b.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.State != StateDelayed {
		return ErrNotDelayed
	}

	removed, err := b.client.ZRem(ctx, delayedKey(job.Queue), id).Result()
	if err != nil {
		return fmt.Errorf("promote job %s: %w", id, err)
	}
	if removed == 0 {
		return ErrNotDelayed
	}

	job.State = StateWaiting
	if err := b.saveJob(ctx, job); err != nil {
		return err
	}
	return b.client.LPush(ctx, waitingKey(job.Queue), id).Err()
}

// WaitingCount returns the number of jobs in the waiting list.
func (b *Broker) WaitingCount(ctx context.Context, queue string) (int64, error) {
	return b.client.LLen(ctx, waitingKey(queue)).Result()
}

// --- worker-side transitions (used by the pool) ---

// popWaiting pops the next waiting job id in FIFO order.
func (b *Broker) popWaiting(ctx context.Context, queue string) (string, error) {
	id, err := b.client.RPop(ctx, waitingKey(queue)).Result()
	if err == redis.Nil {
		return "", ErrNoJob
	}
	if err != nil {
		return "", fmt.Errorf("pop waiting: %w", err)
	}
	return id, nil
}

func (b *Broker) markActive(ctx context.Context, job *Job) error {
	now := nowMS()
	job.State = StateActive
	job.AttemptsMade++
	job.ProcessedOn = &now
	return b.saveJob(ctx, job)
}

func (b *Broker) markCompleted(ctx context.Context, job *Job) error {
	now := nowMS()
	job.State = StateCompleted
	job.FinishedOn = &now
	if err := b.saveJob(ctx, job); err != nil {
		return err
	}
	if err := b.client.LPush(ctx, completedKey(job.Queue), job.ID).Err(); err != nil {
		return err
	}
	return b.trimRetention(ctx, completedKey(job.Queue))
}

func (b *Broker) markFailed(ctx context.Context, job *Job, reason string) error {
	now := nowMS()
	job.State = StateFailed
	job.FailedReason = reason
	job.FinishedOn = &now
	if err := b.saveJob(ctx, job); err != nil {
		return err
	}
	if err := b.client.LPush(ctx, failedKey(job.Queue), job.ID).Err(); err != nil {
		return err
	}
	return b.trimRetention(ctx, failedKey(job.Queue))
}

// retryLater re-schedules a failed attempt as a delayed job.
func (b *Broker) retryLater(ctx context.Context, job *Job, backoff time.Duration) error {
	deliverAt := nowMS() + backoff.Milliseconds()
	job.State = StateDelayed
	job.Delay = deliverAt - job.Timestamp
	if err := b.saveJob(ctx, job); err != nil {
		return err
	}
	return b.client.ZAdd(ctx, delayedKey(job.Queue), redis.Z{Score: float64(deliverAt), Member: job.ID}).Err()
}

// trimRetention bounds a history list, deleting records that fall off.
func (b *Broker) trimRetention(ctx context.Context, listKey string) error {
	length, err := b.client.LLen(ctx, listKey).Result()
	if err != nil {
		return err
	}
	for length > b.retention {
		id, err := b.client.RPop(ctx, listKey).Result()
		if err != nil {
			return err
		}
		if err := b.deleteJob(ctx, id); err != nil && err != ErrJobNotFound {
			return err
		}
		length--
	}
	return nil
}

func (b *Broker) saveJob(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	if err := b.client.Set(ctx, jobKey(job.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (b *Broker) deleteJob(ctx context.Context, id string) error {
	if err := b.client.Del(ctx, jobKey(id)).Err(); err != nil {
		return err
	}
	return b.client.SRem(ctx, idsKey(), id).Err()
}
