package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
)

// Handler processes one job. A non-nil error triggers the broker's retry
// policy until MaxAttempts is exhausted, then the job fails.
type Handler func(ctx context.Context, job *Job) error

// retryBackoff is the delay before attempt n+1 (exponential, 1s base).
func retryBackoff(attemptsMade int) time.Duration {
	backoff := time.Second
	for i := 1; i < attemptsMade; i++ {
		backoff *= 2
	}
	return backoff
}

// Pool runs a set of workers draining one queue.
type Pool struct {
	broker       *Broker
	queue        string
	concurrency  int
	pollInterval time.Duration
	handler      Handler
	logger       arbor.ILogger
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewPool creates a worker pool for the named queue.
func NewPool(b *Broker, queue string, concurrency int, pollInterval time.Duration, handler Handler, logger arbor.ILogger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{
		broker:       b,
		queue:        queue,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		handler:      handler,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() error {
	p.logger.Info().
		Str("queue", p.queue).
		Int("concurrency", p.concurrency).
		Msg("Starting worker pool")

	for i := 0; i < p.concurrency; i++ {
		go p.worker(i)
	}
	return nil
}

// Stop signals all workers to exit after their current job.
func (p *Pool) Stop() error {
	p.logger.Info().Str("queue", p.queue).Msg("Stopping worker pool")
	p.cancel()
	return nil
}

// worker is the main poll loop. Workers are staggered across the poll
// interval to spread Redis load.
func (p *Pool) worker(workerID int) {
	staggerDelay := (p.pollInterval / time.Duration(p.concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		time.Sleep(staggerDelay)
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug().
				Str("queue", p.queue).
				Int("worker_id", workerID).
				Msg("Worker stopped")
			return

		case <-ticker.C:
			if err := p.ProcessOne(workerID); err != nil && err != ErrNoJob {
				p.logger.Warn().
					Err(err).
					Str("queue", p.queue).
					Int("worker_id", workerID).
					Msg("Error processing job")
			}
		}
	}
}

// ProcessOne pops and runs a single job. Exposed so tests and callers can
// drain a queue synchronously.
func (p *Pool) ProcessOne(workerID int) error {
	id, err := p.broker.popWaiting(p.ctx, p.queue)
	if err != nil {
		return err
	}

	job, err := p.broker.GetJob(p.ctx, id)
	if err != nil {
		return fmt.Errorf("load popped job %s: %w", id, err)
	}

	if err := p.broker.markActive(p.ctx, job); err != nil {
		return err
	}

	start := time.Now()
	handlerErr := p.runHandler(job)
	duration := time.Since(start)

	if handlerErr != nil {
		if job.AttemptsMade < job.MaxAttempts {
			backoff := retryBackoff(job.AttemptsMade)
			p.logger.Warn().
				Err(handlerErr).
				Str("job_id", job.ID).
				Str("queue", p.queue).
				Int("attempt", job.AttemptsMade).
				Dur("backoff", backoff).
				Msg("Job failed, scheduling retry")
			return p.broker.retryLater(p.ctx, job, backoff)
		}

		p.logger.Error().
			Err(handlerErr).
			Str("job_id", job.ID).
			Str("queue", p.queue).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Job failed permanently")
		return p.broker.markFailed(p.ctx, job, handlerErr.Error())
	}

	p.logger.Info().
		Str("job_id", job.ID).
		Str("queue", p.queue).
		Dur("duration", duration).
		Int("worker_id", workerID).
		Msg("Job completed")
	return p.broker.markCompleted(p.ctx, job)
}

// runHandler executes the handler with panic recovery so one bad job cannot
// take the pool down.
func (p *Pool) runHandler(job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("job_id", job.ID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in job handler")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.handler(p.ctx, job)
}
