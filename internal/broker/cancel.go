package broker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// SetCancelFlag writes a cancel flag for a job. The flag namespace is
// partitioned by job id; only the cancellation service writes "cancelled".
func (b *Broker) SetCancelFlag(ctx context.Context, jobID string, state CancelState) error {
	if err := b.client.Set(ctx, cancelFlagKey(jobID), string(state), 0).Err(); err != nil {
		return fmt.Errorf("set cancel flag for %s: %w", jobID, err)
	}
	return nil
}

// GetCancelFlag reads a job's cancel flag. Absent flags read as CancelNone.
func (b *Broker) GetCancelFlag(ctx context.Context, jobID string) (CancelState, error) {
	value, err := b.client.Get(ctx, cancelFlagKey(jobID)).Result()
	if err == redis.Nil {
		return CancelNone, nil
	}
	if err != nil {
		return CancelNone, fmt.Errorf("get cancel flag for %s: %w", jobID, err)
	}
	return CancelState(value), nil
}

// ClearCancelFlag removes a job's cancel flag.
func (b *Broker) ClearCancelFlag(ctx context.Context, jobID string) error {
	if err := b.client.Del(ctx, cancelFlagKey(jobID)).Err(); err != nil {
		return fmt.Errorf("clear cancel flag for %s: %w", jobID, err)
	}
	return nil
}
