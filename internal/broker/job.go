package broker

import (
	"encoding/json"
	"time"
)

// Queue names used by the core.
const (
	QueueSchedule  = "schedule-queue"
	QueueScrape    = "scrape-queue"
	QueueInstagram = "instagram-scrape-queue"
)

// State is the broker-side job state.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// IsTerminal reports whether the state is absorbing on the broker side.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CancelState is the out-of-band cancel flag communicated through Redis.
// Workers poll it between natural checkpoints; they never write "cancelled"
// themselves.
type CancelState string

const (
	CancelNone      CancelState = ""
	CancelRequested CancelState = "requested"
	CancelCancelled CancelState = "cancelled"
)

// Job is the broker's transient counterpart of a Run. It is not durable
// beyond queue retention; the run recorder writes the job id into run
// metadata so the reverse lookup survives eviction.
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Data         json.RawMessage `json:"data"`
	State        State           `json:"state"`
	AttemptsMade int             `json:"attemptsMade"`
	MaxAttempts  int             `json:"maxAttempts"`
	FailedReason string          `json:"failedReason,omitempty"`
	Timestamp    int64           `json:"timestamp"` // enqueue time, unix ms
	Delay        int64           `json:"delay"`     // delivery delay, ms
	ProcessedOn  *int64          `json:"processedOn,omitempty"`
	FinishedOn   *int64          `json:"finishedOn,omitempty"`
	RepeatJobKey string          `json:"repeatJobKey,omitempty"`
}

// ScheduledAt is the instant the job becomes due for delivery.
func (j *Job) ScheduledAt() time.Time {
	return time.UnixMilli(j.Timestamp + j.Delay)
}

// UnmarshalData decodes the job payload into v.
func (j *Job) UnmarshalData(v interface{}) error {
	return json.Unmarshal(j.Data, v)
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}
