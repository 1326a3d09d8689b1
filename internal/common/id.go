package common

import (
	"github.com/google/uuid"
)

// NewID generates a random UUID string for row identifiers.
func NewID() string {
	return uuid.New().String()
}

// ScheduleJobID derives the broker jobId for a schedule row.
// The "schedule:" prefix keeps repeatable trigger ids stable across
// re-registration so the broker can deduplicate firings.
func ScheduleJobID(scheduleID string) string {
	return "schedule:" + scheduleID
}
