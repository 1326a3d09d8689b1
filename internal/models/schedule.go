package models

import (
	"fmt"
	"time"
)

// ScheduleType constants
const (
	ScheduleTypeScrape          = "scrape"
	ScheduleTypeWordPressExport = "wordpress_export"
	ScheduleTypeInstagramScrape = "instagram_scrape"
)

// Schedule is a recurring trigger definition. The schedules table is the
// single source of truth; the broker's repeatable set is derived from it by
// reconciliation.
type Schedule struct {
	ID                  string    `json:"id" db:"id"`
	ScheduleType        string    `json:"schedule_type" db:"schedule_type" validate:"required,oneof=scrape wordpress_export instagram_scrape"`
	SourceID            *string   `json:"source_id,omitempty" db:"source_id"`
	WordPressSettingsID *string   `json:"wordpress_settings_id,omitempty" db:"wordpress_settings_id"`
	Cron                string    `json:"cron" db:"cron" validate:"required"`
	Timezone            string    `json:"timezone" db:"timezone"`
	Active              bool      `json:"active" db:"active"`
	Config              JSONMap   `json:"config" db:"config"`
	RepeatKey           *string   `json:"repeat_key,omitempty" db:"repeat_key"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// Validate enforces the per-type column invariant mirrored by the
// schedules_config_check constraint:
//
//	scrape            -> source_id set, wordpress_settings_id null
//	wordpress_export  -> wordpress_settings_id set, source_id null
//	instagram_scrape  -> both null (target set computed from active accounts)
func (s *Schedule) Validate() error {
	if s.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}

	switch s.ScheduleType {
	case ScheduleTypeScrape:
		if s.SourceID == nil || *s.SourceID == "" {
			return fmt.Errorf("scrape schedule requires source_id")
		}
		if s.WordPressSettingsID != nil {
			return fmt.Errorf("scrape schedule must not set wordpress_settings_id")
		}
	case ScheduleTypeWordPressExport:
		if s.WordPressSettingsID == nil || *s.WordPressSettingsID == "" {
			return fmt.Errorf("wordpress_export schedule requires wordpress_settings_id")
		}
		if s.SourceID != nil {
			return fmt.Errorf("wordpress_export schedule must not set source_id")
		}
	case ScheduleTypeInstagramScrape:
		if s.SourceID != nil {
			return fmt.Errorf("instagram_scrape schedule must not set source_id")
		}
		if s.WordPressSettingsID != nil {
			return fmt.Errorf("instagram_scrape schedule must not set wordpress_settings_id")
		}
	default:
		return fmt.Errorf("invalid schedule type: %s", s.ScheduleType)
	}

	return nil
}

// EffectiveTimezone returns the schedule's IANA zone, falling back to the
// configured default when unset.
func (s *Schedule) EffectiveTimezone(defaultTZ string) string {
	if s.Timezone != "" {
		return s.Timezone
	}
	return defaultTZ
}
