package models

import (
	"fmt"
	"time"
)

// SourceType constants
const (
	SourceTypeWebsite   = "website"
	SourceTypeInstagram = "instagram"
)

// Source is a catalogued scrape target. Sources are created by the admin
// surface; the core only reads them.
type Source struct {
	ID              string     `json:"id" db:"id"`
	ModuleKey       string     `json:"module_key" db:"module_key" validate:"required"`
	Name            string     `json:"name" db:"name" validate:"required"`
	BaseURL         string     `json:"base_url" db:"base_url" validate:"required,url"`
	Active          bool       `json:"active" db:"active"`
	DefaultTimezone string     `json:"default_timezone" db:"default_timezone"`
	RateLimit       int        `json:"rate_limit" db:"rate_limit"` // requests per minute
	SourceType      string     `json:"source_type" db:"source_type" validate:"required,oneof=website instagram"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Validate checks the source configuration
func (s *Source) Validate() error {
	if s.ModuleKey == "" {
		return fmt.Errorf("source module_key is required")
	}
	if s.Name == "" {
		return fmt.Errorf("source name is required")
	}
	if s.BaseURL == "" {
		return fmt.Errorf("source base URL is required")
	}
	switch s.SourceType {
	case SourceTypeWebsite, SourceTypeInstagram:
	default:
		return fmt.Errorf("invalid source type: %s", s.SourceType)
	}
	if s.RateLimit < 0 {
		return fmt.Errorf("rate limit must be non-negative")
	}
	return nil
}
