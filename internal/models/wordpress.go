package models

import (
	"time"
)

// WordPress export status constants
const (
	ExportStatusProcessing = "processing"
	ExportStatusCompleted  = "completed"
	ExportStatusFailed     = "failed"
)

// WordPressSettings holds the credentials for one downstream publisher site.
type WordPressSettings struct {
	ID          string    `json:"id" db:"id"`
	SiteURL     string    `json:"site_url" db:"site_url" validate:"required,url"`
	Username    string    `json:"username" db:"username"`
	AppPassword string    `json:"-" db:"app_password"`
	Active      bool      `json:"active" db:"active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// WordPressExport is one export attempt against a publisher site.
type WordPressExport struct {
	ID         string     `json:"id" db:"id"`
	SettingsID string     `json:"settings_id" db:"settings_id"`
	Status     string     `json:"status" db:"status"`
	Format     string     `json:"format" db:"format"`
	Filters    JSONMap    `json:"filters" db:"filters"`
	Error      *string    `json:"error,omitempty" db:"error"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}
