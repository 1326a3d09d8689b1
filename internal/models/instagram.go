package models

import (
	"time"
)

// InstagramAccount is one fan-out target for batch scrapes.
type InstagramAccount struct {
	ID            string     `json:"id" db:"id"`
	Username      string     `json:"username" db:"username" validate:"required"`
	Active        bool       `json:"active" db:"active"`
	LastScrapedAt *time.Time `json:"last_scraped_at,omitempty" db:"last_scraped_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}
