package models

import "time"

// Event is a single listing extracted by a scraper module. Downstream
// enrichment (classification, geocoding, dedup) happens outside this repo;
// here events only feed run counters and hand-off payloads.
type Event struct {
	Title    string     `json:"title"`
	URL      string     `json:"url"`
	StartsAt *time.Time `json:"starts_at,omitempty"`
	Venue    string     `json:"venue,omitempty"`
	Raw      JSONMap    `json:"raw,omitempty"`
}

// InstagramPost is one fetched post from an account scrape.
type InstagramPost struct {
	ID        string    `json:"id"`
	Shortcode string    `json:"shortcode"`
	Caption   string    `json:"caption"`
	TakenAt   time.Time `json:"taken_at"`
	ImageURL  string    `json:"image_url,omitempty"`
}
