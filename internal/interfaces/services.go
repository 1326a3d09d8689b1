package interfaces

import (
	"context"

	"github.com/vanevents/harvester/internal/models"
)

// ScraperModule extracts event listings from one kind of source. Modules are
// registered at compile time under the source's module_key.
type ScraperModule interface {
	// Key is the module_key this module serves.
	Key() string

	// ScrapePage fetches one listing page and returns the events found on it
	// plus whether another page follows. Page numbering starts at 1.
	ScrapePage(ctx context.Context, source *models.Source, page int) (events []*models.Event, hasMore bool, err error)
}

// InstagramClient fetches recent posts for an account. The real fetching
// backend lives outside this repo; a plain HTTP implementation is provided.
type InstagramClient interface {
	FetchPosts(ctx context.Context, username string, limit int) ([]*models.InstagramPost, error)
}

// WordPressExporter pushes processed events to a WordPress site.
type WordPressExporter interface {
	Export(ctx context.Context, settings *models.WordPressSettings, export *models.WordPressExport) error
}
