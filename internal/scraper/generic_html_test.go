package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanevents/harvester/internal/models"
)

const listingPage = `<html><body>
<div class="event-listing">
  <article class="event">
    <h2>Jazz Night</h2>
    <a href="/events/jazz-night">details</a>
    <span class="venue">Blue Room</span>
    <time datetime="2026-09-01T20:00:00Z">Sep 1</time>
  </article>
  <article class="event">
    <h2>Open Mic</h2>
    <a href="/events/open-mic">details</a>
  </article>
</div>
<nav class="pagination"><a href="?page=2">Next</a></nav>
</body></html>`

const lastPage = `<html><body>
<article class="event"><h2>Final Show</h2><a href="/events/final"></a></article>
</body></html>`

func TestGenericHTMLScrapePage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "", "1":
			fmt.Fprint(w, listingPage)
		case "2":
			fmt.Fprint(w, lastPage)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	module, ok := Get("generic_html")
	require.True(t, ok)

	source := &models.Source{
		ModuleKey:  "generic_html",
		Name:       "Test Venue",
		BaseURL:    server.URL,
		SourceType: models.SourceTypeWebsite,
	}

	events, hasMore, err := module.ScrapePage(context.Background(), source, 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, hasMore)

	assert.Equal(t, "Jazz Night", events[0].Title)
	assert.Equal(t, server.URL+"/events/jazz-night", events[0].URL)
	assert.Equal(t, "Blue Room", events[0].Venue)
	require.NotNil(t, events[0].StartsAt)
	assert.Equal(t, 2026, events[0].StartsAt.Year())

	events, hasMore, err = module.ScrapePage(context.Background(), source, 2)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.False(t, hasMore)

	// Past the last page: a 404 reads as an empty page, not an error.
	events, hasMore, err = module.ScrapePage(context.Background(), source, 3)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.False(t, hasMore)
}
