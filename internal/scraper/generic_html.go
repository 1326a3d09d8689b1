package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/vanevents/harvester/internal/interfaces"
	"github.com/vanevents/harvester/internal/models"
)

func init() {
	Register("generic_html", func() interfaces.ScraperModule {
		return &GenericHTMLModule{
			client: &http.Client{Timeout: 30 * time.Second},
		}
	})
}

// GenericHTMLModule scrapes listing pages that follow common event-site
// markup. Site-specific modules register under their own keys; this one
// covers sources without one.
type GenericHTMLModule struct {
	client *http.Client
}

func (m *GenericHTMLModule) Key() string {
	return "generic_html"
}

// eventSelectors are tried in order; the first that matches anything wins.
var eventSelectors = []string{
	"article.event",
	".event-card",
	".event-listing .event",
	"[itemtype$='/Event']",
}

func (m *GenericHTMLModule) ScrapePage(ctx context.Context, source *models.Source, page int) ([]*models.Event, bool, error) {
	pageURL := source.BaseURL
	if page > 1 {
		separator := "?"
		if strings.Contains(pageURL, "?") {
			separator = "&"
		}
		pageURL = fmt.Sprintf("%s%spage=%d", pageURL, separator, page)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "harvester/1.0")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Past the last page.
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("parse %s: %w", pageURL, err)
	}

	var events []*models.Event
	for _, selector := range eventSelectors {
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			event := extractEvent(sel, source.BaseURL)
			if event != nil {
				events = append(events, event)
			}
		})
		if len(events) > 0 {
			break
		}
	}

	hasMore := len(events) > 0 && hasNextLink(doc)
	return events, hasMore, nil
}

func extractEvent(sel *goquery.Selection, baseURL string) *models.Event {
	title := strings.TrimSpace(sel.Find("h1, h2, h3, .title, .event-title").First().Text())
	if title == "" {
		return nil
	}

	href, _ := sel.Find("a").First().Attr("href")
	if strings.HasPrefix(href, "/") {
		href = strings.TrimSuffix(baseURL, "/") + href
	}

	venue := strings.TrimSpace(sel.Find(".venue, .location, [itemprop='location']").First().Text())

	event := &models.Event{
		Title: title,
		URL:   href,
		Venue: venue,
	}

	if datetime, ok := sel.Find("time").First().Attr("datetime"); ok {
		if parsed, err := time.Parse(time.RFC3339, datetime); err == nil {
			event.StartsAt = &parsed
		}
	}
	return event
}

func hasNextLink(doc *goquery.Document) bool {
	if doc.Find("a[rel='next']").Length() > 0 {
		return true
	}
	found := false
	doc.Find(".pagination a, nav a").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.ToLower(strings.TrimSpace(sel.Text()))
		if text == "next" || text == "older" || text == "›" {
			found = true
			return false
		}
		return true
	})
	return found
}
