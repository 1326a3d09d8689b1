package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vanevents/harvester/internal/models"
)

// HTTPClient fetches posts from an external scraping endpoint that wraps the
// actual Instagram access. The endpoint contract is
// GET {base}/posts?username=X&limit=N returning a JSON array of posts.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *HTTPClient) FetchPosts(ctx context.Context, username string, limit int) ([]*models.InstagramPost, error) {
	endpoint := fmt.Sprintf("%s/posts?username=%s&limit=%s",
		c.baseURL, url.QueryEscape(username), strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build posts request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch posts for %s: %w", username, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch posts for %s: status %d", username, resp.StatusCode)
	}

	var posts []*models.InstagramPost
	if err := json.NewDecoder(resp.Body).Decode(&posts); err != nil {
		return nil, fmt.Errorf("decode posts for %s: %w", username, err)
	}
	return posts, nil
}
