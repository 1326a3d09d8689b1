package wordpress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/vanevents/harvester/internal/models"
)

// HTTPExporter pushes an export to a WordPress site through its REST API
// using application-password basic auth.
type HTTPExporter struct {
	client *http.Client
	logger arbor.ILogger
}

func NewHTTPExporter(logger arbor.ILogger) *HTTPExporter {
	return &HTTPExporter{
		client: &http.Client{Timeout: 2 * time.Minute},
		logger: logger,
	}
}

type exportRequest struct {
	ExportID string         `json:"exportId"`
	Format   string         `json:"format"`
	Filters  models.JSONMap `json:"filters"`
}

func (e *HTTPExporter) Export(ctx context.Context, settings *models.WordPressSettings, export *models.WordPressExport) error {
	if !settings.Active {
		return fmt.Errorf("wordpress settings %s are inactive", settings.ID)
	}

	body, err := json.Marshal(exportRequest{
		ExportID: export.ID,
		Format:   export.Format,
		Filters:  export.Filters,
	})
	if err != nil {
		return fmt.Errorf("encode export request: %w", err)
	}

	endpoint := strings.TrimSuffix(settings.SiteURL, "/") + "/wp-json/harvester/v1/import"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build export request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(settings.Username, settings.AppPassword)

	started := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("export to %s: %w", settings.SiteURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("export to %s: status %d", settings.SiteURL, resp.StatusCode)
	}

	e.logger.Info().
		Str("export_id", export.ID).
		Str("site", settings.SiteURL).
		Dur("duration", time.Since(started)).
		Msg("WordPress export delivered")
	return nil
}
