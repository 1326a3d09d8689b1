package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/vanevents/harvester/internal/instagram"
	"github.com/vanevents/harvester/internal/models"
)

// BatchTrigger is the slice of the instagram coordinator the handler needs.
type BatchTrigger interface {
	TriggerAllActiveScrapes(ctx context.Context, opts instagram.BatchOptions, extraMeta models.JSONMap) (*instagram.BatchResult, error)
}

// InstagramHandler exposes the batch scrape trigger.
type InstagramHandler struct {
	coordinator BatchTrigger
	logger      arbor.ILogger
}

func NewInstagramHandler(coordinator BatchTrigger, logger arbor.ILogger) *InstagramHandler {
	return &InstagramHandler{coordinator: coordinator, logger: logger}
}

// ScrapeAllHandler handles POST /api/instagram/scrape-all
func (h *InstagramHandler) ScrapeAllHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var opts instagram.BatchOptions
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && err.Error() != "EOF" {
			WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	result, err := h.coordinator.TriggerAllActiveScrapes(r.Context(), opts, models.JSONMap{"trigger": "api"})
	if errors.Is(err, instagram.ErrNoActiveInstagramAccounts) {
		WriteError(w, http.StatusNotFound, "No active instagram accounts")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to trigger instagram batch")
		WriteError(w, http.StatusInternalServerError, "Failed to trigger instagram batch")
		return
	}

	WriteJSON(w, http.StatusAccepted, result)
}
