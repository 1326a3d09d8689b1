package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/vanevents/harvester/internal/interfaces"
	"github.com/vanevents/harvester/internal/models"
)

// RunsHandler exposes the run history read side.
type RunsHandler struct {
	storage interfaces.RunStorage
	logger  arbor.ILogger
}

func NewRunsHandler(storage interfaces.RunStorage, logger arbor.ILogger) *RunsHandler {
	return &RunsHandler{storage: storage, logger: logger}
}

// ListRunsHandler handles GET /api/runs with optional source_id, status,
// parents_only, and limit query parameters.
func (h *RunsHandler) ListRunsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	filter := interfaces.RunFilter{
		ParentsOnly: r.URL.Query().Get("parents_only") == "true",
		Limit:       queryLimit(r, 50, 500),
	}
	if sourceID := r.URL.Query().Get("source_id"); sourceID != "" {
		filter.SourceID = &sourceID
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = &status
	}

	runs, err := h.storage.ListRuns(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list runs")
		WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	if runs == nil {
		runs = []*models.Run{}
	}
	WriteJSON(w, http.StatusOK, runs)
}

// GetRunHandler handles GET /api/runs/{id}, returning the run with its
// children when it is a batch parent.
func (h *RunsHandler) GetRunHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/runs/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	run, err := h.storage.GetRun(r.Context(), id)
	if err != nil {
		WriteStorageError(w, err, "Run not found")
		return
	}

	children, err := h.storage.ListChildRuns(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("run_id", id).Msg("Failed to list child runs")
		WriteError(w, http.StatusInternalServerError, "Failed to load run")
		return
	}

	if children == nil {
		children = []*models.Run{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"run":      run,
		"children": children,
	})
}
