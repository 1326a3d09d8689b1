package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/vanevents/harvester/internal/cancellation"
)

// JobsHandler exposes broker job status and cancellation.
type JobsHandler struct {
	cancel *cancellation.Service
	logger arbor.ILogger
}

func NewJobsHandler(cancel *cancellation.Service, logger arbor.ILogger) *JobsHandler {
	return &JobsHandler{cancel: cancel, logger: logger}
}

// GetJobStatusHandler handles GET /api/jobs/status?ids=a,b,c
func (h *JobsHandler) GetJobStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	ids := splitIDs(r.URL.Query().Get("ids"))
	if len(ids) == 0 {
		WriteError(w, http.StatusBadRequest, "ids query parameter is required")
		return
	}

	statuses := h.cancel.GetJobStatuses(r.Context(), ids)
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs": statuses,
	})
}

type cancelRequest struct {
	JobIDs []string `json:"jobIds"`
}

// CancelJobsHandler handles POST /api/jobs/cancel
func (h *JobsHandler) CancelJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.JobIDs) == 0 {
		WriteError(w, http.StatusBadRequest, "jobIds is required")
		return
	}

	results := h.cancel.CancelJobs(r.Context(), req.JobIDs)
	h.logger.Info().Int("jobs", len(results)).Msg("Cancel batch processed")

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
	})
}

func splitIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
