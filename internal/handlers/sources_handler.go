package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/vanevents/harvester/internal/interfaces"
	"github.com/vanevents/harvester/internal/models"
)

// SourcesHandler handles HTTP requests for source management
type SourcesHandler struct {
	storage  interfaces.SourceStorage
	validate *validator.Validate
	logger   arbor.ILogger
}

func NewSourcesHandler(storage interfaces.SourceStorage, logger arbor.ILogger) *SourcesHandler {
	return &SourcesHandler{
		storage:  storage,
		validate: validator.New(),
		logger:   logger,
	}
}

// ListSourcesHandler handles GET /api/sources
func (h *SourcesHandler) ListSourcesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	activeOnly := r.URL.Query().Get("active") == "true"
	sources, err := h.storage.ListSources(r.Context(), activeOnly)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list sources")
		WriteError(w, http.StatusInternalServerError, "Failed to list sources")
		return
	}

	if sources == nil {
		sources = []*models.Source{}
	}
	WriteJSON(w, http.StatusOK, sources)
}

// GetSourceHandler handles GET /api/sources/{id}
func (h *SourcesHandler) GetSourceHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/sources/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Source ID is required")
		return
	}

	source, err := h.storage.GetSource(r.Context(), id)
	if err != nil {
		WriteStorageError(w, err, "Source not found")
		return
	}
	WriteJSON(w, http.StatusOK, source)
}

// CreateSourceHandler handles POST /api/sources
func (h *SourcesHandler) CreateSourceHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var source models.Source
	if err := json.NewDecoder(r.Body).Decode(&source); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.validate.Struct(&source); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := source.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.storage.CreateSource(r.Context(), &source); err != nil {
		h.logger.Error().Err(err).Msg("Failed to create source")
		WriteError(w, http.StatusInternalServerError, "Failed to create source")
		return
	}

	h.logger.Info().Str("source_id", source.ID).Str("name", source.Name).Msg("Source created")
	WriteJSON(w, http.StatusCreated, source)
}

// UpdateSourceHandler handles PUT /api/sources/{id}
func (h *SourcesHandler) UpdateSourceHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "PUT") {
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/sources/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Source ID is required")
		return
	}

	var source models.Source
	if err := json.NewDecoder(r.Body).Decode(&source); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	source.ID = id

	if err := h.validate.Struct(&source); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := source.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.storage.UpdateSource(r.Context(), &source); err != nil {
		WriteStorageError(w, err, "Source not found")
		return
	}
	WriteJSON(w, http.StatusOK, source)
}

// DeleteSourceHandler handles DELETE /api/sources/{id}
func (h *SourcesHandler) DeleteSourceHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "DELETE") {
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/sources/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Source ID is required")
		return
	}

	if err := h.storage.DeleteSource(r.Context(), id); err != nil {
		WriteStorageError(w, err, "Source not found")
		return
	}

	h.logger.Info().Str("source_id", id).Msg("Source deleted")
	w.WriteHeader(http.StatusNoContent)
}
