package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/vanevents/harvester/internal/common"
	"github.com/vanevents/harvester/internal/interfaces"
	"github.com/vanevents/harvester/internal/models"
)

// SchedulePromoter is the slice of the scheduler the handlers need to keep
// broker bindings in step with schedule rows.
type SchedulePromoter interface {
	Register(ctx context.Context, schedule *models.Schedule) error
	Unregister(ctx context.Context, schedule *models.Schedule) error
	Reregister(ctx context.Context, schedule *models.Schedule) error
	TriggerScheduleNow(ctx context.Context, scheduleID string, config models.JSONMap) (string, error)
}

// SchedulesHandler handles HTTP requests for schedule management. Mutations
// update the row first, then converge the broker binding; reconciliation
// corrects any failure on the binding side.
type SchedulesHandler struct {
	storage  interfaces.ScheduleStorage
	promoter SchedulePromoter
	validate *validator.Validate
	logger   arbor.ILogger
}

func NewSchedulesHandler(storage interfaces.ScheduleStorage, promoter SchedulePromoter, logger arbor.ILogger) *SchedulesHandler {
	return &SchedulesHandler{
		storage:  storage,
		promoter: promoter,
		validate: validator.New(),
		logger:   logger,
	}
}

// ListSchedulesHandler handles GET /api/schedules
func (h *SchedulesHandler) ListSchedulesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	schedules, err := h.storage.ListSchedules(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list schedules")
		WriteError(w, http.StatusInternalServerError, "Failed to list schedules")
		return
	}

	if schedules == nil {
		schedules = []*models.Schedule{}
	}
	WriteJSON(w, http.StatusOK, schedules)
}

// GetScheduleHandler handles GET /api/schedules/{id}
func (h *SchedulesHandler) GetScheduleHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/schedules/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Schedule ID is required")
		return
	}

	schedule, err := h.storage.GetSchedule(r.Context(), id)
	if err != nil {
		WriteStorageError(w, err, "Schedule not found")
		return
	}
	WriteJSON(w, http.StatusOK, schedule)
}

// CreateScheduleHandler handles POST /api/schedules
func (h *SchedulesHandler) CreateScheduleHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var schedule models.Schedule
	if err := json.NewDecoder(r.Body).Decode(&schedule); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.validateSchedule(&schedule); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.storage.CreateSchedule(r.Context(), &schedule); err != nil {
		h.logger.Error().Err(err).Msg("Failed to create schedule")
		WriteError(w, http.StatusInternalServerError, "Failed to create schedule")
		return
	}

	if schedule.Active {
		if err := h.promoter.Register(r.Context(), &schedule); err != nil {
			// The row exists; the next reconciliation cycle registers it.
			h.logger.Warn().Err(err).Str("schedule_id", schedule.ID).Msg("Registration deferred to reconciliation")
		}
	}

	h.logger.Info().
		Str("schedule_id", schedule.ID).
		Str("schedule_type", schedule.ScheduleType).
		Str("cron", schedule.Cron).
		Msg("Schedule created")
	WriteJSON(w, http.StatusCreated, schedule)
}

// UpdateScheduleHandler handles PUT /api/schedules/{id}
func (h *SchedulesHandler) UpdateScheduleHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "PUT") {
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/schedules/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Schedule ID is required")
		return
	}

	existing, err := h.storage.GetSchedule(r.Context(), id)
	if err != nil {
		WriteStorageError(w, err, "Schedule not found")
		return
	}

	var schedule models.Schedule
	if err := json.NewDecoder(r.Body).Decode(&schedule); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	schedule.ID = id
	schedule.RepeatKey = existing.RepeatKey

	if err := h.validateSchedule(&schedule); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.storage.UpdateSchedule(r.Context(), &schedule); err != nil {
		WriteStorageError(w, err, "Schedule not found")
		return
	}

	// Converge the binding with the new definition.
	var bindErr error
	switch {
	case schedule.Active:
		bindErr = h.promoter.Reregister(r.Context(), &schedule)
	case schedule.RepeatKey != nil:
		bindErr = h.promoter.Unregister(r.Context(), &schedule)
	}
	if bindErr != nil {
		h.logger.Warn().Err(bindErr).Str("schedule_id", id).Msg("Binding update deferred to reconciliation")
	}

	WriteJSON(w, http.StatusOK, schedule)
}

// DeleteScheduleHandler handles DELETE /api/schedules/{id}
func (h *SchedulesHandler) DeleteScheduleHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "DELETE") {
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/schedules/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Schedule ID is required")
		return
	}

	schedule, err := h.storage.GetSchedule(r.Context(), id)
	if err != nil {
		WriteStorageError(w, err, "Schedule not found")
		return
	}

	if schedule.RepeatKey != nil {
		if err := h.promoter.Unregister(r.Context(), schedule); err != nil {
			// Orphan cleanup in reconciliation removes the leftover binding.
			h.logger.Warn().Err(err).Str("schedule_id", id).Msg("Unregister deferred to reconciliation")
		}
	}

	if err := h.storage.DeleteSchedule(r.Context(), id); err != nil {
		WriteStorageError(w, err, "Schedule not found")
		return
	}

	h.logger.Info().Str("schedule_id", id).Msg("Schedule deleted")
	w.WriteHeader(http.StatusNoContent)
}

// TriggerScheduleHandler handles POST /api/schedules/{id}/trigger
func (h *SchedulesHandler) TriggerScheduleHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/schedules/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Schedule ID is required")
		return
	}

	var config models.JSONMap
	if r.Body != nil {
		// An empty body means no config overrides.
		if err := json.NewDecoder(r.Body).Decode(&config); err != nil && err.Error() != "EOF" {
			WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	jobID, err := h.promoter.TriggerScheduleNow(r.Context(), id, config)
	if err != nil {
		WriteStorageError(w, err, "Schedule not found")
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":     "triggered",
		"scheduleId": id,
		"jobId":      jobID,
	})
}

func (h *SchedulesHandler) validateSchedule(schedule *models.Schedule) error {
	if err := h.validate.Struct(schedule); err != nil {
		return err
	}
	if err := schedule.Validate(); err != nil {
		return err
	}
	if err := common.ValidateCronExpr(schedule.Cron); err != nil {
		return err
	}
	if tz := strings.TrimSpace(schedule.Timezone); tz != "" {
		if err := common.ValidateTimezone(tz); err != nil {
			return err
		}
	}
	return nil
}
