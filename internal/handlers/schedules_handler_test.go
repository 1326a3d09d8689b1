package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/vanevents/harvester/internal/models"
	"github.com/vanevents/harvester/internal/storage/storagetest"
)

// fakePromoter records binding calls without a broker.
type fakePromoter struct {
	registered   []string
	unregistered []string
	reregistered []string
	triggered    []string
	triggerErr   error
}

func (p *fakePromoter) Register(ctx context.Context, schedule *models.Schedule) error {
	p.registered = append(p.registered, schedule.ID)
	return nil
}

func (p *fakePromoter) Unregister(ctx context.Context, schedule *models.Schedule) error {
	p.unregistered = append(p.unregistered, schedule.ID)
	return nil
}

func (p *fakePromoter) Reregister(ctx context.Context, schedule *models.Schedule) error {
	p.reregistered = append(p.reregistered, schedule.ID)
	return nil
}

func (p *fakePromoter) TriggerScheduleNow(ctx context.Context, scheduleID string, config models.JSONMap) (string, error) {
	if p.triggerErr != nil {
		return "", p.triggerErr
	}
	p.triggered = append(p.triggered, scheduleID)
	return "job-" + scheduleID, nil
}

func newSchedulesFixture() (*SchedulesHandler, *storagetest.FakeScheduleStorage, *fakePromoter) {
	storage := storagetest.NewFakeScheduleStorage()
	promoter := &fakePromoter{}
	return NewSchedulesHandler(storage, promoter, arbor.NewLogger()), storage, promoter
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", path, bytes.NewReader(encoded))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestCreateScheduleRegistersActive(t *testing.T) {
	h, storage, promoter := newSchedulesFixture()

	rec := postJSON(t, h.CreateScheduleHandler, "/api/schedules", map[string]interface{}{
		"schedule_type": "scrape",
		"source_id":     "src-1",
		"cron":          "0 * * * *",
		"active":        true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.Schedule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, []string{created.ID}, promoter.registered)

	stored, err := storage.GetSchedule(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "0 * * * *", stored.Cron)
}

func TestCreateScheduleInactiveSkipsRegistration(t *testing.T) {
	h, _, promoter := newSchedulesFixture()

	rec := postJSON(t, h.CreateScheduleHandler, "/api/schedules", map[string]interface{}{
		"schedule_type": "instagram_scrape",
		"cron":          "0 */6 * * *",
		"active":        false,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, promoter.registered)
}

func TestCreateScheduleRejectsBadCron(t *testing.T) {
	h, _, _ := newSchedulesFixture()

	rec := postJSON(t, h.CreateScheduleHandler, "/api/schedules", map[string]interface{}{
		"schedule_type": "scrape",
		"source_id":     "src-1",
		"cron":          "not a cron",
		"active":        true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateScheduleRejectsTypeColumnMismatch(t *testing.T) {
	h, _, _ := newSchedulesFixture()

	// instagram_scrape must not carry a source id.
	rec := postJSON(t, h.CreateScheduleHandler, "/api/schedules", map[string]interface{}{
		"schedule_type": "instagram_scrape",
		"source_id":     "src-1",
		"cron":          "0 * * * *",
		"active":        true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateScheduleReregisters(t *testing.T) {
	h, storage, promoter := newSchedulesFixture()
	ctx := context.Background()

	sourceID := "src-1"
	schedule := &models.Schedule{
		ScheduleType: models.ScheduleTypeScrape,
		SourceID:     &sourceID,
		Cron:         "0 * * * *",
		Active:       true,
	}
	require.NoError(t, storage.CreateSchedule(ctx, schedule))

	encoded, _ := json.Marshal(map[string]interface{}{
		"schedule_type": "scrape",
		"source_id":     "src-1",
		"cron":          "30 * * * *",
		"active":        true,
	})
	req := httptest.NewRequest("PUT", "/api/schedules/"+schedule.ID, bytes.NewReader(encoded))
	rec := httptest.NewRecorder()
	h.UpdateScheduleHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{schedule.ID}, promoter.reregistered)

	stored, err := storage.GetSchedule(ctx, schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, "30 * * * *", stored.Cron)
}

func TestDeleteScheduleUnregistersBinding(t *testing.T) {
	h, storage, promoter := newSchedulesFixture()
	ctx := context.Background()

	sourceID := "src-1"
	repeatKey := "abc123"
	schedule := &models.Schedule{
		ScheduleType: models.ScheduleTypeScrape,
		SourceID:     &sourceID,
		Cron:         "0 * * * *",
		Active:       true,
	}
	require.NoError(t, storage.CreateSchedule(ctx, schedule))
	require.NoError(t, storage.SetRepeatKey(ctx, schedule.ID, &repeatKey))

	req := httptest.NewRequest("DELETE", "/api/schedules/"+schedule.ID, nil)
	rec := httptest.NewRecorder()
	h.DeleteScheduleHandler(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{schedule.ID}, promoter.unregistered)

	_, err := storage.GetSchedule(ctx, schedule.ID)
	assert.Error(t, err)
}

func TestTriggerScheduleHandler(t *testing.T) {
	h, storage, promoter := newSchedulesFixture()
	ctx := context.Background()

	sourceID := "src-1"
	schedule := &models.Schedule{
		ScheduleType: models.ScheduleTypeScrape,
		SourceID:     &sourceID,
		Cron:         "0 * * * *",
		Active:       true,
	}
	require.NoError(t, storage.CreateSchedule(ctx, schedule))

	rec := postJSON(t, h.TriggerScheduleHandler, "/api/schedules/"+schedule.ID+"/trigger", map[string]interface{}{
		"testMode": true,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{schedule.ID}, promoter.triggered)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-"+schedule.ID, resp["jobId"])
}

func TestGetScheduleNotFound(t *testing.T) {
	h, _, _ := newSchedulesFixture()

	req := httptest.NewRequest("GET", "/api/schedules/nope", nil)
	rec := httptest.NewRecorder()
	h.GetScheduleHandler(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
