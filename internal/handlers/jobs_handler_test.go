package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/vanevents/harvester/internal/broker"
	"github.com/vanevents/harvester/internal/cancellation"
	"github.com/vanevents/harvester/internal/runs"
	"github.com/vanevents/harvester/internal/storage/storagetest"
)

type jobsFixture struct {
	broker  *broker.Broker
	handler *JobsHandler
}

func newJobsFixture(t *testing.T) *jobsFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := arbor.NewLogger()
	b := broker.New(client, logger)
	runStore := storagetest.NewFakeRunStorage()
	recorder := runs.NewRecorder(runStore, logger)
	cancel := cancellation.NewService(b, recorder, runStore, logger)

	return &jobsFixture{
		broker:  b,
		handler: NewJobsHandler(cancel, logger),
	}
}

func TestGetJobStatusHandler(t *testing.T) {
	f := newJobsFixture(t)
	ctx := context.Background()

	job, err := f.broker.Enqueue(ctx, broker.QueueScrape, map[string]string{"k": "v"}, nil)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/jobs/status?ids="+job.ID+",ghost-id", nil)
	rec := httptest.NewRecorder()
	f.handler.GetJobStatusHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Jobs []cancellation.JobStatus `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 2)
	assert.Equal(t, "waiting", resp.Jobs[0].State)
	assert.Equal(t, "missing", resp.Jobs[1].State)
}

func TestGetJobStatusRequiresIDs(t *testing.T) {
	f := newJobsFixture(t)

	req := httptest.NewRequest("GET", "/api/jobs/status", nil)
	rec := httptest.NewRecorder()
	f.handler.GetJobStatusHandler(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelJobsHandler(t *testing.T) {
	f := newJobsFixture(t)
	ctx := context.Background()

	job, err := f.broker.Enqueue(ctx, broker.QueueScrape, map[string]string{"k": "v"}, nil)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string][]string{"jobIds": {job.ID}})
	req := httptest.NewRequest("POST", "/api/jobs/cancel", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.CancelJobsHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []cancellation.CancelResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, cancellation.ActionRemoved, resp.Results[0].Action)

	_, err = f.broker.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, broker.ErrJobNotFound)
}

func TestCancelJobsRequiresBody(t *testing.T) {
	f := newJobsFixture(t)

	body, _ := json.Marshal(map[string][]string{"jobIds": {}})
	req := httptest.NewRequest("POST", "/api/jobs/cancel", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.CancelJobsHandler(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
