package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letterflow/outreach-be/internal/api/dto"
	"github.com/letterflow/outreach-be/internal/pipeline"
	"github.com/letterflow/outreach-be/internal/pipeline/domain"
	"github.com/letterflow/outreach-be/internal/storage/postgres"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func sampleJob(id string) *domain.BatchJob {
	return &domain.BatchJob{
		ID:             id,
		Name:           "spring outreach",
		UserID:         "user-1",
		TemplateID:     "intro",
		Status:         domain.JobStatusDraft,
		Concurrency:    2,
		DeliveryMethod: domain.DeliveryMethodDM,
		CreatedAt:      testTime,
		UpdatedAt:      testTime,
	}
}

func createJobPayload() dto.CreateJobRequest {
	return dto.CreateJobRequest{
		Name:       "spring outreach",
		UserID:     "user-1",
		TemplateID: "intro",
		Companies: []dto.CompanyDTO{
			{ID: "company-1", Name: "Acme Corp", DMHandle: "@acme"},
		},
	}
}

func TestCreateJobEndpoint(t *testing.T) {
	env := newTestEnv()
	jobID := uuid.New().String()
	env.pipeline.createJobFn = func(req pipeline.CreateJobRequest) (*domain.BatchJob, error) {
		assert.Equal(t, "spring outreach", req.Name)
		assert.Len(t, req.Companies, 1)
		return sampleJob(jobID), nil
	}

	w := env.request(t, http.MethodPost, "/api/v1/jobs", createJobPayload())

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, jobID, body["job_id"])
	assert.Equal(t, "draft", body["status"])
	assert.Equal(t, "dm", body["delivery_method"])
	_, hasCompleted := body["completed_at"]
	assert.False(t, hasCompleted, "draft jobs have no completion time")
}

func TestCreateJobEndpointValidation(t *testing.T) {
	env := newTestEnv()

	missingName := createJobPayload()
	missingName.Name = ""
	w := env.request(t, http.MethodPost, "/api/v1/jobs", missingName)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	noCompanies := createJobPayload()
	noCompanies.Companies = nil
	w = env.request(t, http.MethodPost, "/api/v1/jobs", noCompanies)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	badMethod := createJobPayload()
	badMethod.DeliveryMethod = "postal"
	w = env.request(t, http.MethodPost, "/api/v1/jobs", badMethod)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "delivery_method")

	assert.Empty(t, env.pipeline.calls, "invalid requests never reach the pipeline")
}

func TestGetJobEndpoint(t *testing.T) {
	env := newTestEnv()
	jobID := uuid.New().String()
	env.store.jobs[jobID] = sampleJob(jobID)

	w := env.request(t, http.MethodGet, "/api/v1/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, jobID, decodeBody(t, w)["job_id"])

	w = env.request(t, http.MethodGet, "/api/v1/jobs/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.request(t, http.MethodGet, "/api/v1/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListJobsEndpointPagination(t *testing.T) {
	env := newTestEnv()

	// One job more than the page size signals another page.
	env.store.listJobsFn = func(filter postgres.JobFilter) ([]*domain.BatchJob, error) {
		jobs := make([]*domain.BatchJob, filter.PageSize+1)
		for i := range jobs {
			job := sampleJob(uuid.New().String())
			job.CreatedAt = testTime.Add(-time.Duration(i) * time.Minute)
			jobs[i] = job
		}
		return jobs, nil
	}

	w := env.request(t, http.MethodGet, "/api/v1/jobs?user_id=user-1&page_size=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ListJobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Jobs, 2)
	assert.NotEmpty(t, resp.NextCursor)

	// The cursor points at the last returned job.
	cursor, err := DecodeJobCursor(resp.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, resp.Jobs[1].JobID, cursor.JobID)

	assert.Equal(t, "user-1", env.store.lastFilter.UserID)
	assert.Equal(t, 2, env.store.lastFilter.PageSize)
}

func TestListJobsEndpointDefaults(t *testing.T) {
	env := newTestEnv()

	w := env.request(t, http.MethodGet, "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, env.store.lastFilter.PageSize)

	w = env.request(t, http.MethodGet, "/api/v1/jobs?page_size=500", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 100, env.store.lastFilter.PageSize, "page size is capped")

	w = env.request(t, http.MethodGet, "/api/v1/jobs?cursor=@@@", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartJobEndpointPublishes(t *testing.T) {
	env := newTestEnv()
	jobID := uuid.New().String()

	w := env.request(t, http.MethodPost, "/api/v1/jobs/"+jobID+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "running", decodeBody(t, w)["status"])
	assert.Equal(t, []string{jobID}, env.publisher.published)
}

func TestStartJobEndpointBrokerDown(t *testing.T) {
	env := newTestEnv()
	env.publisher.err = errors.New("amqp connection refused")
	jobID := uuid.New().String()

	w := env.request(t, http.MethodPost, "/api/v1/jobs/"+jobID+"/start", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "retry start")
}

func TestStartJobEndpointConflict(t *testing.T) {
	env := newTestEnv()
	env.pipeline.startErr = fmt.Errorf("%w: cannot start job in status running", domain.ErrInvalidJobState)
	jobID := uuid.New().String()

	w := env.request(t, http.MethodPost, "/api/v1/jobs/"+jobID+"/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, env.publisher.published, "nothing is published on a rejected start")
}

func TestPauseJobEndpoint(t *testing.T) {
	env := newTestEnv()
	jobID := uuid.New().String()

	w := env.request(t, http.MethodPost, "/api/v1/jobs/"+jobID+"/pause", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pause_requested", decodeBody(t, w)["status"])
	assert.Empty(t, env.publisher.published, "pausing never talks to the broker")
}

func TestAbortJobEndpoint(t *testing.T) {
	env := newTestEnv()
	jobID := uuid.New().String()

	w := env.request(t, http.MethodPost, "/api/v1/jobs/"+jobID+"/abort", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "failed", decodeBody(t, w)["status"])
}

func TestDeleteJobEndpoint(t *testing.T) {
	env := newTestEnv()
	jobID := uuid.New().String()

	w := env.request(t, http.MethodDelete, "/api/v1/jobs/"+jobID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	env.pipeline.deleteErr = fmt.Errorf("%w: job is running", domain.ErrJobInProgress)
	w = env.request(t, http.MethodDelete, "/api/v1/jobs/"+jobID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetProgressEndpoint(t *testing.T) {
	env := newTestEnv()
	env.pipeline.progress = domain.Progress{Total: 4, Completed: 2, Failed: 1, Pending: 1, Percent: 50}
	jobID := uuid.New().String()

	w := env.request(t, http.MethodGet, "/api/v1/jobs/"+jobID+"/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(4), body["total"])
	assert.Equal(t, float64(50), body["percent"])

	env.pipeline.progressErr = domain.ErrJobNotFound
	w = env.request(t, http.MethodGet, "/api/v1/jobs/"+jobID+"/progress", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
