package handler

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letterflow/outreach-be/internal/api/dto"
	"github.com/letterflow/outreach-be/internal/pipeline/domain"
)

func TestListErrorLogEndpoint(t *testing.T) {
	env := newTestEnv()
	jobA := uuid.New().String()
	jobB := uuid.New().String()
	env.store.entries = []*domain.ErrorLogEntry{
		{ID: uuid.New().String(), JobID: jobA, Severity: domain.SeverityHigh, Message: "delivery dead-lettered", Resolution: domain.ResolutionNew, Timestamp: testTime},
		{ID: uuid.New().String(), JobID: jobB, Severity: domain.SeverityMedium, Message: "generation failed", Resolution: domain.ResolutionNew, Timestamp: testTime},
	}

	w := env.request(t, http.MethodGet, "/api/v1/errors", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.ListErrorLogResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Entries, 2)

	w = env.request(t, http.MethodGet, "/api/v1/errors?job_id="+jobA, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "high", resp.Entries[0].Severity)
	assert.Equal(t, "new", resp.Entries[0].Resolution)

	w = env.request(t, http.MethodGet, "/api/v1/errors?job_id=not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResolveErrorEndpoint(t *testing.T) {
	env := newTestEnv()
	entryID := uuid.New().String()
	env.store.entries = []*domain.ErrorLogEntry{
		{ID: entryID, JobID: uuid.New().String(), Severity: domain.SeverityHigh, Resolution: domain.ResolutionNew, Timestamp: testTime},
	}

	w := env.request(t, http.MethodPost, "/api/v1/errors/"+entryID+"/resolve",
		dto.ResolveErrorRequest{Resolution: "resolved"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "resolved", decodeBody(t, w)["resolution"])
	assert.Equal(t, domain.ResolutionResolved, env.store.entries[0].Resolution)

	// Unknown resolution values are rejected before touching the store.
	w = env.request(t, http.MethodPost, "/api/v1/errors/"+entryID+"/resolve",
		dto.ResolveErrorRequest{Resolution: "shrugged"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(t, http.MethodPost, "/api/v1/errors/"+uuid.New().String()+"/resolve",
		dto.ResolveErrorRequest{Resolution: "resolved"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.request(t, http.MethodPost, "/api/v1/errors/not-a-uuid/resolve",
		dto.ResolveErrorRequest{Resolution: "resolved"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
