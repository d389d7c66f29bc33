package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/letterflow/outreach-be/internal/pipeline"
	"github.com/letterflow/outreach-be/internal/pipeline/domain"
	"github.com/letterflow/outreach-be/internal/storage/postgres"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeStore serves the read side from plain maps.
type fakeStore struct {
	jobs    map[string]*domain.BatchJob
	tasks   map[string]*domain.Task
	entries []*domain.ErrorLogEntry

	listJobsFn func(postgres.JobFilter) ([]*domain.BatchJob, error)
	lastFilter postgres.JobFilter
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:  make(map[string]*domain.BatchJob),
		tasks: make(map[string]*domain.Task),
	}
}

func (s *fakeStore) GetJob(_ context.Context, jobID string) (*domain.BatchJob, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

func (s *fakeStore) ListJobs(_ context.Context, filter postgres.JobFilter) ([]*domain.BatchJob, error) {
	s.lastFilter = filter
	if s.listJobsFn != nil {
		return s.listJobsFn(filter)
	}
	out := make([]*domain.BatchJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	return out, nil
}

func (s *fakeStore) GetTask(_ context.Context, taskID string) (*domain.Task, error) {
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return task, nil
}

func (s *fakeStore) ListTasks(_ context.Context, jobID string, statuses ...domain.TaskStatus) ([]*domain.Task, error) {
	var out []*domain.Task
	for _, task := range s.tasks {
		if task.JobID != jobID {
			continue
		}
		if len(statuses) > 0 && task.Status != statuses[0] {
			continue
		}
		out = append(out, task)
	}
	return out, nil
}

func (s *fakeStore) ListErrorLog(_ context.Context, jobID string) ([]*domain.ErrorLogEntry, error) {
	var out []*domain.ErrorLogEntry
	for _, entry := range s.entries {
		if jobID != "" && entry.JobID != jobID {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *fakeStore) ResolveErrorLog(_ context.Context, entryID string, resolution domain.Resolution) error {
	for _, entry := range s.entries {
		if entry.ID == entryID {
			entry.Resolution = resolution
			return nil
		}
	}
	return domain.ErrEntryNotFound
}

// fakePipeline records calls and returns scripted errors.
type fakePipeline struct {
	createJobFn func(pipeline.CreateJobRequest) (*domain.BatchJob, error)

	startErr   error
	pauseErr   error
	abortErr   error
	deleteErr  error
	approveErr error
	rejectErr  error

	progress    domain.Progress
	progressErr error

	calls []string
}

func (p *fakePipeline) CreateJob(_ context.Context, req pipeline.CreateJobRequest) (*domain.BatchJob, error) {
	p.calls = append(p.calls, "create")
	if p.createJobFn != nil {
		return p.createJobFn(req)
	}
	return nil, domain.ErrJobNotFound
}

func (p *fakePipeline) Start(_ context.Context, jobID string) error {
	p.calls = append(p.calls, "start "+jobID)
	return p.startErr
}

func (p *fakePipeline) Pause(_ context.Context, jobID string) error {
	p.calls = append(p.calls, "pause "+jobID)
	return p.pauseErr
}

func (p *fakePipeline) Resume(_ context.Context, jobID string) error {
	p.calls = append(p.calls, "resume "+jobID)
	return p.startErr
}

func (p *fakePipeline) Abort(_ context.Context, jobID string) error {
	p.calls = append(p.calls, "abort "+jobID)
	return p.abortErr
}

func (p *fakePipeline) DeleteJob(_ context.Context, jobID string) error {
	p.calls = append(p.calls, "delete "+jobID)
	return p.deleteErr
}

func (p *fakePipeline) GetProgress(_ context.Context, jobID string) (domain.Progress, error) {
	return p.progress, p.progressErr
}

func (p *fakePipeline) ApproveTask(_ context.Context, taskID string) error {
	p.calls = append(p.calls, "approve "+taskID)
	return p.approveErr
}

func (p *fakePipeline) RejectTask(_ context.Context, taskID string) error {
	p.calls = append(p.calls, "reject "+taskID)
	return p.rejectErr
}

type fakePublisher struct {
	err       error
	published []string
}

func (p *fakePublisher) PublishJobRun(_ context.Context, jobID string) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, jobID)
	return nil
}

type testEnv struct {
	store     *fakeStore
	pipeline  *fakePipeline
	publisher *fakePublisher
	router    *gin.Engine
}

func newTestEnv() *testEnv {
	store := newFakeStore()
	pipe := &fakePipeline{}
	pub := &fakePublisher{}

	h := NewJobHandler(&Dependencies{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:     store,
		Pipeline:  pipe,
		Publisher: pub,
	})

	r := gin.New()
	v1 := r.Group("/api/v1")
	jobs := v1.Group("/jobs")
	{
		jobs.POST("", h.CreateJob)
		jobs.GET("", h.ListJobs)
		jobs.GET("/:job_id", h.GetJob)
		jobs.GET("/:job_id/progress", h.GetProgress)
		jobs.GET("/:job_id/tasks", h.ListTasks)
		jobs.POST("/:job_id/start", h.StartJob)
		jobs.POST("/:job_id/pause", h.PauseJob)
		jobs.POST("/:job_id/resume", h.ResumeJob)
		jobs.POST("/:job_id/abort", h.AbortJob)
		jobs.DELETE("/:job_id", h.DeleteJob)
	}
	tasks := v1.Group("/tasks")
	{
		tasks.GET("/:task_id", h.GetTask)
		tasks.POST("/:task_id/approve", h.ApproveTask)
		tasks.POST("/:task_id/reject", h.RejectTask)
	}
	errs := v1.Group("/errors")
	{
		errs.GET("", h.ListErrorLog)
		errs.POST("/:entry_id/resolve", h.ResolveError)
	}

	return &testEnv{store: store, pipeline: pipe, publisher: pub, router: r}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response body %q: %v", w.Body.String(), err)
	}
	return out
}
