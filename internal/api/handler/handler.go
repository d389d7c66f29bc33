package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/letterflow/outreach-be/internal/pipeline"
	"github.com/letterflow/outreach-be/internal/pipeline/domain"
	"github.com/letterflow/outreach-be/internal/storage/postgres"
)

// Store is the read side the handlers need.
type Store interface {
	GetJob(ctx context.Context, jobID string) (*domain.BatchJob, error)
	ListJobs(ctx context.Context, filter postgres.JobFilter) ([]*domain.BatchJob, error)
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)
	ListTasks(ctx context.Context, jobID string, statuses ...domain.TaskStatus) ([]*domain.Task, error)
	ListErrorLog(ctx context.Context, jobID string) ([]*domain.ErrorLogEntry, error)
	ResolveErrorLog(ctx context.Context, entryID string, resolution domain.Resolution) error
}

// Pipeline is the controller surface the handlers drive.
type Pipeline interface {
	CreateJob(ctx context.Context, req pipeline.CreateJobRequest) (*domain.BatchJob, error)
	Start(ctx context.Context, jobID string) error
	Pause(ctx context.Context, jobID string) error
	Resume(ctx context.Context, jobID string) error
	Abort(ctx context.Context, jobID string) error
	DeleteJob(ctx context.Context, jobID string) error
	GetProgress(ctx context.Context, jobID string) (domain.Progress, error)
	ApproveTask(ctx context.Context, taskID string) error
	RejectTask(ctx context.Context, taskID string) error
}

// Publisher hands job-run messages to the worker service.
type Publisher interface {
	PublishJobRun(ctx context.Context, jobID string) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Store     Store
	Pipeline  Pipeline
	Publisher Publisher
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	store     Store
	pipeline  Pipeline
	publisher Publisher
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		store:     deps.Store,
		pipeline:  deps.Pipeline,
		publisher: deps.Publisher,
	}
}

// respondError maps domain sentinels to HTTP status codes.
func (h *JobHandler) respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrTaskNotFound),
		errors.Is(err, domain.ErrEntryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidJobState),
		errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, domain.ErrJobInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error(fallback, slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
