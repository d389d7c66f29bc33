package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/letterflow/outreach-be/internal/api/dto"
	"github.com/letterflow/outreach-be/internal/pipeline"
	"github.com/letterflow/outreach-be/internal/pipeline/domain"
	"github.com/letterflow/outreach-be/internal/storage/postgres"
)

// CreateJob handles POST /api/v1/jobs
// Creates a new batch job in draft state with one task per target company
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	method := domain.DeliveryMethod(req.DeliveryMethod)
	if method != "" && method != domain.DeliveryMethodDM && method != domain.DeliveryMethodForm {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "delivery_method must be dm or form",
		})
		return
	}

	companies := make([]domain.Company, len(req.Companies))
	for i, company := range req.Companies {
		companies[i] = domain.Company{
			ID:         company.ID,
			Name:       company.Name,
			Industry:   company.Industry,
			ContactURL: company.ContactURL,
			DMHandle:   company.DMHandle,
		}
	}

	job, err := h.pipeline.CreateJob(c.Request.Context(), pipeline.CreateJobRequest{
		Name:           req.Name,
		UserID:         req.UserID,
		TemplateID:     req.TemplateID,
		AutoApprove:    req.AutoApprove,
		Concurrency:    req.Concurrency,
		DeliveryMethod: method,
		Companies:      companies,
	})
	if err != nil {
		h.respondError(c, err, "Failed to create job")
		return
	}

	c.JSON(http.StatusCreated, toJobDTO(job))
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err, "Failed to get job")
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := postgres.JobFilter{
		UserID:   req.UserID,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err, "Failed to list jobs")
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i, job := range jobs {
		jobResponse[i] = toJobDTO(job)
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&postgres.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// GetProgress handles GET /api/v1/jobs/:job_id/progress
func (h *JobHandler) GetProgress(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	progress, err := h.pipeline.GetProgress(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err, "Failed to get progress")
		return
	}

	c.JSON(http.StatusOK, progress)
}

// StartJob handles POST /api/v1/jobs/:job_id/start
// Transitions the job to running and hands it to the worker service
func (h *JobHandler) StartJob(c *gin.Context) {
	h.startAndPublish(c, h.pipeline.Start, "Failed to start job")
}

// ResumeJob handles POST /api/v1/jobs/:job_id/resume
// Clears a pause and hands the job back to the worker service
func (h *JobHandler) ResumeJob(c *gin.Context) {
	h.startAndPublish(c, h.pipeline.Resume, "Failed to resume job")
}

// PauseJob handles POST /api/v1/jobs/:job_id/pause
func (h *JobHandler) PauseJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	if err := h.pipeline.Pause(c.Request.Context(), jobID); err != nil {
		h.respondError(c, err, "Failed to pause job")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"status": "pause_requested",
	})
}

// AbortJob handles POST /api/v1/jobs/:job_id/abort
func (h *JobHandler) AbortJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	if err := h.pipeline.Abort(c.Request.Context(), jobID); err != nil {
		h.respondError(c, err, "Failed to abort job")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"status": string(domain.JobStatusFailed),
	})
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
// Only jobs in a terminal state may be deleted
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	if err := h.pipeline.DeleteJob(c.Request.Context(), jobID); err != nil {
		h.respondError(c, err, "Failed to delete job")
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *JobHandler) startAndPublish(c *gin.Context, op func(ctx context.Context, jobID string) error, fallback string) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := op(ctx, jobID); err != nil {
		h.respondError(c, err, fallback)
		return
	}

	if err := h.publisher.PublishJobRun(ctx, jobID); err != nil {
		// The job is already running in the database. Surface the broker
		// failure so the caller can retry the start.
		h.logger.Error("Failed to publish job-run message",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Job accepted but could not be handed to a worker, retry start",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"status": string(domain.JobStatusRunning),
	})
}

// jobIDParam extracts and validates the job_id path parameter.
func (h *JobHandler) jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return "", false
	}
	return jobID, true
}

func toJobDTO(job *domain.BatchJob) dto.JobDTO {
	out := dto.JobDTO{
		JobID:          job.ID,
		Name:           job.Name,
		UserID:         job.UserID,
		TemplateID:     job.TemplateID,
		Status:         string(job.Status),
		AutoApprove:    job.AutoApprove,
		Concurrency:    job.Concurrency,
		DeliveryMethod: string(job.DeliveryMethod),
		CreatedAt:      job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      job.UpdatedAt.Format(time.RFC3339),
	}
	if job.CompletedAt != nil {
		out.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return out
}
