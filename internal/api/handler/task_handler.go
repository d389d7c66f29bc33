package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/letterflow/outreach-be/internal/api/dto"
	"github.com/letterflow/outreach-be/internal/pipeline/domain"
)

// ListTasks handles GET /api/v1/jobs/:job_id/tasks
// Lists a job's tasks in creation order, optionally filtered by status
func (h *JobHandler) ListTasks(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	var req dto.ListTasksRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	// Verify the job exists so an unknown job is a 404, not an empty list.
	if _, err := h.store.GetJob(c.Request.Context(), jobID); err != nil {
		h.respondError(c, err, "Failed to get job")
		return
	}

	var statuses []domain.TaskStatus
	if req.Status != "" {
		statuses = append(statuses, domain.TaskStatus(req.Status))
	}

	tasks, err := h.store.ListTasks(c.Request.Context(), jobID, statuses...)
	if err != nil {
		h.respondError(c, err, "Failed to list tasks")
		return
	}

	taskResponse := make([]dto.TaskDTO, len(tasks))
	for i, task := range tasks {
		taskResponse[i] = toTaskDTO(task)
	}

	c.JSON(http.StatusOK, dto.ListTasksResponse{Tasks: taskResponse})
}

// GetTask handles GET /api/v1/tasks/:task_id
func (h *JobHandler) GetTask(c *gin.Context) {
	taskID, ok := h.taskIDParam(c)
	if !ok {
		return
	}

	task, err := h.store.GetTask(c.Request.Context(), taskID)
	if err != nil {
		h.respondError(c, err, "Failed to get task")
		return
	}

	c.JSON(http.StatusOK, toTaskDTO(task))
}

// ApproveTask handles POST /api/v1/tasks/:task_id/approve
// Moves a task awaiting approval into the delivery queue
func (h *JobHandler) ApproveTask(c *gin.Context) {
	taskID, ok := h.taskIDParam(c)
	if !ok {
		return
	}

	if err := h.pipeline.ApproveTask(c.Request.Context(), taskID); err != nil {
		h.respondError(c, err, "Failed to approve task")
		return
	}

	h.logger.Info("Task approved",
		slog.String("task_id", taskID),
	)
	c.JSON(http.StatusOK, gin.H{
		"task_id": taskID,
		"status":  string(domain.TaskStatusProcessing),
	})
}

// RejectTask handles POST /api/v1/tasks/:task_id/reject
// Cancels a task awaiting approval
func (h *JobHandler) RejectTask(c *gin.Context) {
	taskID, ok := h.taskIDParam(c)
	if !ok {
		return
	}

	if err := h.pipeline.RejectTask(c.Request.Context(), taskID); err != nil {
		h.respondError(c, err, "Failed to reject task")
		return
	}

	h.logger.Info("Task rejected",
		slog.String("task_id", taskID),
	)
	c.JSON(http.StatusOK, gin.H{
		"task_id": taskID,
		"status":  string(domain.TaskStatusCancelled),
	})
}

// taskIDParam extracts and validates the task_id path parameter.
func (h *JobHandler) taskIDParam(c *gin.Context) (string, bool) {
	taskID := c.Param("task_id")
	if _, err := uuid.Parse(taskID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "task_id must be a valid UUID",
		})
		return "", false
	}
	return taskID, true
}

func toTaskDTO(task *domain.Task) dto.TaskDTO {
	history := make([]dto.AttemptDTO, len(task.RetryHistory))
	for i, attempt := range task.RetryHistory {
		history[i] = dto.AttemptDTO{
			Timestamp: attempt.Timestamp.Format(time.RFC3339),
			Method:    string(attempt.Method),
			Success:   attempt.Success,
			Reason:    attempt.Reason,
		}
	}

	return dto.TaskDTO{
		TaskID:           task.ID,
		JobID:            task.JobID,
		CompanyID:        task.CompanyID,
		CompanyName:      task.CompanyName,
		Status:           string(task.Status),
		SubStatus:        string(task.SubStatus),
		GeneratedContent: task.GeneratedContent,
		DeliveryMethod:   string(task.DeliveryMethod),
		RetryCount:       task.RetryCount,
		RetryHistory:     history,
		ErrorMessage:     task.ErrorMessage,
		CreatedAt:        task.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        task.UpdatedAt.Format(time.RFC3339),
	}
}
