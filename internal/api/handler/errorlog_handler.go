package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/letterflow/outreach-be/internal/api/dto"
	"github.com/letterflow/outreach-be/internal/pipeline/domain"
)

// ListErrorLog handles GET /api/v1/errors
// Lists error log entries newest first, optionally scoped to one job
func (h *JobHandler) ListErrorLog(c *gin.Context) {
	jobID := c.Query("job_id")
	if jobID != "" {
		if _, err := uuid.Parse(jobID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "job_id must be a valid UUID",
			})
			return
		}
	}

	entries, err := h.store.ListErrorLog(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err, "Failed to list error log")
		return
	}

	entryResponse := make([]dto.ErrorLogEntryDTO, len(entries))
	for i, entry := range entries {
		entryResponse[i] = dto.ErrorLogEntryDTO{
			EntryID:    entry.ID,
			Timestamp:  entry.Timestamp.Format(time.RFC3339),
			JobID:      entry.JobID,
			TaskID:     entry.TaskID,
			Severity:   string(entry.Severity),
			Message:    entry.Message,
			Context:    entry.Context,
			Resolution: string(entry.Resolution),
		}
	}

	c.JSON(http.StatusOK, dto.ListErrorLogResponse{Entries: entryResponse})
}

// ResolveError handles POST /api/v1/errors/:entry_id/resolve
// Updates an entry's triage state
func (h *JobHandler) ResolveError(c *gin.Context) {
	entryID := c.Param("entry_id")
	if _, err := uuid.Parse(entryID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "entry_id must be a valid UUID",
		})
		return
	}

	var req dto.ResolveErrorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if !dto.ValidResolution(req.Resolution) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "resolution must be new, investigating, or resolved",
		})
		return
	}

	err := h.store.ResolveErrorLog(c.Request.Context(), entryID, domain.Resolution(req.Resolution))
	if err != nil {
		h.respondError(c, err, "Failed to update error log entry")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entry_id":   entryID,
		"resolution": req.Resolution,
	})
}
