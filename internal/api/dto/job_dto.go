package dto

import (
	"github.com/letterflow/outreach-be/internal/pipeline/domain"
)

// CompanyDTO is one target company in a job creation request.
type CompanyDTO struct {
	ID         string `json:"id" binding:"required"`
	Name       string `json:"name" binding:"required"`
	Industry   string `json:"industry"`
	ContactURL string `json:"contact_url"`
	DMHandle   string `json:"dm_handle"`
}

// CreateJobRequest is the payload for POST /api/v1/jobs
type CreateJobRequest struct {
	Name           string       `json:"name" binding:"required"`
	UserID         string       `json:"user_id" binding:"required"`
	TemplateID     string       `json:"template_id" binding:"required"`
	AutoApprove    bool         `json:"auto_approve"`
	Concurrency    int          `json:"concurrency"`
	DeliveryMethod string       `json:"delivery_method"`
	Companies      []CompanyDTO `json:"companies" binding:"required,min=1"`
}

// JobDTO is the API representation of a batch job.
type JobDTO struct {
	JobID          string `json:"job_id"`
	Name           string `json:"name"`
	UserID         string `json:"user_id"`
	TemplateID     string `json:"template_id"`
	Status         string `json:"status"`
	AutoApprove    bool   `json:"auto_approve"`
	Concurrency    int    `json:"concurrency"`
	DeliveryMethod string `json:"delivery_method"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
	CompletedAt    string `json:"completed_at,omitempty"`
}

// ListJobsRequest holds the query parameters for GET /api/v1/jobs
type ListJobsRequest struct {
	UserID   string `form:"user_id"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

// ListJobsResponse is the paginated job listing.
type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// AttemptDTO is one delivery attempt in a task's history.
type AttemptDTO struct {
	Timestamp string `json:"timestamp"`
	Method    string `json:"method"`
	Success   bool   `json:"success"`
	Reason    string `json:"reason,omitempty"`
}

// TaskDTO is the API representation of a task.
type TaskDTO struct {
	TaskID           string       `json:"task_id"`
	JobID            string       `json:"job_id"`
	CompanyID        string       `json:"company_id"`
	CompanyName      string       `json:"company_name"`
	Status           string       `json:"status"`
	SubStatus        string       `json:"sub_status,omitempty"`
	GeneratedContent string       `json:"generated_content,omitempty"`
	DeliveryMethod   string       `json:"delivery_method"`
	RetryCount       int          `json:"retry_count"`
	RetryHistory     []AttemptDTO `json:"retry_history"`
	ErrorMessage     string       `json:"error_message,omitempty"`
	CreatedAt        string       `json:"created_at"`
	UpdatedAt        string       `json:"updated_at"`
}

// ListTasksRequest holds the query parameters for GET /api/v1/jobs/:job_id/tasks
type ListTasksRequest struct {
	Status string `form:"status"`
}

// ListTasksResponse lists a job's tasks.
type ListTasksResponse struct {
	Tasks []TaskDTO `json:"tasks"`
}

// ErrorLogEntryDTO is one error log entry.
type ErrorLogEntryDTO struct {
	EntryID    string `json:"entry_id"`
	Timestamp  string `json:"timestamp"`
	JobID      string `json:"job_id"`
	TaskID     string `json:"task_id,omitempty"`
	Severity   string `json:"severity"`
	Message    string `json:"message"`
	Context    string `json:"context,omitempty"`
	Resolution string `json:"resolution"`
}

// ListErrorLogResponse lists error log entries.
type ListErrorLogResponse struct {
	Entries []ErrorLogEntryDTO `json:"entries"`
}

// ResolveErrorRequest updates an entry's resolution state.
type ResolveErrorRequest struct {
	Resolution string `json:"resolution" binding:"required"`
}

// ValidResolution reports whether s names a known resolution state.
func ValidResolution(s string) bool {
	switch domain.Resolution(s) {
	case domain.ResolutionNew, domain.ResolutionInvestigating, domain.ResolutionResolved:
		return true
	}
	return false
}
