package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/letterflow/outreach-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "outreach-api-service",
		})
	})

	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Create a new batch job
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// GET /api/v1/jobs/:job_id/progress - Aggregate task counts
			jobs.GET("/:job_id/progress", jobHandler.GetProgress)

			// GET /api/v1/jobs/:job_id/tasks - List the job's tasks
			jobs.GET("/:job_id/tasks", jobHandler.ListTasks)

			// POST /api/v1/jobs/:job_id/start - Start a draft job
			jobs.POST("/:job_id/start", jobHandler.StartJob)

			// POST /api/v1/jobs/:job_id/pause - Request a pause
			jobs.POST("/:job_id/pause", jobHandler.PauseJob)

			// POST /api/v1/jobs/:job_id/resume - Resume a paused job
			jobs.POST("/:job_id/resume", jobHandler.ResumeJob)

			// POST /api/v1/jobs/:job_id/abort - Abort a job
			jobs.POST("/:job_id/abort", jobHandler.AbortJob)

			// DELETE /api/v1/jobs/:job_id - Delete a terminal job
			jobs.DELETE("/:job_id", jobHandler.DeleteJob)
		}

		tasks := v1.Group("/tasks")
		{
			// GET /api/v1/tasks/:task_id - Get task details
			tasks.GET("/:task_id", jobHandler.GetTask)

			// POST /api/v1/tasks/:task_id/approve - Approve a generated letter
			tasks.POST("/:task_id/approve", jobHandler.ApproveTask)

			// POST /api/v1/tasks/:task_id/reject - Reject a generated letter
			tasks.POST("/:task_id/reject", jobHandler.RejectTask)
		}

		errs := v1.Group("/errors")
		{
			// GET /api/v1/errors - List error log entries
			errs.GET("", jobHandler.ListErrorLog)

			// POST /api/v1/errors/:entry_id/resolve - Update triage state
			errs.POST("/:entry_id/resolve", jobHandler.ResolveError)
		}
	}

	return r
}
