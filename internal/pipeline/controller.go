package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/letterflow/outreach-be/internal/pipeline/domain"
	"github.com/letterflow/outreach-be/internal/telemetry"
)

// ControllerConfig tunes job orchestration.
type ControllerConfig struct {
	// DefaultConcurrency caps a job's simultaneous generation goroutines
	// when the job does not set its own limit. Delivery attempts are
	// bounded separately by the dispatcher's capacity.
	DefaultConcurrency int
	// PollInterval is the wait between dispatch rounds while a job still
	// has work the concurrency cap is holding back.
	PollInterval time.Duration
}

// Controller owns batch jobs: it creates their tasks, drives them through
// generation and approval, enforces the per-job concurrency limit, and
// aggregates progress.
type Controller struct {
	cfg      ControllerConfig
	store    Storage
	machine  *StateMachine
	queue    *DeliveryQueue
	gen      Generator
	recorder *Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewController wires the controller and registers it as the queue's
// terminal-outcome observer.
func NewController(cfg ControllerConfig, store Storage, machine *StateMachine, queue *DeliveryQueue, gen Generator, recorder *Recorder, logger *slog.Logger) *Controller {
	if cfg.DefaultConcurrency <= 0 {
		cfg.DefaultConcurrency = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	c := &Controller{
		cfg:      cfg,
		store:    store,
		machine:  machine,
		queue:    queue,
		gen:      gen,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
	queue.SetObserver(c)
	return c
}

// CreateJobRequest describes a new batch job and its target list.
type CreateJobRequest struct {
	Name           string
	UserID         string
	TemplateID     string
	AutoApprove    bool
	Concurrency    int
	DeliveryMethod domain.DeliveryMethod
	Companies      []domain.Company
}

// CreateJob persists a draft job with one pending task per target company.
func (c *Controller) CreateJob(ctx context.Context, req CreateJobRequest) (*domain.BatchJob, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("job name is required")
	}
	if len(req.Companies) == 0 {
		return nil, fmt.Errorf("at least one target company is required")
	}
	method := req.DeliveryMethod
	if method == "" {
		method = domain.DeliveryMethodDM
	}
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = c.cfg.DefaultConcurrency
	}

	now := c.now()
	job := &domain.BatchJob{
		ID:             uuid.New().String(),
		Name:           req.Name,
		UserID:         req.UserID,
		TemplateID:     req.TemplateID,
		Status:         domain.JobStatusDraft,
		AutoApprove:    req.AutoApprove,
		Concurrency:    concurrency,
		DeliveryMethod: method,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tasks := make([]*domain.Task, 0, len(req.Companies))
	for _, company := range req.Companies {
		tasks = append(tasks, &domain.Task{
			ID:             uuid.New().String(),
			JobID:          job.ID,
			CompanyID:      company.ID,
			CompanyName:    company.Name,
			ContactURL:     company.ContactURL,
			DMHandle:       company.DMHandle,
			TemplateID:     job.TemplateID,
			Status:         domain.TaskStatusPending,
			DeliveryMethod: method,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	if err := c.store.CreateJob(ctx, job, tasks); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	c.logger.Info("Batch job created",
		slog.String("job_id", job.ID),
		slog.String("name", job.Name),
		slog.Int("tasks", len(tasks)),
		slog.Int("concurrency", concurrency),
	)
	return job, nil
}

// Start transitions a draft or paused job to running.
func (c *Controller) Start(ctx context.Context, jobID string) error {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusDraft && job.Status != domain.JobStatusPaused {
		return fmt.Errorf("%w: cannot start job in status %s", domain.ErrInvalidJobState, job.Status)
	}
	job.Status = domain.JobStatusRunning
	job.PauseRequested = false
	job.UpdatedAt = c.now()
	if err := c.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}

	c.logger.Info("Batch job started", slog.String("job_id", jobID))
	return nil
}

// Resume is Start from paused.
func (c *Controller) Resume(ctx context.Context, jobID string) error {
	return c.Start(ctx, jobID)
}

// Run drives a running job's pending tasks through generation and approval,
// capped at the job's concurrency limit. It returns once every pending task
// has been dispatched (delivery outcomes continue asynchronously through the
// dispatcher), the job pauses, or the context is cancelled.
func (c *Controller) Run(ctx context.Context, jobID string) error {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusRunning {
		return fmt.Errorf("%w: cannot run job in status %s", domain.ErrInvalidJobState, job.Status)
	}

	sem := make(chan struct{}, job.Concurrency)
	var wg sync.WaitGroup

	for {
		job, err = c.store.GetJob(ctx, jobID)
		if err != nil {
			wg.Wait()
			return err
		}
		if job.PauseRequested {
			// Pause is observed, not preemptive: drain in-flight work
			// before the job settles into paused.
			wg.Wait()
			return c.settlePause(ctx, jobID)
		}
		if job.Status != domain.JobStatusRunning {
			wg.Wait()
			return nil
		}

		pending, err := c.store.ListTasks(ctx, jobID, domain.TaskStatusPending)
		if err != nil {
			wg.Wait()
			return fmt.Errorf("failed to list pending tasks: %w", err)
		}
		if len(pending) == 0 {
			wg.Wait()
			c.maybeComplete(ctx, jobID)
			return nil
		}

		for _, task := range pending {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				wg.Wait()
				return ctx.Err()
			}

			// Claim the task before handing it to a goroutine so a
			// re-listed batch never double-dispatches it.
			if err := c.machine.Begin(ctx, task); err != nil {
				<-sem
				c.logger.Warn("Skipping task that left pending",
					slog.String("task_id", task.ID),
					slog.String("error", err.Error()),
				)
				continue
			}

			wg.Add(1)
			go func(job *domain.BatchJob, task *domain.Task) {
				defer wg.Done()
				defer func() { <-sem }()
				c.processTask(ctx, job, task)
			}(job, task)
		}

		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

// processTask generates content for one claimed task and either enqueues it
// for delivery or parks it for manual approval. Generation failures bypass
// the retry machinery: they fail the task without touching the retry count.
func (c *Controller) processTask(ctx context.Context, job *domain.BatchJob, task *domain.Task) {
	content, err := c.gen.Generate(ctx, task)
	if err != nil {
		genErr := domain.NewGenerationError(err)
		telemetry.GenerationFails.Inc()
		c.recorder.Record(ctx, &domain.ErrorLogEntry{
			JobID:    job.ID,
			TaskID:   task.ID,
			Severity: domain.SeverityMedium,
			Message:  genErr.Error(),
			Context:  fmt.Sprintf("template=%s company=%s", task.TemplateID, task.CompanyName),
		})
		if failErr := c.machine.Fail(ctx, task, genErr.Error()); failErr != nil {
			c.logger.Error("Failed to fail task after generation error",
				slog.String("task_id", task.ID),
				slog.String("error", failErr.Error()),
			)
			return
		}
		c.TaskSettled(ctx, task)
		return
	}

	task.GeneratedContent = content
	telemetry.LettersGenerated.Inc()

	if job.AutoApprove {
		if err := c.machine.SetSubStatus(ctx, task, domain.SubStatusSubmitting); err != nil {
			c.logger.Error("Failed to move task to submitting",
				slog.String("task_id", task.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		if _, err := c.queue.Enqueue(ctx, task, c.now()); err != nil {
			c.logger.Error("Failed to enqueue task for delivery",
				slog.String("task_id", task.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	if err := c.machine.SetSubStatus(ctx, task, domain.SubStatusAwaitingApproval); err != nil {
		c.logger.Error("Failed to park task for approval",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Pause requests a cooperative pause. The job settles into paused only once
// no task is actively transitioning.
func (c *Controller) Pause(ctx context.Context, jobID string) error {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusRunning {
		return fmt.Errorf("%w: cannot pause job in status %s", domain.ErrInvalidJobState, job.Status)
	}
	job.PauseRequested = true
	job.UpdatedAt = c.now()
	if err := c.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}

	c.logger.Info("Pause requested", slog.String("job_id", jobID))
	// With no in-flight work the pause settles immediately.
	return c.settlePause(ctx, jobID)
}

// settlePause flips a pause-requested job to paused once no task is mid
// generation or mid delivery attempt.
func (c *Controller) settlePause(ctx context.Context, jobID string) error {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.PauseRequested || job.Status != domain.JobStatusRunning {
		return nil
	}

	processing, err := c.store.ListTasks(ctx, jobID, domain.TaskStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to list processing tasks: %w", err)
	}
	for _, t := range processing {
		if t.SubStatus == domain.SubStatusGenerating || t.SubStatus == domain.SubStatusAwaitingResponse {
			return nil
		}
	}

	job.Status = domain.JobStatusPaused
	job.UpdatedAt = c.now()
	if err := c.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	c.logger.Info("Batch job paused", slog.String("job_id", jobID))
	return nil
}

// Abort is the explicit operator abort: the job fails, undispatched tasks
// are cancelled, and claimed queue items are cancelled by the dispatcher on
// its next pass. In-flight attempts finish undisturbed.
func (c *Controller) Abort(ctx context.Context, jobID string) error {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminalJob() {
		return fmt.Errorf("%w: cannot abort job in status %s", domain.ErrInvalidJobState, job.Status)
	}

	job.Status = domain.JobStatusFailed
	job.PauseRequested = false
	now := c.now()
	job.UpdatedAt = now
	job.CompletedAt = &now
	if err := c.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}

	pending, err := c.store.ListTasks(ctx, jobID, domain.TaskStatusPending)
	if err != nil {
		return fmt.Errorf("failed to list pending tasks: %w", err)
	}
	for _, task := range pending {
		if err := c.machine.Cancel(ctx, task); err != nil {
			c.logger.Warn("Failed to cancel pending task on abort",
				slog.String("task_id", task.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	// Tasks parked for approval would otherwise hang forever.
	processing, err := c.store.ListTasks(ctx, jobID, domain.TaskStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to list processing tasks: %w", err)
	}
	for _, task := range processing {
		if task.SubStatus == domain.SubStatusAwaitingApproval {
			if err := c.machine.Cancel(ctx, task); err != nil {
				c.logger.Warn("Failed to cancel parked task on abort",
					slog.String("task_id", task.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	c.logger.Warn("Batch job aborted", slog.String("job_id", jobID))
	return nil
}

// GetProgress returns per-status task counts in one consistent read.
func (c *Controller) GetProgress(ctx context.Context, jobID string) (domain.Progress, error) {
	if _, err := c.store.GetJob(ctx, jobID); err != nil {
		return domain.Progress{}, err
	}
	return c.store.CountTasks(ctx, jobID)
}

// DeleteJob removes a job and its records. Only terminal jobs may be
// deleted.
func (c *Controller) DeleteJob(ctx context.Context, jobID string) error {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminalJob() {
		return fmt.Errorf("%w: job %s is %s", domain.ErrJobInProgress, jobID, job.Status)
	}
	return c.store.DeleteJob(ctx, jobID)
}

// ApproveTask releases a task parked for manual review into the delivery
// queue.
func (c *Controller) ApproveTask(ctx context.Context, taskID string) error {
	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskStatusProcessing || task.SubStatus != domain.SubStatusAwaitingApproval {
		return fmt.Errorf("%w: task %s is not awaiting approval", domain.ErrInvalidStateTransition, taskID)
	}
	if err := c.machine.SetSubStatus(ctx, task, domain.SubStatusSubmitting); err != nil {
		return err
	}
	if _, err := c.queue.Enqueue(ctx, task, c.now()); err != nil {
		return err
	}
	c.logger.Info("Task approved for delivery", slog.String("task_id", taskID))
	return nil
}

// RejectTask cancels a task parked for manual review. Terminal, permanent.
func (c *Controller) RejectTask(ctx context.Context, taskID string) error {
	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskStatusProcessing || task.SubStatus != domain.SubStatusAwaitingApproval {
		return fmt.Errorf("%w: task %s is not awaiting approval", domain.ErrInvalidStateTransition, taskID)
	}
	if err := c.machine.Cancel(ctx, task); err != nil {
		return err
	}
	c.logger.Info("Task rejected", slog.String("task_id", taskID))
	c.TaskSettled(ctx, task)
	return nil
}

// TaskSettled recomputes progress after a terminal task outcome. The job
// completes exactly when every task is terminal; failed only comes from
// Abort.
func (c *Controller) TaskSettled(ctx context.Context, task *domain.Task) {
	job, err := c.store.GetJob(ctx, task.JobID)
	if err != nil {
		c.logger.Error("Failed to load job after task settled",
			slog.String("job_id", task.JobID),
			slog.String("error", err.Error()),
		)
		return
	}
	if job.Status.IsTerminalJob() {
		return
	}

	progress, err := c.store.CountTasks(ctx, task.JobID)
	if err != nil {
		c.logger.Error("Failed to count tasks after task settled",
			slog.String("job_id", task.JobID),
			slog.String("error", err.Error()),
		)
		return
	}

	if progress.Total > 0 && progress.Terminal() == progress.Total {
		job.Status = domain.JobStatusCompleted
		job.PauseRequested = false
		now := c.now()
		job.UpdatedAt = now
		job.CompletedAt = &now
		if err := c.store.SaveJob(ctx, job); err != nil {
			c.logger.Error("Failed to complete job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		c.logger.Info("Batch job completed",
			slog.String("job_id", job.ID),
			slog.Int("completed", progress.Completed),
			slog.Int("cancelled", progress.Cancelled),
			slog.Int("failed", progress.Failed),
		)
		return
	}

	if job.PauseRequested {
		_ = c.settlePause(ctx, job.ID)
	}
}

// TaskYielded settles a requested pause once an in-flight attempt ends in a
// scheduled retry. The task sits in submitting until its next item comes
// due, so nothing blocks the pause any more.
func (c *Controller) TaskYielded(ctx context.Context, task *domain.Task) {
	job, err := c.store.GetJob(ctx, task.JobID)
	if err != nil {
		c.logger.Error("Failed to load job after task yielded",
			slog.String("job_id", task.JobID),
			slog.String("error", err.Error()),
		)
		return
	}
	if job.PauseRequested {
		_ = c.settlePause(ctx, job.ID)
	}
}

// maybeComplete covers jobs whose generation phase produced no deliveries
// at all (every task failed generation or was rejected).
func (c *Controller) maybeComplete(ctx context.Context, jobID string) {
	progress, err := c.store.CountTasks(ctx, jobID)
	if err != nil || progress.Total == 0 || progress.Terminal() != progress.Total {
		return
	}
	c.TaskSettled(ctx, &domain.Task{JobID: jobID})
}
