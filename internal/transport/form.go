package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/letterflow/outreach-be/internal/pipeline"
	"github.com/letterflow/outreach-be/internal/pipeline/domain"
)

// FormSubmitter delivers letters by posting the company's web contact form.
type FormSubmitter struct {
	senderName  string
	senderEmail string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewFormSubmitter creates a form transport posting as the given sender.
func NewFormSubmitter(senderName, senderEmail string, timeout time.Duration, logger *slog.Logger) *FormSubmitter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FormSubmitter{
		senderName:  senderName,
		senderEmail: senderEmail,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

// Deliver posts url-encoded form values to the task's contact URL.
func (s *FormSubmitter) Deliver(ctx context.Context, task *domain.Task) pipeline.Result {
	if task.ContactURL == "" {
		return pipeline.Result{
			Success: false,
			Reason:  "task has no contact form URL",
			Kind:    domain.FailurePermanent,
		}
	}
	if _, err := url.ParseRequestURI(task.ContactURL); err != nil {
		return pipeline.Result{
			Success: false,
			Reason:  "invalid contact form URL: " + err.Error(),
			Kind:    domain.FailurePermanent,
		}
	}

	values := url.Values{
		"name":    {s.senderName},
		"email":   {s.senderEmail},
		"subject": {"Inquiry for " + task.CompanyName},
		"message": {task.GeneratedContent},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, task.ContactURL, strings.NewReader(values.Encode()))
	if err != nil {
		return pipeline.Result{Success: false, Reason: err.Error(), Kind: domain.FailurePermanent}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("Form submission failed",
			slog.String("task_id", task.ID),
			slog.String("url", task.ContactURL),
			slog.String("error", err.Error()),
		)
		return failure(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return pipeline.Result{Success: true}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	s.logger.Warn("Form submission rejected",
		slog.String("task_id", task.ID),
		slog.Int("status", resp.StatusCode),
	)
	return statusFailure(resp.StatusCode, string(body))
}
