package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/letterflow/outreach-be/internal/pipeline"
	"github.com/letterflow/outreach-be/internal/pipeline/domain"
)

// DMSender delivers letters as direct messages through a messaging API.
type DMSender struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDMSender creates a DM transport against the given messaging API.
func NewDMSender(baseURL, apiToken string, timeout time.Duration, logger *slog.Logger) *DMSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DMSender{
		baseURL:    baseURL,
		apiToken:   apiToken,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type dmRequest struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

// Deliver posts the generated letter to the task's DM handle.
func (s *DMSender) Deliver(ctx context.Context, task *domain.Task) pipeline.Result {
	if task.DMHandle == "" {
		return pipeline.Result{
			Success: false,
			Reason:  "task has no DM handle",
			Kind:    domain.FailurePermanent,
		}
	}

	payload, err := json.Marshal(dmRequest{
		Recipient: task.DMHandle,
		Message:   task.GeneratedContent,
	})
	if err != nil {
		return pipeline.Result{Success: false, Reason: err.Error(), Kind: domain.FailurePermanent}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return pipeline.Result{Success: false, Reason: err.Error(), Kind: domain.FailurePermanent}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("DM request failed",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
		return failure(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return pipeline.Result{Success: true}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	s.logger.Warn("DM rejected",
		slog.String("task_id", task.ID),
		slog.Int("status", resp.StatusCode),
	)
	return statusFailure(resp.StatusCode, string(body))
}
