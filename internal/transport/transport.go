// Package transport implements the delivery transports: a direct-message
// sender and a contact-form submitter. Transports never return Go errors;
// every failure is classified into a pipeline.Result so the retry policy
// can act on it.
package transport

import (
	"fmt"
	"net/http"

	"github.com/letterflow/outreach-be/internal/pipeline"
	"github.com/letterflow/outreach-be/internal/pipeline/domain"
)

// classifyStatus maps an HTTP response status to a failure kind.
// 429 is a rate limit, other 4xx are permanent rejections, everything else
// that is not a success is assumed transient.
func classifyStatus(status int) domain.FailureKind {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.FailureRateLimit
	case status >= 400 && status < 500:
		return domain.FailurePermanent
	default:
		return domain.FailureTransient
	}
}

// failure builds a failed Result from a request error. Timeouts, caller
// cancellation, and network errors are all transient: the attempt may
// succeed when the task comes around again.
func failure(err error) pipeline.Result {
	return pipeline.Result{
		Success: false,
		Reason:  err.Error(),
		Kind:    domain.FailureTransient,
	}
}

func statusFailure(status int, body string) pipeline.Result {
	reason := fmt.Sprintf("target responded %d", status)
	if body != "" {
		reason = fmt.Sprintf("%s: %s", reason, body)
	}
	return pipeline.Result{
		Success: false,
		Reason:  reason,
		Kind:    classifyStatus(status),
	}
}
