package pipeline

import (
	"time"

	"github.com/letterflow/outreach-be/internal/pipeline/domain"
)

// Decision is the tagged outcome of the retry policy: either Retry with a
// concrete schedule or Permanent failure.
type Decision interface {
	decision()
}

// Retry schedules another delivery attempt at At.
type Retry struct {
	At      time.Time
	Attempt int
}

// Permanent routes the task to the failed state with no further attempts.
type Permanent struct {
	Reason string
}

func (Retry) decision()     {}
func (Permanent) decision() {}

// RetryPolicyConfig tunes the backoff curve.
type RetryPolicyConfig struct {
	// MaxRetries is the number of re-attempts allowed after the first
	// failed delivery for transient and rate-limit failures.
	MaxRetries int
	// BaseDelay is the wait before the first retry of a transient failure.
	BaseDelay time.Duration
	// RateLimitDelay replaces BaseDelay when the failure was a rate limit.
	RateLimitDelay time.Duration
	// MaxDelay caps the backoff curve.
	MaxDelay time.Duration
}

// DefaultRetryPolicyConfig matches the default policy: 3 attempts for
// transient and rate-limit failures, none for permanent ones.
func DefaultRetryPolicyConfig() RetryPolicyConfig {
	return RetryPolicyConfig{
		MaxRetries:     3,
		BaseDelay:      30 * time.Second,
		RateLimitDelay: 5 * time.Minute,
		MaxDelay:       30 * time.Minute,
	}
}

// RetryPolicy decides, after a failed delivery attempt, whether a new queue
// item is scheduled and when.
type RetryPolicy struct {
	cfg RetryPolicyConfig
	now func() time.Time
}

// NewRetryPolicy creates a policy. Zero config fields fall back to defaults.
func NewRetryPolicy(cfg RetryPolicyConfig) *RetryPolicy {
	def := DefaultRetryPolicyConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = def.RateLimitDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	return &RetryPolicy{cfg: cfg, now: time.Now}
}

// Decide classifies a failed attempt. retryCount is the task's count after
// the attempt was recorded, so it equals the number of failed history
// entries. Permanent failures and exhausted counts never retry, regardless
// of kind.
func (p *RetryPolicy) Decide(retryCount int, kind domain.FailureKind, reason string) Decision {
	if !kind.Retryable() {
		return Permanent{Reason: reason}
	}
	if retryCount > p.cfg.MaxRetries {
		return Permanent{Reason: reason + " (max retries exhausted)"}
	}
	return Retry{
		At:      p.now().Add(p.backoff(retryCount, kind)),
		Attempt: retryCount,
	}
}

// backoff doubles the base delay per prior failed attempt, capped at the
// configured ceiling. Rate limits start from a longer base.
func (p *RetryPolicy) backoff(retryCount int, kind domain.FailureKind) time.Duration {
	base := p.cfg.BaseDelay
	if kind == domain.FailureRateLimit {
		base = p.cfg.RateLimitDelay
	}
	if retryCount < 1 {
		retryCount = 1
	}
	delay := base
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= p.cfg.MaxDelay {
			return p.cfg.MaxDelay
		}
	}
	if delay > p.cfg.MaxDelay {
		delay = p.cfg.MaxDelay
	}
	return delay
}
