package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letterflow/outreach-be/internal/pipeline/domain"
)

func TestDecidePermanentKindNeverRetries(t *testing.T) {
	policy := NewRetryPolicy(DefaultRetryPolicyConfig())

	decision := policy.Decide(1, domain.FailurePermanent, "contact form returned 404")

	perm, ok := decision.(Permanent)
	require.True(t, ok, "expected Permanent, got %T", decision)
	assert.Equal(t, "contact form returned 404", perm.Reason)
}

func TestDecideExhaustedRetries(t *testing.T) {
	policy := NewRetryPolicy(RetryPolicyConfig{MaxRetries: 3})

	tests := []struct {
		name       string
		retryCount int
		wantRetry  bool
	}{
		{name: "first failure retries", retryCount: 1, wantRetry: true},
		{name: "third failure retries", retryCount: 3, wantRetry: true},
		{name: "fourth failure dead-letters", retryCount: 4, wantRetry: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := policy.Decide(tt.retryCount, domain.FailureTransient, "timeout")

			if tt.wantRetry {
				retry, ok := decision.(Retry)
				require.True(t, ok, "expected Retry, got %T", decision)
				assert.Equal(t, tt.retryCount, retry.Attempt)
			} else {
				perm, ok := decision.(Permanent)
				require.True(t, ok, "expected Permanent, got %T", decision)
				assert.Contains(t, perm.Reason, "max retries exhausted")
			}
		})
	}
}

func TestBackoffCurve(t *testing.T) {
	clock := newTestClock()
	policy := NewRetryPolicy(RetryPolicyConfig{
		MaxRetries:     10,
		BaseDelay:      30 * time.Second,
		RateLimitDelay: 5 * time.Minute,
		MaxDelay:       30 * time.Minute,
	})
	policy.now = clock.Now

	tests := []struct {
		name       string
		retryCount int
		kind       domain.FailureKind
		wantDelay  time.Duration
	}{
		{name: "transient first", retryCount: 1, kind: domain.FailureTransient, wantDelay: 30 * time.Second},
		{name: "transient second doubles", retryCount: 2, kind: domain.FailureTransient, wantDelay: time.Minute},
		{name: "transient third doubles again", retryCount: 3, kind: domain.FailureTransient, wantDelay: 2 * time.Minute},
		{name: "transient caps at ceiling", retryCount: 8, kind: domain.FailureTransient, wantDelay: 30 * time.Minute},
		{name: "rate limit uses longer base", retryCount: 1, kind: domain.FailureRateLimit, wantDelay: 5 * time.Minute},
		{name: "rate limit doubles", retryCount: 2, kind: domain.FailureRateLimit, wantDelay: 10 * time.Minute},
		{name: "rate limit caps at ceiling", retryCount: 4, kind: domain.FailureRateLimit, wantDelay: 30 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := policy.Decide(tt.retryCount, tt.kind, "slow down")

			retry, ok := decision.(Retry)
			require.True(t, ok, "expected Retry, got %T", decision)
			assert.Equal(t, clock.Now().Add(tt.wantDelay), retry.At)
		})
	}
}

func TestNewRetryPolicyDefaults(t *testing.T) {
	policy := NewRetryPolicy(RetryPolicyConfig{})

	def := DefaultRetryPolicyConfig()
	assert.Equal(t, def.MaxRetries, policy.cfg.MaxRetries)
	assert.Equal(t, def.BaseDelay, policy.cfg.BaseDelay)
	assert.Equal(t, def.RateLimitDelay, policy.cfg.RateLimitDelay)
	assert.Equal(t, def.MaxDelay, policy.cfg.MaxDelay)
}
