package ai

import (
	"context"
	"errors"
	"math"
	"time"

	"interviewprep/internal/util"
)

// RetryPolicy bounds how a generation call is retried.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy is used for zero-valued fields.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    3,
	BaseDelay:      time.Second,
	MaxDelay:       8 * time.Second,
	AttemptTimeout: 60 * time.Second,
}

// Backoff returns the delay before attempt n+1, doubling from BaseDelay and capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if d <= 0 || d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultRetryPolicy.MaxDelay
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = DefaultRetryPolicy.AttemptTimeout
	}
	return p
}

// RetryingGenerator retries transient failures of the wrapped generator.
// The caller's context is the overall deadline; no attempt outlives it.
type RetryingGenerator struct {
	next   TextGenerator
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRetryingGenerator(next TextGenerator, policy RetryPolicy) *RetryingGenerator {
	return &RetryingGenerator{next: next, policy: policy.withDefaults(), sleep: sleepContext}
}

func (g *RetryingGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	logger := util.LoggerFromContext(ctx)
	var lastErr error
	for attempt := 1; attempt <= g.policy.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, g.policy.AttemptTimeout)
		text, err := g.next.GenerateText(attemptCtx, systemPrompt, userPrompt)
		cancel()
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", errors.Join(ctx.Err(), err)
		}
		if !IsTransient(err) || attempt == g.policy.MaxAttempts {
			break
		}
		delay := g.policy.Backoff(attempt)
		logger.Warn("generation_retry", "attempt", attempt, "delay_ms", delay.Milliseconds(), "err", err)
		if err := g.sleep(ctx, delay); err != nil {
			return "", errors.Join(err, lastErr)
		}
	}
	return "", lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
