package graph

import (
	"context"
	"errors"
	"net/http"
	"time"
)

type RetryClass int

const (
	ClassFatal RetryClass = iota
	ClassTransient
	ClassRateLimit
)

func (c RetryClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRateLimit:
		return "rate_limit"
	default:
		return "fatal"
	}
}

// RetryPolicy is shared by every call site of a client. It holds no mutable
// state; attempt counting lives in attemptState per call.
type RetryPolicy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RateLimitCooldown time.Duration
	Classify          func(error) RetryClass
}

const (
	DefaultMaxAttempts       = 4
	DefaultBaseDelay         = 300 * time.Millisecond
	DefaultMaxDelay          = 5 * time.Second
	DefaultRateLimitCooldown = 60 * time.Second
)

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       DefaultMaxAttempts,
		BaseDelay:         DefaultBaseDelay,
		MaxDelay:          DefaultMaxDelay,
		RateLimitCooldown: DefaultRateLimitCooldown,
		Classify:          DefaultClassifier,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.RateLimitCooldown <= 0 {
		p.RateLimitCooldown = DefaultRateLimitCooldown
	}
	if p.Classify == nil {
		p.Classify = DefaultClassifier
	}
	return p
}

type attemptState struct {
	attempt int
}

// delay returns the wait before the next attempt: base×2^n for transient
// failures, the flat cooldown for rate limit signals.
func (p RetryPolicy) delay(state attemptState, class RetryClass) time.Duration {
	if class == ClassRateLimit {
		return p.RateLimitCooldown
	}
	backoff := p.BaseDelay
	for i := 1; i < state.attempt; i++ {
		backoff *= 2
		if backoff >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if backoff > p.MaxDelay {
		return p.MaxDelay
	}
	return backoff
}

func DefaultClassifier(err error) RetryClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.RateLimited() {
			return ClassRateLimit
		}
		if apiErr.Retryable {
			return ClassTransient
		}
		return ClassFatal
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		if transient.StatusCode == http.StatusTooManyRequests {
			return ClassRateLimit
		}
		return ClassTransient
	}
	return ClassFatal
}

func ShouldRetry(statusCode int, code int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	if statusCode >= 500 {
		return true
	}
	return isRateLimitCode(code)
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
