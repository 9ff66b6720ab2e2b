// Package ratelimit enforces per-service request quotas over fixed windows.
//
// Windows are computed by truncating the current time to a multiple of the
// window size. Known limitation: a burst straddling a window boundary can see
// up to twice the quota across the two windows; a sliding window or token
// bucket would be stricter but is not what callers account against.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/riselocal/leadqual/internal/store"
	"github.com/riselocal/leadqual/pkg/metrics"
)

// RateLimitedError signals quota exhaustion. It is distinct from any provider
// failure: callers must back off until ResetAt, not retry immediately.
type RateLimitedError struct {
	Service string
	ResetAt time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("service %s is rate limited until %s", e.Service, e.ResetAt.Format(time.RFC3339))
}

// IsRateLimited reports whether err is a quota denial.
func IsRateLimited(err error) bool {
	var rlErr *RateLimitedError
	return errors.As(err, &rlErr)
}

type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type Limiter struct {
	store    store.RateLimit
	quotaFor func(service string) int
	window   time.Duration
}

func New(s store.RateLimit, quotaFor func(service string) int, window time.Duration) *Limiter {
	return &Limiter{store: s, quotaFor: quotaFor, window: window}
}

// CheckAndIncrement counts one request against the service's current window.
// The check and the increment are a single atomic store operation; no caller
// may read-then-write the counter outside of it.
func (l *Limiter) CheckAndIncrement(ctx context.Context, service string) (Result, error) {
	now := time.Now().UTC()
	windowStart := now.Truncate(l.window)
	resetAt := windowStart.Add(l.window)
	limit := l.quotaFor(service)

	window, allowed, err := l.store.CheckAndIncrement(ctx, service, limit, windowStart, resetAt)
	if err != nil {
		return Result{}, err
	}

	if !allowed {
		metrics.IncreaseRateLimitDenialsMetric(service)
	}
	return Result{
		Allowed:   allowed,
		Remaining: window.Remaining(),
		ResetAt:   window.ResetAt,
	}, nil
}

// Allow is the guard every outbound call passes through. It returns a
// *RateLimitedError when the quota is exhausted.
func (l *Limiter) Allow(ctx context.Context, service string) error {
	res, err := l.CheckAndIncrement(ctx, service)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return &RateLimitedError{Service: service, ResetAt: res.ResetAt}
	}
	return nil
}

// Sweep garbage-collects windows past their reset time plus the retention
// margin.
func (l *Limiter) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	return l.store.DeleteExpired(ctx, time.Now().UTC().Add(-retention))
}
