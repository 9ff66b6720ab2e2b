package enrich

import (
	"context"
	"errors"
	"time"

	"github.com/riselocal/leadqual/internal/ratelimit"
	"go.uber.org/zap"
)

// Coordinator fans enrichment calls out to a set of adapters. Every call is
// rate-limit-checked and independently time-bounded; one failing adapter
// never fails the gather.
type Coordinator struct {
	limiter *ratelimit.Limiter
}

func NewCoordinator(limiter *ratelimit.Limiter) *Coordinator {
	return &Coordinator{limiter: limiter}
}

type adapterResult struct {
	name    string
	outcome Outcome
}

// Gather invokes every adapter concurrently and returns once all have
// resolved or overallTimeout elapses, whichever comes first. Adapters still
// outstanding at the overall deadline are recorded as timed out and their
// goroutines abandoned; each writes into a buffered channel so an abandoned
// call never blocks. The result set is always returned, never an error, so
// partial enrichment can still be scored.
func (c *Coordinator) Gather(ctx context.Context, input Input, adapters []Adapter, perCallTimeout, overallTimeout time.Duration) ResultSet {
	results := make(ResultSet, len(adapters))
	if len(adapters) == 0 {
		return results
	}

	resCh := make(chan adapterResult, len(adapters))
	for _, adapter := range adapters {
		go func(a Adapter) {
			resCh <- adapterResult{name: a.Name(), outcome: c.invoke(ctx, a, input, perCallTimeout)}
		}(adapter)
	}

	deadline := time.NewTimer(overallTimeout)
	defer deadline.Stop()

	pending := len(adapters)
	for pending > 0 {
		select {
		case res := <-resCh:
			results[res.name] = res.outcome
			pending--
		case <-deadline.C:
			for _, a := range adapters {
				if _, ok := results[a.Name()]; !ok {
					results[a.Name()] = Outcome{
						Kind:    OutcomeTimedOut,
						Error:   "abandoned at overall deadline",
						Elapsed: overallTimeout,
					}
				}
			}
			zap.S().Named("enrich").Debugw("gather hit overall deadline",
				"lead_id", input.LeadID, "abandoned", pending)
			return results
		case <-ctx.Done():
			// caller cancellation, not a deadline; classified as an error
			for _, a := range adapters {
				if _, ok := results[a.Name()]; !ok {
					results[a.Name()] = Outcome{
						Kind:  OutcomeError,
						Error: ctx.Err().Error(),
					}
				}
			}
			return results
		}
	}
	return results
}

func (c *Coordinator) invoke(ctx context.Context, a Adapter, input Input, perCallTimeout time.Duration) Outcome {
	start := time.Now()

	// every outbound call passes through the quota window first
	if err := c.limiter.Allow(ctx, a.ServiceName()); err != nil {
		if ratelimit.IsRateLimited(err) {
			return Outcome{Kind: OutcomeRateLimited, Error: err.Error(), Elapsed: time.Since(start)}
		}
		return Outcome{Kind: OutcomeError, Error: err.Error(), Elapsed: time.Since(start)}
	}

	timeout := perCallTimeout
	if declared := a.Timeout(); declared > 0 && declared < timeout {
		timeout = declared
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := a.Invoke(callCtx, input)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Outcome{Kind: OutcomeTimedOut, Error: err.Error(), Elapsed: elapsed}
		}
		if ratelimit.IsRateLimited(err) {
			return Outcome{Kind: OutcomeRateLimited, Error: err.Error(), Elapsed: elapsed}
		}
		return Outcome{Kind: OutcomeError, Error: err.Error(), Elapsed: elapsed}
	}
	return Outcome{Kind: OutcomeSuccess, Data: data, Elapsed: elapsed}
}
