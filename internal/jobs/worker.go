package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"github.com/riselocal/leadqual/internal/audit"
	"github.com/riselocal/leadqual/internal/ratelimit"
	"github.com/riselocal/leadqual/internal/store"
	"github.com/riselocal/leadqual/internal/store/model"
	"github.com/riselocal/leadqual/pkg/metrics"
	"go.uber.org/zap"
)

// maintenanceInterval paces the background sweeps: stale-claim reclaim,
// rate-limit window GC and the queue-depth gauge.
const maintenanceInterval = 30 * time.Second

// rateLimitRetention keeps expired quota windows around briefly for
// inspection before the sweep deletes them.
const rateLimitRetention = time.Hour

// PoolOptions carry the worker pool knobs from configuration.
type PoolOptions struct {
	Count        int
	MaxRetries   int
	PollInterval time.Duration
	ClaimTTL     time.Duration
	JobTimeout   time.Duration
}

// Pool polls the queue with a set of workers. Each worker claims one job at a
// time through the store's conditional update, so two workers never execute
// the same job, with or without coordination between processes.
type Pool struct {
	store   store.Store
	runners map[string]Runner
	audit   *audit.Writer
	limiter *ratelimit.Limiter
	opts    PoolOptions

	wg sync.WaitGroup
}

func NewPool(s store.Store, runners map[string]Runner, auditWriter *audit.Writer, limiter *ratelimit.Limiter, opts PoolOptions) *Pool {
	return &Pool{
		store:   s,
		runners: runners,
		audit:   auditWriter,
		limiter: limiter,
		opts:    opts,
	}
}

// Run starts the workers and the maintenance loop and blocks until ctx is
// cancelled and every in-flight job has been handed back.
func (p *Pool) Run(ctx context.Context) {
	zap.S().Named("worker").Infow("starting worker pool", "workers", p.opts.Count)

	for i := 0; i < p.opts.Count; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.poll(ctx, workerID)
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.maintain(ctx)
	}()

	p.wg.Wait()
	zap.S().Named("worker").Info("worker pool stopped")
}

// poll drains the queue until it is empty, then falls back to the jittered
// ticker. The jitter keeps a fleet of processes from polling in lockstep.
func (p *Pool) poll(ctx context.Context, workerID string) {
	ticker := jitterbug.New(p.opts.PollInterval, &jitterbug.Norm{Stdev: 100 * time.Millisecond})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for p.claimAndRun(ctx, workerID) {
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// claimAndRun executes at most one job and reports whether it claimed one.
func (p *Pool) claimAndRun(ctx context.Context, workerID string) bool {
	logger := zap.S().Named("worker").With("worker", workerID)

	job, err := p.store.Job().ClaimNext(ctx, workerID, p.opts.ClaimTTL)
	if err != nil {
		if !errors.Is(err, store.ErrRecordNotFound) && ctx.Err() == nil {
			logger.Errorw("failed to claim job", "error", err)
		}
		return false
	}
	logger = logger.With("job_id", job.ID, "kind", job.Kind)

	runner, ok := p.runners[job.Kind]
	if !ok {
		p.finish(ctx, logger, job, workerID, nil, Permanent(fmt.Errorf("no runner for job kind %q", job.Kind)))
		return true
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.opts.JobTimeout)
	result, runErr := runner.Run(jobCtx, job)
	cancel()

	p.finish(ctx, logger, job, workerID, result, runErr)
	return true
}

// finish drives the terminal (or requeue) transition for an executed job.
// The store's conditional update misses when the job was cancelled while
// running; the result is discarded in that case.
func (p *Pool) finish(ctx context.Context, logger *zap.SugaredLogger, job *model.Job, workerID string, result []byte, runErr error) {
	var (
		err    error
		status string
		action string
	)

	switch {
	case runErr == nil:
		status, action = model.JobStatusCompleted, "job.completed"
		err = p.store.Job().Complete(ctx, job.ID, workerID, result)
	case IsPermanent(runErr) || job.RetryCount >= p.opts.MaxRetries:
		status, action = model.JobStatusFailed, "job.failed"
		err = p.store.Job().Fail(ctx, job.ID, workerID, runErr.Error())
	default:
		status, action = model.JobStatusQueued, "job.requeued"
		err = p.store.Job().Requeue(ctx, job.ID, workerID, runErr.Error())
	}

	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			logger.Infow("job no longer owned, discarding result", "intended_status", status)
			return
		}
		logger.Errorw("failed to finish job", "intended_status", status, "error", err)
		return
	}

	if runErr != nil {
		logger.Warnw("job did not complete",
			"status", status, "retry_count", job.RetryCount, "error", runErr)
	} else {
		logger.Infow("job completed")
	}

	if status != model.JobStatusQueued {
		metrics.IncreaseJobsTotalMetric(job.Kind, status)
	}
	entry := audit.Entry{
		Actor:        workerID,
		ActorType:    audit.ActorTypeWorker,
		Action:       action,
		ResourceType: "job",
		ResourceID:   job.ID.String(),
	}
	if runErr != nil {
		entry.Metadata = map[string]interface{}{"error": runErr.Error(), "retry_count": job.RetryCount}
		if status == model.JobStatusFailed {
			entry.Severity = model.AuditSeverityError
		} else {
			entry.Severity = model.AuditSeverityWarning
		}
	}
	p.audit.Record(ctx, entry)
}

func (p *Pool) maintain(ctx context.Context) {
	logger := zap.S().Named("worker")
	ticker := jitterbug.New(maintenanceInterval, &jitterbug.Norm{Stdev: time.Second})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := p.store.Job().ReclaimStale(ctx, time.Now().UTC())
			switch {
			case err != nil && ctx.Err() == nil:
				logger.Errorw("failed to reclaim stale jobs", "error", err)
			case reclaimed > 0:
				logger.Warnw("reclaimed stale jobs", "count", reclaimed)
				p.audit.Record(ctx, audit.Entry{
					Actor:        "maintenance",
					ActorType:    audit.ActorTypeSystem,
					Action:       "job.reclaimed",
					ResourceType: "job",
					Metadata:     map[string]interface{}{"count": reclaimed},
					Severity:     model.AuditSeverityWarning,
				})
			}

			if _, err := p.limiter.Sweep(ctx, rateLimitRetention); err != nil && ctx.Err() == nil {
				logger.Errorw("failed to sweep rate limit windows", "error", err)
			}

			if queued, err := p.store.Job().CountByStatus(ctx, model.JobStatusQueued); err == nil {
				metrics.UpdateQueuedJobsMetric(int(queued))
			}
		}
	}
}
