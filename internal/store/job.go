package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/riselocal/leadqual/internal/store/model"
	"gorm.io/gorm"
)

// claimAttempts bounds how many queued candidates a single ClaimNext call
// races for before giving up.
const claimAttempts = 5

type Job interface {
	Create(ctx context.Context, job *model.Job) (*model.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Job, error)
	List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (model.JobList, error)
	ClaimNext(ctx context.Context, workerID string, claimTTL time.Duration) (*model.Job, error)
	Touch(ctx context.Context, id uuid.UUID, workerID string, claimTTL time.Duration) error
	Complete(ctx context.Context, id uuid.UUID, workerID string, result []byte) error
	Fail(ctx context.Context, id uuid.UUID, workerID string, jobErr string) error
	Requeue(ctx context.Context, id uuid.UUID, workerID string, jobErr string) error
	Cancel(ctx context.Context, id uuid.UUID) (*model.Job, error)
	ReclaimStale(ctx context.Context, now time.Time) (int64, error)
	CountByStatus(ctx context.Context, status string) (int64, error)
	InitialMigration() error
}

type JobStore struct {
	db *gorm.DB
}

// Make sure we conform to Job interface
var _ Job = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (s *JobStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.Job{})
}

func (s *JobStore) Create(ctx context.Context, job *model.Job) (*model.Job, error) {
	if job.ID == (uuid.UUID{}) {
		job.ID = uuid.New()
	}
	job.Status = model.JobStatusQueued
	job.CreatedAt = time.Now().UTC()

	if result := s.getDB(ctx).Create(job); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating job: %w", result.Error)
	}
	return job, nil
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	job := model.NewJobFromId(id)
	result := s.getDB(ctx).First(job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying job: %w", result.Error)
	}
	return job, nil
}

func (s *JobStore) List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (model.JobList, error) {
	var jobs model.JobList
	tx := s.getDB(ctx).Model(&model.Job{})

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}
	if opts != nil {
		for _, fn := range opts.QueryFn {
			tx = fn(tx)
		}
	}

	if result := tx.Find(&jobs); result.Error != nil {
		return nil, result.Error
	}
	return jobs, nil
}

// ClaimNext atomically transitions the oldest queued job to running on behalf
// of workerID. The conditional update keyed on the current status guarantees
// two workers never both claim the same job. Returns ErrRecordNotFound when
// the queue is empty.
func (s *JobStore) ClaimNext(ctx context.Context, workerID string, claimTTL time.Duration) (*model.Job, error) {
	for i := 0; i < claimAttempts; i++ {
		var candidate model.Job
		result := s.getDB(ctx).
			Where("status = ?", model.JobStatusQueued).
			Order("created_at").
			First(&candidate)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return nil, ErrRecordNotFound
			}
			return nil, fmt.Errorf("querying queued jobs: %w", result.Error)
		}

		now := time.Now().UTC()
		expires := now.Add(claimTTL)
		res := s.getDB(ctx).Model(&model.Job{}).
			Where("id = ? AND status = ?", candidate.ID, model.JobStatusQueued).
			Updates(map[string]interface{}{
				"status":           model.JobStatusRunning,
				"claimed_by":       workerID,
				"claim_expires_at": expires,
				// started_at is set exactly once, on first entry to running
				"started_at": gorm.Expr("COALESCE(started_at, ?)", now),
			})
		if res.Error != nil {
			return nil, fmt.Errorf("claiming job: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return s.Get(ctx, candidate.ID)
		}
		// lost the race for this candidate, try the next one
	}
	return nil, ErrRecordNotFound
}

// Touch refreshes the claim on a running job owned by workerID. It doubles as
// an ownership check: ErrInvalidTransition means the job was cancelled or
// reclaimed and the worker no longer owns it.
func (s *JobStore) Touch(ctx context.Context, id uuid.UUID, workerID string, claimTTL time.Duration) error {
	res := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ? AND claimed_by = ?", id, model.JobStatusRunning, workerID).
		Update("claim_expires_at", time.Now().UTC().Add(claimTTL))
	if res.Error != nil {
		return fmt.Errorf("touching job claim: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// Complete transitions a running job owned by workerID to completed.
// Result and error are mutually exclusive so the error column is cleared.
func (s *JobStore) Complete(ctx context.Context, id uuid.UUID, workerID string, result []byte) error {
	return s.finish(ctx, id, workerID, map[string]interface{}{
		"status":           model.JobStatusCompleted,
		"result":           result,
		"error":            nil,
		"completed_at":     time.Now().UTC(),
		"claimed_by":       nil,
		"claim_expires_at": nil,
	})
}

// Fail transitions a running job owned by workerID to failed, retaining the
// causing error verbatim.
func (s *JobStore) Fail(ctx context.Context, id uuid.UUID, workerID string, jobErr string) error {
	return s.finish(ctx, id, workerID, map[string]interface{}{
		"status":           model.JobStatusFailed,
		"result":           nil,
		"error":            jobErr,
		"completed_at":     time.Now().UTC(),
		"claimed_by":       nil,
		"claim_expires_at": nil,
	})
}

// Requeue puts a running job back in the queue for another attempt,
// consuming one retry.
func (s *JobStore) Requeue(ctx context.Context, id uuid.UUID, workerID string, jobErr string) error {
	return s.finish(ctx, id, workerID, map[string]interface{}{
		"status":           model.JobStatusQueued,
		"error":            jobErr,
		"retry_count":      gorm.Expr("retry_count + 1"),
		"claimed_by":       nil,
		"claim_expires_at": nil,
	})
}

func (s *JobStore) finish(ctx context.Context, id uuid.UUID, workerID string, updates map[string]interface{}) error {
	res := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ? AND claimed_by = ?", id, model.JobStatusRunning, workerID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("updating job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// either the job vanished, was cancelled, or the claim expired
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// Cancel is immediate for queued jobs and cooperative for running ones: the
// row transitions right away, the claim-holder finds out when its conditional
// update misses.
func (s *JobStore) Cancel(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	res := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND status IN ?", id, []string{model.JobStatusQueued, model.JobStatusRunning}).
		Updates(map[string]interface{}{
			"status":           model.JobStatusCancelled,
			"completed_at":     time.Now().UTC(),
			"claimed_by":       nil,
			"claim_expires_at": nil,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("cancelling job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		// already terminal
		return job, ErrInvalidTransition
	}
	return s.Get(ctx, id)
}

// ReclaimStale returns running jobs whose claim expired back to the queue so
// that a crashed worker never strands a job. A retry is consumed on reclaim.
func (s *JobStore) ReclaimStale(ctx context.Context, now time.Time) (int64, error) {
	res := s.getDB(ctx).Model(&model.Job{}).
		Where("status = ? AND claim_expires_at IS NOT NULL AND claim_expires_at < ?", model.JobStatusRunning, now).
		Updates(map[string]interface{}{
			"status":           model.JobStatusQueued,
			"error":            "claim expired, job reclaimed",
			"retry_count":      gorm.Expr("retry_count + 1"),
			"claimed_by":       nil,
			"claim_expires_at": nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("reclaiming stale jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *JobStore) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	result := s.getDB(ctx).Model(&model.Job{}).Where("status = ?", status).Count(&count)
	if result.Error != nil {
		return 0, result.Error
	}
	return count, nil
}

func (s *JobStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
