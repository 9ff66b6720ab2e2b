// Package service implements the operations behind the HTTP handlers. It
// owns request-level validation and translates store errors into the typed
// errors the transport maps to status codes.
package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	api "github.com/riselocal/leadqual/api/v1alpha1"
	"github.com/riselocal/leadqual/internal/audit"
	"github.com/riselocal/leadqual/internal/jobs"
	"github.com/riselocal/leadqual/internal/store"
	"github.com/riselocal/leadqual/internal/store/model"
	"github.com/riselocal/leadqual/pkg/metrics"
	"github.com/riselocal/leadqual/pkg/requestid"
	"go.uber.org/zap"
)

type JobService struct {
	store store.Store
	audit *audit.Writer
}

func NewJobService(s store.Store, auditWriter *audit.Writer) *JobService {
	return &JobService{store: s, audit: auditWriter}
}

// Submit validates and queues a new job. Parameters are checked structurally
// here so an unrunnable job is rejected at the door, not at claim time.
func (s *JobService) Submit(ctx context.Context, request api.SubmitJobRequest) (api.Job, error) {
	if err := jobs.ValidateParameters(request.Kind, request.Parameters); err != nil {
		return api.Job{}, NewErrInvalidJobRequest(err.Error())
	}

	initiatorType := request.Initiator.Type
	if initiatorType == "" {
		initiatorType = api.InitiatorTypeHuman
	}
	switch initiatorType {
	case api.InitiatorTypeHuman, api.InitiatorTypeAutomationAgent, api.InitiatorTypeAIAgent:
	default:
		return api.Job{}, NewErrInvalidJobRequest("unknown initiator type " + string(initiatorType))
	}

	job, err := s.store.Job().Create(ctx, &model.Job{
		Kind:          string(request.Kind),
		InitiatorName: request.Initiator.Name,
		InitiatorType: string(initiatorType),
		Parameters:    request.Parameters,
	})
	if err != nil {
		return api.Job{}, err
	}

	zap.S().Named("service").Infow("job submitted",
		"job_id", job.ID, "kind", job.Kind, "initiator", job.InitiatorName)
	s.audit.Record(ctx, audit.Entry{
		Actor:        job.InitiatorName,
		ActorType:    job.InitiatorType,
		Action:       "job.submitted",
		ResourceType: "job",
		ResourceID:   job.ID.String(),
		Metadata:     map[string]interface{}{"kind": job.Kind},
	})
	return job.ToApiResource(), nil
}

func (s *JobService) Get(ctx context.Context, id uuid.UUID) (api.Job, error) {
	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return api.Job{}, NewErrJobNotFound(id)
		}
		return api.Job{}, err
	}
	return job.ToApiResource(), nil
}

// List returns jobs newest first, optionally filtered by status and kind.
func (s *JobService) List(ctx context.Context, status, kind string) (api.JobList, error) {
	filter := store.NewJobQueryFilter()
	if status != "" {
		filter = filter.ByStatus(status)
	}
	if kind != "" {
		filter = filter.ByKind(kind)
	}
	opts := store.NewJobQueryOptions().WithSortOrder(store.SortByCreatedTimeDesc)

	jobList, err := s.store.Job().List(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return jobList.ToApiResource(), nil
}

// Cancel is immediate for queued jobs and cooperative for running ones: the
// claim holder discovers the cancellation when its finishing update misses.
func (s *JobService) Cancel(ctx context.Context, id uuid.UUID) (api.Job, error) {
	job, err := s.store.Job().Cancel(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrRecordNotFound):
			return api.Job{}, NewErrJobNotFound(id)
		case errors.Is(err, store.ErrInvalidTransition):
			return api.Job{}, NewErrJobAlreadyFinalized(id, job.Status)
		default:
			return api.Job{}, err
		}
	}

	// no authentication layer in front of us, the request id is the best
	// caller identity available
	actor := requestid.FromContext(ctx)
	zap.S().Named("service").Infow("job cancelled", "job_id", id, "request_id", actor)
	metrics.IncreaseJobsTotalMetric(job.Kind, model.JobStatusCancelled)
	s.audit.Record(ctx, audit.Entry{
		Actor:        actor,
		ActorType:    audit.ActorTypeHuman,
		Action:       "job.cancelled",
		ResourceType: "job",
		ResourceID:   id.String(),
	})
	return job.ToApiResource(), nil
}
