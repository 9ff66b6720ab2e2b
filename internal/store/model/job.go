package model

import (
	"encoding/json"
	"time"

	api "github.com/riselocal/leadqual/api/v1alpha1"
	"github.com/google/uuid"
)

// Job status constants. Transitions are monotonic:
// queued -> running -> {completed, failed, cancelled}.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

type Job struct {
	ID             uuid.UUID `gorm:"primaryKey"`
	Kind           string    `gorm:"index;not null"`
	Status         string    `gorm:"index;not null"`
	InitiatorName  string
	InitiatorType  string
	Parameters     []byte `gorm:"type:jsonb"`
	Result         []byte `gorm:"type:jsonb"`
	Error          *string
	RetryCount     int `gorm:"not null;default:0"`
	ClaimedBy      *string
	ClaimExpiresAt *time.Time
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

type JobList []Job

func NewJobFromId(id uuid.UUID) *Job {
	return &Job{ID: id}
}

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}

// IsTerminal reports whether no further transition is allowed.
func (j Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

func (j Job) ToApiResource() api.Job {
	job := api.Job{
		Id:     j.ID,
		Kind:   api.JobKind(j.Kind),
		Status: api.JobStatus(j.Status),
		Initiator: api.Initiator{
			Name: j.InitiatorName,
			Type: api.InitiatorType(j.InitiatorType),
		},
		RetryCount:  j.RetryCount,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		Error:       j.Error,
	}
	if len(j.Parameters) > 0 {
		job.Parameters = json.RawMessage(j.Parameters)
	}
	if len(j.Result) > 0 {
		job.Result = json.RawMessage(j.Result)
	}
	return job
}

func (jl JobList) ToApiResource() api.JobList {
	jobs := make(api.JobList, 0, len(jl))
	for _, j := range jl {
		jobs = append(jobs, j.ToApiResource())
	}
	return jobs
}
