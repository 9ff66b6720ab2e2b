package model

import (
	"encoding/json"
	"time"

	api "github.com/riselocal/leadqual/api/v1alpha1"
	"github.com/google/uuid"
)

// Decision is immutable once created, except for the single permitted override.
type Decision struct {
	ID             uuid.UUID `gorm:"primaryKey"`
	LeadID         string    `gorm:"index:decisions_lead_kind;not null"`
	DecisionKind   string    `gorm:"index:decisions_lead_kind;not null"`
	EvaluatorName  string
	EvaluatorType  string
	Outcome        string
	Confidence     float64
	Rationale      string
	Metadata       []byte `gorm:"type:jsonb"`
	OverriddenBy   *string
	OverrideReason *string
	OverriddenAt   *time.Time
	CreatedAt      time.Time
}

type DecisionList []Decision

func (d Decision) String() string {
	val, _ := json.Marshal(d)
	return string(val)
}

func (d Decision) ToApiResource() api.Decision {
	decision := api.Decision{
		Id:            d.ID,
		LeadId:        d.LeadID,
		DecisionKind:  api.DecisionKind(d.DecisionKind),
		EvaluatorName: d.EvaluatorName,
		EvaluatorType: api.EvaluatorType(d.EvaluatorType),
		Outcome:       d.Outcome,
		Confidence:    d.Confidence,
		Rationale:     d.Rationale,
		CreatedAt:     d.CreatedAt,
	}
	if len(d.Metadata) > 0 {
		decision.Metadata = json.RawMessage(d.Metadata)
	}
	if d.OverriddenAt != nil {
		decision.Override = &api.Override{
			By:     *d.OverriddenBy,
			Reason: *d.OverrideReason,
			At:     *d.OverriddenAt,
		}
	}
	return decision
}

func (dl DecisionList) ToApiResource() []api.Decision {
	decisions := make([]api.Decision, 0, len(dl))
	for _, d := range dl {
		decisions = append(decisions, d.ToApiResource())
	}
	return decisions
}
