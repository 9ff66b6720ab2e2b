// Package v1alpha1 contains the wire types exposed by the lead qualification API.
package v1alpha1

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobKind identifies the unit of work a job performs.
type JobKind string

const (
	JobKindDiscovery     JobKind = "discovery"
	JobKindEnrichment    JobKind = "enrichment"
	JobKindQualification JobKind = "qualification"
	JobKindDelivery      JobKind = "delivery"
)

// JobStatus tracks the lifecycle of a job. Transitions are one-directional:
// queued -> running -> {completed, failed, cancelled}.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// InitiatorType categorizes who created a job.
type InitiatorType string

const (
	InitiatorTypeHuman           InitiatorType = "human"
	InitiatorTypeAutomationAgent InitiatorType = "automation-agent"
	InitiatorTypeAIAgent         InitiatorType = "ai-agent"
)

// DecisionKind identifies what a decision was about.
type DecisionKind string

const (
	DecisionKindQualification    DecisionKind = "qualification"
	DecisionKindScoring          DecisionKind = "scoring"
	DecisionKindRouting          DecisionKind = "routing"
	DecisionKindVariantSelection DecisionKind = "variant_selection"
	DecisionKindCategorization   DecisionKind = "categorization"
)

// EvaluatorType categorizes the evaluator that produced a decision.
type EvaluatorType string

const (
	EvaluatorTypeRuleBased EvaluatorType = "rule-based"
	EvaluatorTypeAIAgent   EvaluatorType = "ai-agent"
	EvaluatorTypeCouncil   EvaluatorType = "council"
)

// Decision outcomes produced by the engine.
const (
	OutcomeAccepted           = "accepted"
	OutcomeRejected           = "rejected"
	OutcomeEscalated          = "escalated"
	OutcomeEscalateUnresolved = "escalate-unresolved"
)

type Job struct {
	Id          uuid.UUID       `json:"id"`
	Kind        JobKind         `json:"kind"`
	Status      JobStatus       `json:"status"`
	Initiator   Initiator       `json:"initiator"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
	RetryCount  int             `json:"retryCount"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

type JobList []Job

type Initiator struct {
	Name string        `json:"name"`
	Type InitiatorType `json:"type" validate:"initiator_type"`
}

type SubmitJobRequest struct {
	Kind       JobKind         `json:"kind" validate:"required,oneof=discovery enrichment qualification delivery"`
	Initiator  Initiator       `json:"initiator"`
	Parameters json.RawMessage `json:"parameters" validate:"required"`
}

type Decision struct {
	Id            uuid.UUID       `json:"id"`
	LeadId        string          `json:"leadId"`
	DecisionKind  DecisionKind    `json:"decisionKind"`
	EvaluatorName string          `json:"evaluatorName"`
	EvaluatorType EvaluatorType   `json:"evaluatorType"`
	Outcome       string          `json:"outcome"`
	Confidence    float64         `json:"confidence"`
	Rationale     string          `json:"rationale"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	Override      *Override       `json:"override,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type Override struct {
	By     string    `json:"by"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

type OverrideRequest struct {
	By     string `json:"by" validate:"required,actor_name"`
	Reason string `json:"reason" validate:"required"`
}

type AuditEntry struct {
	Timestamp    time.Time       `json:"timestamp"`
	Actor        string          `json:"actor"`
	ActorType    string          `json:"actorType"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resourceType"`
	ResourceId   string          `json:"resourceId"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	Severity     string          `json:"severity"`
}

type AuditEntryList []AuditEntry

type Error struct {
	Message   string  `json:"message"`
	RequestId *string `json:"requestId,omitempty"`
}
