package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	api "github.com/riselocal/leadqual/api/v1alpha1"
	"github.com/riselocal/leadqual/internal/audit"
	"github.com/riselocal/leadqual/internal/council"
	"github.com/riselocal/leadqual/internal/enrich"
	"github.com/riselocal/leadqual/internal/gating"
	"github.com/riselocal/leadqual/internal/scoring"
	"github.com/riselocal/leadqual/internal/store"
	"github.com/riselocal/leadqual/internal/store/model"
	"github.com/riselocal/leadqual/pkg/metrics"
	"go.uber.org/zap"
)

// Qualifier runs the full qualification pipeline for one lead: enrichment
// fan-out, deterministic scoring, gating, and a council deliberation for
// scores the gate cannot resolve. The job completes only after the decision
// is durably written; a persist failure fails the job, it never completes
// without its decision. The persist itself runs in a transaction that
// re-asserts claim ownership, so a job cancelled while running never leaves
// a decision behind.
type Qualifier struct {
	store          store.Store
	registry       *enrich.Registry
	coordinator    *enrich.Coordinator
	scorer         *scoring.Engine
	policy         gating.Policy
	council        *council.Council
	audit          *audit.Writer
	evaluators     int
	perCallTimeout time.Duration
	overallTimeout time.Duration
	claimTTL       time.Duration
}

type QualifierOptions struct {
	Evaluators     int
	PerCallTimeout time.Duration
	OverallTimeout time.Duration
	ClaimTTL       time.Duration
}

func NewQualifier(
	s store.Store,
	registry *enrich.Registry,
	coordinator *enrich.Coordinator,
	scorer *scoring.Engine,
	policy gating.Policy,
	c *council.Council,
	auditWriter *audit.Writer,
	opts QualifierOptions,
) *Qualifier {
	return &Qualifier{
		store:          s,
		registry:       registry,
		coordinator:    coordinator,
		scorer:         scorer,
		policy:         policy,
		council:        c,
		audit:          auditWriter,
		evaluators:     opts.Evaluators,
		perCallTimeout: opts.PerCallTimeout,
		overallTimeout: opts.OverallTimeout,
		claimTTL:       opts.ClaimTTL,
	}
}

// decisionMetadata is persisted alongside every qualification decision so the
// full reasoning chain stays reconstructable from the store alone.
type decisionMetadata struct {
	JobID      string            `json:"job_id"`
	Score      int               `json:"score"`
	Signals    []scoring.Signal  `json:"signals"`
	Enrichment map[string]string `json:"enrichment"`
	Votes      []council.Vote    `json:"votes,omitempty"`
}

func (q *Qualifier) Run(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	logger := zap.S().Named("qualifier")

	var params QualificationParameters
	if err := json.Unmarshal(job.Parameters, &params); err != nil {
		return nil, Permanent(fmt.Errorf("malformed parameters: %w", err))
	}

	adapters, err := q.registry.Select(params.Adapters)
	if err != nil {
		return nil, Permanent(err)
	}

	results := q.coordinator.Gather(ctx, enrich.Input{LeadID: params.LeadID, Facts: params.Facts},
		adapters, q.perCallTimeout, q.overallTimeout)

	score, signals := q.scorer.Score(results)
	gate := q.policy.Gate(score)
	logger.Infow("lead gated",
		"lead_id", params.LeadID,
		"score", score,
		"gate", gate,
		"enriched", results.Succeeded(),
		"of", len(adapters))

	evaluatorName := "gating-policy"
	evaluatorType := api.EvaluatorTypeRuleBased
	outcome := api.OutcomeRejected
	confidence := gating.RuleConfidence
	rationale := gating.Rationale(score, signals)
	var votes []council.Vote

	switch gate {
	case gating.AutoAccept:
		outcome = api.OutcomeAccepted
	case gating.AutoReject:
		outcome = api.OutcomeRejected
	case gating.Escalate:
		facts, err := councilFacts(params, score, signals, results)
		if err != nil {
			return nil, err
		}
		verdict := q.council.Deliberate(ctx, params.LeadID, facts, q.evaluators)
		evaluatorName = "council"
		evaluatorType = api.EvaluatorTypeCouncil
		outcome = verdict.Outcome
		confidence = verdict.Confidence
		rationale = verdict.Rationale
		votes = verdict.Votes
	}

	enrichmentSummary := make(map[string]string, len(results))
	for name, o := range results {
		enrichmentSummary[name] = string(o.Kind)
	}
	metadata, err := json.Marshal(decisionMetadata{
		JobID:      job.ID.String(),
		Score:      score,
		Signals:    signals,
		Enrichment: enrichmentSummary,
		Votes:      votes,
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling decision metadata: %w", err)
	}

	decision, err := q.persistDecision(ctx, job, &model.Decision{
		LeadID:        params.LeadID,
		DecisionKind:  string(api.DecisionKindQualification),
		EvaluatorName: evaluatorName,
		EvaluatorType: string(evaluatorType),
		Outcome:       outcome,
		Confidence:    confidence,
		Rationale:     rationale,
		Metadata:      metadata,
	})
	if err != nil {
		return nil, err
	}

	metrics.IncreaseDecisionsTotalMetric(decision.DecisionKind, decision.Outcome, decision.EvaluatorType)
	q.audit.Record(ctx, audit.Entry{
		Actor:        evaluatorName,
		ActorType:    audit.ActorTypeSystem,
		Action:       "decision.recorded",
		ResourceType: "decision",
		ResourceID:   decision.ID.String(),
		Metadata: map[string]interface{}{
			"job_id":     job.ID,
			"lead_id":    params.LeadID,
			"outcome":    decision.Outcome,
			"confidence": decision.Confidence,
			"score":      score,
		},
	})

	return json.Marshal(map[string]interface{}{
		"lead_id":     params.LeadID,
		"decision_id": decision.ID,
		"score":       score,
		"signals":     signals,
		"outcome":     decision.Outcome,
		"confidence":  decision.Confidence,
		"enrichment":  enrichmentSummary,
	})
}

// persistDecision writes the decision in one transaction with a claim
// refresh on the job row. The refresh is conditional on the job still being
// running and owned, so a cancellation that already landed rolls the whole
// write back and the lead acquires no decision from the cancelled job.
func (q *Qualifier) persistDecision(ctx context.Context, job *model.Job, decision *model.Decision) (*model.Decision, error) {
	workerID := ""
	if job.ClaimedBy != nil {
		workerID = *job.ClaimedBy
	}

	txCtx, err := q.store.NewTransactionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening decision transaction: %w", err)
	}

	if err := q.store.Job().Touch(txCtx, job.ID, workerID, q.claimTTL); err != nil {
		if _, rbErr := store.Rollback(txCtx); rbErr != nil {
			zap.S().Named("qualifier").Errorw("failed to rollback decision transaction", "error", rbErr)
		}
		if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrRecordNotFound) {
			return nil, Permanent(fmt.Errorf("job %s is no longer running, discarding decision for lead %s", job.ID, decision.LeadID))
		}
		return nil, fmt.Errorf("verifying job claim: %w", err)
	}

	persisted, err := q.store.Decision().Create(txCtx, decision)
	if err != nil {
		if _, rbErr := store.Rollback(txCtx); rbErr != nil {
			zap.S().Named("qualifier").Errorw("failed to rollback decision transaction", "error", rbErr)
		}
		return nil, fmt.Errorf("persisting decision for lead %s: %w", decision.LeadID, err)
	}

	if _, err := store.Commit(txCtx); err != nil {
		return nil, fmt.Errorf("committing decision for lead %s: %w", decision.LeadID, err)
	}
	return persisted, nil
}

// councilFacts renders the shared fact sheet every evaluator receives:
// caller-provided facts, the deterministic score, and the successful
// enrichment payloads. Every evaluator sees exactly the same context.
func councilFacts(params QualificationParameters, score int, signals []scoring.Signal, results enrich.ResultSet) (string, error) {
	enrichment := make(map[string]json.RawMessage)
	for name := range results {
		if data := results.Data(name); data != nil {
			enrichment[name] = data
		}
	}
	sheet := map[string]interface{}{
		"lead_id":    params.LeadID,
		"facts":      params.Facts,
		"score":      score,
		"signals":    signals,
		"enrichment": enrichment,
	}
	raw, err := json.MarshalIndent(sheet, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshalling council facts: %w", err)
	}
	return string(raw), nil
}
