package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	api "github.com/riselocal/leadqual/api/v1alpha1"
	"github.com/riselocal/leadqual/internal/enrich"
	"github.com/riselocal/leadqual/internal/store"
	"github.com/riselocal/leadqual/internal/store/model"
)

// Runner executes one kind of job. A nil error with the returned payload
// completes the job; a permanent error fails it immediately, any other error
// consumes a retry.
type Runner interface {
	Run(ctx context.Context, job *model.Job) (json.RawMessage, error)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error retrying cannot fix, such as invalid parameters.
func Permanent(err error) error {
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// EnrichmentRunner runs the fan-out alone and records the full result set,
// without scoring or gating. Callers use it to warm enrichment data ahead of
// qualification.
type EnrichmentRunner struct {
	registry       *enrich.Registry
	coordinator    *enrich.Coordinator
	perCallTimeout time.Duration
	overallTimeout time.Duration
}

func NewEnrichmentRunner(registry *enrich.Registry, coordinator *enrich.Coordinator, perCall, overall time.Duration) *EnrichmentRunner {
	return &EnrichmentRunner{
		registry:       registry,
		coordinator:    coordinator,
		perCallTimeout: perCall,
		overallTimeout: overall,
	}
}

func (r *EnrichmentRunner) Run(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	var params EnrichmentParameters
	if err := json.Unmarshal(job.Parameters, &params); err != nil {
		return nil, Permanent(fmt.Errorf("malformed parameters: %w", err))
	}

	adapters, err := r.registry.Select(params.Adapters)
	if err != nil {
		return nil, Permanent(err)
	}

	results := r.coordinator.Gather(ctx, enrich.Input{LeadID: params.LeadID, Facts: params.Facts},
		adapters, r.perCallTimeout, r.overallTimeout)

	return json.Marshal(map[string]interface{}{
		"lead_id":   params.LeadID,
		"succeeded": results.Succeeded(),
		"results":   results,
	})
}

// DiscoveryRunner queries one discovery provider for candidate leads. The
// provider sits in the same closed adapter registry as the enrichment
// services and counts against the same quota windows.
type DiscoveryRunner struct {
	registry       *enrich.Registry
	coordinator    *enrich.Coordinator
	perCallTimeout time.Duration
	overallTimeout time.Duration
}

func NewDiscoveryRunner(registry *enrich.Registry, coordinator *enrich.Coordinator, perCall, overall time.Duration) *DiscoveryRunner {
	return &DiscoveryRunner{
		registry:       registry,
		coordinator:    coordinator,
		perCallTimeout: perCall,
		overallTimeout: overall,
	}
}

func (r *DiscoveryRunner) Run(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	var params DiscoveryParameters
	if err := json.Unmarshal(job.Parameters, &params); err != nil {
		return nil, Permanent(fmt.Errorf("malformed parameters: %w", err))
	}

	source, err := r.registry.Get(params.Source)
	if err != nil {
		return nil, Permanent(err)
	}

	facts := map[string]string{"query": params.Query}
	if params.Limit > 0 {
		facts["limit"] = strconv.Itoa(params.Limit)
	}

	results := r.coordinator.Gather(ctx, enrich.Input{Facts: facts},
		[]enrich.Adapter{source}, r.perCallTimeout, r.overallTimeout)

	outcome := results[source.Name()]
	if outcome.Kind != enrich.OutcomeSuccess {
		return nil, fmt.Errorf("discovery source %s %s: %s", params.Source, outcome.Kind, outcome.Error)
	}

	return json.Marshal(map[string]interface{}{
		"source":     params.Source,
		"query":      params.Query,
		"candidates": outcome.Data,
	})
}

// DeliveryRunner hands an accepted lead to a downstream channel. Leads
// without an accepting qualification decision are never delivered.
type DeliveryRunner struct {
	decisions      store.Decision
	registry       *enrich.Registry
	coordinator    *enrich.Coordinator
	perCallTimeout time.Duration
	overallTimeout time.Duration
}

func NewDeliveryRunner(decisions store.Decision, registry *enrich.Registry, coordinator *enrich.Coordinator, perCall, overall time.Duration) *DeliveryRunner {
	return &DeliveryRunner{
		decisions:      decisions,
		registry:       registry,
		coordinator:    coordinator,
		perCallTimeout: perCall,
		overallTimeout: overall,
	}
}

func (r *DeliveryRunner) Run(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	var params DeliveryParameters
	if err := json.Unmarshal(job.Parameters, &params); err != nil {
		return nil, Permanent(fmt.Errorf("malformed parameters: %w", err))
	}

	decision, err := r.decisions.GetLatest(ctx, params.LeadID, string(api.DecisionKindQualification))
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, Permanent(fmt.Errorf("lead %s has no qualification decision", params.LeadID))
		}
		return nil, err
	}
	if decision.Outcome != api.OutcomeAccepted {
		return nil, Permanent(fmt.Errorf("lead %s is not accepted (latest decision: %s)", params.LeadID, decision.Outcome))
	}

	channel, err := r.registry.Get(params.Channel)
	if err != nil {
		return nil, Permanent(err)
	}

	facts := map[string]string{
		"decision_id": decision.ID.String(),
		"outcome":     decision.Outcome,
		"confidence":  strconv.FormatFloat(decision.Confidence, 'f', 2, 64),
	}
	results := r.coordinator.Gather(ctx, enrich.Input{LeadID: params.LeadID, Facts: facts},
		[]enrich.Adapter{channel}, r.perCallTimeout, r.overallTimeout)

	outcome := results[channel.Name()]
	if outcome.Kind != enrich.OutcomeSuccess {
		return nil, fmt.Errorf("delivery channel %s %s: %s", params.Channel, outcome.Kind, outcome.Error)
	}

	return json.Marshal(map[string]interface{}{
		"lead_id":     params.LeadID,
		"channel":     params.Channel,
		"decision_id": decision.ID,
		"receipt":     outcome.Data,
	})
}
