package enrich

import (
	"context"
	"encoding/json"
	"time"
)

// Input is the lead context handed to every enrichment provider.
type Input struct {
	LeadID string            `json:"lead_id"`
	Facts  map[string]string `json:"facts,omitempty"`
}

// Adapter is the uniform contract every enrichment provider implements.
// The coordinator is unaware of adapter internals: it only sees the declared
// timeout, the quota-bearing service name and the structured result.
type Adapter interface {
	// Name is the unique registry key for this adapter.
	Name() string
	// ServiceName is the external service the adapter's calls count against.
	ServiceName() string
	// Timeout is the advertised per-call bound for this provider.
	Timeout() time.Duration
	Invoke(ctx context.Context, input Input) (json.RawMessage, error)
}

// OutcomeKind classifies how a single adapter call resolved.
type OutcomeKind string

const (
	OutcomeSuccess     OutcomeKind = "success"
	OutcomeError       OutcomeKind = "provider_error"
	OutcomeRateLimited OutcomeKind = "rate_limited"
	OutcomeTimedOut    OutcomeKind = "timed_out"
)

// Outcome records one adapter's result. Failures are data, not errors: they
// are absorbed here and never thrown past the coordinator.
type Outcome struct {
	Kind    OutcomeKind     `json:"kind"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Elapsed time.Duration   `json:"elapsed"`
}

// ResultSet maps adapter name to outcome. It always contains one entry per
// requested adapter.
type ResultSet map[string]Outcome

// Succeeded returns the number of successful outcomes.
func (rs ResultSet) Succeeded() int {
	n := 0
	for _, o := range rs {
		if o.Kind == OutcomeSuccess {
			n++
		}
	}
	return n
}

// Data returns the payload of a successful outcome, or nil.
func (rs ResultSet) Data(adapter string) json.RawMessage {
	if o, ok := rs[adapter]; ok && o.Kind == OutcomeSuccess {
		return o.Data
	}
	return nil
}
