// Package jobs executes orchestrated work: it claims queued jobs, runs the
// kind-specific pipeline and drives every state transition through the store.
package jobs

import (
	"encoding/json"
	"fmt"

	api "github.com/riselocal/leadqual/api/v1alpha1"
)

// QualificationParameters drive the full qualification pipeline for one lead.
// An empty adapter list selects every registered adapter.
type QualificationParameters struct {
	LeadID   string            `json:"lead_id"`
	Adapters []string          `json:"adapters,omitempty"`
	Facts    map[string]string `json:"facts,omitempty"`
}

// EnrichmentParameters run the fan-out alone, without scoring or gating.
type EnrichmentParameters struct {
	LeadID   string            `json:"lead_id"`
	Adapters []string          `json:"adapters,omitempty"`
	Facts    map[string]string `json:"facts,omitempty"`
}

// DiscoveryParameters query one discovery provider for candidate leads.
type DiscoveryParameters struct {
	Source string `json:"source"`
	Query  string `json:"query"`
	Limit  int    `json:"limit,omitempty"`
}

// DeliveryParameters hand a qualified lead to a downstream channel.
type DeliveryParameters struct {
	LeadID  string `json:"lead_id"`
	Channel string `json:"channel"`
}

// ValidateParameters rejects a submission whose parameters cannot possibly
// run, before the job is ever queued. The check is structural only; unknown
// adapter or channel names surface at execution time.
func ValidateParameters(kind api.JobKind, raw json.RawMessage) error {
	switch kind {
	case api.JobKindQualification:
		var p QualificationParameters
		if err := unmarshalStrict(raw, &p); err != nil {
			return err
		}
		if p.LeadID == "" {
			return fmt.Errorf("qualification parameters: lead_id is required")
		}
	case api.JobKindEnrichment:
		var p EnrichmentParameters
		if err := unmarshalStrict(raw, &p); err != nil {
			return err
		}
		if p.LeadID == "" {
			return fmt.Errorf("enrichment parameters: lead_id is required")
		}
	case api.JobKindDiscovery:
		var p DiscoveryParameters
		if err := unmarshalStrict(raw, &p); err != nil {
			return err
		}
		if p.Source == "" {
			return fmt.Errorf("discovery parameters: source is required")
		}
		if p.Query == "" {
			return fmt.Errorf("discovery parameters: query is required")
		}
	case api.JobKindDelivery:
		var p DeliveryParameters
		if err := unmarshalStrict(raw, &p); err != nil {
			return err
		}
		if p.LeadID == "" {
			return fmt.Errorf("delivery parameters: lead_id is required")
		}
		if p.Channel == "" {
			return fmt.Errorf("delivery parameters: channel is required")
		}
	default:
		return fmt.Errorf("unknown job kind %q", kind)
	}
	return nil
}

func unmarshalStrict(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("parameters are required")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("malformed parameters: %w", err)
	}
	return nil
}
