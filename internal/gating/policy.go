// Package gating maps a lead score to an accept/reject/escalate outcome
// using two configured thresholds.
package gating

import (
	"fmt"
	"strings"

	"github.com/riselocal/leadqual/internal/scoring"
)

// Outcome of gating a score. Every score in [0,100] maps to exactly one.
type Outcome string

const (
	AutoReject Outcome = "auto_reject"
	AutoAccept Outcome = "auto_accept"
	Escalate   Outcome = "escalate"
)

// RuleConfidence is the fixed confidence recorded for rule-based decisions.
// The 0.0-1.0 spread is reserved for council verdicts.
const RuleConfidence = 1.0

type Policy struct {
	rejectThreshold int
	acceptThreshold int
}

// NewPolicy validates threshold ordering up front so a misconfigured engine
// fails at startup, not at decision time.
func NewPolicy(rejectThreshold, acceptThreshold int) (Policy, error) {
	if rejectThreshold >= acceptThreshold {
		return Policy{}, fmt.Errorf("configuration error: reject threshold %d must be lower than accept threshold %d",
			rejectThreshold, acceptThreshold)
	}
	if rejectThreshold < 0 || acceptThreshold > 100 {
		return Policy{}, fmt.Errorf("configuration error: thresholds must stay within [0,100]")
	}
	return Policy{rejectThreshold: rejectThreshold, acceptThreshold: acceptThreshold}, nil
}

// Gate maps a score to its outcome: at or below the reject threshold rejects,
// at or above the accept threshold accepts, anything between escalates.
func (p Policy) Gate(score int) Outcome {
	switch {
	case score <= p.rejectThreshold:
		return AutoReject
	case score >= p.acceptThreshold:
		return AutoAccept
	default:
		return Escalate
	}
}

// Rationale renders the deterministic explanation attached to rule-based
// decisions: the score and every contributing signal in weight order.
func Rationale(score int, signals []scoring.Signal) string {
	if len(signals) == 0 {
		return fmt.Sprintf("score %d: no signals triggered", score)
	}
	parts := make([]string, 0, len(signals))
	for _, s := range signals {
		parts = append(parts, fmt.Sprintf("%s(+%d)", s.Name, s.Weight))
	}
	return fmt.Sprintf("score %d: %s", score, strings.Join(parts, ", "))
}
