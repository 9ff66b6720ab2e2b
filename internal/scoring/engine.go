// Package scoring turns an enrichment result set into a 0-100 pain score.
//
// Scoring is a pure function of its input: the same result set always yields
// the same score and signal list. Missing or failed adapter results simply
// contribute no signal; partial data degrades confidence downstream, not the
// score's validity.
package scoring

import (
	"encoding/json"
	"sort"

	"github.com/riselocal/leadqual/internal/enrich"
)

// Signal is one triggered, weighted observation about a lead.
type Signal struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

// Rule inspects the result set and decides whether its signal fires.
type Rule struct {
	Name    string
	Weight  int
	Trigger func(rs enrich.ResultSet) bool
}

type Engine struct {
	rules []Rule
}

func NewEngine(rules []Rule) *Engine {
	return &Engine{rules: rules}
}

// Score sums the weights of every triggered rule, clamped to [0,100].
// Signals are ordered by descending weight (name as tiebreak) so downstream
// rationale text is deterministic.
func (e *Engine) Score(rs enrich.ResultSet) (int, []Signal) {
	score := 0
	signals := make([]Signal, 0, len(e.rules))
	for _, rule := range e.rules {
		if rule.Trigger(rs) {
			score += rule.Weight
			signals = append(signals, Signal{Name: rule.Name, Weight: rule.Weight})
		}
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].Weight != signals[j].Weight {
			return signals[i].Weight > signals[j].Weight
		}
		return signals[i].Name < signals[j].Name
	})
	return score, signals
}

// field decodes one adapter's payload and plucks a single field. The boolean
// is false whenever the adapter failed, the payload is malformed or the field
// is absent.
func field(rs enrich.ResultSet, adapter, name string) (interface{}, bool) {
	data := rs.Data(adapter)
	if data == nil {
		return nil, false
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, false
	}
	v, ok := payload[name]
	return v, ok
}

func numberField(rs enrich.ResultSet, adapter, name string) (float64, bool) {
	v, ok := field(rs, adapter, name)
	if !ok {
		return 0, false
	}
	n, ok := v.(float64)
	return n, ok
}

func boolField(rs enrich.ResultSet, adapter, name string) (bool, bool) {
	v, ok := field(rs, adapter, name)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func stringField(rs enrich.ResultSet, adapter, name string) (string, bool) {
	v, ok := field(rs, adapter, name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
