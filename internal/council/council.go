// Package council resolves escalated leads through a multi-evaluator
// consensus vote. This path is materially slower and costlier than gating
// and is invoked only for genuinely escalated leads.
package council

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/riselocal/leadqual/internal/completion"
	"github.com/riselocal/leadqual/pkg/metrics"
	"go.uber.org/zap"
)

const voteSchema = `{"vote":"accept|reject","score":0,"rationale":"..."}`

// Vote is one evaluator's structured ballot. An evaluator call that errors,
// times out or returns malformed output counts as an abstention, not a vote
// either way.
type Vote struct {
	Evaluator string `json:"evaluator"`
	Vote      string `json:"vote,omitempty"`
	Score     int    `json:"score,omitempty"`
	Rationale string `json:"rationale,omitempty"`
	Abstained bool   `json:"abstained"`
	Error     string `json:"error,omitempty"`
}

// Verdict aggregates the council's ballots into a final outcome.
type Verdict struct {
	Outcome    string
	Confidence float64
	Rationale  string
	Votes      []Vote
}

// Verdict outcomes. Unresolved verdicts are surfaced for manual review, never
// silently defaulted.
const (
	VerdictAccepted   = "accepted"
	VerdictRejected   = "rejected"
	VerdictUnresolved = "escalate-unresolved"
)

type Council struct {
	client           completion.Client
	roles            []string
	evaluatorTimeout time.Duration
}

func New(client completion.Client, roles []string, evaluatorTimeout time.Duration) *Council {
	if len(roles) == 0 {
		roles = DefaultRoles()
	}
	return &Council{client: client, roles: roles, evaluatorTimeout: evaluatorTimeout}
}

type ballot struct {
	index int
	vote  Vote
}

// Deliberate dispatches evaluatorCount independent evaluator calls, each with
// a distinct role but identical facts, and applies the quorum rule to the
// collected ballots. Evaluators run as a bounded set of tasks joined here;
// they share no mutable state.
func (c *Council) Deliberate(ctx context.Context, leadID string, facts string, evaluatorCount int) Verdict {
	if evaluatorCount < 1 {
		evaluatorCount = 1
	}

	votes := make([]Vote, evaluatorCount)
	ballots := make(chan ballot, evaluatorCount)
	for i := 0; i < evaluatorCount; i++ {
		role := c.roles[i%len(c.roles)]
		go func(index int, role string) {
			ballots <- ballot{index: index, vote: c.evaluate(ctx, role, facts)}
		}(i, role)
	}
	for i := 0; i < evaluatorCount; i++ {
		b := <-ballots
		votes[b.index] = b.vote
	}

	verdict := tally(votes)
	zap.S().Named("council").Infow("deliberation finished",
		"lead_id", leadID,
		"evaluators", evaluatorCount,
		"outcome", verdict.Outcome,
		"confidence", verdict.Confidence)
	return verdict
}

func (c *Council) evaluate(ctx context.Context, role string, facts string) Vote {
	vote := Vote{Evaluator: role}

	callCtx, cancel := context.WithTimeout(ctx, c.evaluatorTimeout)
	defer cancel()

	raw, err := c.client.Complete(callCtx, completion.Request{
		Role:         rolePrompt(role),
		Facts:        facts,
		OutputSchema: voteSchema,
	})
	if err != nil {
		vote.Abstained = true
		vote.Error = err.Error()
		metrics.IncreaseCouncilAbstentionsMetric()
		return vote
	}

	var parsed struct {
		Vote      string `json:"vote"`
		Score     int    `json:"score"`
		Rationale string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		vote.Abstained = true
		vote.Error = fmt.Sprintf("malformed evaluator output: %v", err)
		metrics.IncreaseCouncilAbstentionsMetric()
		return vote
	}
	if parsed.Vote != "accept" && parsed.Vote != "reject" {
		vote.Abstained = true
		vote.Error = fmt.Sprintf("evaluator voted %q, expected accept or reject", parsed.Vote)
		metrics.IncreaseCouncilAbstentionsMetric()
		return vote
	}

	vote.Vote = parsed.Vote
	vote.Score = parsed.Score
	vote.Rationale = parsed.Rationale
	return vote
}

// tally applies the quorum rule: accept requires a strict majority of
// non-abstaining votes; so does reject. A tie, or a council of abstentions,
// resolves to escalate-unresolved.
func tally(votes []Vote) Verdict {
	accepts, rejects, counted := 0, 0, 0
	for _, v := range votes {
		if v.Abstained {
			continue
		}
		counted++
		switch v.Vote {
		case "accept":
			accepts++
		case "reject":
			rejects++
		}
	}

	verdict := Verdict{Votes: votes, Rationale: aggregateRationale(votes)}
	switch {
	case counted > 0 && accepts*2 > counted:
		verdict.Outcome = VerdictAccepted
		verdict.Confidence = float64(accepts) / float64(counted)
	case counted > 0 && rejects*2 > counted:
		verdict.Outcome = VerdictRejected
		verdict.Confidence = float64(rejects) / float64(counted)
	default:
		verdict.Outcome = VerdictUnresolved
		verdict.Confidence = 0
	}
	return verdict
}

// aggregateRationale concatenates every evaluator's vote and rationale tagged
// by role, preserving full per-evaluator attribution.
func aggregateRationale(votes []Vote) string {
	lines := make([]string, 0, len(votes))
	for _, v := range votes {
		if v.Abstained {
			lines = append(lines, fmt.Sprintf("[%s] abstained: %s", v.Evaluator, v.Error))
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s] voted %s (score %d): %s", v.Evaluator, v.Vote, v.Score, v.Rationale))
	}
	return strings.Join(lines, "\n")
}
