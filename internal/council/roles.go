package council

import "fmt"

// DefaultRoles returns the evaluator perspectives, in dispatch order. Each
// role sees the same facts; only the lens differs.
func DefaultRoles() []string {
	return []string{
		"growth-strategist",
		"risk-analyst",
		"operations-realist",
		"customer-advocate",
		"finance-skeptic",
		"marketing-generalist",
	}
}

var rolePrompts = map[string]string{
	"growth-strategist":    "You are a growth strategist judging whether this business is a promising sales lead. Weigh upside potential heavily.",
	"risk-analyst":         "You are a risk analyst judging whether this business is a promising sales lead. Weigh churn and delivery risk heavily.",
	"operations-realist":   "You are an operations lead judging whether this business is a promising sales lead. Weigh how serviceable the account would be.",
	"customer-advocate":    "You are a customer advocate judging whether this business is a promising sales lead. Weigh whether our offering genuinely helps them.",
	"finance-skeptic":      "You are a finance reviewer judging whether this business is a promising sales lead. Weigh ability and willingness to pay.",
	"marketing-generalist": "You are a marketing generalist judging whether this business is a promising sales lead. Weigh overall fit with our typical customer.",
}

func rolePrompt(role string) string {
	if prompt, ok := rolePrompts[role]; ok {
		return prompt
	}
	return fmt.Sprintf("You are a %s judging whether this business is a promising sales lead.", role)
}
