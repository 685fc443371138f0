package consensus

import (
	"encoding/json"
	"fmt"
)

// Evaluator derives the local vote for an incoming proposal. Deployments
// must pick a concrete policy; the engine refuses to start without one.
type Evaluator interface {
	Evaluate(p *Proposal) (Decision, string)
}

// AlwaysAccept votes accept on every proposal. Useful for trusting clusters
// and tests.
type AlwaysAccept struct{}

func (AlwaysAccept) Evaluate(p *Proposal) (Decision, string) {
	return Accept, "policy: always accept"
}

// Threshold accepts proposals whose JSON value carries a numeric field at or
// above Min, rejects those below, and abstains when the field is missing or
// the value is not valid JSON.
type Threshold struct {
	Field string
	Min   float64
}

func (t Threshold) Evaluate(p *Proposal) (Decision, string) {
	var value map[string]any
	if err := json.Unmarshal(p.Value, &value); err != nil {
		return Abstain, fmt.Sprintf("policy: value is not an object: %v", err)
	}
	raw, ok := value[t.Field]
	if !ok {
		return Abstain, fmt.Sprintf("policy: field %q missing", t.Field)
	}
	num, ok := raw.(float64)
	if !ok {
		return Abstain, fmt.Sprintf("policy: field %q is not numeric", t.Field)
	}
	if num >= t.Min {
		return Accept, fmt.Sprintf("policy: %s=%.3f >= %.3f", t.Field, num, t.Min)
	}
	return Reject, fmt.Sprintf("policy: %s=%.3f < %.3f", t.Field, num, t.Min)
}

// Func adapts a plain function into an Evaluator for custom policies.
type Func func(p *Proposal) (Decision, string)

func (f Func) Evaluate(p *Proposal) (Decision, string) { return f(p) }
