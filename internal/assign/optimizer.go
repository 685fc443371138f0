package assign

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchyard/internal/task"
)

// ErrNoEligibleAgent means no registered agent can take the task right now.
// The caller requeues the task rather than failing it.
var ErrNoEligibleAgent = errors.New("no eligible agent")

// Composite score weights.
const (
	weightCapability  = 0.3
	weightPerformance = 0.3
	weightLoad        = 0.2
	weightTrust       = 0.2

	minTrust = 0.5
)

// SuccessPredictor estimates the probability that an agent completes a task
// successfully. Deployments inject their own model; StaticPredictor is the
// provided baseline.
type SuccessPredictor interface {
	Predict(def *task.Definition, agent *Agent) float64
}

// StaticPredictor blends the agent's historical performance for the task's
// first required capability with its trust score.
type StaticPredictor struct{}

func (StaticPredictor) Predict(def *task.Definition, agent *Agent) float64 {
	perf := 0.5
	if len(def.Requirements.Capabilities) > 0 {
		if p, ok := agent.Performance[def.Requirements.Capabilities[0]]; ok {
			perf = p
		}
	}
	return 0.6*perf + 0.4*agent.TrustScore
}

// PredictorFunc adapts a function into a SuccessPredictor.
type PredictorFunc func(def *task.Definition, agent *Agent) float64

func (f PredictorFunc) Predict(def *task.Definition, agent *Agent) float64 { return f(def, agent) }

// Scored pairs an agent with its composite score for one task.
type Scored struct {
	AgentID string  `json:"agent_id"`
	Score   float64 `json:"score"`
}

// ResourceAllocation is the clipped resource grant attached to an
// assignment.
type ResourceAllocation struct {
	CPU      float64       `json:"cpu"`
	MemoryMB int           `json:"memory_mb"`
	Timeout  time.Duration `json:"timeout"`
}

// EscalationTrigger fires a monitoring action after a quiet period.
type EscalationTrigger struct {
	After  time.Duration `json:"after"`
	Action string        `json:"action"` // warn, reassign
	Reason string        `json:"reason"`
}

// MonitoringPlan schedules progress checks and escalations for a running
// assignment.
type MonitoringPlan struct {
	ProgressEvery    time.Duration       `json:"progress_every"`
	PerformanceEvery time.Duration       `json:"performance_every"`
	Escalations      []EscalationTrigger `json:"escalations"`
}

// Assignment binds a task to an agent while the task runs. It is removed on
// completion, failure, cancellation, or reassignment.
type Assignment struct {
	TaskID       string             `json:"task_id"`
	AgentID      string             `json:"agent_id"`
	Confidence   float64            `json:"confidence"`
	Reasoning    []string           `json:"reasoning"`
	Alternatives []Scored           `json:"alternatives,omitempty"`
	Resources    ResourceAllocation `json:"resources"`
	Quality      float64            `json:"quality"`
	Monitoring   MonitoringPlan     `json:"monitoring"`
	AssignedAt   time.Time          `json:"assigned_at"`
	Estimate     time.Duration      `json:"estimate"`
}

// Optimizer scores eligible agents and produces assignments.
type Optimizer struct {
	fleet     *Fleet
	predictor SuccessPredictor
}

// NewOptimizer creates an optimizer over the fleet. A nil predictor falls
// back to StaticPredictor.
func NewOptimizer(fleet *Fleet, predictor SuccessPredictor) *Optimizer {
	if predictor == nil {
		predictor = StaticPredictor{}
	}
	return &Optimizer{fleet: fleet, predictor: predictor}
}

// eligible reports whether the agent may take the task at all: every
// required capability, load headroom, not excluded, trust at or above the
// floor, and not declared unavailable.
func eligible(a *Agent, def *task.Definition, excluded map[string]bool) bool {
	if excluded[a.ID] {
		return false
	}
	if a.Availability == Unavailable {
		return false
	}
	if a.CurrentLoad >= a.MaxLoad {
		return false
	}
	if a.TrustScore < minTrust {
		return false
	}
	return a.HasAll(def.Requirements.Capabilities)
}

// score computes the composite assignment score for an eligible agent.
func (o *Optimizer) score(a *Agent, def *task.Definition) float64 {
	capMatch := 1.0
	if len(a.Capabilities) > 0 && len(def.Requirements.Capabilities) > 0 {
		// Exact-fit agents beat generalists slightly.
		capMatch = float64(len(def.Requirements.Capabilities)) / float64(len(a.Capabilities))
		if capMatch > 1 {
			capMatch = 1
		}
	}

	perf := 0.5
	if len(def.Requirements.Capabilities) > 0 {
		if p, ok := a.Performance[def.Requirements.Capabilities[0]]; ok {
			perf = p
		}
	}

	loadAvail := 1 - a.Utilization()

	return weightCapability*capMatch +
		weightPerformance*perf +
		weightLoad*loadAvail +
		weightTrust*a.TrustScore
}

// Assign picks the best agent for the task, increments its load, and
// returns the assignment record. excluded lists agent IDs that must not be
// considered (e.g. the previous assignee on reassignment). Returns
// ErrNoEligibleAgent when nothing qualifies.
func (o *Optimizer) Assign(def *task.Definition, excluded []string, now time.Time) (*Assignment, error) {
	skip := make(map[string]bool, len(excluded))
	for _, id := range excluded {
		skip[id] = true
	}

	ranked := o.Rank(def, skip)
	if len(ranked) == 0 {
		return nil, fmt.Errorf("assign: task %s: %w", def.ID, ErrNoEligibleAgent)
	}

	best := ranked[0]
	agent, _ := o.fleet.Get(best.AgentID)
	if err := o.fleet.IncrementLoad(best.AgentID); err != nil {
		return nil, fmt.Errorf("assign: task %s: %w", def.ID, err)
	}

	alternatives := ranked[1:]
	if len(alternatives) > 3 {
		alternatives = alternatives[:3]
	}

	reasoning := []string{
		fmt.Sprintf("agent %s scored %.3f across %d eligible agents", best.AgentID, best.Score, len(ranked)),
		fmt.Sprintf("capabilities %v cover requirements %v", agent.Capabilities, def.Requirements.Capabilities),
		fmt.Sprintf("load %d/%d, trust %.2f", agent.CurrentLoad, agent.MaxLoad, agent.TrustScore),
	}

	return &Assignment{
		TaskID:       def.ID,
		AgentID:      best.AgentID,
		Confidence:   o.predictor.Predict(def, &agent),
		Reasoning:    reasoning,
		Alternatives: alternatives,
		Resources:    clipResources(def),
		Quality:      def.Requirements.MinQuality,
		Monitoring: MonitoringPlan{
			ProgressEvery:    time.Minute,
			PerformanceEvery: 5 * time.Minute,
			Escalations: []EscalationTrigger{
				{After: 15 * time.Minute, Action: "reassign", Reason: "no progress"},
			},
		},
		AssignedAt: now,
		Estimate:   def.Estimate,
	}, nil
}

// Rank returns all eligible agents ordered by score descending, ties broken
// by fleet order (sorted agent ID).
func (o *Optimizer) Rank(def *task.Definition, excluded map[string]bool) []Scored {
	var ranked []Scored
	for _, a := range o.fleet.Snapshot() {
		agent := a
		if !eligible(&agent, def, excluded) {
			continue
		}
		ranked = append(ranked, Scored{AgentID: agent.ID, Score: o.score(&agent, def)})
	}
	// Stable sort keeps the first-index tie-break over sorted IDs.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].Score > ranked[j-1].Score; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	return ranked
}

// clipResources bounds the task's requested resources to sane grants.
func clipResources(def *task.Definition) ResourceAllocation {
	cpu := def.Requirements.CPU
	if cpu <= 0 {
		cpu = 1
	}
	if cpu > 8 {
		cpu = 8
	}
	mem := def.Requirements.MemoryMB
	if mem <= 0 {
		mem = 256
	}
	if mem > 16384 {
		mem = 16384
	}
	timeout := def.Constraints.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if timeout > time.Hour {
		timeout = time.Hour
	}
	return ResourceAllocation{CPU: cpu, MemoryMB: mem, Timeout: timeout}
}
