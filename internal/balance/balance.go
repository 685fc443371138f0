// Package balance watches fleet utilization for imbalance and owns the
// task failure and stuck-task policies. The corrective rebalancing action
// is an injection point; the analysis here only decides when to fire it.
package balance

import (
	"sort"
	"time"

	"github.com/zulandar/switchyard/internal/assign"
	"go.uber.org/zap"
)

// Report is one utilization analysis over the fleet.
type Report struct {
	At          time.Time `json:"at"`
	Agents      int       `json:"agents"`
	Mean        float64   `json:"mean"`
	Overloaded  []string  `json:"overloaded,omitempty"`
	Underloaded []string  `json:"underloaded,omitempty"`
	Severity    float64   `json:"severity"`
	Imbalanced  bool      `json:"imbalanced"`
}

// Rebalancer applies a corrective action to an imbalanced fleet.
type Rebalancer interface {
	Rebalance(r Report) error
}

// RebalancerFunc adapts a plain function to the Rebalancer interface.
type RebalancerFunc func(r Report) error

func (f RebalancerFunc) Rebalance(r Report) error { return f(r) }

// Balancer periodically analyzes fleet utilization. Rebalancing fires only
// when overloaded and underloaded agents exist at the same time and the
// severity clears the threshold.
type Balancer struct {
	fleet      *assign.Fleet
	deviation  float64
	threshold  float64
	rebalancer Rebalancer
	log        *zap.Logger
}

// NewBalancer creates a balancer over the fleet. rebalancer may be nil; the
// balancer then only reports.
func NewBalancer(fleet *assign.Fleet, rebalancer Rebalancer, log *zap.Logger) *Balancer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Balancer{
		fleet:      fleet,
		deviation:  0.3,
		threshold:  0.3,
		rebalancer: rebalancer,
		log:        log,
	}
}

// Analyze computes a utilization report at now. Severity is the mean
// absolute deviation of the out-of-band agents from the fleet mean.
func (b *Balancer) Analyze(now time.Time) Report {
	agents := b.fleet.Snapshot()
	r := Report{At: now, Agents: len(agents)}
	if len(agents) == 0 {
		return r
	}

	var sum float64
	for i := range agents {
		sum += agents[i].Utilization()
	}
	r.Mean = sum / float64(len(agents))

	var devSum float64
	var out int
	for i := range agents {
		dev := agents[i].Utilization() - r.Mean
		switch {
		case dev > b.deviation:
			r.Overloaded = append(r.Overloaded, agents[i].ID)
		case dev < -b.deviation:
			r.Underloaded = append(r.Underloaded, agents[i].ID)
		default:
			continue
		}
		if dev < 0 {
			dev = -dev
		}
		devSum += dev
		out++
	}
	sort.Strings(r.Overloaded)
	sort.Strings(r.Underloaded)

	if out > 0 {
		r.Severity = devSum / float64(out)
	}
	r.Imbalanced = len(r.Overloaded) > 0 && len(r.Underloaded) > 0 && r.Severity > b.threshold
	return r
}

// Check runs one analysis and, on imbalance, hands the report to the
// rebalancer.
func (b *Balancer) Check(now time.Time) (Report, error) {
	r := b.Analyze(now)
	if !r.Imbalanced {
		return r, nil
	}

	b.log.Info("fleet imbalance detected",
		zap.Float64("mean", r.Mean),
		zap.Float64("severity", r.Severity),
		zap.Strings("overloaded", r.Overloaded),
		zap.Strings("underloaded", r.Underloaded))

	if b.rebalancer == nil {
		return r, nil
	}
	return r, b.rebalancer.Rebalance(r)
}
