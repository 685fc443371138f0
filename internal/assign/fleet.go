// Package assign matches queued tasks to capable agents. Eligibility gates
// (capabilities, load headroom, trust) run before scoring; the highest
// composite score wins with a first-index tie-break over the sorted fleet.
package assign

import (
	"fmt"
	"sort"
	"sync"
)

// Availability is an agent's declared readiness.
type Availability string

const (
	Available   Availability = "available"
	Busy        Availability = "busy"
	Unavailable Availability = "unavailable"
)

// Agent is a registered worker's capability profile.
type Agent struct {
	ID           string             `json:"id"`
	Capabilities []string           `json:"capabilities"`
	CurrentLoad  int                `json:"current_load"`
	MaxLoad      int                `json:"max_load"`
	Performance  map[string]float64 `json:"performance"` // task type -> historical score 0..1
	TrustScore   float64            `json:"trust_score"`
	Availability Availability       `json:"availability"`
}

// Utilization returns current load as a fraction of max load.
func (a *Agent) Utilization() float64 {
	if a.MaxLoad <= 0 {
		return 1
	}
	return float64(a.CurrentLoad) / float64(a.MaxLoad)
}

// HasAll reports whether the agent declares every capability in caps.
func (a *Agent) HasAll(caps []string) bool {
	for _, c := range caps {
		found := false
		for _, have := range a.Capabilities {
			if have == c {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Fleet is the agent capability registry.
type Fleet struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewFleet creates an empty fleet.
func NewFleet() *Fleet {
	return &Fleet{agents: make(map[string]*Agent)}
}

// Register adds or replaces an agent profile.
func (f *Fleet) Register(a Agent) error {
	if a.ID == "" {
		return fmt.Errorf("assign: agent id is required")
	}
	if a.MaxLoad <= 0 {
		a.MaxLoad = 1
	}
	if a.CurrentLoad > a.MaxLoad {
		return fmt.Errorf("assign: agent %s current load %d exceeds max %d", a.ID, a.CurrentLoad, a.MaxLoad)
	}
	if a.Availability == "" {
		a.Availability = Available
	}
	f.mu.Lock()
	f.agents[a.ID] = &a
	f.mu.Unlock()
	return nil
}

// Remove deletes an agent. Returns true if it existed.
func (f *Fleet) Remove(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.agents[id]
	delete(f.agents, id)
	return ok
}

// Get returns a copy of the agent profile.
func (f *Fleet) Get(id string) (Agent, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.agents[id]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

// IncrementLoad adds one unit of load. Load never exceeds max; assignment
// must have checked headroom first.
func (f *Fleet) IncrementLoad(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	if !ok {
		return fmt.Errorf("assign: unknown agent %s", id)
	}
	if a.CurrentLoad >= a.MaxLoad {
		return fmt.Errorf("assign: agent %s at max load %d", id, a.MaxLoad)
	}
	a.CurrentLoad++
	return nil
}

// DecrementLoad removes one unit of load, flooring at zero.
func (f *Fleet) DecrementLoad(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.agents[id]; ok && a.CurrentLoad > 0 {
		a.CurrentLoad--
	}
}

// SetAvailability updates an agent's declared readiness.
func (f *Fleet) SetAvailability(id string, av Availability) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	if !ok {
		return fmt.Errorf("assign: unknown agent %s", id)
	}
	a.Availability = av
	return nil
}

// RecordPerformance folds an observed score for a task type into the
// agent's profile with an exponential moving average.
func (f *Fleet) RecordPerformance(id, taskType string, score float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	if !ok {
		return
	}
	if a.Performance == nil {
		a.Performance = make(map[string]float64)
	}
	prev, seen := a.Performance[taskType]
	if !seen {
		a.Performance[taskType] = score
		return
	}
	a.Performance[taskType] = 0.7*prev + 0.3*score
}

// AdjustTrust shifts an agent's trust score, clamped to [0, 1].
func (f *Fleet) AdjustTrust(id string, delta float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	if !ok {
		return
	}
	a.TrustScore += delta
	if a.TrustScore < 0 {
		a.TrustScore = 0
	}
	if a.TrustScore > 1 {
		a.TrustScore = 1
	}
}

// Snapshot returns copies of all agents sorted by ID.
func (f *Fleet) Snapshot() []Agent {
	f.mu.RLock()
	out := make([]Agent, 0, len(f.agents))
	for _, a := range f.agents {
		out = append(out, *a)
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered agents.
func (f *Fleet) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.agents)
}
