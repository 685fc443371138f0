// Package task defines work items, the priority queue they wait in, and the
// decomposer that splits complex work into dependency-ordered subtasks.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority orders tasks in the queue via a static weight table.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// weights is the static priority weight table.
var weights = map[Priority]int{
	PriorityCritical: 5,
	PriorityHigh:     4,
	PriorityMedium:   3,
	PriorityNormal:   2,
	PriorityLow:      1,
}

// Weight returns the queue weight for a priority; unknown priorities weigh
// the same as normal.
func (p Priority) Weight() int {
	if w, ok := weights[p]; ok {
		return w
	}
	return weights[PriorityNormal]
}

// Complexity classifies how much decomposition a task needs.
type Complexity string

const (
	ComplexityTrivial  Complexity = "trivial"
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
	ComplexityExpert   Complexity = "expert"
)

// NeedsDecomposition reports whether tasks of this complexity must be split
// before queueing.
func (c Complexity) NeedsDecomposition() bool {
	return c == ComplexityComplex || c == ComplexityExpert
}

// Requirements describes what an agent needs to run the task.
type Requirements struct {
	Capabilities []string `json:"capabilities"`
	CPU          float64  `json:"cpu,omitempty"`
	MemoryMB     int      `json:"memory_mb,omitempty"`
	MinQuality   float64  `json:"min_quality,omitempty"`
}

// Constraints bounds task execution.
type Constraints struct {
	MaxRetries    int           `json:"max_retries"`
	Timeout       time.Duration `json:"timeout"`
	Isolation     string        `json:"isolation,omitempty"`      // none, sandbox, vm
	SecurityLevel string        `json:"security_level,omitempty"` // low, standard, high
}

// Definition is a unit of schedulable work.
type Definition struct {
	ID           string        `json:"id"`
	ParentID     string        `json:"parent_id,omitempty"`
	Order        int           `json:"order,omitempty"`
	Description  string        `json:"description"`
	Priority     Priority      `json:"priority"`
	Complexity   Complexity    `json:"complexity"`
	Requirements Requirements  `json:"requirements"`
	Constraints  Constraints   `json:"constraints"`
	Dependencies []string      `json:"dependencies,omitempty"`
	Estimate     time.Duration `json:"estimate,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// NewDefinition creates a task with defaults filled in.
func NewDefinition(description string, priority Priority, complexity Complexity) *Definition {
	if priority == "" {
		priority = PriorityNormal
	}
	if complexity == "" {
		complexity = ComplexitySimple
	}
	return &Definition{
		ID:          uuid.NewString(),
		Description: description,
		Priority:    priority,
		Complexity:  complexity,
		Constraints: Constraints{MaxRetries: 3, Timeout: 5 * time.Minute},
		Estimate:    time.Minute,
		CreatedAt:   time.Now(),
	}
}

// Validate checks structural invariants before queueing.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("task: id is required")
	}
	if d.Priority != "" {
		if _, ok := weights[d.Priority]; !ok {
			return fmt.Errorf("task: unknown priority %q", d.Priority)
		}
	}
	if d.Constraints.MaxRetries < 0 {
		return fmt.Errorf("task: max retries must be >= 0")
	}
	return nil
}
