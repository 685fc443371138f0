package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CoordinationStrategy selects how subtasks coordinate during execution.
type CoordinationStrategy string

const (
	CoordCentralized  CoordinationStrategy = "centralized"
	CoordDistributed  CoordinationStrategy = "distributed"
	CoordHierarchical CoordinationStrategy = "hierarchical"
	CoordPeerToPeer   CoordinationStrategy = "peer-to-peer"
)

// SubTask is one step of a decomposed task. Each subtask is re-queued as its
// own Definition.
type SubTask struct {
	Definition
	Parallelizable bool `json:"parallelizable"`
}

// Phase groups subtasks that can start together.
type Phase struct {
	Name     string   `json:"name"`
	TaskIDs  []string `json:"task_ids"`
	Parallel bool     `json:"parallel"`
}

// ExecutionPlan orders the phases of a decomposed task and records the
// checkpoints and rollback steps around them.
type ExecutionPlan struct {
	Strategy    string   `json:"strategy"` // sequential, parallel, staged
	Phases      []Phase  `json:"phases"`
	Checkpoints []string `json:"checkpoints"`
	Rollback    []string `json:"rollback"`
}

// Decomposed is the result of splitting a complex task.
type Decomposed struct {
	ParentID     string               `json:"parent_id"`
	SubTasks     []SubTask            `json:"subtasks"`
	Plan         ExecutionPlan        `json:"plan"`
	Coordination CoordinationStrategy `json:"coordination"`
}

// Decompose splits a complex or expert task into dependency-ordered
// subtasks: expert tasks get a leading analysis step that blocks everything
// else, each required capability becomes a parallelizable work step, and an
// integration step depends on all of them. Tasks that do not need
// decomposition are returned unchanged as a single-subtask plan.
func Decompose(def *Definition) *Decomposed {
	if !def.Complexity.NeedsDecomposition() {
		sub := SubTask{Definition: *def}
		return &Decomposed{
			ParentID: def.ID,
			SubTasks: []SubTask{sub},
			Plan: ExecutionPlan{
				Strategy: "sequential",
				Phases:   []Phase{{Name: "execute", TaskIDs: []string{def.ID}}},
			},
			Coordination: CoordCentralized,
		}
	}

	caps := def.Requirements.Capabilities
	if len(caps) == 0 {
		caps = []string{"general"}
	}

	var subs []SubTask
	order := 0

	newSub := func(desc string, deps []string, reqCaps []string, parallel bool) SubTask {
		order++
		sd := *def
		sd.ID = uuid.NewString()
		sd.ParentID = def.ID
		sd.Order = order
		sd.Description = desc
		sd.Complexity = ComplexityModerate
		sd.Requirements.Capabilities = reqCaps
		sd.Dependencies = deps
		sd.Estimate = def.Estimate / time.Duration(len(caps)+2)
		if sd.Estimate <= 0 {
			sd.Estimate = time.Minute
		}
		return SubTask{Definition: sd, Parallelizable: parallel}
	}

	var analysisID string
	if def.Complexity == ComplexityExpert {
		analysis := newSub(
			fmt.Sprintf("analyze: %s", def.Description),
			nil,
			[]string{"analysis"},
			false,
		)
		analysisID = analysis.ID
		subs = append(subs, analysis)
	}

	var workIDs []string
	for _, c := range caps {
		var deps []string
		if analysisID != "" {
			deps = []string{analysisID}
		}
		work := newSub(
			fmt.Sprintf("%s: %s", c, def.Description),
			deps,
			[]string{c},
			true,
		)
		workIDs = append(workIDs, work.ID)
		subs = append(subs, work)
	}

	integration := newSub(
		fmt.Sprintf("integrate: %s", def.Description),
		workIDs,
		caps,
		false,
	)
	subs = append(subs, integration)

	plan := ExecutionPlan{
		Strategy: "staged",
		Phases: []Phase{
			{Name: "work", TaskIDs: workIDs, Parallel: true},
			{Name: "integrate", TaskIDs: []string{integration.ID}},
		},
		Checkpoints: []string{"work-complete", "integration-complete"},
		Rollback:    []string{"discard-integration", "discard-work"},
	}
	if analysisID != "" {
		plan.Phases = append([]Phase{{Name: "analysis", TaskIDs: []string{analysisID}}}, plan.Phases...)
		plan.Checkpoints = append([]string{"analysis-complete"}, plan.Checkpoints...)
		plan.Rollback = append(plan.Rollback, "discard-analysis")
	}

	coordination := CoordDistributed
	if def.Complexity == ComplexityExpert {
		coordination = CoordHierarchical
	}

	return &Decomposed{
		ParentID:     def.ID,
		SubTasks:     subs,
		Plan:         plan,
		Coordination: coordination,
	}
}
