package task

import (
	"testing"
)

func TestDecompose_SimplePassthrough(t *testing.T) {
	def := NewDefinition("write report", PriorityNormal, ComplexitySimple)
	d := Decompose(def)

	if len(d.SubTasks) != 1 {
		t.Fatalf("simple task split into %d subtasks", len(d.SubTasks))
	}
	if d.SubTasks[0].ID != def.ID {
		t.Error("simple decomposition must keep the original task")
	}
	if d.Coordination != CoordCentralized {
		t.Errorf("Coordination = %v", d.Coordination)
	}
}

func TestDecompose_ComplexPerCapability(t *testing.T) {
	def := NewDefinition("migrate cluster", PriorityHigh, ComplexityComplex)
	def.Requirements.Capabilities = []string{"network", "storage"}

	d := Decompose(def)

	// Two capability work steps plus one integration step.
	if len(d.SubTasks) != 3 {
		t.Fatalf("subtasks = %d, want 3", len(d.SubTasks))
	}
	for _, s := range d.SubTasks {
		if s.ParentID != def.ID {
			t.Errorf("subtask %s parent = %q, want %q", s.ID, s.ParentID, def.ID)
		}
	}

	work := d.SubTasks[:2]
	integration := d.SubTasks[2]
	for _, w := range work {
		if !w.Parallelizable {
			t.Errorf("work step %s not parallelizable", w.Description)
		}
		if len(w.Dependencies) != 0 {
			t.Errorf("complex work step has dependencies: %v", w.Dependencies)
		}
	}
	if integration.Parallelizable {
		t.Error("integration step marked parallelizable")
	}
	if len(integration.Dependencies) != 2 {
		t.Errorf("integration deps = %v, want both work steps", integration.Dependencies)
	}
	if d.Coordination != CoordDistributed {
		t.Errorf("Coordination = %v", d.Coordination)
	}
}

func TestDecompose_ExpertAnalysisBlocksWork(t *testing.T) {
	def := NewDefinition("redesign topology", PriorityCritical, ComplexityExpert)
	def.Requirements.Capabilities = []string{"network"}

	d := Decompose(def)

	// analysis + one work step + integration
	if len(d.SubTasks) != 3 {
		t.Fatalf("subtasks = %d, want 3", len(d.SubTasks))
	}
	analysis := d.SubTasks[0]
	work := d.SubTasks[1]
	if len(work.Dependencies) != 1 || work.Dependencies[0] != analysis.ID {
		t.Errorf("work deps = %v, want [%s]", work.Dependencies, analysis.ID)
	}
	if d.Coordination != CoordHierarchical {
		t.Errorf("Coordination = %v", d.Coordination)
	}
	if d.Plan.Phases[0].Name != "analysis" {
		t.Errorf("first phase = %s, want analysis", d.Plan.Phases[0].Name)
	}
}

func TestDecompose_OrderIsSequential(t *testing.T) {
	def := NewDefinition("big job", PriorityNormal, ComplexityComplex)
	def.Requirements.Capabilities = []string{"a", "b", "c"}

	d := Decompose(def)
	for i, s := range d.SubTasks {
		if s.Order != i+1 {
			t.Errorf("subtask[%d].Order = %d, want %d", i, s.Order, i+1)
		}
	}
}

func TestDecompose_NoCapabilitiesDefaultsGeneral(t *testing.T) {
	def := NewDefinition("vague work", PriorityNormal, ComplexityComplex)
	d := Decompose(def)
	if len(d.SubTasks) != 2 {
		t.Fatalf("subtasks = %d, want 2", len(d.SubTasks))
	}
	if got := d.SubTasks[0].Requirements.Capabilities[0]; got != "general" {
		t.Errorf("capability = %q, want general", got)
	}
}

func TestNeedsDecomposition(t *testing.T) {
	tests := []struct {
		c    Complexity
		want bool
	}{
		{ComplexityTrivial, false},
		{ComplexitySimple, false},
		{ComplexityModerate, false},
		{ComplexityComplex, true},
		{ComplexityExpert, true},
	}
	for _, tt := range tests {
		if got := tt.c.NeedsDecomposition(); got != tt.want {
			t.Errorf("NeedsDecomposition(%s) = %v, want %v", tt.c, got, tt.want)
		}
	}
}
