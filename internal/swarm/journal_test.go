package swarm

import (
	"testing"
	"time"

	"github.com/zulandar/switchyard/internal/config"
	"github.com/zulandar/switchyard/internal/db"
	"github.com/zulandar/switchyard/internal/models"
	"github.com/zulandar/switchyard/internal/task"
	"gorm.io/gorm"
)

func testJournal(t *testing.T) (*Engine, *gorm.DB) {
	t.Helper()
	store, err := db.Connect(config.DBConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := db.Migrate(store); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	e := testEngine(t, "node-a", Options{})
	NewJournal(store, nil).Attach(e)
	return e, store
}

func TestJournal_TaskLifecycle(t *testing.T) {
	e, store := testJournal(t)
	e.RegisterAgent(worker("w1", "compute"))

	def := task.NewDefinition("journal me", task.PriorityHigh, task.ComplexitySimple)
	def.Requirements.Capabilities = []string{"compute"}
	id, err := e.SubmitTask(def)
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}

	var rec models.TaskRecord
	if err := store.First(&rec, "id = ?", id).Error; err != nil {
		t.Fatalf("read task record: %v", err)
	}
	if rec.Status != "queued" || rec.Priority != "high" {
		t.Errorf("record = %+v", rec)
	}

	e.AdvanceDistribution(time.Now())
	store.First(&rec, "id = ?", id)
	if rec.Status != "assigned" || rec.Assignee != "w1" {
		t.Errorf("after assignment: %+v", rec)
	}
	if rec.AssignedAt == nil {
		t.Error("assigned_at not set")
	}

	e.CompleteTask(id, 1.0)
	store.First(&rec, "id = ?", id)
	if rec.Status != "completed" || rec.CompletedAt == nil {
		t.Errorf("after completion: %+v", rec)
	}

	var events []models.TaskEvent
	store.Where("task_id = ?", id).Order("id").Find(&events)
	want := []string{"submitted", "assigned", "completed"}
	if len(events) != len(want) {
		t.Fatalf("task events = %d, want %d", len(events), len(want))
	}
	for i, ev := range events {
		if ev.Event != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, ev.Event, want[i])
		}
	}
}

func TestJournal_FailureIncrementsRetries(t *testing.T) {
	e, store := testJournal(t)
	e.RegisterAgent(worker("w1", "compute"))
	e.RegisterAgent(worker("w2", "compute"))

	def := task.NewDefinition("flaky", task.PriorityNormal, task.ComplexitySimple)
	def.Requirements.Capabilities = []string{"compute"}
	def.Constraints.MaxRetries = 1
	id, _ := e.SubmitTask(def)

	now := time.Now()
	e.AdvanceDistribution(now)
	e.FailTask(id, "crashed")

	var rec models.TaskRecord
	store.First(&rec, "id = ?", id)
	if rec.Status != "queued" || rec.Retries != 1 {
		t.Errorf("after transient failure: %+v", rec)
	}

	e.AdvanceDistribution(now)
	e.FailTask(id, "crashed again")
	store.First(&rec, "id = ?", id)
	if rec.Status != "failed" || rec.Retries != 2 {
		t.Errorf("after permanent failure: %+v", rec)
	}
}

func TestJournal_NodeRecords(t *testing.T) {
	e, store := testJournal(t)
	if err := e.RegisterNode("node-b", "10.0.0.2", []string{"relay"}); err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}

	var rec models.NodeRecord
	if err := store.First(&rec, "id = ?", "node-b").Error; err != nil {
		t.Fatalf("read node record: %v", err)
	}
	if rec.Address != "10.0.0.2" || rec.Status != "online" {
		t.Errorf("node record = %+v", rec)
	}

	e.RemoveNode("node-b")
	store.First(&rec, "id = ?", "node-b")
	if rec.Status != "offline" {
		t.Errorf("status after removal = %s, want offline", rec.Status)
	}
}

func TestJournal_SweepSyncsAgents(t *testing.T) {
	e, store := testJournal(t)
	e.RegisterAgent(worker("w1", "compute", "storage"))

	// The maintenance sweep mirrors the fleet into agent records.
	e.AdvanceSweeps(time.Now())

	var rec models.AgentRecord
	if err := store.First(&rec, "id = ?", "w1").Error; err != nil {
		t.Fatalf("read agent record: %v", err)
	}
	if rec.Capabilities != "compute,storage" || rec.MaxLoad != 4 {
		t.Errorf("agent record = %+v", rec)
	}

	// A later sweep upserts rather than duplicating.
	def := task.NewDefinition("work", task.PriorityNormal, task.ComplexitySimple)
	def.Requirements.Capabilities = []string{"compute"}
	e.SubmitTask(def)
	e.AdvanceDistribution(time.Now())
	e.AdvanceSweeps(time.Now())

	var count int64
	store.Model(&models.AgentRecord{}).Where("id = ?", "w1").Count(&count)
	if count != 1 {
		t.Fatalf("agent records for w1 = %d, want 1", count)
	}
	store.First(&rec, "id = ?", "w1")
	if rec.CurrentLoad != 1 {
		t.Errorf("current load = %d, want 1", rec.CurrentLoad)
	}
}
