package swarm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/switchyard/internal/bus"
	"github.com/zulandar/switchyard/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// messageLogLimit bounds the message log table; older rows are trimmed on
// each maintenance sweep.
const messageLogLimit = 1000

// Journal mirrors engine lifecycle events into the durable store. The
// in-memory engine state stays authoritative; the journal exists for the
// CLI, the HTTP API read paths, and post-mortem inspection. Write errors
// are logged and never propagate back into the engine.
type Journal struct {
	db     *gorm.DB
	log    *zap.Logger
	agents func() []AgentSnapshot
}

func NewJournal(db *gorm.DB, log *zap.Logger) *Journal {
	if log == nil {
		log = zap.NewNop()
	}
	return &Journal{db: db, log: log}
}

// Attach subscribes the journal to every engine event and installs the
// fleet snapshot source used by the maintenance sweep.
func (j *Journal) Attach(e *Engine) {
	j.agents = e.AgentSnapshots
	e.Events().SubscribeAll(j.handle)
}

func (j *Journal) handle(ev bus.Event) {
	var err error
	switch ev.Type {
	case bus.TaskSubmitted:
		err = j.taskSubmitted(ev)
	case bus.TaskAssigned:
		err = j.taskAssigned(ev)
	case bus.TaskCompleted:
		err = j.taskStatus(ev, "completed")
	case bus.TaskFailed:
		err = j.taskFailed(ev)
	case bus.TaskCancelled:
		err = j.taskStatus(ev, "cancelled")
	case bus.TaskReassigned:
		err = j.taskReassigned(ev)
	case bus.NodeRegistered:
		err = j.nodeRegistered(ev)
	case bus.NodeConnected:
		err = j.nodeStatus(ev, "online")
	case bus.NodeDisconnected:
		err = j.nodeStatus(ev, "offline")
	case bus.MessageSent:
		err = j.messageLog(ev, "sent")
	case bus.MessageFailed:
		err = j.messageLog(ev, "failed")
	case bus.ConsensusReached:
		err = j.proposalResolved(ev)
	case bus.MetricsUpdated:
		err = j.sweep()
	default:
		return
	}
	if err != nil {
		j.log.Warn("journal write failed",
			zap.String("event", string(ev.Type)), zap.Error(err))
	}
}

func str(ev bus.Event, key string) string {
	s, _ := ev.Fields[key].(string)
	return s
}

func num(ev bus.Event, key string) int {
	switch v := ev.Fields[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (j *Journal) taskSubmitted(ev bus.Event) error {
	rec := models.TaskRecord{
		ID:          str(ev, "task_id"),
		Priority:    str(ev, "priority"),
		Complexity:  str(ev, "complexity"),
		Description: str(ev, "description"),
		Status:      "queued",
	}
	if err := j.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("journal: create task %s: %w", rec.ID, err)
	}
	return j.taskEvent(rec.ID, "submitted", "", "")
}

func (j *Journal) taskAssigned(ev bus.Event) error {
	id := str(ev, "task_id")
	agent := str(ev, "agent_id")
	now := ev.At
	err := j.db.Model(&models.TaskRecord{}).Where("id = ?", id).Updates(map[string]any{
		"status":      "assigned",
		"assignee":    agent,
		"assigned_at": &now,
	}).Error
	if err != nil {
		return fmt.Errorf("journal: assign task %s: %w", id, err)
	}
	return j.taskEvent(id, "assigned", agent, "")
}

func (j *Journal) taskStatus(ev bus.Event, status string) error {
	id := str(ev, "task_id")
	updates := map[string]any{"status": status}
	if status == "completed" {
		now := ev.At
		updates["completed_at"] = &now
	}
	err := j.db.Model(&models.TaskRecord{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("journal: update task %s: %w", id, err)
	}
	return j.taskEvent(id, status, str(ev, "agent_id"), str(ev, "reason"))
}

func (j *Journal) taskFailed(ev bus.Event) error {
	id := str(ev, "task_id")
	permanent, _ := ev.Fields["permanent"].(bool)
	updates := map[string]any{
		"status":  "queued",
		"retries": gorm.Expr("retries + 1"),
	}
	if permanent {
		updates["status"] = "failed"
	}
	err := j.db.Model(&models.TaskRecord{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("journal: fail task %s: %w", id, err)
	}
	return j.taskEvent(id, "failed", "", str(ev, "reason"))
}

func (j *Journal) taskReassigned(ev bus.Event) error {
	id := str(ev, "task_id")
	err := j.db.Model(&models.TaskRecord{}).Where("id = ?", id).Updates(map[string]any{
		"status":   "queued",
		"assignee": "",
	}).Error
	if err != nil {
		return fmt.Errorf("journal: reassign task %s: %w", id, err)
	}
	return j.taskEvent(id, "reassigned", str(ev, "from"), str(ev, "reason"))
}

func (j *Journal) taskEvent(taskID, event, agentID, detail string) error {
	rec := models.TaskEvent{
		TaskID:  taskID,
		Event:   event,
		AgentID: agentID,
		Detail:  detail,
	}
	if err := j.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("journal: task event %s/%s: %w", taskID, event, err)
	}
	return nil
}

func (j *Journal) nodeRegistered(ev bus.Event) error {
	rec := models.NodeRecord{
		ID:       str(ev, "node_id"),
		Address:  str(ev, "address"),
		Status:   "online",
		LastSeen: ev.At,
	}
	err := j.db.Where(models.NodeRecord{ID: rec.ID}).Assign(rec).FirstOrCreate(&rec).Error
	if err != nil {
		return fmt.Errorf("journal: register node %s: %w", rec.ID, err)
	}
	return nil
}

func (j *Journal) nodeStatus(ev bus.Event, status string) error {
	id := str(ev, "node_id")
	err := j.db.Model(&models.NodeRecord{}).Where("id = ?", id).Updates(map[string]any{
		"status":    status,
		"last_seen": ev.At,
	}).Error
	if err != nil {
		return fmt.Errorf("journal: node %s status: %w", id, err)
	}
	return nil
}

func (j *Journal) messageLog(ev bus.Event, outcome string) error {
	rec := models.MessageLog{
		MessageID: str(ev, "message_id"),
		Type:      str(ev, "type"),
		Priority:  str(ev, "priority"),
		Outcome:   outcome,
		Detail:    str(ev, "reason"),
	}
	if err := j.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("journal: message log %s: %w", rec.MessageID, err)
	}
	return nil
}

func (j *Journal) proposalResolved(ev bus.Event) error {
	rec := models.ProposalRecord{
		ID:          str(ev, "proposal_id"),
		Type:        str(ev, "type"),
		Result:      str(ev, "result"),
		AcceptVotes: num(ev, "accepts"),
		RejectVotes: num(ev, "rejects"),
		Abstains:    num(ev, "abstains"),
	}
	if err := j.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("journal: proposal %s: %w", rec.ID, err)
	}
	return nil
}

// sweep runs the per-sweep maintenance writes: the fleet snapshot upsert
// and message log trimming.
func (j *Journal) sweep() error {
	if j.agents != nil {
		if err := j.SyncAgents(j.agents()); err != nil {
			return err
		}
	}
	return j.TrimMessages(messageLogLimit)
}

// SyncAgents mirrors the current fleet snapshot into agent records. Called
// by the maintenance sweep rather than per-event: agent load changes are too
// frequent to journal individually.
func (j *Journal) SyncAgents(agents []AgentSnapshot) error {
	for _, a := range agents {
		rec := models.AgentRecord{
			ID:           a.ID,
			Capabilities: strings.Join(a.Capabilities, ","),
			CurrentLoad:  a.CurrentLoad,
			MaxLoad:      a.MaxLoad,
			TrustScore:   a.TrustScore,
			Availability: a.Availability,
		}
		err := j.db.Where(models.AgentRecord{ID: rec.ID}).Assign(rec).FirstOrCreate(&rec).Error
		if err != nil {
			return fmt.Errorf("journal: sync agent %s: %w", a.ID, err)
		}
	}
	return nil
}

// TrimMessages keeps only the newest limit message log rows.
func (j *Journal) TrimMessages(limit int) error {
	var cutoff models.MessageLog
	err := j.db.Order("id desc").Offset(limit).First(&cutoff).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("journal: find trim cutoff: %w", err)
	}
	if err := j.db.Where("id <= ?", cutoff.ID).Delete(&models.MessageLog{}).Error; err != nil {
		return fmt.Errorf("journal: trim messages: %w", err)
	}
	return nil
}

// AgentSnapshot is a journal-facing view of one agent.
type AgentSnapshot struct {
	ID           string
	Capabilities []string
	CurrentLoad  int
	MaxLoad      int
	TrustScore   float64
	Availability string
}

// AgentSnapshots converts the fleet's current state for the journal.
func (e *Engine) AgentSnapshots() []AgentSnapshot {
	agents := e.fleet.Snapshot()
	out := make([]AgentSnapshot, len(agents))
	for i, a := range agents {
		out[i] = AgentSnapshot{
			ID:           a.ID,
			Capabilities: a.Capabilities,
			CurrentLoad:  a.CurrentLoad,
			MaxLoad:      a.MaxLoad,
			TrustScore:   a.TrustScore,
			Availability: string(a.Availability),
		}
	}
	return out
}
