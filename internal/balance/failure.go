package balance

import (
	"sort"
	"sync"
	"time"

	"github.com/zulandar/switchyard/internal/assign"
	"github.com/zulandar/switchyard/internal/bus"
	"github.com/zulandar/switchyard/internal/task"
	"go.uber.org/zap"
)

// Outcome is the failure handler's verdict for one task failure.
type Outcome string

const (
	// OutcomeRetry means the task still has retry budget and should be
	// requeued.
	OutcomeRetry Outcome = "retry"
	// OutcomePermanent means the budget is exhausted; the failure is final.
	OutcomePermanent Outcome = "permanent"
)

// FailureHandler tracks per-task failure counts against the task's retry
// budget. There is no dead-letter store; permanent failures are logged and
// surfaced on the event bus only.
type FailureHandler struct {
	mu       sync.Mutex
	failures map[string]int
	events   *bus.Bus
	log      *zap.Logger
}

func NewFailureHandler(events *bus.Bus, log *zap.Logger) *FailureHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &FailureHandler{
		failures: make(map[string]int),
		events:   events,
		log:      log,
	}
}

// HandleFailure records one failure for the task and decides its fate: with
// budget remaining the task is to be requeued, otherwise the failure is
// permanent. A task with MaxRetries=1 is requeued after its first failure
// and permanently failed on its second.
func (h *FailureHandler) HandleFailure(def *task.Definition, reason string) Outcome {
	h.mu.Lock()
	h.failures[def.ID]++
	count := h.failures[def.ID]
	if count > def.Constraints.MaxRetries {
		delete(h.failures, def.ID)
	}
	h.mu.Unlock()

	if count <= def.Constraints.MaxRetries {
		h.log.Warn("task failed, requeueing",
			zap.String("task_id", def.ID),
			zap.String("reason", reason),
			zap.Int("failures", count),
			zap.Int("max_retries", def.Constraints.MaxRetries))
		h.events.Publish(bus.TaskFailed, map[string]any{
			"task_id":   def.ID,
			"reason":    reason,
			"failures":  count,
			"permanent": false,
		})
		return OutcomeRetry
	}

	h.log.Error("task permanently failed, retry budget exhausted",
		zap.String("task_id", def.ID),
		zap.String("reason", reason),
		zap.Int("failures", count))
	h.events.Publish(bus.TaskFailed, map[string]any{
		"task_id":   def.ID,
		"reason":    reason,
		"failures":  count,
		"permanent": true,
	})
	return OutcomePermanent
}

// Failures returns the recorded failure count for a task.
func (h *FailureHandler) Failures(taskID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures[taskID]
}

// Forget drops failure bookkeeping for a task that completed or was
// cancelled.
func (h *FailureHandler) Forget(taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.failures, taskID)
}

// Stuck returns the IDs of assigned tasks that have been running longer
// than factor times their estimate at now. Assignments without an estimate
// are never flagged.
func Stuck(assignments []*assign.Assignment, now time.Time, factor float64) []string {
	if factor <= 0 {
		factor = 2
	}
	var ids []string
	for _, a := range assignments {
		if a.Estimate <= 0 {
			continue
		}
		limit := time.Duration(factor * float64(a.Estimate))
		if now.Sub(a.AssignedAt) > limit {
			ids = append(ids, a.TaskID)
		}
	}
	sort.Strings(ids)
	return ids
}
