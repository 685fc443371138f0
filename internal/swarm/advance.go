package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/switchyard/internal/assign"
	"github.com/zulandar/switchyard/internal/balance"
	"github.com/zulandar/switchyard/internal/bus"
	"github.com/zulandar/switchyard/internal/message"
	"github.com/zulandar/switchyard/internal/task"
	"go.uber.org/zap"
)

// AdvanceMessages runs one router tick: queued outbound messages drain in
// strict priority order. Returns the number routed.
func (e *Engine) AdvanceMessages(now time.Time) int {
	n := e.router.Tick(now)
	if e.collector != nil {
		for p, depth := range e.router.QueueDepths() {
			e.collector.SetQueueDepth(string(p), depth)
		}
	}
	return n
}

// AdvanceDistribution runs one task distribution tick: ready tasks are
// popped in priority order, assigned via the optimizer, and dispatched to
// their agents. Tasks with no eligible agent are requeued, not failed.
// Returns the number assigned.
func (e *Engine) AdvanceDistribution(now time.Time) int {
	batch := e.queue.Next(assignBatch, e.depsReady)

	assigned := 0
	var requeue []*task.Definition
	for _, def := range batch {
		a, err := e.optimizer.Assign(def, e.excludedFor(def.ID), now)
		if err != nil {
			if !errors.Is(err, assign.ErrNoEligibleAgent) {
				e.log.Warn("assignment failed", zap.String("task_id", def.ID), zap.Error(err))
			}
			requeue = append(requeue, def)
			continue
		}

		e.mu.Lock()
		e.assignments[def.ID] = a
		e.mu.Unlock()

		if err := e.dispatch(def, a); err != nil {
			e.log.Warn("assignment dispatch failed",
				zap.String("task_id", def.ID),
				zap.String("agent_id", a.AgentID),
				zap.Error(err))
		}

		assigned++
		e.events.Publish(bus.TaskAssigned, map[string]any{
			"task_id":    def.ID,
			"agent_id":   a.AgentID,
			"confidence": a.Confidence,
		})
	}
	for _, def := range requeue {
		e.queue.Push(def)
	}

	if e.collector != nil {
		e.collector.SetTaskQueueDepth(e.queue.Len())
	}
	return assigned
}

// dispatch unicasts the assignment record to the chosen agent. Critical and
// high task priorities ride the high message class.
func (e *Engine) dispatch(def *task.Definition, a *assign.Assignment) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("swarm: marshal assignment %s: %w", def.ID, err)
	}
	msg := message.New(message.TypeData, e.cfg.NodeID, []string{a.AgentID}, payload)
	if def.Priority == task.PriorityCritical || def.Priority == task.PriorityHigh {
		msg.Priority = message.PriorityHigh
	}
	return e.router.Send(msg)
}

// AdvanceGossip runs one anti-entropy round.
func (e *Engine) AdvanceGossip(now time.Time) error {
	if err := e.gossip.Round(now); err != nil {
		return err
	}
	if e.collector != nil {
		e.collector.GossipRound()
	}
	return nil
}

// AdvanceHeartbeats broadcasts the local heartbeat and refreshes the node
// status gauges.
func (e *Engine) AdvanceHeartbeats(now time.Time) error {
	if err := e.registry.Heartbeat(e.cfg.NodeID, now); err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]any{
		"node_id": e.cfg.NodeID,
		"at":      now,
	})
	if err != nil {
		return fmt.Errorf("swarm: marshal heartbeat: %w", err)
	}
	msg := message.New(message.TypeHeartbeat, e.cfg.NodeID, nil, payload)
	msg.Priority = message.PriorityBackground
	if err := e.router.Send(msg); err != nil {
		return err
	}

	if e.collector != nil {
		counts := make(map[string]int, 3)
		for status, n := range e.registry.CountByStatus(now) {
			counts[string(status)] = n
		}
		e.collector.SetNodes(counts)
	}
	return nil
}

// AdvanceSweeps runs the maintenance pass: expired history and timed-out
// proposals are purged, stuck tasks are force-reassigned, the fleet balance
// is checked, and a metrics snapshot is published.
func (e *Engine) AdvanceSweeps(now time.Time) {
	purgedHistory := e.router.SweepHistory(now)
	purgedProposals := e.consensus.Sweep(now)

	e.mu.Lock()
	live := make([]*assign.Assignment, 0, len(e.assignments))
	for _, a := range e.assignments {
		live = append(live, a)
	}
	e.mu.Unlock()

	stuck := balance.Stuck(live, now, e.cfg.Dispatch.StuckFactor)
	for _, id := range stuck {
		e.ReassignTask(id, "task_stuck")
	}

	report, err := e.balancer.Check(now)
	if err != nil {
		e.log.Warn("rebalance failed", zap.Error(err))
	}

	if e.collector != nil {
		agents := e.fleet.Snapshot()
		e.collector.SetFleet(len(agents), report.Mean)
	}

	e.events.Publish(bus.MetricsUpdated, map[string]any{
		"purged_history":   purgedHistory,
		"purged_proposals": purgedProposals,
		"stuck_tasks":      len(stuck),
		"mean_utilization": report.Mean,
		"imbalanced":       report.Imbalanced,
	})
}

// Run drives the Advance steps from real timers until the context is
// cancelled: messages on the router tick, distribution on the dispatch tick,
// gossip and heartbeats on their configured intervals, and the maintenance
// sweep on the cron schedule.
func (e *Engine) Run(ctx context.Context) error {
	sched := cron.New()
	if _, err := sched.AddFunc(e.cfg.Dispatch.SweepSchedule, func() {
		e.AdvanceSweeps(time.Now())
	}); err != nil {
		return fmt.Errorf("swarm: sweep schedule %q: %w", e.cfg.Dispatch.SweepSchedule, err)
	}
	sched.Start()
	defer sched.Stop()

	msgTick := time.NewTicker(e.cfg.Router.TickInterval)
	defer msgTick.Stop()
	distTick := time.NewTicker(e.cfg.Dispatch.TickInterval)
	defer distTick.Stop()
	gossipTick := time.NewTicker(e.cfg.Gossip.Interval)
	defer gossipTick.Stop()
	hbTick := time.NewTicker(e.cfg.Dispatch.HeartbeatInterval)
	defer hbTick.Stop()

	e.log.Info("engine running",
		zap.String("node_id", e.cfg.NodeID),
		zap.Duration("message_tick", e.cfg.Router.TickInterval),
		zap.Duration("dispatch_tick", e.cfg.Dispatch.TickInterval))

	for {
		select {
		case <-ctx.Done():
			e.events.Publish(bus.Shutdown, map[string]any{"node_id": e.cfg.NodeID})
			e.log.Info("engine stopped")
			return nil
		case now := <-msgTick.C:
			e.AdvanceMessages(now)
		case now := <-distTick.C:
			e.AdvanceDistribution(now)
		case now := <-gossipTick.C:
			if err := e.AdvanceGossip(now); err != nil {
				e.log.Warn("gossip round failed", zap.Error(err))
			}
		case now := <-hbTick.C:
			if err := e.AdvanceHeartbeats(now); err != nil {
				e.log.Warn("heartbeat failed", zap.Error(err))
			}
		}
	}
}
