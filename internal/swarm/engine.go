// Package swarm wires the subsystems into one coordination engine: the node
// registry, message router, gossip and consensus engines, the task queue,
// and the assignment pipeline. All engine-owned bookkeeping is mutated under
// one mutex; periodic work happens inside explicit Advance steps so tests
// can drive time directly and Run can drive it from timers.
package swarm

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/switchyard/internal/assign"
	"github.com/zulandar/switchyard/internal/balance"
	"github.com/zulandar/switchyard/internal/bus"
	"github.com/zulandar/switchyard/internal/config"
	"github.com/zulandar/switchyard/internal/consensus"
	"github.com/zulandar/switchyard/internal/gossip"
	"github.com/zulandar/switchyard/internal/message"
	"github.com/zulandar/switchyard/internal/metrics"
	"github.com/zulandar/switchyard/internal/registry"
	"github.com/zulandar/switchyard/internal/router"
	"github.com/zulandar/switchyard/internal/task"
	"go.uber.org/zap"
)

// assignBatch caps how many tasks one distribution tick hands out.
const assignBatch = 10

// Options carries the injectable policy seams. Every field is optional.
type Options struct {
	Transport  router.Transport        // nil: in-process loopback
	Evaluator  consensus.Evaluator     // nil: AlwaysAccept
	Predictor  assign.SuccessPredictor // nil: StaticPredictor
	Rebalancer balance.Rebalancer      // nil: report-only balancing
	Metrics    *metrics.Collector      // nil: no metrics
	Logger     *zap.Logger             // nil: no-op logger
}

// Engine is the swarm coordinator.
type Engine struct {
	cfg       *config.Config
	log       *zap.Logger
	events    *bus.Bus
	registry  *registry.Registry
	router    *router.Router
	gossip    *gossip.Engine
	consensus *consensus.Engine
	queue     *task.Queue
	fleet     *assign.Fleet
	optimizer *assign.Optimizer
	balancer  *balance.Balancer
	failures  *balance.FailureHandler
	collector *metrics.Collector

	mu          sync.Mutex
	tasks       map[string]*task.Definition
	plans       map[string]*task.Decomposed
	assignments map[string]*assign.Assignment
	excluded    map[string][]string // task ID -> prior assignees
	completed   map[string]bool
	failed      map[string]bool
}

// New builds a fully wired engine from the config. The engine registers its
// own node and installs the inbound handlers for heartbeat, gossip, and
// consensus traffic.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("swarm: config is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	events := bus.New(log)
	reg := registry.New(cfg.Dispatch.HeartbeatInterval, events)
	fleet := assign.NewFleet()

	var loop *Loopback
	transport := opts.Transport
	if transport == nil {
		loop = &Loopback{}
		transport = loop
	}
	rt := router.New(cfg.NodeID, cfg.Router, transport, events, log)

	evaluator := opts.Evaluator
	if evaluator == nil {
		evaluator = consensus.AlwaysAccept{}
	}
	cons, err := consensus.New(cfg.NodeID, evaluator, reg.Count, cfg.Quorum.Timeout, rt, events, log)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:         cfg,
		log:         log,
		events:      events,
		registry:    reg,
		router:      rt,
		consensus:   cons,
		queue:       task.NewQueue(),
		fleet:       fleet,
		optimizer:   assign.NewOptimizer(fleet, opts.Predictor),
		balancer:    balance.NewBalancer(fleet, opts.Rebalancer, log),
		failures:    balance.NewFailureHandler(events, log),
		collector:   opts.Metrics,
		tasks:       make(map[string]*task.Definition),
		plans:       make(map[string]*task.Decomposed),
		assignments: make(map[string]*assign.Assignment),
		excluded:    make(map[string][]string),
		completed:   make(map[string]bool),
		failed:      make(map[string]bool),
	}

	e.gossip = gossip.New(cfg.NodeID, cfg.Gossip.Fanout, e.gossipPeers, rt, events, log)
	rt.SetGossip(e.gossip)

	rt.RegisterHandler(message.TypeHeartbeat, e.handleHeartbeat)
	rt.RegisterHandler(message.TypeGossip, e.gossip.HandleMessage)
	rt.RegisterHandler(message.TypeConsensus, e.consensus.HandleMessage)
	rt.RegisterHandler(message.TypeElection, e.consensus.HandleMessage)

	if c := opts.Metrics; c != nil {
		events.Subscribe(bus.MessageSent, func(ev bus.Event) {
			p, _ := ev.Fields["priority"].(string)
			c.MessageSent(p)
		})
		events.Subscribe(bus.MessageFailed, func(ev bus.Event) { c.MessageFailed() })
		events.Subscribe(bus.ConsensusReached, func(ev bus.Event) {
			r, _ := ev.Fields["result"].(string)
			c.ProposalResolved(r)
		})
	}

	if loop != nil {
		loop.Bind(e.Receive)
	}

	if err := reg.Register(cfg.NodeID, cfg.Address, nil, time.Now()); err != nil {
		return nil, err
	}
	rt.RebuildTree(reg.IDs())

	return e, nil
}

// Events exposes the engine's event bus for external subscribers.
func (e *Engine) Events() *bus.Bus { return e.events }

// Fleet exposes the agent fleet for read paths.
func (e *Engine) Fleet() *assign.Fleet { return e.fleet }

// Registry exposes the node registry for read paths.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Receive feeds an inbound wire message into the router.
func (e *Engine) Receive(msg *message.Message) {
	if msg.Sender != e.cfg.NodeID {
		e.registry.RecordReceived(msg.Sender)
	}
	e.router.Receive(msg, time.Now())
	if e.collector != nil {
		e.collector.MessageReceived()
	}
}

// gossipPeers returns the online peers excluding the local node.
func (e *Engine) gossipPeers() []string {
	ids := e.registry.Online(time.Now())
	peers := ids[:0]
	for _, id := range ids {
		if id != e.cfg.NodeID {
			peers = append(peers, id)
		}
	}
	return peers
}

func (e *Engine) handleHeartbeat(msg *message.Message) {
	if err := e.registry.Heartbeat(msg.Sender, time.Now()); err != nil {
		e.log.Debug("heartbeat from unknown node", zap.String("node_id", msg.Sender))
	}
}

// SubmitTask validates and enqueues a task. Complex and expert tasks are
// decomposed first; every resulting subtask is queued separately with its
// dependency edges intact. Returns the parent task ID.
func (e *Engine) SubmitTask(def *task.Definition) (string, error) {
	if def == nil {
		return "", fmt.Errorf("swarm: task definition is required")
	}
	if err := def.Validate(); err != nil {
		return "", err
	}

	dec := task.Decompose(def)

	e.mu.Lock()
	e.plans[def.ID] = dec
	subs := make([]*task.Definition, 0, len(dec.SubTasks))
	for i := range dec.SubTasks {
		sub := dec.SubTasks[i].Definition
		e.tasks[sub.ID] = &sub
		subs = append(subs, e.tasks[sub.ID])
	}
	e.mu.Unlock()

	// Pushed outside e.mu: Queue.Next holds the queue lock while probing
	// depsReady, which takes e.mu, so e.mu must never be held across a
	// queue call.
	for _, sub := range subs {
		e.queue.Push(sub)
	}

	e.events.Publish(bus.TaskSubmitted, map[string]any{
		"task_id":     def.ID,
		"priority":    string(def.Priority),
		"complexity":  string(def.Complexity),
		"description": def.Description,
		"subtasks":    len(dec.SubTasks),
	})
	if e.collector != nil {
		e.collector.TaskSubmitted(string(def.Priority))
		e.collector.SetTaskQueueDepth(e.queue.Len())
	}
	return def.ID, nil
}

// RegisterAgent adds an agent to the fleet.
func (e *Engine) RegisterAgent(a assign.Agent) error {
	if err := e.fleet.Register(a); err != nil {
		return err
	}
	e.log.Info("agent registered",
		zap.String("agent_id", a.ID),
		zap.Strings("capabilities", a.Capabilities))
	return nil
}

// SetAgentAvailability updates an agent's declared readiness. Marking an
// agent unavailable reassigns everything it currently holds.
func (e *Engine) SetAgentAvailability(id string, av assign.Availability) error {
	if err := e.fleet.SetAvailability(id, av); err != nil {
		return err
	}
	if av != assign.Unavailable {
		return nil
	}

	e.mu.Lock()
	var held []string
	for taskID, a := range e.assignments {
		if a.AgentID == id {
			held = append(held, taskID)
		}
	}
	e.mu.Unlock()
	for _, taskID := range held {
		e.ReassignTask(taskID, "agent unavailable")
	}
	return nil
}

// RegisterNode adds a peer node and rebuilds the broadcast tree.
func (e *Engine) RegisterNode(id, address string, capabilities []string) error {
	if err := e.registry.Register(id, address, capabilities, time.Now()); err != nil {
		return err
	}
	e.router.RebuildTree(e.registry.IDs())
	return nil
}

// RemoveNode drops a peer node and rebuilds the broadcast tree.
func (e *Engine) RemoveNode(id string) bool {
	removed := e.registry.Remove(id)
	if removed {
		e.router.RebuildTree(e.registry.IDs())
	}
	return removed
}

// Broadcast fans a payload out to every node over the spanning tree.
func (e *Engine) Broadcast(payload []byte, priority message.Priority) (string, error) {
	msg := message.New(message.TypeBroadcast, e.cfg.NodeID, nil, payload)
	msg.Priority = priority
	if err := e.router.Send(msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// Multicast sends a payload to an explicit recipient list.
func (e *Engine) Multicast(recipients []string, payload []byte, priority message.Priority) (string, error) {
	msg := message.New(message.TypeMulticast, e.cfg.NodeID, recipients, payload)
	msg.Priority = priority
	if err := e.router.Send(msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// Unicast sends a payload to a single node.
func (e *Engine) Unicast(to string, payload []byte, priority message.Priority) (string, error) {
	msg := message.New(message.TypeUnicast, e.cfg.NodeID, []string{to}, payload)
	msg.Priority = priority
	if err := e.router.Send(msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// RegisterHandler adds an inbound handler for a message type.
func (e *Engine) RegisterHandler(t message.Type, h router.Handler) {
	e.router.RegisterHandler(t, h)
}

// StartGossip seeds a versioned state entry and begins propagating it.
func (e *Engine) StartGossip(key string, data []byte) error {
	_, err := e.gossip.Start(key, data, time.Now())
	return err
}

// GossipState returns the local copy of a gossiped entry.
func (e *Engine) GossipState(key string) (gossip.State, bool) {
	return e.gossip.Get(key)
}

// InitiateConsensus opens a proposal and returns its ID. Resolution is
// reported via the consensus:reached event; a timed-out proposal is purged
// silently.
func (e *Engine) InitiateConsensus(ptype string, value []byte, participants []string) (string, error) {
	return e.consensus.Initiate(ptype, value, participants, time.Now())
}

// Vote casts the local node's vote on a proposal, forwarding it to the
// proposer when the proposal originated on another node.
func (e *Engine) Vote(proposalID string, decision consensus.Decision, reasoning string) error {
	return e.consensus.Cast(proposalID, decision, reasoning, time.Now())
}

// CancelTask removes a task from the queue or, if already assigned, sends an
// advisory cancellation to the agent and cleans local bookkeeping. There is
// no synchronous acknowledgment and no preemption of in-flight work.
func (e *Engine) CancelTask(id, reason string) bool {
	removed := e.queue.Remove(id)

	e.mu.Lock()
	a, wasAssigned := e.assignments[id]
	delete(e.assignments, id)
	delete(e.excluded, id)
	e.mu.Unlock()

	if !removed && !wasAssigned {
		return false
	}

	if wasAssigned {
		e.fleet.DecrementLoad(a.AgentID)
		payload, err := json.Marshal(map[string]string{
			"action":  "cancel",
			"task_id": id,
			"reason":  reason,
		})
		if err == nil {
			msg := message.New(message.TypeControl, e.cfg.NodeID, []string{a.AgentID}, payload)
			msg.Priority = message.PriorityHigh
			if err := e.router.Send(msg); err != nil {
				e.log.Warn("cancellation notice failed",
					zap.String("task_id", id), zap.Error(err))
			}
		}
	}

	e.failures.Forget(id)
	e.events.Publish(bus.TaskCancelled, map[string]any{
		"task_id": id,
		"reason":  reason,
	})
	return true
}

// ReassignTask pulls a task back from its current agent and requeues it with
// that agent excluded from the next assignment round.
func (e *Engine) ReassignTask(id, reason string) bool {
	e.mu.Lock()
	a, ok := e.assignments[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	delete(e.assignments, id)
	e.excluded[id] = append(e.excluded[id], a.AgentID)
	def := e.tasks[id]
	e.mu.Unlock()

	e.fleet.DecrementLoad(a.AgentID)
	if def != nil {
		e.queue.Push(def)
	}

	e.events.Publish(bus.TaskReassigned, map[string]any{
		"task_id": id,
		"from":    a.AgentID,
		"reason":  reason,
	})
	if reason == "task_stuck" && e.collector != nil {
		e.collector.TaskStuck()
	}
	return true
}

// CompleteTask records a successful task outcome: the agent's load drops,
// its per-capability performance and trust move up, and dependent tasks
// become eligible on the next distribution tick. quality is the agent's
// self-reported result quality in [0, 1].
func (e *Engine) CompleteTask(id string, quality float64) bool {
	e.mu.Lock()
	a, ok := e.assignments[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	delete(e.assignments, id)
	delete(e.excluded, id)
	def := e.tasks[id]
	e.completed[id] = true
	e.mu.Unlock()

	e.fleet.DecrementLoad(a.AgentID)
	if def != nil {
		for _, c := range def.Requirements.Capabilities {
			e.fleet.RecordPerformance(a.AgentID, c, quality)
		}
	}
	e.fleet.AdjustTrust(a.AgentID, 0.02)
	e.failures.Forget(id)

	e.events.Publish(bus.TaskCompleted, map[string]any{
		"task_id":  id,
		"agent_id": a.AgentID,
		"quality":  quality,
	})
	if e.collector != nil {
		e.collector.TaskCompleted()
	}
	return true
}

// FailTask records a task failure. With retry budget remaining the task is
// requeued (excluding the failed agent); once the budget is exhausted the
// failure is permanent.
func (e *Engine) FailTask(id, reason string) bool {
	e.mu.Lock()
	a, ok := e.assignments[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	delete(e.assignments, id)
	e.excluded[id] = append(e.excluded[id], a.AgentID)
	def := e.tasks[id]
	e.mu.Unlock()

	e.fleet.DecrementLoad(a.AgentID)
	e.fleet.AdjustTrust(a.AgentID, -0.05)
	if def == nil {
		return false
	}

	outcome := e.failures.HandleFailure(def, reason)
	switch outcome {
	case balance.OutcomeRetry:
		e.queue.Push(def)
	case balance.OutcomePermanent:
		e.mu.Lock()
		e.failed[id] = true
		delete(e.excluded, id)
		e.mu.Unlock()
	}
	if e.collector != nil {
		e.collector.TaskFailed(outcome == balance.OutcomePermanent)
	}
	return true
}

// ReportProgress surfaces an agent's progress note for a running task.
func (e *Engine) ReportProgress(id, note string) bool {
	e.mu.Lock()
	a, ok := e.assignments[id]
	e.mu.Unlock()
	if !ok {
		return false
	}
	e.events.Publish(bus.TaskProgress, map[string]any{
		"task_id":  id,
		"agent_id": a.AgentID,
		"note":     note,
	})
	return true
}

// Assignment returns the live assignment for a task, if any.
func (e *Engine) Assignment(id string) (assign.Assignment, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.assignments[id]
	if !ok {
		return assign.Assignment{}, false
	}
	return *a, true
}

// Plan returns the decomposition plan recorded at submission.
func (e *Engine) Plan(id string) (task.Decomposed, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.plans[id]
	if !ok {
		return task.Decomposed{}, false
	}
	return *p, true
}

// Status is a point-in-time snapshot of engine state.
type Status struct {
	NodeID            string         `json:"node_id"`
	QueuedTasks       int            `json:"queued_tasks"`
	ActiveAssignments int            `json:"active_assignments"`
	CompletedTasks    int            `json:"completed_tasks"`
	FailedTasks       int            `json:"failed_tasks"`
	Agents            int            `json:"agents"`
	Nodes             map[string]int `json:"nodes"`
	MessagesSent      int64          `json:"messages_sent"`
	MessagesFailed    int64          `json:"messages_failed"`
	OpenProposals     int            `json:"open_proposals"`
	GossipKeys        []string       `json:"gossip_keys,omitempty"`
}

// QueueStatus reports the engine's current state.
func (e *Engine) QueueStatus(now time.Time) Status {
	sent, failedMsgs := e.router.Stats()

	nodes := make(map[string]int, 3)
	for status, n := range e.registry.CountByStatus(now) {
		nodes[string(status)] = n
	}

	e.mu.Lock()
	st := Status{
		NodeID:            e.cfg.NodeID,
		ActiveAssignments: len(e.assignments),
		CompletedTasks:    len(e.completed),
		FailedTasks:       len(e.failed),
	}
	e.mu.Unlock()

	st.QueuedTasks = e.queue.Len()
	st.Agents = e.fleet.Len()
	st.Nodes = nodes
	st.MessagesSent = sent
	st.MessagesFailed = failedMsgs
	st.OpenProposals = e.consensus.Open()
	st.GossipKeys = e.gossip.Keys()
	return st
}

// depsReady reports whether every dependency of the task has completed.
func (e *Engine) depsReady(def *task.Definition) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, dep := range def.Dependencies {
		if !e.completed[dep] {
			return false
		}
	}
	return true
}

// excludedFor returns the prior assignees of a task.
func (e *Engine) excludedFor(id string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.excluded[id]...)
}
