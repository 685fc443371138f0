// Package metrics exposes swarm counters and gauges via prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "switchyard"

// Collector holds every metric the engine records. Pass a dedicated
// registry to keep collectors isolated; nil uses the default registerer.
type Collector struct {
	registry prometheus.Registerer

	messagesSent     *prometheus.CounterVec
	messagesReceived prometheus.Counter
	messagesFailed   prometheus.Counter
	queueDepth       *prometheus.GaugeVec

	tasksSubmitted *prometheus.CounterVec
	tasksCompleted prometheus.Counter
	tasksFailed    *prometheus.CounterVec
	tasksStuck     prometheus.Counter
	taskQueueDepth prometheus.Gauge

	agents           prometheus.Gauge
	agentUtilization prometheus.Gauge
	nodes            *prometheus.GaugeVec

	proposals    *prometheus.CounterVec
	gossipRounds prometheus.Counter
}

func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages delivered, by priority band",
		}, []string{"priority"}),
		messagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages accepted by the local node",
		}),
		messagesFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_failed_total",
			Help:      "Messages dropped for checksum, expiry, or routing errors",
		}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "message_queue_depth",
			Help:      "Messages waiting per priority band",
		}, []string{"priority"}),

		tasksSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Tasks accepted into the queue, by priority",
		}, []string{"priority"}),
		tasksCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Tasks reported complete",
		}),
		tasksFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_failed_total",
			Help:      "Task failures, split by whether the retry budget was exhausted",
		}, []string{"permanent"}),
		tasksStuck: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_stuck_total",
			Help:      "Tasks force-reassigned after exceeding their estimate",
		}),
		taskQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_queue_depth",
			Help:      "Tasks waiting for assignment",
		}),

		agents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents",
			Help:      "Registered agents",
		}),
		agentUtilization: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_utilization_mean",
			Help:      "Mean fleet utilization, 0 to 1",
		}),
		nodes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes",
			Help:      "Known nodes by derived status",
		}, []string{"status"}),

		proposals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consensus_proposals_total",
			Help:      "Resolved consensus proposals, by result",
		}, []string{"result"}),
		gossipRounds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gossip_rounds_total",
			Help:      "Completed anti-entropy rounds",
		}),
	}
}

func (c *Collector) MessageSent(priority string) { c.messagesSent.WithLabelValues(priority).Inc() }

func (c *Collector) MessageReceived() { c.messagesReceived.Inc() }

func (c *Collector) MessageFailed() { c.messagesFailed.Inc() }
func (c *Collector) TaskSubmitted(priority string) {
	c.tasksSubmitted.WithLabelValues(priority).Inc()
}

func (c *Collector) TaskCompleted() { c.tasksCompleted.Inc() }

func (c *Collector) TaskFailed(permanent bool) {
	if permanent {
		c.tasksFailed.WithLabelValues("true").Inc()
		return
	}
	c.tasksFailed.WithLabelValues("false").Inc()
}
func (c *Collector) TaskStuck() { c.tasksStuck.Inc() }

func (c *Collector) GossipRound() { c.gossipRounds.Inc() }

func (c *Collector) ProposalResolved(result string) {
	c.proposals.WithLabelValues(result).Inc()
}

// SetQueueDepth records the waiting count for one priority band.
func (c *Collector) SetQueueDepth(priority string, depth int) {
	c.queueDepth.WithLabelValues(priority).Set(float64(depth))
}

func (c *Collector) SetTaskQueueDepth(depth int) { c.taskQueueDepth.Set(float64(depth)) }

// SetFleet records the agent count and mean utilization in one pass.
func (c *Collector) SetFleet(agents int, meanUtilization float64) {
	c.agents.Set(float64(agents))
	c.agentUtilization.Set(meanUtilization)
}

// SetNodes records the per-status node counts, zeroing absent statuses.
func (c *Collector) SetNodes(byStatus map[string]int) {
	for _, status := range []string{"online", "degraded", "offline"} {
		c.nodes.WithLabelValues(status).Set(float64(byStatus[status]))
	}
}
