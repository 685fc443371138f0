// Package registry tracks peer identity, capability, and liveness for the
// swarm. Node status is never stored; it is derived from the last heartbeat
// against the configured heartbeat interval.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zulandar/switchyard/internal/bus"
)

// Status is the derived liveness of a node.
type Status string

const (
	StatusOnline   Status = "online"
	StatusDegraded Status = "degraded"
	StatusOffline  Status = "offline"
)

// Metrics holds per-node traffic counters.
type Metrics struct {
	MessagesSent     int64
	MessagesReceived int64
	AvgLatencyMs     float64
}

// Node is a peer in the swarm.
type Node struct {
	ID           string
	Address      string
	Capabilities []string
	LastSeen     time.Time
	Metrics      Metrics

	connected bool // true after the first heartbeat
}

// Status derives the node's liveness: offline past 3× the heartbeat
// interval, degraded in (2×, 3×], online otherwise.
func (n *Node) Status(now time.Time, heartbeat time.Duration) Status {
	age := now.Sub(n.LastSeen)
	switch {
	case age > 3*heartbeat:
		return StatusOffline
	case age > 2*heartbeat:
		return StatusDegraded
	default:
		return StatusOnline
	}
}

// Registry is the node table. All mutation happens under one mutex so it can
// be shared between the engine's tick loops and the API read path.
type Registry struct {
	mu        sync.RWMutex
	nodes     map[string]*Node
	heartbeat time.Duration
	events    *bus.Bus
}

// New creates a registry. heartbeat is the expected interval between node
// heartbeats, used for status derivation.
func New(heartbeat time.Duration, events *bus.Bus) *Registry {
	return &Registry{
		nodes:     make(map[string]*Node),
		heartbeat: heartbeat,
		events:    events,
	}
}

// HeartbeatInterval returns the configured heartbeat interval.
func (r *Registry) HeartbeatInterval() time.Duration { return r.heartbeat }

// Register adds a node. Registering an existing ID updates its address and
// capabilities without resetting metrics.
func (r *Registry) Register(id, address string, capabilities []string, now time.Time) error {
	if id == "" {
		return fmt.Errorf("registry: node id is required")
	}

	r.mu.Lock()
	n, exists := r.nodes[id]
	if exists {
		n.Address = address
		n.Capabilities = capabilities
		r.mu.Unlock()
		return nil
	}
	r.nodes[id] = &Node{
		ID:           id,
		Address:      address,
		Capabilities: capabilities,
		LastSeen:     now,
	}
	r.mu.Unlock()

	r.events.Publish(bus.NodeRegistered, map[string]any{"node_id": id, "address": address})
	return nil
}

// Remove deletes a node and emits node:disconnected.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	_, exists := r.nodes[id]
	delete(r.nodes, id)
	r.mu.Unlock()

	if exists {
		r.events.Publish(bus.NodeDisconnected, map[string]any{"node_id": id})
	}
	return exists
}

// Heartbeat records a heartbeat for a node. The first heartbeat after
// registration emits node:connected.
func (r *Registry) Heartbeat(id string, now time.Time) error {
	r.mu.Lock()
	n, ok := r.nodes[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("registry: unknown node %s", id)
	}
	first := !n.connected
	n.connected = true
	n.LastSeen = now
	r.mu.Unlock()

	if first {
		r.events.Publish(bus.NodeConnected, map[string]any{"node_id": id})
	}
	return nil
}

// RecordSent bumps the sent counter for a node.
func (r *Registry) RecordSent(id string) {
	r.mu.Lock()
	if n, ok := r.nodes[id]; ok {
		n.Metrics.MessagesSent++
	}
	r.mu.Unlock()
}

// RecordReceived bumps the received counter for a node.
func (r *Registry) RecordReceived(id string) {
	r.mu.Lock()
	if n, ok := r.nodes[id]; ok {
		n.Metrics.MessagesReceived++
	}
	r.mu.Unlock()
}

// Get returns a copy of the node, or false if unknown.
func (r *Registry) Get(id string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Count returns the number of known nodes.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// IDs returns all node IDs in sorted order. The broadcast tree builder
// depends on this ordering being stable.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Online returns IDs of nodes whose derived status is online at now.
func (r *Registry) Online(now time.Time) []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.nodes))
	for id, n := range r.nodes {
		if n.Status(now, r.heartbeat) == StatusOnline {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Snapshot returns copies of all nodes, sorted by ID.
func (r *Registry) Snapshot() []Node {
	r.mu.RLock()
	out := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, *n)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CountByStatus returns node counts grouped by derived status.
func (r *Registry) CountByStatus(now time.Time) map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[Status]int, 3)
	for _, n := range r.nodes {
		counts[n.Status(now, r.heartbeat)]++
	}
	return counts
}
