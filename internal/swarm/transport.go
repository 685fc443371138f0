package swarm

import (
	"fmt"
	"sync"

	"github.com/zulandar/switchyard/internal/message"
)

// Loopback is the single-process transport: every delivery re-enters the
// local receive path. It is the default when no transport is injected.
type Loopback struct {
	mu   sync.Mutex
	recv func(*message.Message)
}

// Bind installs the receive function. Deliveries before Bind are dropped.
func (l *Loopback) Bind(recv func(*message.Message)) {
	l.mu.Lock()
	l.recv = recv
	l.mu.Unlock()
}

func (l *Loopback) Deliver(nodeID string, msg *message.Message) error {
	l.mu.Lock()
	recv := l.recv
	l.mu.Unlock()
	if recv == nil {
		return nil
	}
	copied := *msg
	recv(&copied)
	return nil
}

// Network is an in-memory transport connecting several engines in one
// process. Deliveries are synchronous.
type Network struct {
	mu    sync.Mutex
	nodes map[string]func(*message.Message)
}

func NewNetwork() *Network {
	return &Network{nodes: make(map[string]func(*message.Message))}
}

// Join registers a node's receive function under its ID.
func (n *Network) Join(id string, recv func(*message.Message)) {
	n.mu.Lock()
	n.nodes[id] = recv
	n.mu.Unlock()
}

func (n *Network) Deliver(nodeID string, msg *message.Message) error {
	n.mu.Lock()
	recv, ok := n.nodes[nodeID]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("swarm: unknown node %s", nodeID)
	}
	copied := *msg
	recv(&copied)
	return nil
}
