// Package gossip implements anti-entropy propagation of versioned key/value
// state across the swarm. Conflicts resolve last-writer-wins by version
// number: incoming state is adopted only when its version is strictly
// greater than the local copy.
package gossip

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/zulandar/switchyard/internal/bus"
	"github.com/zulandar/switchyard/internal/message"
	"go.uber.org/zap"
)

// State is one versioned entry in the gossip store.
type State struct {
	Key       string    `json:"key"`
	Version   uint64    `json:"version"`
	Data      []byte    `json:"data"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Sender unicasts a state update to one peer. The router provides this.
type Sender interface {
	Send(msg *message.Message) error
}

// Engine holds the local gossip store and drives periodic rounds.
type Engine struct {
	mu     sync.Mutex
	local  string
	fanout int
	states map[string]*State
	peers  func() []string
	send   Sender
	events *bus.Bus
	log    *zap.Logger
	rnd    *rand.Rand

	rounds int64
}

// New creates a gossip engine. peers supplies the current peer IDs each
// round; fanout caps how many peers receive each key per round.
func New(local string, fanout int, peers func() []string, send Sender, events *bus.Bus, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if fanout <= 0 {
		fanout = 3
	}
	return &Engine{
		local:  local,
		fanout: fanout,
		states: make(map[string]*State),
		peers:  peers,
		send:   send,
		events: events,
		log:    log,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Start stamps a new version for key, stores it locally, propagates it
// immediately, and emits gossip:started.
func (e *Engine) Start(key string, data []byte, now time.Time) (*State, error) {
	if key == "" {
		return nil, fmt.Errorf("gossip: key is required")
	}

	e.mu.Lock()
	version := uint64(1)
	if prev, ok := e.states[key]; ok {
		version = prev.Version + 1
	}
	st := &State{
		Key:       key,
		Version:   version,
		Data:      data,
		Checksum:  checksum(data),
		UpdatedAt: now,
	}
	e.states[key] = st
	e.mu.Unlock()

	e.events.Publish(bus.GossipStarted, map[string]any{
		"key":     key,
		"version": version,
	})

	if err := e.propagate(st); err != nil {
		return st, err
	}
	return st, nil
}

// Receive applies an incoming state update. The update is adopted only when
// its version is strictly greater than the local version; equal or lower
// versions are dropped silently. Returns true if the state was adopted.
func (e *Engine) Receive(st State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	local, ok := e.states[st.Key]
	if ok && st.Version <= local.Version {
		return false
	}
	copied := st
	e.states[st.Key] = &copied
	return true
}

// HandleMessage decodes a gossip state update from a router message.
func (e *Engine) HandleMessage(msg *message.Message) {
	var st State
	if err := json.Unmarshal(msg.Payload, &st); err != nil {
		e.log.Warn("malformed gossip payload",
			zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	if st.Checksum != checksum(st.Data) {
		e.log.Warn("gossip state checksum mismatch, dropping",
			zap.String("key", st.Key))
		return
	}
	e.Receive(st)
}

// Round runs one anti-entropy round: for every known key, a random subset of
// min(fanout, peer count) peers receives the current state.
func (e *Engine) Round(now time.Time) error {
	peers := e.peers()
	if len(peers) == 0 {
		return nil
	}

	e.mu.Lock()
	keys := make([]string, 0, len(e.states))
	for k := range e.states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	states := make([]*State, 0, len(keys))
	for _, k := range keys {
		states = append(states, e.states[k])
	}
	e.rounds++
	e.mu.Unlock()

	for _, st := range states {
		if err := e.sendToSubset(st, peers); err != nil {
			return err
		}
	}
	return nil
}

// Propagate satisfies the router's gossip delegate: an outbound gossip-type
// message re-enters the engine as a state update from the local node and is
// fanned out on the spot.
func (e *Engine) Propagate(msg *message.Message) error {
	var st State
	if err := json.Unmarshal(msg.Payload, &st); err != nil {
		return fmt.Errorf("gossip: decode propagate payload: %w", err)
	}
	e.Receive(st)
	return e.sendToSubset(&st, e.peers())
}

func (e *Engine) propagate(st *State) error {
	return e.sendToSubset(st, e.peers())
}

// sendToSubset unicasts the state to min(fanout, len(peers)) random peers.
func (e *Engine) sendToSubset(st *State, peers []string) error {
	if len(peers) == 0 {
		return nil
	}

	n := e.fanout
	if n > len(peers) {
		n = len(peers)
	}

	e.mu.Lock()
	picked := make([]string, len(peers))
	copy(picked, peers)
	e.rnd.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
	e.mu.Unlock()
	picked = picked[:n]

	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("gossip: marshal state %s: %w", st.Key, err)
	}

	for _, peer := range picked {
		msg := message.New(message.TypeGossip, e.local, []string{peer}, payload)
		// Direct strategy: the router delivers to the recipient instead of
		// delegating back here.
		msg.Routing.Strategy = "direct"
		msg.QoS = message.QoSConfig{Dedupe: true}
		if err := e.send.Send(msg); err != nil {
			return fmt.Errorf("gossip: send %s to %s: %w", st.Key, peer, err)
		}
	}
	return nil
}

// Get returns the local state for key.
func (e *Engine) Get(key string) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[key]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Keys returns all known keys, sorted.
func (e *Engine) Keys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]string, 0, len(e.states))
	for k := range e.states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Rounds returns the number of completed anti-entropy rounds.
func (e *Engine) Rounds() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rounds
}
