// Package router queues, dispatches, and receives swarm messages. Outbound
// messages are enqueued per priority class and drained in strict priority
// order on each tick; inbound messages are checksum- and TTL-gated before
// being decoded and handed to registered handlers.
package router

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/switchyard/internal/bus"
	"github.com/zulandar/switchyard/internal/config"
	"github.com/zulandar/switchyard/internal/message"
	"go.uber.org/zap"
)

// ErrRouting marks a message that could not be delivered to its recipient.
var ErrRouting = errors.New("routing failed")

// Transport delivers a sealed message to a peer node.
type Transport interface {
	Deliver(nodeID string, msg *message.Message) error
}

// Handler processes a received, decoded message.
type Handler func(msg *message.Message)

// GossipDelegate receives outbound gossip-type messages for propagation.
type GossipDelegate interface {
	Propagate(msg *message.Message) error
}

// Router owns the outbound priority queues, the bounded message history, and
// the inbound handler table.
type Router struct {
	mu        sync.Mutex
	local     string
	cfg       config.RouterConfig
	queues    map[message.Priority][]*message.Message
	history   []*message.Message
	handlers  map[message.Type][]Handler
	tree      *Tree
	transport Transport
	gossip    GossipDelegate
	comp      message.Compressor
	cipher    message.Cipher
	events    *bus.Bus
	log       *zap.Logger

	sent   int64
	failed int64
}

// New creates a router for the given local node.
func New(local string, cfg config.RouterConfig, transport Transport, events *bus.Bus, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	queues := make(map[message.Priority][]*message.Message, len(message.PriorityOrder))
	return &Router{
		local:     local,
		cfg:       cfg,
		queues:    queues,
		handlers:  make(map[message.Type][]Handler),
		tree:      BuildTree(local, nil),
		transport: transport,
		comp:      message.GzipCompressor{},
		cipher:    message.NoopCipher{},
		events:    events,
		log:       log,
	}
}

// SetGossip installs the gossip engine that outbound gossip messages are
// delegated to.
func (r *Router) SetGossip(g GossipDelegate) {
	r.mu.Lock()
	r.gossip = g
	r.mu.Unlock()
}

// SetCipher installs the payload cipher used when a message requests
// encryption.
func (r *Router) SetCipher(c message.Cipher) {
	r.mu.Lock()
	r.cipher = c
	r.mu.Unlock()
}

// RebuildTree rebuilds the broadcast spanning tree over the given membership.
// Called by the engine on node connect/disconnect.
func (r *Router) RebuildTree(ids []string) {
	t := BuildTree(r.local, ids)
	r.mu.Lock()
	r.tree = t
	r.mu.Unlock()
}

// RegisterHandler adds a handler for an inbound message type.
func (r *Router) RegisterHandler(t message.Type, h Handler) {
	r.mu.Lock()
	r.handlers[t] = append(r.handlers[t], h)
	r.mu.Unlock()
}

// Send validates the message, fills defaults, applies payload codecs, seals
// the checksum, records it in history, and enqueues it for the next tick.
func (r *Router) Send(msg *message.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	if msg.Priority == "" {
		msg.Priority = message.PriorityNormal
	}
	if msg.Routing.Strategy == "" {
		msg.Routing.Strategy = "adaptive"
	}
	if msg.Routing.Reliability == 0 {
		msg.Routing.Reliability = 0.95
	}
	if msg.TTL == 0 {
		msg.TTL = r.cfg.DefaultTTL
	}

	r.mu.Lock()
	comp, ciph := r.comp, r.cipher
	r.mu.Unlock()

	// Compress, then encrypt; receive reverses the order. A compression
	// failure downgrades to an uncompressed send rather than failing.
	if len(msg.Payload) > r.cfg.CompressThreshold {
		packed, err := comp.Compress(msg.Payload)
		if err != nil {
			r.log.Warn("compression skipped", zap.String("message_id", msg.ID), zap.Error(err))
		} else {
			msg.Payload = packed
			msg.Compression = message.CompressionConfig{Algorithm: comp.Name(), Applied: true}
		}
	}
	if msg.Encryption.Scheme != "" && msg.Encryption.Scheme != "none" {
		sealed, err := ciph.Encrypt(msg.Payload)
		if err != nil {
			return fmt.Errorf("router: encrypt %s: %w", msg.ID, err)
		}
		msg.Payload = sealed
		msg.Encryption = message.EncryptionConfig{Scheme: ciph.Name(), Applied: true}
	}

	msg.Seal()

	r.mu.Lock()
	r.history = append(r.history, msg)
	if len(r.history) > r.cfg.HistoryLimit {
		r.history = r.history[len(r.history)-r.cfg.HistoryLimit:]
	}
	r.queues[msg.Priority] = append(r.queues[msg.Priority], msg)
	r.mu.Unlock()

	return nil
}

// Tick drains up to BatchPerPriority messages per class in strict priority
// order. A lower class only makes progress once every higher class is empty
// for this tick; sustained emergency traffic therefore starves background
// traffic by design. Per-message failures are reported as message:failed
// events and never abort the batch. Returns the number of messages routed.
func (r *Router) Tick(now time.Time) int {
	processed := 0
	failed := 0
	for _, p := range message.PriorityOrder {
		batch, remaining := r.takeBatch(p)
		for _, msg := range batch {
			if msg.Expired(now) {
				continue
			}
			if err := r.route(msg); err != nil {
				failed++
				r.log.Warn("message routing failed",
					zap.String("message_id", msg.ID),
					zap.String("type", string(msg.Type)),
					zap.Error(err))
				r.events.Publish(bus.MessageFailed, map[string]any{
					"message_id": msg.ID,
					"type":       string(msg.Type),
					"reason":     err.Error(),
				})
				continue
			}
			processed++
			r.events.Publish(bus.MessageSent, map[string]any{
				"message_id": msg.ID,
				"type":       string(msg.Type),
				"priority":   string(msg.Priority),
			})
		}
		if remaining > 0 {
			break
		}
	}

	r.mu.Lock()
	r.sent += int64(processed)
	r.failed += int64(failed)
	r.mu.Unlock()
	return processed
}

// takeBatch pops up to the batch limit from one priority queue and reports
// how many messages remain in it.
func (r *Router) takeBatch(p message.Priority) ([]*message.Message, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.queues[p]
	n := r.cfg.BatchPerPriority
	if n > len(q) {
		n = len(q)
	}
	batch := q[:n]
	r.queues[p] = q[n:]
	return batch, len(q) - n
}

// route dispatches a single message by type.
func (r *Router) route(msg *message.Message) error {
	r.mu.Lock()
	tree := r.tree
	gossip := r.gossip
	r.mu.Unlock()

	switch msg.Type {
	case message.TypeBroadcast:
		return tree.Walk(func(id string) error {
			return r.deliver(id, msg)
		})
	case message.TypeMulticast:
		for _, id := range msg.Recipients {
			if err := r.deliver(id, msg); err != nil {
				return err
			}
		}
		return nil
	case message.TypeUnicast:
		return r.deliver(msg.Recipients[0], msg)
	case message.TypeGossip:
		// Direct-strategy gossip carries a state update to an explicit
		// recipient; everything else is delegated to the gossip engine,
		// which fans out to a random peer subset itself.
		if msg.Routing.Strategy == "direct" {
			for _, id := range msg.Recipients {
				if err := r.deliver(id, msg); err != nil {
					return err
				}
			}
			return nil
		}
		if gossip == nil {
			return fmt.Errorf("router: %w: no gossip delegate", ErrRouting)
		}
		return gossip.Propagate(msg)
	default:
		// Heartbeat, consensus, election, data, and control messages follow
		// their recipient list, or fan out over the tree when none is given.
		if len(msg.Recipients) == 0 {
			return tree.Walk(func(id string) error {
				return r.deliver(id, msg)
			})
		}
		for _, id := range msg.Recipients {
			if err := r.deliver(id, msg); err != nil {
				return err
			}
		}
		return nil
	}
}

func (r *Router) deliver(nodeID string, msg *message.Message) error {
	if nodeID == r.local {
		return nil
	}
	if err := r.transport.Deliver(nodeID, msg); err != nil {
		return fmt.Errorf("router: %w: deliver to %s: %v", ErrRouting, nodeID, err)
	}
	return nil
}

// Receive processes an inbound message: checksum and TTL gates first, then
// decrypt and decompress (the inverse of the send order), then handler
// dispatch. Checksum mismatches are dropped with a warning and surfaced as
// message:failed; they are never returned as errors.
func (r *Router) Receive(msg *message.Message, now time.Time) {
	if !msg.VerifyChecksum() {
		r.log.Warn("checksum mismatch, dropping message",
			zap.String("message_id", msg.ID),
			zap.String("sender", msg.Sender))
		r.events.Publish(bus.MessageFailed, map[string]any{
			"message_id": msg.ID,
			"reason":     "checksum mismatch",
		})
		return
	}
	if msg.Expired(now) {
		return
	}

	r.mu.Lock()
	comp, ciph := r.comp, r.cipher
	r.mu.Unlock()

	payload := msg.Payload
	if msg.Encryption.Applied {
		plain, err := ciph.Decrypt(payload)
		if err != nil {
			r.log.Warn("decrypt failed, dropping message",
				zap.String("message_id", msg.ID), zap.Error(err))
			r.events.Publish(bus.MessageFailed, map[string]any{
				"message_id": msg.ID,
				"reason":     "decrypt failed",
			})
			return
		}
		payload = plain
	}
	if msg.Compression.Applied {
		plain, err := comp.Decompress(payload)
		if err != nil {
			r.log.Warn("decompress failed, dropping message",
				zap.String("message_id", msg.ID), zap.Error(err))
			r.events.Publish(bus.MessageFailed, map[string]any{
				"message_id": msg.ID,
				"reason":     "decompress failed",
			})
			return
		}
		payload = plain
	}

	decoded := *msg
	decoded.Payload = payload

	r.mu.Lock()
	handlers := append([]Handler(nil), r.handlers[msg.Type]...)
	r.mu.Unlock()
	for _, h := range handlers {
		h(&decoded)
	}

	r.events.Publish(bus.MessageReceived, map[string]any{
		"message_id": msg.ID,
		"type":       string(msg.Type),
		"sender":     msg.Sender,
	})
}

// SweepHistory purges TTL-expired messages from history. Expired messages
// are never redelivered. Returns the number purged.
func (r *Router) SweepHistory(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.history[:0]
	purged := 0
	for _, m := range r.history {
		if m.Expired(now) {
			purged++
			continue
		}
		kept = append(kept, m)
	}
	r.history = kept
	return purged
}

// QueueDepths returns the current depth of each priority queue.
func (r *Router) QueueDepths() map[message.Priority]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[message.Priority]int, len(message.PriorityOrder))
	for _, p := range message.PriorityOrder {
		out[p] = len(r.queues[p])
	}
	return out
}

// HistoryLen returns the number of messages currently held in history.
func (r *Router) HistoryLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history)
}

// Stats returns cumulative sent and failed counters.
func (r *Router) Stats() (sent, failed int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent, r.failed
}
