// Package message defines the wire envelope routed between swarm nodes,
// including checksumming, priority classes, and the pluggable
// compression/encryption codecs applied to payloads.
package message

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type identifies how a message is routed and handled.
type Type string

const (
	TypeBroadcast Type = "broadcast"
	TypeMulticast Type = "multicast"
	TypeUnicast   Type = "unicast"
	TypeGossip    Type = "gossip"
	TypeHeartbeat Type = "heartbeat"
	TypeConsensus Type = "consensus"
	TypeElection  Type = "election"
	TypeData      Type = "data"
	TypeControl   Type = "control"
)

// Priority is the message priority class. Higher classes fully drain before
// lower classes make progress within a tick.
type Priority string

const (
	PriorityEmergency  Priority = "emergency"
	PriorityHigh       Priority = "high"
	PriorityNormal     Priority = "normal"
	PriorityLow        Priority = "low"
	PriorityBackground Priority = "background"
)

// PriorityOrder lists priority classes from most to least urgent.
var PriorityOrder = []Priority{
	PriorityEmergency,
	PriorityHigh,
	PriorityNormal,
	PriorityLow,
	PriorityBackground,
}

// Valid reports whether p is a known priority class.
func (p Priority) Valid() bool {
	for _, q := range PriorityOrder {
		if p == q {
			return true
		}
	}
	return false
}

// RoutingConfig selects the dispatch strategy for a message.
type RoutingConfig struct {
	Strategy    string  `json:"strategy"` // direct, adaptive, flooding
	Reliability float64 `json:"reliability"`
	MaxHops     int     `json:"max_hops,omitempty"`
}

// CompressionConfig records the payload compression applied on send.
type CompressionConfig struct {
	Algorithm string `json:"algorithm"` // gzip, none
	Applied   bool   `json:"applied"`
}

// EncryptionConfig records the payload encryption applied on send.
type EncryptionConfig struct {
	Scheme  string `json:"scheme"` // aes-gcm, none
	Applied bool   `json:"applied"`
}

// QoSConfig carries delivery quality hints.
type QoSConfig struct {
	Ordered   bool `json:"ordered,omitempty"`
	Dedupe    bool `json:"dedupe,omitempty"`
	AckWanted bool `json:"ack_wanted,omitempty"`
}

// Message is the envelope for all swarm traffic.
type Message struct {
	ID          string            `json:"id"`
	Type        Type              `json:"type"`
	Sender      string            `json:"sender"`
	Recipients  []string          `json:"recipients"`
	Payload     []byte            `json:"payload"`
	Priority    Priority          `json:"priority"`
	TTL         time.Duration     `json:"ttl"`
	Timestamp   time.Time         `json:"timestamp"`
	Checksum    string            `json:"checksum"`
	Routing     RoutingConfig     `json:"routing"`
	Compression CompressionConfig `json:"compression"`
	Encryption  EncryptionConfig  `json:"encryption"`
	QoS         QoSConfig         `json:"qos"`
}

// New creates a message with a fresh ID and timestamp. Defaults are filled
// by the router on send.
func New(t Type, sender string, recipients []string, payload []byte) *Message {
	return &Message{
		ID:         uuid.NewString(),
		Type:       t,
		Sender:     sender,
		Recipients: recipients,
		Payload:    payload,
		Timestamp:  time.Now(),
	}
}

// ComputeChecksum hashes sender, recipients, payload, and timestamp. Any
// single-field change produces a different checksum. Recipients are joined
// with a zero byte so list structure is part of the hash: ["a,b"] and
// ["a","b"] must not collide.
func (m *Message) ComputeChecksum() string {
	h := sha256.New()
	h.Write([]byte(m.Sender))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(m.Recipients, "\x00")))
	h.Write([]byte{0})
	h.Write(m.Payload)
	h.Write([]byte{0})
	h.Write([]byte(fmt.Sprintf("%d", m.Timestamp.UnixNano())))
	return hex.EncodeToString(h.Sum(nil))
}

// Seal computes and stores the checksum.
func (m *Message) Seal() {
	m.Checksum = m.ComputeChecksum()
}

// VerifyChecksum reports whether the stored checksum matches the contents.
func (m *Message) VerifyChecksum() bool {
	return m.Checksum != "" && m.Checksum == m.ComputeChecksum()
}

// Expired reports whether the message's TTL has elapsed at now. A zero TTL
// never expires.
func (m *Message) Expired(now time.Time) bool {
	return m.TTL > 0 && now.Sub(m.Timestamp) > m.TTL
}

// Validate checks structural invariants before routing.
func (m *Message) Validate() error {
	if m.Sender == "" {
		return fmt.Errorf("message: sender is required")
	}
	if m.Type == TypeUnicast && len(m.Recipients) != 1 {
		return fmt.Errorf("message: unicast requires exactly one recipient, got %d", len(m.Recipients))
	}
	if m.Type == TypeMulticast && len(m.Recipients) == 0 {
		return fmt.Errorf("message: multicast requires at least one recipient")
	}
	if m.Priority != "" && !m.Priority.Valid() {
		return fmt.Errorf("message: unknown priority %q", m.Priority)
	}
	return nil
}
