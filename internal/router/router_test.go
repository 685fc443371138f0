package router

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/switchyard/internal/bus"
	"github.com/zulandar/switchyard/internal/config"
	"github.com/zulandar/switchyard/internal/message"
)

// captureTransport records deliveries and can fail selected recipients.
type captureTransport struct {
	delivered []string // "nodeID:messageID"
	failNodes map[string]bool
}

func (c *captureTransport) Deliver(nodeID string, msg *message.Message) error {
	if c.failNodes[nodeID] {
		return fmt.Errorf("node %s unreachable", nodeID)
	}
	c.delivered = append(c.delivered, nodeID+":"+msg.ID)
	return nil
}

func testRouter(t *testing.T) (*Router, *captureTransport, *bus.Bus) {
	t.Helper()
	cfg := config.Default().Router
	tr := &captureTransport{failNodes: map[string]bool{}}
	b := bus.New(nil)
	r := New("local", cfg, tr, b, nil)
	r.RebuildTree([]string{"n1", "n2", "n3"})
	return r, tr, b
}

func TestSend_FillsDefaults(t *testing.T) {
	r, _, _ := testRouter(t)
	msg := message.New(message.TypeUnicast, "local", []string{"n1"}, []byte("hi"))
	if err := r.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Priority != message.PriorityNormal {
		t.Errorf("Priority = %q, want normal", msg.Priority)
	}
	if msg.Routing.Strategy != "adaptive" {
		t.Errorf("Strategy = %q, want adaptive", msg.Routing.Strategy)
	}
	if msg.Routing.Reliability != 0.95 {
		t.Errorf("Reliability = %v, want 0.95", msg.Routing.Reliability)
	}
	if msg.Checksum == "" {
		t.Error("Send did not seal the checksum")
	}
	if r.HistoryLen() != 1 {
		t.Errorf("HistoryLen = %d, want 1", r.HistoryLen())
	}
}

func TestSend_UnicastValidation(t *testing.T) {
	r, _, _ := testRouter(t)
	msg := message.New(message.TypeUnicast, "local", []string{"n1", "n2"}, nil)
	if err := r.Send(msg); err == nil {
		t.Fatal("expected validation error for unicast with two recipients")
	}
}

func TestSend_CompressesAboveThreshold(t *testing.T) {
	r, tr, _ := testRouter(t)
	big := []byte(strings.Repeat("payload ", 1000))
	msg := message.New(message.TypeUnicast, "local", []string{"n1"}, big)
	if err := r.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !msg.Compression.Applied || msg.Compression.Algorithm != "gzip" {
		t.Errorf("Compression = %+v, want applied gzip", msg.Compression)
	}
	if len(msg.Payload) >= len(big) {
		t.Error("payload not compressed")
	}

	// Round trip through Receive restores the original payload.
	r.Tick(time.Now())
	if len(tr.delivered) != 1 {
		t.Fatalf("delivered = %v", tr.delivered)
	}
	var got []byte
	r.RegisterHandler(message.TypeUnicast, func(m *message.Message) { got = m.Payload })
	r.Receive(msg, time.Now())
	if string(got) != string(big) {
		t.Error("decompressed payload mismatch")
	}
}

func TestTick_StrictPriorityOrder(t *testing.T) {
	r, tr, _ := testRouter(t)

	send := func(p message.Priority, id string) {
		msg := message.New(message.TypeUnicast, "local", []string{"n1"}, nil)
		msg.ID = id
		msg.Priority = p
		if err := r.Send(msg); err != nil {
			t.Fatalf("Send %s: %v", id, err)
		}
	}
	send(message.PriorityLow, "m-low")
	send(message.PriorityEmergency, "m-emergency")
	send(message.PriorityNormal, "m-normal")

	r.Tick(time.Now())

	want := []string{"n1:m-emergency", "n1:m-normal", "n1:m-low"}
	if len(tr.delivered) != len(want) {
		t.Fatalf("delivered = %v, want %v", tr.delivered, want)
	}
	for i := range want {
		if tr.delivered[i] != want[i] {
			t.Errorf("delivered[%d] = %s, want %s", i, tr.delivered[i], want[i])
		}
	}
}

func TestTick_LowerBandStarvedByBacklog(t *testing.T) {
	cfg := config.Default().Router
	cfg.BatchPerPriority = 2
	tr := &captureTransport{failNodes: map[string]bool{}}
	r := New("local", cfg, tr, bus.New(nil), nil)

	for i := 0; i < 3; i++ {
		msg := message.New(message.TypeUnicast, "local", []string{"n1"}, nil)
		msg.Priority = message.PriorityHigh
		r.Send(msg)
	}
	low := message.New(message.TypeUnicast, "local", []string{"n1"}, nil)
	low.ID = "m-low"
	low.Priority = message.PriorityLow
	r.Send(low)

	// High band still has a backlog after the batch limit, so low must wait.
	r.Tick(time.Now())
	for _, d := range tr.delivered {
		if strings.HasSuffix(d, ":m-low") {
			t.Fatal("low priority message processed while high band had backlog")
		}
	}

	// Two more ticks clear the backlog and release the low band.
	r.Tick(time.Now())
	r.Tick(time.Now())
	found := false
	for _, d := range tr.delivered {
		if strings.HasSuffix(d, ":m-low") {
			found = true
		}
	}
	if !found {
		t.Error("low priority message never processed after backlog cleared")
	}
}

func TestTick_Broadcast_WalksTree(t *testing.T) {
	r, tr, _ := testRouter(t)
	msg := message.New(message.TypeBroadcast, "local", nil, []byte("all"))
	if err := r.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	r.Tick(time.Now())

	if len(tr.delivered) != 3 {
		t.Fatalf("broadcast reached %d nodes, want 3: %v", len(tr.delivered), tr.delivered)
	}
}

func TestTick_FailureIsolatedPerMessage(t *testing.T) {
	r, tr, b := testRouter(t)
	var failures int
	b.Subscribe(bus.MessageFailed, func(ev bus.Event) { failures++ })
	tr.failNodes["n2"] = true

	bad := message.New(message.TypeUnicast, "local", []string{"n2"}, nil)
	good := message.New(message.TypeUnicast, "local", []string{"n1"}, nil)
	r.Send(bad)
	r.Send(good)

	n := r.Tick(time.Now())

	if n != 1 {
		t.Errorf("Tick processed %d, want 1", n)
	}
	if failures != 1 {
		t.Errorf("message:failed events = %d, want 1", failures)
	}
	if len(tr.delivered) != 1 || !strings.HasPrefix(tr.delivered[0], "n1:") {
		t.Errorf("delivered = %v", tr.delivered)
	}
}

func TestTick_ExpiredMessageDropped(t *testing.T) {
	r, tr, _ := testRouter(t)
	msg := message.New(message.TypeUnicast, "local", []string{"n1"}, nil)
	msg.TTL = time.Millisecond
	msg.Timestamp = time.Now().Add(-time.Minute)
	r.Send(msg)

	r.Tick(time.Now())
	if len(tr.delivered) != 0 {
		t.Errorf("expired message was delivered: %v", tr.delivered)
	}
}

func TestReceive_ChecksumMismatchDropped(t *testing.T) {
	r, _, b := testRouter(t)
	var failed int
	b.Subscribe(bus.MessageFailed, func(ev bus.Event) { failed++ })
	handled := false
	r.RegisterHandler(message.TypeData, func(m *message.Message) { handled = true })

	msg := message.New(message.TypeData, "n1", []string{"local"}, []byte("x"))
	msg.Seal()
	msg.Payload = []byte("tampered")

	r.Receive(msg, time.Now())

	if handled {
		t.Error("handler ran for checksum-mismatched message")
	}
	if failed != 1 {
		t.Errorf("message:failed events = %d, want 1", failed)
	}
}

func TestReceive_DispatchesHandlers(t *testing.T) {
	r, _, b := testRouter(t)
	var received int
	b.Subscribe(bus.MessageReceived, func(ev bus.Event) { received++ })
	var got *message.Message
	r.RegisterHandler(message.TypeHeartbeat, func(m *message.Message) { got = m })

	msg := message.New(message.TypeHeartbeat, "n1", nil, []byte("hb"))
	msg.Seal()
	r.Receive(msg, time.Now())

	if got == nil {
		t.Fatal("heartbeat handler not invoked")
	}
	if received != 1 {
		t.Errorf("message:received events = %d, want 1", received)
	}
}

func TestSweepHistory(t *testing.T) {
	r, _, _ := testRouter(t)
	old := message.New(message.TypeData, "local", nil, nil)
	old.TTL = time.Second
	old.Timestamp = time.Now().Add(-time.Hour)
	r.Send(old)
	fresh := message.New(message.TypeData, "local", nil, nil)
	r.Send(fresh)

	purged := r.SweepHistory(time.Now())
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
	if r.HistoryLen() != 1 {
		t.Errorf("HistoryLen = %d, want 1", r.HistoryLen())
	}
}

func TestGossipDelegation(t *testing.T) {
	r, _, _ := testRouter(t)
	var propagated *message.Message
	r.SetGossip(gossipFunc(func(m *message.Message) error {
		propagated = m
		return nil
	}))

	msg := message.New(message.TypeGossip, "local", nil, []byte("state"))
	r.Send(msg)
	r.Tick(time.Now())

	if propagated == nil {
		t.Fatal("gossip message not delegated")
	}
}

type gossipFunc func(*message.Message) error

func (f gossipFunc) Propagate(m *message.Message) error { return f(m) }
