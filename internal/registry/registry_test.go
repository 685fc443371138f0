package registry

import (
	"testing"
	"time"

	"github.com/zulandar/switchyard/internal/bus"
)

func TestNodeStatus_Boundaries(t *testing.T) {
	hb := 10 * time.Second
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := &Node{ID: "n1", LastSeen: base}

	tests := []struct {
		name string
		age  time.Duration
		want Status
	}{
		{"fresh", 0, StatusOnline},
		{"exactly 2x", 2 * hb, StatusOnline},
		{"just past 2x", 2*hb + time.Millisecond, StatusDegraded},
		{"exactly 3x", 3 * hb, StatusDegraded},
		{"just past 3x", 3*hb + time.Millisecond, StatusOffline},
		{"long gone", time.Hour, StatusOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Status(base.Add(tt.age), hb)
			if got != tt.want {
				t.Errorf("Status(+%v) = %v, want %v", tt.age, got, tt.want)
			}
		})
	}
}

func TestRegister_EmitsEvents(t *testing.T) {
	b := bus.New(nil)
	var seen []bus.EventType
	b.SubscribeAll(func(ev bus.Event) { seen = append(seen, ev.Type) })

	r := New(10*time.Second, b)
	now := time.Now()

	if err := r.Register("n1", "10.0.0.1", []string{"compute"}, now); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Heartbeat("n1", now); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	// Second heartbeat must not re-emit node:connected.
	if err := r.Heartbeat("n1", now.Add(time.Second)); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	r.Remove("n1")

	want := []bus.EventType{bus.NodeRegistered, bus.NodeConnected, bus.NodeDisconnected}
	if len(seen) != len(want) {
		t.Fatalf("events = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("events[%d] = %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestRegister_EmptyID(t *testing.T) {
	r := New(10*time.Second, bus.New(nil))
	if err := r.Register("", "addr", nil, time.Now()); err == nil {
		t.Fatal("expected error for empty node id")
	}
}

func TestRegister_ExistingUpdatesInPlace(t *testing.T) {
	r := New(10*time.Second, bus.New(nil))
	now := time.Now()
	r.Register("n1", "old", nil, now)
	r.RecordSent("n1")
	r.Register("n1", "new", []string{"store"}, now)

	n, ok := r.Get("n1")
	if !ok {
		t.Fatal("node missing")
	}
	if n.Address != "new" {
		t.Errorf("Address = %q, want new", n.Address)
	}
	if n.Metrics.MessagesSent != 1 {
		t.Errorf("MessagesSent = %d, want 1 (metrics must survive re-register)", n.Metrics.MessagesSent)
	}
}

func TestIDs_Sorted(t *testing.T) {
	r := New(10*time.Second, bus.New(nil))
	now := time.Now()
	for _, id := range []string{"n3", "n1", "n2"} {
		r.Register(id, "", nil, now)
	}
	ids := r.IDs()
	want := []string{"n1", "n2", "n3"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("IDs() = %v, want %v", ids, want)
		}
	}
}

func TestOnline_FiltersByStatus(t *testing.T) {
	hb := 10 * time.Second
	r := New(hb, bus.New(nil))
	base := time.Now()
	r.Register("fresh", "", nil, base)
	r.Register("stale", "", nil, base.Add(-5*hb))

	online := r.Online(base)
	if len(online) != 1 || online[0] != "fresh" {
		t.Errorf("Online() = %v, want [fresh]", online)
	}

	counts := r.CountByStatus(base)
	if counts[StatusOnline] != 1 || counts[StatusOffline] != 1 {
		t.Errorf("CountByStatus() = %v", counts)
	}
}

func TestHeartbeat_UnknownNode(t *testing.T) {
	r := New(10*time.Second, bus.New(nil))
	if err := r.Heartbeat("ghost", time.Now()); err == nil {
		t.Fatal("expected error for unknown node")
	}
}
