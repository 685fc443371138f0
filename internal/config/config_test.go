package config

import (
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("node_id: node-a\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.NodeID != "node-a" {
		t.Errorf("NodeID = %q, want node-a", cfg.NodeID)
	}
	if cfg.DB.Driver != "sqlite" {
		t.Errorf("DB.Driver = %q, want sqlite", cfg.DB.Driver)
	}
	if cfg.Router.TickInterval != 100*time.Millisecond {
		t.Errorf("Router.TickInterval = %v, want 100ms", cfg.Router.TickInterval)
	}
	if cfg.Gossip.Fanout != 3 {
		t.Errorf("Gossip.Fanout = %d, want 3", cfg.Gossip.Fanout)
	}
	if cfg.Dispatch.StuckFactor != 2.0 {
		t.Errorf("Dispatch.StuckFactor = %v, want 2.0", cfg.Dispatch.StuckFactor)
	}
}

func TestParse_Overrides(t *testing.T) {
	yaml := `
node_id: node-b
db:
  driver: mysql
  host: db.internal
  port: 3307
  database: swarm
router:
  tick_interval: 250ms
  batch_per_priority: 5
gossip:
  interval: 2s
  fanout: 5
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.DB.Driver != "mysql" || cfg.DB.Host != "db.internal" || cfg.DB.Port != 3307 {
		t.Errorf("DB = %+v", cfg.DB)
	}
	if cfg.Router.TickInterval != 250*time.Millisecond {
		t.Errorf("TickInterval = %v", cfg.Router.TickInterval)
	}
	if cfg.Router.BatchPerPriority != 5 {
		t.Errorf("BatchPerPriority = %d", cfg.Router.BatchPerPriority)
	}
	if cfg.Gossip.Interval != 2*time.Second || cfg.Gossip.Fanout != 5 {
		t.Errorf("Gossip = %+v", cfg.Gossip)
	}
}

func TestParse_InvalidDriver(t *testing.T) {
	_, err := Parse([]byte("db:\n  driver: mongo\n"))
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if !strings.Contains(err.Error(), "unknown db driver") {
		t.Errorf("error = %q", err)
	}
}

func TestParse_FanoutTooLarge(t *testing.T) {
	_, err := Parse([]byte("gossip:\n  fanout: 64\n"))
	if err == nil {
		t.Fatal("expected error for oversized fanout")
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte(":\n  - ["))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "config: parse") {
		t.Errorf("error = %q", err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.NodeID == "" || cfg.API.Port == 0 {
		t.Errorf("Default() left zero values: %+v", cfg)
	}
}
