package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must be valid: %v", err)
	}
	// освобождённый слот не должен сразу уходить другому счётчику
	if cfg.Counters.FreeToReuseTimeout < time.Second {
		t.Fatalf("expected a reuse timeout of at least 1s, got %s", cfg.Counters.FreeToReuseTimeout)
	}
}

func TestLoad_MissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Counters.MaxCounters != Default().Counters.MaxCounters {
		t.Fatalf("expected default config")
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	data := `
logger:
  level: debug
  json: true
http-server:
  port: "9090"
counters:
  path: /tmp/cpos.dat
  max_counters: 16
  free_to_reuse_timeout: 2s
raft:
  cluster_id: -3
  id: 2
  election_tick: 10
  heartbeat_tick: 1
  tick_interval: 50ms
  peers:
    - id: 1
      address: http://n1:8080
    - id: 2
      address: http://n2:8080
zookeeper:
  servers: ["zk1:2181", "zk2:2181"]
  root: /cpos
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Logger.JSON || cfg.Logger.SlogLevel() != slog.LevelDebug {
		t.Fatalf("unexpected logger config %+v", cfg.Logger)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("unexpected port %q", cfg.Server.Port)
	}
	if cfg.Counters.MaxCounters != 16 || cfg.Counters.FreeToReuseTimeout != 2*time.Second {
		t.Fatalf("unexpected counters config %+v", cfg.Counters)
	}
	if cfg.Raft.ClusterID != -3 || cfg.Raft.ID != 2 || len(cfg.Raft.Peers) != 2 {
		t.Fatalf("unexpected raft config %+v", cfg.Raft)
	}
	if cfg.Raft.TickInterval != 50*time.Millisecond {
		t.Fatalf("unexpected tick interval %s", cfg.Raft.TickInterval)
	}
	// не заданные в файле поля берутся из Default
	if cfg.Raft.MaxInflightMsgs != Default().Raft.MaxInflightMsgs {
		t.Fatalf("expected default max_inflight_msgs, got %d", cfg.Raft.MaxInflightMsgs)
	}
	if !cfg.ZooKeeper.Enabled() || cfg.ZooKeeper.Root != "/cpos" {
		t.Fatalf("unexpected zookeeper config %+v", cfg.ZooKeeper)
	}
}

func TestValidate_Errors(t *testing.T) {
	cases := map[string]func(c *Config){
		"bad level":       func(c *Config) { c.Logger.Level = "loud" },
		"no port":         func(c *Config) { c.Server.Port = "" },
		"no counters":     func(c *Config) { c.Counters.MaxCounters = 0 },
		"no path":         func(c *Config) { c.Counters.Path = "" },
		"negative reuse":  func(c *Config) { c.Counters.FreeToReuseTimeout = -time.Second },
		"zero raft id":    func(c *Config) { c.Raft.ID = 0 },
		"ticks":           func(c *Config) { c.Raft.ElectionTick = 1 },
		"self not a peer": func(c *Config) { c.Raft.ID = 5 },
		"duplicate peer": func(c *Config) {
			c.Raft.Peers = append(c.Raft.Peers, RaftPeerConfig{ID: 1, Address: "x"})
		},
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
}
