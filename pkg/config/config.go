package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

var ErrInvalidConfig = errors.New("config: invalid")

// Config - корневая структура конфигурации ноды
type Config struct {
	Logger    LoggerConfig    `yaml:"logger"`
	Server    ServerConfig    `yaml:"http-server"`
	Counters  CountersConfig  `yaml:"counters"`
	Raft      RaftConfig      `yaml:"raft"`
	ZooKeeper ZooKeeperConfig `yaml:"zookeeper"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// CountersConfig describes the shared counters file the node publishes its
// commit position through.
type CountersConfig struct {
	Path               string        `yaml:"path"`
	MaxCounters        int           `yaml:"max_counters"`
	FreeToReuseTimeout time.Duration `yaml:"free_to_reuse_timeout"`
}

type RaftPeerConfig struct {
	ID      uint64 `yaml:"id"`
	Address string `yaml:"address"`
}

type RaftConfig struct {
	// ClusterID is the key of the commit-position counter.
	ClusterID                 int32            `yaml:"cluster_id"`
	ID                        uint64           `yaml:"id"`
	ElectionTick              int              `yaml:"election_tick"`
	HeartbeatTick             int              `yaml:"heartbeat_tick"`
	TickInterval              time.Duration    `yaml:"tick_interval"`
	MaxSizePerMsg             uint64           `yaml:"max_size_per_msg"`
	MaxCommittedSizePerReady  uint64           `yaml:"max_committed_size_per_ready"`
	MaxUncommittedEntriesSize uint64           `yaml:"max_uncommitted_entries_size"`
	MaxInflightMsgs           int              `yaml:"max_inflight_msgs"`
	CheckQuorum               bool             `yaml:"check_quorum"`
	PreVote                   bool             `yaml:"pre_vote"`
	Peers                     []RaftPeerConfig `yaml:"peers"`
}

type ZooKeeperConfig struct {
	// пустой список - без ZooKeeper
	Servers        []string      `yaml:"servers"`
	Root           string        `yaml:"root"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

func (z ZooKeeperConfig) Enabled() bool {
	return len(z.Servers) > 0
}

// Default returns a baseline single-node development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		Server: ServerConfig{
			Port: "8080",
		},
		Counters: CountersConfig{
			Path:               "./data/counters.dat",
			MaxCounters:        1024,
			FreeToReuseTimeout: time.Second,
		},
		Raft: RaftConfig{
			ClusterID:                 0,
			ID:                        1,
			ElectionTick:              10,
			HeartbeatTick:             1,
			TickInterval:              100 * time.Millisecond,
			MaxSizePerMsg:             1024 * 1024,
			MaxCommittedSizePerReady:  4 * 1024 * 1024,
			MaxUncommittedEntriesSize: 1 << 30,
			MaxInflightMsgs:           256,
			CheckQuorum:               true,
			PreVote:                   true,
			Peers:                     []RaftPeerConfig{{ID: 1, Address: "http://localhost:8080"}},
		},
		ZooKeeper: ZooKeeperConfig{
			Root:           "/clusterpos",
			SessionTimeout: 5 * time.Second,
		},
	}
}

// Load reads a YAML config on top of Default. A missing file is not an
// error: the default config is returned.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("config file not found, using default config", "path", path)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch strings.ToUpper(c.Logger.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		errs = append(errs, fmt.Errorf("logger.level %q", c.Logger.Level))
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("http-server.port is empty"))
	}
	if c.Counters.Path == "" {
		errs = append(errs, errors.New("counters.path is empty"))
	}
	if c.Counters.MaxCounters <= 0 {
		errs = append(errs, fmt.Errorf("counters.max_counters must be positive, got %d", c.Counters.MaxCounters))
	}
	if c.Counters.FreeToReuseTimeout < 0 {
		errs = append(errs, fmt.Errorf("counters.free_to_reuse_timeout must not be negative, got %s", c.Counters.FreeToReuseTimeout))
	}
	if c.Raft.ID == 0 {
		errs = append(errs, errors.New("raft.id must be non-zero"))
	}
	if c.Raft.ElectionTick <= c.Raft.HeartbeatTick {
		errs = append(errs, errors.New("raft.election_tick must be greater than raft.heartbeat_tick"))
	}
	if c.Raft.TickInterval <= 0 {
		errs = append(errs, errors.New("raft.tick_interval must be positive"))
	}

	seen := make(map[uint64]struct{}, len(c.Raft.Peers))
	self := false
	for _, p := range c.Raft.Peers {
		if _, ok := seen[p.ID]; ok {
			errs = append(errs, fmt.Errorf("raft.peers: duplicate id %d", p.ID))
		}
		seen[p.ID] = struct{}{}
		if p.ID == c.Raft.ID {
			self = true
		}
	}
	if !self {
		errs = append(errs, fmt.Errorf("raft.peers must contain raft.id %d", c.Raft.ID))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// SlogLevel maps Logger.Level to a slog level.
func (l LoggerConfig) SlogLevel() slog.Level {
	switch strings.ToUpper(l.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
