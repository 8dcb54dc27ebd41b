package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	httpserver "clusterpos/internal/http"
	"clusterpos/pkg/cluster"
	"clusterpos/pkg/commitpos"
	"clusterpos/pkg/config"
	"clusterpos/pkg/counters"
	"clusterpos/pkg/kv"
	"clusterpos/pkg/raftadapter"
)

func main() {
	configPath := flag.String("config", "clusterpos.yaml", "path to YAML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "clusterpos:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	initLogger(&cfg.Logger)

	// --- реестр счётчиков в общем файле ---
	if err := os.MkdirAll(filepath.Dir(cfg.Counters.Path), 0o755); err != nil {
		return fmt.Errorf("create counters dir: %w", err)
	}
	file, err := counters.CreateFile(cfg.Counters.Path, cfg.Counters.MaxCounters)
	if err != nil {
		return err
	}
	defer file.Close()

	manager, err := file.Manager(
		counters.WithFreeToReuseTimeout(cfg.Counters.FreeToReuseTimeout),
		counters.WithLogger(slog.Default()),
	)
	if err != nil {
		return err
	}

	position, err := commitpos.Allocate(manager, cfg.Raft.ClusterID)
	if err != nil {
		return fmt.Errorf("allocate commit position: %w", err)
	}
	defer position.Close()

	slog.Info("commit position counter allocated",
		"cluster_id", cfg.Raft.ClusterID,
		"counter_id", position.ID(),
		"label", position.Label(),
		"file", file.Path())

	// --- raft + state machine ---
	store := kv.New()
	node, err := raftadapter.NewNode(&cfg.Raft, store, raftadapter.WithCommitPosition(position))
	if err != nil {
		return fmt.Errorf("create raft node: %w", err)
	}

	nodeErr := make(chan error, 1)
	go func() {
		nodeErr <- node.Run(ctx)
	}()
	nodeDone := false
	// цикл raft должен выйти до освобождения счётчика и munmap в defer выше
	defer func() {
		_ = node.Stop()
		if !nodeDone {
			<-nodeErr
		}
		slog.Info("clusterpos node stopped", "applied", node.CommitIndex(), "commit_position", position.Get())
	}()

	server := httpserver.NewServer(node, store, file.Reader(), cfg.Raft.ClusterID, cfg.Server.Port)
	if err := server.Start(); err != nil {
		return err
	}

	// --- ZooKeeper (опционально) ---
	if cfg.ZooKeeper.Enabled() {
		reg, err := cluster.NewZKRegistry(cfg.ZooKeeper.Servers, cfg.ZooKeeper.Root, cfg.ZooKeeper.SessionTimeout)
		if err != nil {
			return err
		}
		defer reg.Close()

		nodeAddr := server.URL
		for _, p := range cfg.Raft.Peers {
			if p.ID == cfg.Raft.ID {
				nodeAddr = p.Address
			}
		}
		absPath, _ := filepath.Abs(file.Path())
		ad := cluster.Advertisement{
			ClusterID:    cfg.Raft.ClusterID,
			Node:         nodeAddr,
			CountersFile: absPath,
			CounterID:    position.ID(),
			TypeID:       commitpos.TypeID,
		}
		if err := reg.Advertise(ad); err != nil {
			return fmt.Errorf("advertise commit position: %w", err)
		}
		defer func() {
			if err := reg.Withdraw(ad.ClusterID, ad.Node); err != nil {
				slog.Warn("withdraw advertisement", "error", err)
			}
		}()
	}

	slog.Info("clusterpos node running", "cluster_id", cfg.Raft.ClusterID, "node_id", cfg.Raft.ID)

	select {
	case <-ctx.Done():
	case err := <-nodeErr:
		nodeDone = true
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("raft node stopped", "error", err)
		}
	}

	if err := server.Stop(); err != nil {
		slog.Error("stopping server", "error", err)
	}
	return nil
}
