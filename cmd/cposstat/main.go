// Command cposstat prints the commit position of a cluster by scanning a
// counters file published by a clusterpos node on the same host.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"clusterpos/pkg/cluster"
	"clusterpos/pkg/commitpos"
	"clusterpos/pkg/counters"
)

func main() {
	var (
		path      = flag.String("file", "", "counters file to map (followed through ZooKeeper when empty)")
		clusterID = flag.Int("cluster", 0, "cluster id")
		interval  = flag.Duration("interval", time.Second, "poll interval, 0 prints once")
		zkServers = flag.String("zk", "", "comma separated ZooKeeper servers")
		zkRoot    = flag.String("zk-root", "/clusterpos", "ZooKeeper root path")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *path, int32(*clusterID), *interval, *zkServers, *zkRoot); err != nil {
		fmt.Fprintln(os.Stderr, "cposstat:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, path string, clusterID int32, interval time.Duration, zkServers, zkRoot string) error {
	var updates <-chan string
	if path == "" {
		if zkServers == "" {
			return errors.New("either -file or -zk is required")
		}
		reg, err := cluster.NewZKRegistry(strings.Split(zkServers, ","), zkRoot, 5*time.Second)
		if err != nil {
			return err
		}
		defer reg.Close()

		ch := followAdvertisements(ctx, reg, clusterID)
		select {
		case path = <-ch:
		case <-ctx.Done():
			return nil
		}
		if path == "" {
			return fmt.Errorf("no counters file for cluster %d reachable from this host", clusterID)
		}
		updates = ch
	}

	m := &monitor{clusterID: clusterID}
	if err := m.switchTo(path); err != nil {
		return err
	}
	defer m.close()

	m.w.print()
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-updates:
			if p == "" {
				slog.Warn("no reachable advertisement, keeping current file", "cluster_id", clusterID, "file", m.path)
				continue
			}
			if err := m.switchTo(p); err != nil {
				slog.Warn("switching counters file", "file", p, "error", err)
			}
		case <-ticker.C:
			m.w.print()
		}
	}
}

// followAdvertisements delivers the counters file of the first reachable
// advertisement every time the cluster's membership changes. An empty string
// means nothing reachable is advertised. Only the latest value is kept.
func followAdvertisements(ctx context.Context, reg *cluster.ZKRegistry, clusterID int32) <-chan string {
	ch := make(chan string, 1)
	reg.Watch(ctx, clusterID, func(ads []cluster.Advertisement) {
		p := pickFile(ads)
		select {
		case <-ch:
		default:
		}
		ch <- p
	})
	return ch
}

func pickFile(ads []cluster.Advertisement) string {
	for _, ad := range ads {
		if _, err := os.Stat(ad.CountersFile); err == nil {
			slog.Debug("using advertised counters file", "node", ad.Node, "file", ad.CountersFile)
			return ad.CountersFile
		}
	}
	return ""
}

// monitor owns the currently mapped counters file.
type monitor struct {
	clusterID int32
	path      string
	file      *counters.File
	w         *watcher
}

// switchTo maps path and drops the previous file. Mapping the same path
// again is a no-op.
func (m *monitor) switchTo(path string) error {
	if m.file != nil && path == m.path {
		return nil
	}
	file, err := counters.OpenFile(path)
	if err != nil {
		return err
	}
	slog.Debug("counters file mapped", "path", path, "pid", file.PID(), "started", file.StartTime())

	m.close()
	m.path = path
	m.file = file
	m.w = &watcher{reader: file.Reader(), clusterID: m.clusterID, id: counters.NullCounterID}
	return nil
}

func (m *monitor) close() {
	if m.file == nil {
		return
	}
	if err := m.file.Close(); err != nil {
		slog.Warn("closing counters file", "path", m.path, "error", err)
	}
	m.file = nil
}

// watcher remembers the last id it found and revalidates it on every poll,
// falling back to a full scan when the slot was freed or reused.
type watcher struct {
	reader    *counters.Reader
	clusterID int32
	id        int32
}

func (w *watcher) locate() int32 {
	if !commitpos.IsCommitPosition(w.reader, w.id, w.clusterID) {
		w.id = commitpos.FindCounterID(w.reader, w.clusterID)
	}
	return w.id
}

func (w *watcher) print() {
	now := time.Now().Format(time.RFC3339)
	id := w.locate()
	if id == counters.NullCounterID {
		fmt.Printf("%s clusterId=%d commit position not found\n", now, w.clusterID)
		return
	}
	fmt.Printf("%s clusterId=%d counterId=%d position=%d\n", now, w.clusterID, id, w.reader.CounterValue(id))
}
