package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

// zkConn is the subset of *zk.Conn the registry uses.
type zkConn interface {
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Exists(path string) (bool, *zk.Stat, error)
	Children(path string) ([]string, *zk.Stat, error)
	ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error)
	Get(path string) ([]byte, *zk.Stat, error)
	Delete(path string, version int32) error
	State() zk.State
	Close()
}

// Advertisement tells other hosts where a node publishes the commit position
// of its cluster: the counters file to map and the counter id found in it.
type Advertisement struct {
	ClusterID    int32  `json:"cluster_id"`
	Node         string `json:"node"`
	CountersFile string `json:"counters_file"`
	CounterID    int32  `json:"counter_id"`
	TypeID       int32  `json:"type_id"`
}

// ZKRegistry keeps one ephemeral znode per advertising node under
// <root>/clusters/<clusterId>/nodes/<node>.
type ZKRegistry struct {
	conn     zkConn
	rootPath string
}

// servers: ["zk1:2181", "zk2:2181"]
func NewZKRegistry(servers []string, rootPath string, sessionTimeout time.Duration) (*ZKRegistry, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}
	return newZKRegistry(conn, rootPath), nil
}

func newZKRegistry(conn zkConn, rootPath string) *ZKRegistry {
	return &ZKRegistry{conn: conn, rootPath: path.Clean("/" + rootPath)}
}

func (r *ZKRegistry) Close() error {
	r.conn.Close()
	return nil
}

// ClusterNodesPath returns the parent znode of all advertisements for clusterID.
func ClusterNodesPath(root string, clusterID int32) string {
	return path.Join("/", root, "clusters", strconv.FormatInt(int64(clusterID), 10), "nodes")
}

// NodePath returns the znode of node's advertisement. Slashes in node are
// replaced so that an address stays a single path element.
func NodePath(root string, clusterID int32, node string) string {
	return path.Join(ClusterNodesPath(root, clusterID), strings.ReplaceAll(node, "/", "_"))
}

func (r *ZKRegistry) ensurePath(p string) error {
	cur := ""
	for _, part := range strings.Split(p, "/") {
		if part == "" {
			continue
		}
		cur = cur + "/" + part
		exists, _, err := r.conn.Exists(cur)
		if err != nil {
			return err
		}
		if !exists {
			_, err = r.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
			if err != nil && !errors.Is(err, zk.ErrNodeExists) {
				return err
			}
		}
	}
	return nil
}

// Advertise creates the ephemeral znode for ad. A node left over from a
// previous session of the same node is replaced.
func (r *ZKRegistry) Advertise(ad Advertisement) error {
	if err := r.waitConnected(10 * time.Second); err != nil {
		return err
	}
	if err := r.ensurePath(ClusterNodesPath(r.rootPath, ad.ClusterID)); err != nil {
		return fmt.Errorf("ensure cluster path: %w", err)
	}

	data, err := json.Marshal(ad)
	if err != nil {
		return fmt.Errorf("marshal advertisement: %w", err)
	}

	p := NodePath(r.rootPath, ad.ClusterID, ad.Node)
	_, err = r.conn.Create(p, data, zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if errors.Is(err, zk.ErrNodeExists) {
		if err := r.conn.Delete(p, -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
			return fmt.Errorf("delete stale advertisement: %w", err)
		}
		_, err = r.conn.Create(p, data, zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	}
	if err != nil {
		return fmt.Errorf("create ephemeral node: %w", err)
	}

	slog.Info("commit position advertised", "path", p, "counter_id", ad.CounterID, "file", ad.CountersFile)
	return nil
}

// Withdraw removes node's advertisement for clusterID.
func (r *ZKRegistry) Withdraw(clusterID int32, node string) error {
	err := r.conn.Delete(NodePath(r.rootPath, clusterID, node), -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("delete advertisement: %w", err)
	}
	return nil
}

// Lookup returns all advertisements for clusterID sorted by node.
func (r *ZKRegistry) Lookup(clusterID int32) ([]Advertisement, error) {
	children, _, err := r.conn.Children(ClusterNodesPath(r.rootPath, clusterID))
	if errors.Is(err, zk.ErrNoNode) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("zk children: %w", err)
	}
	return r.read(clusterID, children)
}

func (r *ZKRegistry) read(clusterID int32, children []string) ([]Advertisement, error) {
	sort.Strings(children)
	out := make([]Advertisement, 0, len(children))
	for _, child := range children {
		data, _, err := r.conn.Get(path.Join(ClusterNodesPath(r.rootPath, clusterID), child))
		if errors.Is(err, zk.ErrNoNode) {
			// нода ушла между Children и Get
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("zk get %s: %w", child, err)
		}
		var ad Advertisement
		if err := json.Unmarshal(data, &ad); err != nil {
			slog.Warn("skipping malformed advertisement", "cluster_id", clusterID, "node", child, "error", err)
			continue
		}
		out = append(out, ad)
	}
	return out, nil
}

// Watch calls fn with the current advertisements of clusterID and again on
// every membership change until ctx is done.
func (r *ZKRegistry) Watch(ctx context.Context, clusterID int32, fn func([]Advertisement)) {
	go func() {
		p := ClusterNodesPath(r.rootPath, clusterID)
		for {
			if err := r.ensurePath(p); err != nil {
				slog.Warn("zk ensure path failed", "path", p, "error", err)
			}
			children, _, ch, err := r.conn.ChildrenW(p)
			if err != nil {
				slog.Warn("zk ChildrenW failed", "path", p, "error", err)
				select {
				case <-time.After(2 * time.Second):
					continue
				case <-ctx.Done():
					return
				}
			}

			ads, err := r.read(clusterID, children)
			if err != nil {
				slog.Warn("zk read advertisements failed", "cluster_id", clusterID, "error", err)
			} else {
				fn(ads)
			}

			select {
			case ev := <-ch:
				slog.Debug("zk event", "type", ev.Type, "path", ev.Path)
			case <-ctx.Done():
				slog.Debug("zk watch stopped", "cluster_id", clusterID)
				return
			}
		}
	}()
}

func (r *ZKRegistry) waitConnected(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st := r.conn.State()
		if st == zk.StateConnected || st == zk.StateHasSession {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("zk: not connected after %s, state=%v", timeout, st)
		}
		time.Sleep(200 * time.Millisecond)
	}
}
