package raftadapter

import (
	"context"
	"sync"
	"testing"
	"time"

	"clusterpos/pkg/commitpos"
	"clusterpos/pkg/config"
	"clusterpos/pkg/counters"
	"clusterpos/pkg/kv"

	"go.etcd.io/etcd/raft/v3/raftpb"
)

// inprocTransport маршрутизирует raft сообщения между нодами в памяти
type inprocTransport struct {
	nodesMu sync.RWMutex
	nodes   map[uint64]*Node
}

func newInprocTransport() *inprocTransport {
	return &inprocTransport{nodes: make(map[uint64]*Node)}
}

func (t *inprocTransport) register(n *Node) {
	t.nodesMu.Lock()
	t.nodes[n.ID] = n
	t.nodesMu.Unlock()
}

func (t *inprocTransport) Send(msg raftpb.Message) error {
	t.nodesMu.RLock()
	target, ok := t.nodes[msg.To]
	t.nodesMu.RUnlock()
	if !ok {
		return nil
	}
	go func() {
		_ = target.Handle(context.Background(), msg)
	}()
	return nil
}

func (t *inprocTransport) AddPeer(uint64, string)    {}
func (t *inprocTransport) RemovePeer(uint64)         {}
func (t *inprocTransport) UpdatePeer(uint64, string) {}

// helper: wait until exactly one leader among nodes or timeout
func waitForLeader(t *testing.T, nodes []*Node, timeout time.Duration) *Node {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var leaders []*Node
		for _, n := range nodes {
			if n.IsLeader() {
				leaders = append(leaders, n)
			}
		}
		if len(leaders) == 1 {
			return leaders[0]
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("leader not elected within %s", timeout)
	return nil
}

// Все три ноды публикуют позицию в общий реестр, каждая под своим cluster id,
// как это делают процессы на одном хосте.
func TestReplication_3NodesPublishCommitPositions(t *testing.T) {
	meta, values := counters.NewBuffers(16)
	manager := counters.NewManager(meta, values)
	reader := counters.NewReader(meta, values)

	peers := []config.RaftPeerConfig{
		{ID: 1, Address: "n1"},
		{ID: 2, Address: "n2"},
		{ID: 3, Address: "n3"},
	}

	transport := newInprocTransport()
	stores := make([]*kv.Store, 3)
	nodes := make([]*Node, 3)
	for i := range nodes {
		stores[i] = kv.New()
		pos, err := commitpos.Allocate(manager, int32(100+i))
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		n, err := NewNode(testRaftConfig(uint64(i+1), peers...), stores[i],
			WithTransport(transport), WithCommitPosition(pos))
		if err != nil {
			t.Fatalf("failed to create node %d: %v", i+1, err)
		}
		nodes[i] = n
		transport.register(n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, n := range nodes {
		wg.Add(1)
		go func(node *Node) {
			defer wg.Done()
			_ = node.Run(ctx)
		}(n)
	}
	defer func() {
		cancel()
		wg.Wait()
	}()

	leader := waitForLeader(t, nodes, 5*time.Second)

	execCtx, execCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer execCancel()
	for _, k := range []string{"a", "b", "c"} {
		if err := leader.Execute(execCtx, NewCmd(InsertOp, []byte(k), []byte("v-"+k))); err != nil {
			t.Fatalf("leader Execute %s: %v", k, err)
		}
	}
	target := leader.CommitIndex()

	deadline := time.Now().Add(5 * time.Second)
	for {
		caughtUp := true
		for i := range nodes {
			id := commitpos.FindCounterID(reader, int32(100+i))
			if id == counters.NullCounterID {
				t.Fatalf("commit position for node %d not found", i+1)
			}
			if reader.CounterValue(id) < int64(target) || stores[i].Len() != 3 {
				caughtUp = false
			}
		}
		if caughtUp {
			break
		}
		if time.Now().After(deadline) {
			for i := range nodes {
				id := commitpos.FindCounterID(reader, int32(100+i))
				t.Logf("node %d: position=%d keys=%d", i+1, reader.CounterValue(id), stores[i].Len())
			}
			t.Fatalf("nodes did not reach commit index %d in time", target)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if got := commitpos.FindCounterID(reader, 999); got != counters.NullCounterID {
		t.Fatalf("unexpected counter for unknown cluster: %d", got)
	}
}
