package raftadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clusterpos/pkg/commitpos"
	"clusterpos/pkg/config"
	"clusterpos/pkg/counters"
	"clusterpos/pkg/kv"

	"go.etcd.io/etcd/raft/v3/raftpb"
)

// mockTransport реализует iTransport и собирает вызовы
type mockTransport struct {
	mu      sync.Mutex
	added   map[uint64]string
	removed []uint64
	updated map[uint64]string
	sent    []raftpb.Message
}

func newMockTransport() *mockTransport {
	return &mockTransport{added: map[uint64]string{}, updated: map[uint64]string{}}
}

func (m *mockTransport) Send(msg raftpb.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockTransport) AddPeer(id uint64, addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added[id] = addr
}

func (m *mockTransport) RemovePeer(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, id)
}

func (m *mockTransport) UpdatePeer(id uint64, addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updated[id] = addr
}

func testRaftConfig(id uint64, peers ...config.RaftPeerConfig) *config.RaftConfig {
	return &config.RaftConfig{
		ClusterID:                 7,
		ID:                        id,
		ElectionTick:              10,
		HeartbeatTick:             2,
		TickInterval:              10 * time.Millisecond,
		MaxSizePerMsg:             1024 * 1024,
		MaxCommittedSizePerReady:  4096 * 1024,
		MaxUncommittedEntriesSize: 1 << 20,
		MaxInflightMsgs:           256,
		Peers:                     peers,
	}
}

func TestNode_UpdateTransport(t *testing.T) {
	mt := newMockTransport()
	n, err := NewNode(testRaftConfig(1, config.RaftPeerConfig{ID: 1, Address: "http://127.0.0.1:8080"}), kv.New(), WithTransport(mt))
	if err != nil {
		t.Fatalf("failed to create node: %v", err)
	}
	defer n.Stop()

	n.updateTransport(raftpb.ConfChange{Type: raftpb.ConfChangeAddNode, NodeID: 2, Context: []byte("http://127.0.0.1:8081")})
	if mt.added[2] != "http://127.0.0.1:8081" {
		t.Fatalf("AddPeer not called: %v", mt.added)
	}

	n.updateTransport(raftpb.ConfChange{Type: raftpb.ConfChangeUpdateNode, NodeID: 2, Context: []byte("http://127.0.0.1:9000")})
	if mt.updated[2] != "http://127.0.0.1:9000" {
		t.Fatalf("UpdatePeer not called: %v", mt.updated)
	}

	n.peersMu.RLock()
	addr := n.peers[2]
	n.peersMu.RUnlock()
	if addr != "http://127.0.0.1:9000" {
		t.Fatalf("peer address not updated: %q", addr)
	}

	n.updateTransport(raftpb.ConfChange{Type: raftpb.ConfChangeRemoveNode, NodeID: 2})
	if len(mt.removed) != 1 || mt.removed[0] != 2 {
		t.Fatalf("RemovePeer not called: %v", mt.removed)
	}
}

func TestNewNode_Errors(t *testing.T) {
	if _, err := NewNode(testRaftConfig(1), kv.New()); err == nil {
		t.Fatalf("expected error for no peers")
	}
	dup := testRaftConfig(1, config.RaftPeerConfig{ID: 1}, config.RaftPeerConfig{ID: 1})
	if _, err := NewNode(dup, kv.New()); err == nil {
		t.Fatalf("expected error for duplicate peers")
	}
	if _, err := NewNode(testRaftConfig(0, config.RaftPeerConfig{ID: 1}), kv.New()); err == nil {
		t.Fatalf("expected error for zero id")
	}
}

func TestCmd_Validate(t *testing.T) {
	cases := []struct {
		cmd Cmd
		ok  bool
	}{
		{NewCmd(InsertOp, []byte("k"), []byte("v")), true},
		{NewCmd(InsertOp, []byte("k"), nil), false},
		{NewCmd(InsertOp, nil, []byte("v")), false},
		{NewCmd(DeleteOp, []byte("k"), nil), true},
		{NewCmd(DeleteOp, nil, nil), false},
		{NewCmd(Operation(9), []byte("k"), []byte("v")), false},
	}
	for i, tc := range cases {
		err := tc.cmd.validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d: unexpected error %v", i, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidCommand) {
			t.Fatalf("case %d: expected ErrInvalidCommand, got %v", i, err)
		}
	}
}

func TestNode_SingleNodePublishesCommitPosition(t *testing.T) {
	meta, values := counters.NewBuffers(4)
	m := counters.NewManager(meta, values)
	pos, err := commitpos.Allocate(m, 7)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	store := kv.New()
	n, err := NewNode(testRaftConfig(1, config.RaftPeerConfig{ID: 1, Address: "n1"}), store,
		WithTransport(newMockTransport()), WithCommitPosition(pos))
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = n.Run(ctx)
	}()

	waitForLeader(t, []*Node{n}, 5*time.Second)

	execCtx, execCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer execCancel()
	if err := n.Execute(execCtx, NewCmd(InsertOp, []byte("k"), []byte("v"))); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if v, ok, _ := store.GetString("k"); !ok || v != "v" {
		t.Fatalf("command not applied: %q %v", v, ok)
	}

	applied := n.CommitIndex()
	if applied == 0 {
		t.Fatalf("expected non-zero applied index")
	}
	r := counters.NewReader(meta, values)
	id := commitpos.FindCounterID(r, 7)
	if id != pos.ID() {
		t.Fatalf("expected counter %d, found %d", pos.ID(), id)
	}
	if got := r.CounterValue(id); got < int64(applied) {
		t.Fatalf("commit position %d behind applied index %d", got, applied)
	}

	if err := n.Execute(execCtx, NewCmd(InsertOp, nil, nil)); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand, got %v", err)
	}

	cancel()
	<-done
}

// recordingPosition считает вызовы ProposeMax
type recordingPosition struct {
	calls atomic.Int64
	max   atomic.Int64
}

func (p *recordingPosition) ProposeMax(v int64) bool {
	p.calls.Add(1)
	for {
		cur := p.max.Load()
		if v <= cur {
			return false
		}
		if p.max.CompareAndSwap(cur, v) {
			return true
		}
	}
}

func TestNode_StopQuiescesCommitPosition(t *testing.T) {
	pos := &recordingPosition{}
	n, err := NewNode(testRaftConfig(1, config.RaftPeerConfig{ID: 1, Address: "n1"}), kv.New(),
		WithTransport(newMockTransport()), WithCommitPosition(pos))
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- n.Run(context.Background()) }()

	waitForLeader(t, []*Node{n}, 5*time.Second)

	execCtx, execCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer execCancel()
	for i := 0; i < 5; i++ {
		if err := n.Execute(execCtx, NewCmd(InsertOp, []byte("k"), []byte("v"))); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	if pos.calls.Load() == 0 {
		t.Fatalf("expected commit position to be published before stop")
	}

	if err := n.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-runErr:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after Stop")
	}

	// после выхода Run счётчик больше не трогается
	calls := pos.calls.Load()
	time.Sleep(10 * n.tickInterval)
	if got := pos.calls.Load(); got != calls {
		t.Fatalf("ProposeMax called %d times after Run returned", got-calls)
	}
	if pos.max.Load() > int64(n.CommitIndex()) {
		t.Fatalf("published %d beyond applied index %d", pos.max.Load(), n.CommitIndex())
	}
}

func TestTransport_Send(t *testing.T) {
	var got raftpb.Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != RaftEndpoint {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := NewTransport(map[uint64]string{2: srv.URL})
	msg := raftpb.Message{Type: raftpb.MsgHeartbeat, From: 1, To: 2, Term: 3}
	if err := tr.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.From != 1 || got.To != 2 || got.Term != 3 || got.Type != raftpb.MsgHeartbeat {
		t.Fatalf("unexpected message delivered: %+v", got)
	}

	if err := tr.Send(raftpb.Message{To: 9}); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("expected ErrUnknownPeer, got %v", err)
	}

	tr.RemovePeer(2)
	if err := tr.Send(msg); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("expected ErrUnknownPeer after removal, got %v", err)
	}
}
