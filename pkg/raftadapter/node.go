package raftadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"clusterpos/pkg/config"

	"github.com/google/uuid"
	"go.etcd.io/etcd/raft/v3"
	"go.etcd.io/etcd/raft/v3/raftpb"
)

type iStoreAPI interface {
	PutString(key, value string) error
	Delete(key string) error
}

type iTransport interface {
	Send(msg raftpb.Message) error
	AddPeer(id uint64, addr string)
	RemovePeer(id uint64)
	UpdatePeer(id uint64, addr string)
}

// iPosition is where the node publishes how far it has applied the log.
type iPosition interface {
	ProposeMax(v int64) bool
}

// Node drives one member of a raft group. Every committed entry is applied to
// the store, then the applied index is published to the commit-position
// counter, if one is attached.
type Node struct {
	ID        uint64
	ClusterID int32

	peersMu sync.RWMutex
	peers   map[uint64]string

	underlying   raft.Node
	store        iStoreAPI
	jr           *raft.MemoryStorage
	conf         *raftpb.ConfState
	tickInterval time.Duration
	transport    iTransport
	position     iPosition
	applied      atomic.Uint64

	ctx  context.Context
	stop context.CancelFunc

	stopOnce    sync.Once
	proposalsMu sync.RWMutex
	proposals   map[uuid.UUID]chan error
}

type Option func(*Node)

// WithCommitPosition attaches the counter the applied index is published to.
func WithCommitPosition(p iPosition) Option {
	return func(n *Node) { n.position = p }
}

func WithTransport(t iTransport) Option {
	return func(n *Node) { n.transport = t }
}

// raftConfig maps one raft group's settings onto etcd raft. The group's
// cluster id only tags logs and errors: raft itself knows node ids only.
func raftConfig(c *config.RaftConfig) (*raft.Config, error) {
	if c.ID == 0 {
		return nil, fmt.Errorf("raft group %d: node id must be non-zero", c.ClusterID)
	}
	if c.ElectionTick <= c.HeartbeatTick {
		return nil, fmt.Errorf("raft group %d: election tick %d must exceed heartbeat tick %d",
			c.ClusterID, c.ElectionTick, c.HeartbeatTick)
	}
	return &raft.Config{
		ID:                        c.ID,
		ElectionTick:              c.ElectionTick,
		HeartbeatTick:             c.HeartbeatTick,
		MaxSizePerMsg:             c.MaxSizePerMsg,
		MaxCommittedSizePerReady:  c.MaxCommittedSizePerReady,
		MaxUncommittedEntriesSize: c.MaxUncommittedEntriesSize,
		MaxInflightMsgs:           c.MaxInflightMsgs,
		CheckQuorum:               c.CheckQuorum,
		PreVote:                   c.PreVote,
		Logger:                    newRaftLogger(c.ClusterID, c.ID),
	}, nil
}

func NewNode(c *config.RaftConfig, store iStoreAPI, opts ...Option) (*Node, error) {
	cfg, err := raftConfig(c)
	if err != nil {
		return nil, err
	}
	storage := raft.NewMemoryStorage()
	cfg.Storage = storage

	var (
		confState raftpb.ConfState
		peers     = make(map[uint64]string, len(c.Peers))
		raftPeers = make([]raft.Peer, 0, len(c.Peers))
	)
	for _, p := range c.Peers {
		if _, ok := peers[p.ID]; ok {
			return nil, fmt.Errorf("duplicate peer ID %d", p.ID)
		}
		peers[p.ID] = p.Address
		confState.Voters = append(confState.Voters, p.ID)
		raftPeers = append(raftPeers, raft.Peer{ID: p.ID, Context: []byte(p.Address)})
	}
	if len(raftPeers) == 0 {
		return nil, fmt.Errorf("raft group %d has no peers", c.ClusterID)
	}

	tick := c.TickInterval
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		ID:           c.ID,
		ClusterID:    c.ClusterID,
		peers:        peers,
		conf:         &confState,
		store:        store,
		jr:           storage,
		tickInterval: tick,
		proposals:    make(map[uuid.UUID]chan error),
		ctx:          ctx,
		stop:         cancel,
	}
	for _, o := range opts {
		o(n)
	}
	if n.transport == nil {
		// транспорт получает копию: карта пиров ноды меняется под своим мьютексом
		cp := make(map[uint64]string, len(peers))
		for id, addr := range peers {
			cp[id] = addr
		}
		n.transport = NewTransport(cp)
	}

	n.underlying = raft.StartNode(cfg, raftPeers)

	return n, nil
}

func (n *Node) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return n.ctx.Err()
		case <-ctx.Done():
			_ = n.Stop()
			return ctx.Err()
		case <-ticker.C:
			n.underlying.Tick()
		case rd := <-n.underlying.Ready():
			if err := n.handleReady(rd); err != nil {
				return err
			}
		}
	}
}

func (n *Node) handleReady(rd raft.Ready) error {
	if !raft.IsEmptyHardState(rd.HardState) {
		if err := n.jr.SetHardState(rd.HardState); err != nil {
			return fmt.Errorf("set hard state: %w", err)
		}
	}
	if err := n.jr.Append(rd.Entries); err != nil {
		return fmt.Errorf("append entries: %w", err)
	}

	n.sendMessages(rd.Messages)

	for _, entry := range rd.CommittedEntries {
		if n.ctx.Err() != nil {
			// нода остановлена: счётчик может быть уже освобождён
			return n.ctx.Err()
		}
		switch entry.Type {
		case raftpb.EntryNormal:
			if err := n.applyEntry(entry); err != nil {
				slog.Error("critical: failed to apply entry", "index", entry.Index, "error", err)
				return fmt.Errorf("apply entry %d: %w", entry.Index, err)
			}
		case raftpb.EntryConfChange:
			var cc raftpb.ConfChange
			if err := cc.Unmarshal(entry.Data); err != nil {
				return fmt.Errorf("unmarshal conf change: %w", err)
			}
			n.conf = n.underlying.ApplyConfChange(cc)
			n.updateTransport(cc)
		}
		n.publish(entry.Index)
	}

	n.underlying.Advance()
	return nil
}

// publish advances the applied index and the commit-position counter. Both
// only move forward.
func (n *Node) publish(index uint64) {
	for {
		cur := n.applied.Load()
		if index <= cur || n.applied.CompareAndSwap(cur, index) {
			break
		}
	}
	if n.position != nil {
		n.position.ProposeMax(int64(index))
	}
}

// CommitIndex returns the index of the last entry applied to the store.
func (n *Node) CommitIndex() uint64 {
	return n.applied.Load()
}

func (n *Node) updateTransport(cc raftpb.ConfChange) {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()

	switch cc.Type {
	case raftpb.ConfChangeAddNode:
		addr := string(cc.Context)
		n.peers[cc.NodeID] = addr
		n.transport.AddPeer(cc.NodeID, addr)
		slog.Info("added peer", "cluster_id", n.ClusterID, "id", cc.NodeID, "addr", addr)
	case raftpb.ConfChangeRemoveNode:
		delete(n.peers, cc.NodeID)
		n.transport.RemovePeer(cc.NodeID)
		slog.Info("removed peer", "cluster_id", n.ClusterID, "id", cc.NodeID)
	case raftpb.ConfChangeUpdateNode:
		addr := string(cc.Context)
		n.peers[cc.NodeID] = addr
		n.transport.UpdatePeer(cc.NodeID, addr)
		slog.Info("updated peer", "cluster_id", n.ClusterID, "id", cc.NodeID, "addr", addr)
	}
}

func (n *Node) sendMessages(msgs []raftpb.Message) {
	for _, msg := range msgs {
		if msg.To == n.ID {
			continue
		}

		go func(m raftpb.Message) {
			if err := n.transport.Send(m); err != nil {
				slog.Error("failed to send raft message",
					"from", m.From,
					"to", m.To,
					"type", m.Type,
					"error", err)
				n.underlying.ReportUnreachable(m.To)
			}
		}(msg)
	}
}

func (n *Node) applyEntry(entry raftpb.Entry) error {
	if len(entry.Data) == 0 {
		// пустая запись нового лидера
		return nil
	}

	var cmd Cmd
	if err := json.Unmarshal(entry.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	var err error
	switch cmd.Op {
	case InsertOp:
		err = n.store.PutString(string(cmd.Key), string(cmd.Value))
	case DeleteOp:
		err = n.store.Delete(string(cmd.Key))
	default:
		err = fmt.Errorf("%w: unknown operation %v", ErrInvalidCommand, cmd.Op)
	}

	n.notify(cmd.ID, err)
	return nil
}

// notify wakes the Execute call waiting for cmdID, if it is still waiting on
// this node.
func (n *Node) notify(cmdID uuid.UUID, err error) {
	n.proposalsMu.RLock()
	ch, ok := n.proposals[cmdID]
	n.proposalsMu.RUnlock()

	if !ok {
		slog.Debug("proposal result channel not found (ignored)", "cmd_id", cmdID, "is_leader", n.IsLeader())
		return
	}

	select {
	case ch <- err:
	default:
		slog.Debug("proposal result channel is full (ignored)", "cmd_id", cmdID)
	}
}

func (n *Node) IsLeader() bool {
	return n.underlying.Status().Lead == n.ID
}

func (n *Node) LeaderID() uint64 {
	return n.underlying.Status().Lead
}

func (n *Node) LeaderAddr() string {
	lead := n.LeaderID()
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()
	return n.peers[lead]
}

// Execute proposes cmd and waits until it is applied on this node.
func (n *Node) Execute(ctx context.Context, cmd Cmd) error {
	if err := cmd.validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	ch := make(chan error, 1)

	n.proposalsMu.Lock()
	n.proposals[cmd.ID] = ch
	n.proposalsMu.Unlock()

	defer func() {
		n.proposalsMu.Lock()
		delete(n.proposals, cmd.ID)
		n.proposalsMu.Unlock()
	}()

	if err := n.underlying.Propose(ctx, data); err != nil {
		return fmt.Errorf("propose: %w", err)
	}

	select {
	case err := <-ch:
		return err
	case <-n.ctx.Done():
		return ErrNodeStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle обрабатывает входящие Raft-сообщения от других нод
func (n *Node) Handle(ctx context.Context, msg raftpb.Message) error {
	return n.underlying.Step(ctx, msg)
}

func (n *Node) Stop() error {
	n.stopOnce.Do(func() {
		slog.Info("stopping raft node", "cluster_id", n.ClusterID, "id", n.ID)
		n.stop()
		n.underlying.Stop()
		slog.Info("raft node stopped", "cluster_id", n.ClusterID, "id", n.ID, "applied", n.CommitIndex())
	})
	return nil
}
