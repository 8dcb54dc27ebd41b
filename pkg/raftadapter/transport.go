package raftadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.etcd.io/etcd/raft/v3/raftpb"
)

const (
	// RaftEndpoint is where peers POST raft messages.
	RaftEndpoint = "/api/internal/raft"

	transportTimeout = 3 * time.Second
	maxRetries       = 3
	retryDelay       = 100 * time.Millisecond
)

// Transport delivers raft messages to peers as JSON over HTTP.
type Transport struct {
	peersMu sync.RWMutex
	peers   map[uint64]string
	client  *http.Client
}

func NewTransport(peers map[uint64]string) *Transport {
	if peers == nil {
		peers = make(map[uint64]string)
	}
	return &Transport{
		peers:  peers,
		client: &http.Client{Timeout: transportTimeout},
	}
}

func (t *Transport) AddPeer(id uint64, addr string) {
	t.peersMu.Lock()
	t.peers[id] = addr
	t.peersMu.Unlock()
}

func (t *Transport) RemovePeer(id uint64) {
	t.peersMu.Lock()
	delete(t.peers, id)
	t.peersMu.Unlock()
}

func (t *Transport) UpdatePeer(id uint64, addr string) {
	t.AddPeer(id, addr)
}

func (t *Transport) peer(id uint64) (string, bool) {
	t.peersMu.RLock()
	defer t.peersMu.RUnlock()
	addr, ok := t.peers[id]
	return addr, ok
}

// Send posts msg to its target, retrying with a linear backoff.
func (t *Transport) Send(msg raftpb.Message) error {
	addr, ok := t.peer(msg.To)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPeer, msg.To)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = t.post(addr+RaftEndpoint, body)
		if lastErr == nil {
			return nil
		}
		slog.Debug("raft message not delivered, retrying",
			"attempt", attempt,
			"to", msg.To,
			"type", msg.Type,
			"error", lastErr)
		time.Sleep(retryDelay * time.Duration(attempt))
	}

	return fmt.Errorf("send to %d after %d attempts: %w", msg.To, maxRetries, lastErr)
}

func (t *Transport) post(url string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), transportTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}
	return nil
}
