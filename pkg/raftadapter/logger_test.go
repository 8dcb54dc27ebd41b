package raftadapter

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"clusterpos/pkg/config"
)

func TestRaftConfig(t *testing.T) {
	c := testRaftConfig(3, config.RaftPeerConfig{ID: 3, Address: "n3"})
	c.CheckQuorum = true

	rc, err := raftConfig(c)
	if err != nil {
		t.Fatalf("raftConfig: %v", err)
	}
	if rc.ID != 3 || rc.ElectionTick != 10 || rc.HeartbeatTick != 2 || !rc.CheckQuorum || rc.MaxInflightMsgs != 256 {
		t.Fatalf("unexpected raft config %+v", rc)
	}
	if rc.Logger == nil {
		t.Fatalf("expected raft logger to be set")
	}

	c.ElectionTick = c.HeartbeatTick
	if _, err := raftConfig(c); err == nil || !strings.Contains(err.Error(), "raft group 7") {
		t.Fatalf("expected tick error naming the group, got %v", err)
	}
}

func TestRaftLogger_TagsGroup(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer slog.SetDefault(prev)

	l := newRaftLogger(-3, 2)
	l.Infof("became leader at term %d", 5)
	l.Warning("slow", " follower")

	out := buf.String()
	for _, want := range []string{"cluster_id=-3", "node_id=2", "component=raft", "became leader at term 5", "slow follower", "level=WARN"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in log output:\n%s", want, out)
		}
	}
}
