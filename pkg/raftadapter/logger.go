package raftadapter

import (
	"fmt"
	"log/slog"
	"os"
)

// raftLogger routes etcd raft's own logging into slog, tagged with the raft
// group so that several groups on one host stay apart.
type raftLogger struct {
	log *slog.Logger
}

func newRaftLogger(clusterID int32, nodeID uint64) *raftLogger {
	return &raftLogger{log: slog.Default().With("component", "raft", "cluster_id", clusterID, "node_id", nodeID)}
}

func (l *raftLogger) Debug(v ...interface{}) { l.log.Debug(fmt.Sprint(v...)) }
func (l *raftLogger) Debugf(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...))
}

func (l *raftLogger) Info(v ...interface{}) { l.log.Info(fmt.Sprint(v...)) }
func (l *raftLogger) Infof(format string, v ...interface{}) {
	l.log.Info(fmt.Sprintf(format, v...))
}

func (l *raftLogger) Warning(v ...interface{}) { l.log.Warn(fmt.Sprint(v...)) }
func (l *raftLogger) Warningf(format string, v ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, v...))
}

func (l *raftLogger) Error(v ...interface{}) { l.log.Error(fmt.Sprint(v...)) }
func (l *raftLogger) Errorf(format string, v ...interface{}) {
	l.log.Error(fmt.Sprintf(format, v...))
}

func (l *raftLogger) Fatal(v ...interface{}) {
	l.log.Error(fmt.Sprint(v...))
	os.Exit(1)
}

func (l *raftLogger) Fatalf(format string, v ...interface{}) {
	l.log.Error(fmt.Sprintf(format, v...))
	os.Exit(1)
}

func (l *raftLogger) Panic(v ...interface{}) {
	msg := fmt.Sprint(v...)
	l.log.Error(msg)
	panic(msg)
}

func (l *raftLogger) Panicf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	l.log.Error(msg)
	panic(msg)
}
