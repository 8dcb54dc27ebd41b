package raftadapter

import "errors"

var (
	ErrInvalidCommand = errors.New("raftadapter: invalid command")
	ErrNodeStopped    = errors.New("raftadapter: node stopped")
	ErrUnknownPeer    = errors.New("raftadapter: unknown peer")
)
