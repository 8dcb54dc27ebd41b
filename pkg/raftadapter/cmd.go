package raftadapter

import (
	"fmt"

	"github.com/google/uuid"
)

type Operation uint8

const (
	InsertOp Operation = iota
	DeleteOp
)

func (o Operation) String() string {
	switch o {
	case InsertOp:
		return "insert"
	case DeleteOp:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Cmd is the payload of a normal raft entry.
type Cmd struct {
	Op    Operation `json:"op"`
	Key   []byte    `json:"key"`
	Value []byte    `json:"value"`
	ID    uuid.UUID `json:"id"`
}

func NewCmd(op Operation, key, value []byte) Cmd {
	return Cmd{
		Op:    op,
		Key:   key,
		Value: value,
		ID:    uuid.New(),
	}
}

func (c Cmd) validate() error {
	switch c.Op {
	case InsertOp:
		if len(c.Key) == 0 || len(c.Value) == 0 {
			return fmt.Errorf("%w: empty key or value", ErrInvalidCommand)
		}
	case DeleteOp:
		if len(c.Key) == 0 {
			return fmt.Errorf("%w: empty key", ErrInvalidCommand)
		}
	default:
		return fmt.Errorf("%w: unknown operation %v", ErrInvalidCommand, c.Op)
	}
	return nil
}
