package kv

import (
	"errors"

	"github.com/zhangyunhao116/skipmap"
)

var ErrEmptyKey = errors.New("kv: empty key")

type orderedMap = skipmap.FuncMap[string, string]

// Store is the replicated state machine: an ordered in-memory string map
// that the raft node applies committed commands to.
type Store struct {
	m *orderedMap
}

func New() *Store {
	return &Store{
		m: skipmap.NewFunc[string, string](func(a, b string) bool {
			return a < b
		}),
	}
}

func (s *Store) PutString(key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.m.Store(key, value)
	return nil
}

func (s *Store) GetString(key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	v, ok := s.m.Load(key)
	return v, ok, nil
}

func (s *Store) Delete(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.m.Delete(key)
	return nil
}

func (s *Store) Len() int {
	return s.m.Len()
}

// Keys returns all keys in ascending order.
func (s *Store) Keys() []string {
	keys := make([]string, 0, s.m.Len())
	s.m.Range(func(key, _ string) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}
