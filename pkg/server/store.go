package server

import (
	"strings"
	"sync"

	"github.com/decred/slog"
)

// Persisted key families.
const (
	sessionKeyPrefix = "session:"
	roomKeyPrefix    = "room:"
)

// Store is the key/value persistence contract: durable when a backing
// database is reachable at startup, in-memory otherwise.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Del(key string) error
	KeysWithPrefix(prefix string) ([]string, error)
}

// MemStore is the in-memory fallback store.
type MemStore struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{m: make(map[string][]byte)}
}

func (s *MemStore) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (s *MemStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	s.m[key] = v
	return nil
}

func (s *MemStore) Del(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *MemStore) KeysWithPrefix(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.m {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// OpenStore probes the durable store once at startup. If the path is
// empty or the database cannot be opened the server warns and runs on
// the in-memory store for its lifetime; there is no reconnect.
func OpenStore(path string, log slog.Logger) Store {
	if path == "" {
		log.Infof("no store path configured, using in-memory store")
		return NewMemStore()
	}
	st, err := OpenSQLiteStore(path)
	if err != nil {
		log.Warnf("durable store unavailable (%v), falling back to in-memory", err)
		return NewMemStore()
	}
	log.Infof("using durable store at %s", path)
	return st
}
