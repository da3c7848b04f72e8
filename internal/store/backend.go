package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by a Backend when nothing is stored under a key
var ErrNotFound = errors.New("key not found")

// Backend is the key-value persistence the field store writes its collection to
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Close() error
}

// MemoryBackend keeps values in process memory
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string][]byte)}
}

// Load returns a copy of the value stored under key
func (m *MemoryBackend) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Save stores a copy of data under key
func (m *MemoryBackend) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = append([]byte(nil), data...)
	return nil
}

// Close is a no-op
func (m *MemoryBackend) Close() error {
	return nil
}

// Backend kinds accepted by OpenBackend
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// OpenBackend opens a backend of the given kind. path is the directory for file backends and
// the database file for sqlite; memory ignores it.
func OpenBackend(kind, path string) (Backend, error) {
	switch kind {
	case BackendMemory:
		return NewMemoryBackend(), nil
	case BackendFile:
		b, err := NewFileBackend(path)
		if err != nil {
			return nil, err
		}
		return b, nil
	case BackendSQLite:
		b, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q (must be one of: memory, file, sqlite)", kind)
	}
}
