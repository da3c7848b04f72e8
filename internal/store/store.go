// Package store holds the authoritative in-memory collection of field definitions and writes it
// to a key-value backend after every mutation.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/a3tai/pdf-field-mapper/internal/fieldmap"
	"github.com/a3tai/pdf-field-mapper/internal/logging"
	"github.com/a3tai/pdf-field-mapper/internal/metrics"
)

// DefaultKey is the storage key the field map is saved under
const DefaultKey = "pdf-field-map"

// persistTimeout bounds a single backend write
const persistTimeout = 5 * time.Second

// Store is an ordered collection of field definitions. Insertion order is the only ordering.
// In-memory state is authoritative: a failed write to the backend never rolls back a mutation.
type Store struct {
	mu       sync.RWMutex
	key      string
	backend  Backend
	logger   logging.Logger
	fields   []fieldmap.FieldDefinition
	revision uint64

	persistErr     error
	onPersistError func(error)
}

// Option customises a Store
type Option func(*Store)

// WithLogger sets the logger persistence failures are reported to
func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPersistErrorHook registers a callback invoked after every failed backend write. The hook
// runs while the store is locked and must not call back into it.
func WithPersistErrorHook(fn func(error)) Option {
	return func(s *Store) { s.onPersistError = fn }
}

// New creates a store bound to key on backend and loads whatever collection is already saved
// there. Unreadable saved state is logged and the store starts empty.
func New(ctx context.Context, key string, backend Backend, opts ...Option) (*Store, error) {
	if key == "" {
		return nil, fmt.Errorf("storage key cannot be empty")
	}
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}

	s := &Store{
		key:     key,
		backend: backend,
		logger:  logging.Nop(),
	}
	for _, o := range opts {
		o(s)
	}

	s.load(ctx)
	return s, nil
}

func (s *Store) load(ctx context.Context) {
	data, err := s.backend.Load(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Warnw("failed to load saved field map", "key", s.key, "error", err)
		return
	}

	var c fieldmap.Collection
	if err := json.Unmarshal(data, &c); err != nil {
		s.logger.Warnw("ignoring unreadable saved field map", "key", s.key, "error", err)
		return
	}
	if err := fieldmap.ValidateCollection(c.Fields); err != nil {
		s.logger.Warnw("ignoring invalid saved field map", "key", s.key, "error", err)
		return
	}

	s.fields = c.Fields
	s.logger.Debugw("loaded saved field map", "key", s.key, "fields", len(c.Fields))
}

// Key returns the storage key
func (s *Store) Key() string {
	return s.key
}

// List returns all fields in insertion order
func (s *Store) List() []fieldmap.FieldDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]fieldmap.FieldDefinition, len(s.fields))
	copy(out, s.fields)
	return out
}

// ListByPage returns the fields on page, keeping their relative order
func (s *Store) ListByPage(page int) []fieldmap.FieldDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []fieldmap.FieldDefinition
	for _, f := range s.fields {
		if f.Page == page {
			out = append(out, f)
		}
	}
	return out
}

// Get returns the field with id
func (s *Store) Get(id string) (fieldmap.FieldDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexOf(id); i >= 0 {
		return s.fields[i], true
	}
	return fieldmap.FieldDefinition{}, false
}

// IDs returns the ids of all fields in insertion order
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, len(s.fields))
	for i, f := range s.fields {
		ids[i] = f.ID
	}
	return ids
}

// Count returns the total number of fields
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fields)
}

// CountByPage returns the number of fields on page
func (s *Store) CountByPage(page int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, f := range s.fields {
		if f.Page == page {
			n++
		}
	}
	return n
}

// Revision increases with every mutation
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Upsert replaces the field with the same id in place, or appends f when the id is new
func (s *Store) Upsert(f fieldmap.FieldDefinition) fieldmap.FieldDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(f.ID); i >= 0 {
		s.fields[i] = f
	} else {
		s.fields = append(s.fields, f)
	}
	s.mutated("upsert")
	return f
}

// Rename replaces the field stored under oldID with f, keeping its position in the list. A
// different field already stored under f.ID is dropped. An unknown oldID appends f like Upsert.
func (s *Store) Rename(oldID string, f fieldmap.FieldDefinition) fieldmap.FieldDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(oldID)
	if i < 0 {
		if j := s.indexOf(f.ID); j >= 0 {
			s.fields[j] = f
		} else {
			s.fields = append(s.fields, f)
		}
		s.mutated("upsert")
		return f
	}

	s.fields[i] = f
	if f.ID != oldID {
		for j := range s.fields {
			if j != i && s.fields[j].ID == f.ID {
				s.fields = append(s.fields[:j:j], s.fields[j+1:]...)
				break
			}
		}
	}
	s.mutated("rename")
	return f
}

// Remove deletes the field with id. Removing an unknown id is a no-op.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return
	}
	s.fields = append(s.fields[:i:i], s.fields[i+1:]...)
	s.mutated("remove")
}

// Clear empties the collection
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fields = nil
	s.mutated("clear")
}

// ReplaceAll discards the collection and installs fields verbatim. Callers validate fields first.
func (s *Store) ReplaceAll(fields []fieldmap.FieldDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fields = make([]fieldmap.FieldDefinition, len(fields))
	copy(s.fields, fields)
	s.mutated("replace_all")
}

// LastPersistError returns the error of the most recent backend write, or nil if it succeeded
func (s *Store) LastPersistError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persistErr
}

// Close releases the backend
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) indexOf(id string) int {
	for i, f := range s.fields {
		if f.ID == id {
			return i
		}
	}
	return -1
}

// mutated bumps the revision and writes the collection. Must be called with the write lock held.
func (s *Store) mutated(op string) {
	s.revision++
	metrics.StoreMutations.WithLabelValues(op).Inc()

	s.persistErr = s.persist()
	if s.persistErr == nil {
		return
	}

	metrics.PersistFailures.Inc()
	s.logger.Errorw("failed to persist field map", "key", s.key, "op", op, "error", s.persistErr)
	if s.onPersistError != nil {
		s.onPersistError(s.persistErr)
	}
}

func (s *Store) persist() error {
	data, err := json.Marshal(fieldmap.NewCollection(s.fields))
	if err != nil {
		return fieldmap.WrapError(fieldmap.ErrorTypePersistence, "failed to encode field map", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.backend.Save(ctx, s.key, data); err != nil {
		return fieldmap.WrapError(fieldmap.ErrorTypePersistence, "failed to save field map", err).
			WithContext("key=" + s.key)
	}
	return nil
}
