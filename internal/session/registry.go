// Package session keeps one viewer per operator session in server mode. All sessions share the
// same field store.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/a3tai/pdf-field-mapper/internal/fieldmap"
	"github.com/a3tai/pdf-field-mapper/internal/logging"
	"github.com/a3tai/pdf-field-mapper/internal/viewer"
)

// DefaultIdleTTL is how long an untouched session is kept
const DefaultIdleTTL = 2 * time.Hour

// Factory creates the viewer for a new session
type Factory func() (*viewer.Viewer, error)

type entry struct {
	viewer   *viewer.Viewer
	lastSeen time.Time
}

// Registry maps session ids to viewers
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	factory  Factory
	idleTTL  time.Duration
	logger   logging.Logger
	now      func() time.Time
}

// NewRegistry creates an empty registry. A non-positive idleTTL uses DefaultIdleTTL.
func NewRegistry(factory Factory, idleTTL time.Duration, logger logging.Logger) *Registry {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{
		sessions: make(map[string]*entry),
		factory:  factory,
		idleTTL:  idleTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// Create starts a session and returns its id
func (r *Registry) Create() (string, *viewer.Viewer, error) {
	v, err := r.factory()
	if err != nil {
		return "", nil, err
	}

	id := uuid.NewString()
	r.mu.Lock()
	r.sessions[id] = &entry{viewer: v, lastSeen: r.now()}
	r.mu.Unlock()

	r.logger.Infow("session created", "session", id)
	return id, v, nil
}

// Get returns the viewer for id and marks the session as active
func (r *Registry) Get(id string) (*viewer.Viewer, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fieldmap.NewError(fieldmap.ErrorTypeNotFound, "invalid session id").WithContext(id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		return nil, fieldmap.NewError(fieldmap.ErrorTypeNotFound, "session not found").WithContext(id)
	}
	e.lastSeen = r.now()
	return e.viewer, nil
}

// Delete ends a session. It reports whether the session existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	r.logger.Infow("session closed", "session", id)
	return true
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep drops sessions idle for longer than the TTL and returns how many were dropped
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idleTTL)
	dropped := 0
	for id, e := range r.sessions {
		if e.lastSeen.Before(cutoff) {
			delete(r.sessions, id)
			dropped++
		}
	}
	if dropped > 0 {
		r.logger.Infow("expired idle sessions", "count", dropped, "remaining", len(r.sessions))
	}
	return dropped
}

// Run sweeps idle sessions every interval until ctx is done
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}
