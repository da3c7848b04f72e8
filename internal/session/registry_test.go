package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/pdf-field-mapper/internal/fieldmap"
	"github.com/a3tai/pdf-field-mapper/internal/store"
	"github.com/a3tai/pdf-field-mapper/internal/viewer"
)

type onePage struct{}

func (onePage) PageCount() int { return 1 }

func (onePage) PageSize(int) (viewer.Size, error) {
	return viewer.Size{Width: 612, Height: 792}, nil
}

func newRegistry(t *testing.T, ttl time.Duration) *Registry {
	t.Helper()
	s, err := store.New(context.Background(), store.DefaultKey, store.NewMemoryBackend())
	require.NoError(t, err)
	return NewRegistry(func() (*viewer.Viewer, error) {
		return viewer.New(onePage{}, nil, s, viewer.DefaultOptions(), nil)
	}, ttl, nil)
}

func TestRegistry_CreateGetDelete(t *testing.T) {
	r := newRegistry(t, 0)

	id, v, err := r.Create()
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	got, err := r.Get(id)
	require.NoError(t, err)
	assert.Same(t, v, got)
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Delete(id))
	assert.False(t, r.Delete(id))

	_, err = r.Get(id)
	assert.True(t, fieldmap.IsType(err, fieldmap.ErrorTypeNotFound))
	_, err = r.Get("not-a-uuid")
	assert.True(t, fieldmap.IsType(err, fieldmap.ErrorTypeNotFound))
}

func TestRegistry_SessionsAreIndependent(t *testing.T) {
	r := newRegistry(t, 0)
	_, a, err := r.Create()
	require.NoError(t, err)
	_, b, err := r.Create()
	require.NoError(t, err)

	_, err = a.Click(10, 10)
	require.NoError(t, err)
	assert.Equal(t, viewer.ModeEditing, a.Mode())
	assert.Equal(t, viewer.ModeIdle, b.Mode())
}

func TestRegistry_SweepDropsIdleSessions(t *testing.T) {
	r := newRegistry(t, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	stale, _, err := r.Create()
	require.NoError(t, err)
	now = now.Add(50 * time.Second)
	fresh, _, err := r.Create()
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	assert.Equal(t, 1, r.Sweep())

	_, err = r.Get(stale)
	assert.Error(t, err)
	_, err = r.Get(fresh)
	assert.NoError(t, err)
}

func TestRegistry_FactoryError(t *testing.T) {
	r := NewRegistry(func() (*viewer.Viewer, error) {
		return nil, errors.New("template unavailable")
	}, 0, nil)

	_, _, err := r.Create()
	assert.Error(t, err)
	assert.Zero(t, r.Len())
}

func TestRegistry_RunStopsWithContext(t *testing.T) {
	r := newRegistry(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, time.Millisecond) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
