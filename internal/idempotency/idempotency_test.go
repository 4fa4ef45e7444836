package idempotency_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	redisadapter "github.com/robertarktes/vehicle-rentals/internal/adapters/redis"
	"github.com/robertarktes/vehicle-rentals/internal/idempotency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryBackend struct {
	mu     sync.Mutex
	stored map[string]redisadapter.IdempResponse
	locks  map[string]bool
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{stored: map[string]redisadapter.IdempResponse{}, locks: map[string]bool{}}
}

func (m *memoryBackend) Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.stored[key]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memoryBackend) Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored[key] = resp
	return nil
}

func (m *memoryBackend) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] {
		return false, nil
	}
	m.locks[key] = true
	return true, nil
}

func (m *memoryBackend) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
	return nil
}

func TestDo_ReplaysStoredResponse(t *testing.T) {
	idemp := idempotency.NewIdempotency(newMemoryBackend(), time.Hour)
	calls := 0
	fn := func() (idempotency.Response, error) {
		calls++
		return idempotency.Response{Status: http.StatusCreated, Result: []byte(`{"booking_id":1}`)}, nil
	}

	first, replayed, err := idemp.Do(context.Background(), "key-0123456789abcdef", fn)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := idemp.Do(context.Background(), "key-0123456789abcdef", fn)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestDo_FailuresAreNotRemembered(t *testing.T) {
	idemp := idempotency.NewIdempotency(newMemoryBackend(), time.Hour)
	calls := 0

	_, _, err := idemp.Do(context.Background(), "k", func() (idempotency.Response, error) {
		calls++
		return idempotency.Response{}, errors.New("boom")
	})
	require.Error(t, err)

	resp, _, err := idemp.Do(context.Background(), "k", func() (idempotency.Response, error) {
		calls++
		return idempotency.Response{Status: http.StatusConflict}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.Status)

	_, replayed, err := idemp.Do(context.Background(), "k", func() (idempotency.Response, error) {
		calls++
		return idempotency.Response{Status: http.StatusCreated}, nil
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 3, calls)
}

func TestDo_ConcurrentDuplicateRejected(t *testing.T) {
	backend := newMemoryBackend()
	idemp := idempotency.NewIdempotency(backend, time.Hour)
	_, err := backend.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)

	_, _, err = idemp.Do(context.Background(), "k", func() (idempotency.Response, error) {
		t.Fatal("must not run")
		return idempotency.Response{}, nil
	})
	assert.ErrorIs(t, err, idempotency.ErrInProgress)
}
