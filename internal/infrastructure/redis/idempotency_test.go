package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryClient struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryClient() *memoryClient {
	return &memoryClient{data: map[string]string{}}
}

func (m *memoryClient) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

func (m *memoryClient) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value.(string)
	return nil
}

func (m *memoryClient) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value.(string)
	return true, nil
}

func (m *memoryClient) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryClient) Close() error { return nil }

func TestIdempotencyStore(t *testing.T) {
	client := newMemoryClient()
	store := NewIdempotencyStore(client, "settle")
	ctx := context.Background()

	ok, err := store.Reserve(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Reserve(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, ok)

	result, err := store.Lookup(ctx, "req-1")
	require.NoError(t, err)
	assert.Empty(t, result, "pending reservation has no result")

	require.NoError(t, store.Complete(ctx, "req-1", "purchase-id"))
	v, err := client.Get(ctx, "settle:req-1")
	require.NoError(t, err)
	assert.Equal(t, "purchase-id", v)

	result, err = store.Lookup(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "purchase-id", result)

	require.NoError(t, store.Release(ctx, "req-1"))
	ok, err = store.Reserve(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIdempotencyStoreLookupMissingKey(t *testing.T) {
	store := NewIdempotencyStore(newMemoryClient(), "settle")

	result, err := store.Lookup(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, result)
}
