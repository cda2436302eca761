package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/orderflow/internal/repositories"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("API_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("API_TEST_REDIS_ADDR not set")
	}
	client, err := NewClient(context.Background(), Options{
		Addr:      addr,
		KeyPrefix: fmt.Sprintf("orderflow-test-%d", time.Now().UnixNano()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCounterConcurrentIncrementsAreUnique(t *testing.T) {
	repo := NewCounterRepository(newTestClient(t))
	ctx := context.Background()

	values := make([]int64, 10)
	var wg sync.WaitGroup
	for i := range values {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := repo.Next(ctx, "orders", 1)
			assert.NoError(t, err)
			values[i] = v
		}(i)
	}
	wg.Wait()
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, values)
}

func TestCounterRejectsInvalidInput(t *testing.T) {
	repo := NewCounterRepository(&Client{prefix: "unused:"})

	_, err := repo.Next(context.Background(), " ", 1)
	var counterErr *repositories.CounterError
	require.True(t, errors.As(err, &counterErr))
	assert.Equal(t, repositories.CounterErrorInvalidInput, counterErr.Code)

	_, err = repo.Next(context.Background(), "orders", 0)
	require.True(t, errors.As(err, &counterErr))
	assert.Equal(t, repositories.CounterErrorInvalidInput, counterErr.Code)
}

func TestKeyNamespacing(t *testing.T) {
	c := &Client{prefix: normalisePrefix("shop")}
	assert.Equal(t, "shop:counters:orders", c.Key("counters", "orders"))
	assert.Equal(t, "orderflow:x", (&Client{prefix: normalisePrefix("")}).Key("x"))
}

func TestNonceStoreRejectsReplay(t *testing.T) {
	store := NewNonceStore(newTestClient(t))
	ctx := context.Background()
	expiry := time.Now().Add(time.Minute)

	first, err := store.UseNonce(ctx, "manual", "n-1", expiry)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := store.UseNonce(ctx, "manual", "n-1", expiry)
	require.NoError(t, err)
	assert.False(t, second)

	_, err = store.UseNonce(ctx, "manual", "n-2", time.Now().Add(-time.Second))
	assert.Error(t, err)
}
