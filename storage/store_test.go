package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tripwire/core"
	"tripwire/stats"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T, cfg StoreConfig) (*Store, *stats.Registry) {
	t.Helper()

	cache := NewMemoryCache()
	t.Cleanup(func() { cache.Close() })

	registry := stats.NewRegistry()
	store, err := NewStore(cache, cfg, registry, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return store, registry
}

func TestStoreAddLookupRoundTrip(t *testing.T) {
	store, _ := newTestStore(t, StoreConfig{TTL: time.Hour})
	ctx := context.Background()

	created, err := store.Add(ctx, core.NewIOC("10.0.0.1", core.IOCTypeIP, core.SeverityHigh, "feed-a"))
	require.NoError(t, err)
	assert.True(t, created)

	got, err := store.Lookup(ctx, "10.0.0.1", core.IOCTypeIP)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "10.0.0.1", got.Value)
	assert.Equal(t, core.IOCTypeIP, got.Type)
	assert.Equal(t, core.SeverityHigh, got.Severity)
	assert.Equal(t, []string{"feed-a"}, got.Sources)
}

func TestStoreAddMergesOnReIngestion(t *testing.T) {
	store, _ := newTestStore(t, StoreConfig{TTL: time.Hour})
	ctx := context.Background()

	created, err := store.Add(ctx, core.NewIOC("10.0.0.1", core.IOCTypeIP, core.SeverityLow, "feed-a"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.Add(ctx, core.NewIOC("10.0.0.1", core.IOCTypeIP, core.SeverityCritical, "feed-b"))
	require.NoError(t, err)
	assert.False(t, created, "merge-only update must not report a new key")

	got, err := store.Lookup(ctx, "10.0.0.1", core.IOCTypeIP)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, core.SeverityCritical, got.Severity)
	assert.ElementsMatch(t, []string{"feed-a", "feed-b"}, got.Sources)
}

func TestStoreLookupMissIsNotAnError(t *testing.T) {
	store, _ := newTestStore(t, StoreConfig{TTL: time.Hour})

	got, err := store.Lookup(context.Background(), "1.2.3.4", core.IOCTypeIP)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreBatchLookupEmptyStore(t *testing.T) {
	store, _ := newTestStore(t, StoreConfig{TTL: time.Hour})

	results := store.BatchLookup(context.Background(), []core.Candidate{
		{Value: "10.0.0.1", Type: core.IOCTypeIP},
	})

	require.Len(t, results, 1, "batch result must match input length")
	assert.Nil(t, results[0])
}

func TestStoreBatchLookupPreservesOrder(t *testing.T) {
	store, _ := newTestStore(t, StoreConfig{TTL: time.Hour})
	ctx := context.Background()

	_, err := store.Add(ctx, core.NewIOC("10.0.0.2", core.IOCTypeIP, core.SeverityMedium, "feed-a"))
	require.NoError(t, err)

	results := store.BatchLookup(ctx, []core.Candidate{
		{Value: "10.0.0.1", Type: core.IOCTypeIP},
		{Value: "10.0.0.2", Type: core.IOCTypeIP},
		{Value: "10.0.0.3", Type: core.IOCTypeIP},
	})

	require.Len(t, results, 3)
	assert.Nil(t, results[0])
	require.NotNil(t, results[1])
	assert.Equal(t, "10.0.0.2", results[1].Value)
	assert.Nil(t, results[2])
}

func TestStoreTTLExpiry(t *testing.T) {
	store, _ := newTestStore(t, StoreConfig{TTL: 30 * time.Millisecond})
	ctx := context.Background()

	_, err := store.Add(ctx, core.NewIOC("10.0.0.1", core.IOCTypeIP, core.SeverityHigh, "feed-a"))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	got, err := store.Lookup(ctx, "10.0.0.1", core.IOCTypeIP)
	require.NoError(t, err)
	assert.Nil(t, got, "a read past expiry behaves as absent")

	// Expiry removes the indicator from matching, not from the index.
	n, err := store.CountByType(ctx, core.IOCTypeIP)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStoreTotalIOCsCountsKeysNotWrites(t *testing.T) {
	store, _ := newTestStore(t, StoreConfig{TTL: time.Hour})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Add(ctx, core.NewIOC(fmt.Sprintf("10.0.0.%d", i+1), core.IOCTypeIP, core.SeverityLow, "feed-a"))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(5), store.Stats().TotalIOCs)

	for i := 0; i < 5; i++ {
		_, err := store.Add(ctx, core.NewIOC("evil.example.com", core.IOCTypeDomain, core.SeverityLow, "feed-a"))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(6), store.Stats().TotalIOCs, "same key re-added must count once")
}

func TestStoreHitRateRecomputedOnRead(t *testing.T) {
	store, _ := newTestStore(t, StoreConfig{TTL: time.Hour})
	ctx := context.Background()

	assert.Equal(t, 0.0, store.Stats().CacheHitRate, "no lookups yet")

	_, err := store.Add(ctx, core.NewIOC("10.0.0.1", core.IOCTypeIP, core.SeverityHigh, "feed-a"))
	require.NoError(t, err)

	_, err = store.Lookup(ctx, "10.0.0.1", core.IOCTypeIP)
	require.NoError(t, err)
	_, err = store.Lookup(ctx, "10.0.0.9", core.IOCTypeIP)
	require.NoError(t, err)

	s := store.Stats()
	assert.Equal(t, int64(2), s.Lookups)
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.InDelta(t, 0.5, s.CacheHitRate, 1e-9)
}

func TestStoreConcurrentMergeLosesNothing(t *testing.T) {
	store, _ := newTestStore(t, StoreConfig{TTL: time.Hour})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sev := core.SeverityLow
			if i == 1 {
				sev = core.SeverityCritical
			}
			_, err := store.Add(ctx, core.NewIOC("10.0.0.1", core.IOCTypeIP, sev, fmt.Sprintf("feed-%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := store.Lookup(ctx, "10.0.0.1", core.IOCTypeIP)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, core.SeverityCritical, got.Severity)
	assert.ElementsMatch(t, []string{"feed-0", "feed-1"}, got.Sources)
	assert.Equal(t, int64(1), store.Stats().TotalIOCs)
}

// failingCache errors on every Get to exercise batch degradation.
type failingCache struct {
	Cache
}

var errBackendDown = errors.New("backend down")

func (f *failingCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	return false, errBackendDown
}

func TestStoreBatchLookupDegradesFailedKeys(t *testing.T) {
	inner := NewMemoryCache()
	t.Cleanup(func() { inner.Close() })

	registry := stats.NewRegistry()
	store, err := NewStore(&failingCache{Cache: inner}, StoreConfig{TTL: time.Hour}, registry, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	results := store.BatchLookup(context.Background(), []core.Candidate{
		{Value: "10.0.0.1", Type: core.IOCTypeIP},
		{Value: "10.0.0.2", Type: core.IOCTypeIP},
	})

	require.Len(t, results, 2, "failed keys degrade to absent, never shrink the output")
	assert.Nil(t, results[0])
	assert.Nil(t, results[1])
	assert.Equal(t, int64(2), registry.Get(stats.LookupErrors))
}

func TestStoreOnRedisBackend(t *testing.T) {
	cache, _ := newTestRedisCache(t)

	registry := stats.NewRegistry()
	store, err := NewStore(cache, StoreConfig{TTL: time.Hour}, registry, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	ctx := context.Background()
	created, err := store.Add(ctx, core.NewIOC("evil.example.com", core.IOCTypeDomain, core.SeverityHigh, "feed-a"))
	require.NoError(t, err)
	assert.True(t, created)

	got, err := store.Lookup(ctx, "EVIL.example.com", core.IOCTypeDomain)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "evil.example.com", got.Value)
}
