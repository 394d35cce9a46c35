package storage

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"tripwire/core"
	"tripwire/metrics"
	"tripwire/stats"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	iocKeyPrefix   = "ioc:"
	iocIndexPrefix = "ioc:index:"

	// lockStripes bounds merge contention; merges for distinct keys rarely
	// share a stripe.
	lockStripes = 64

	DefaultLRUSize = 4096
)

// StoreConfig configures the indicator store.
type StoreConfig struct {
	// TTL applied to every indicator key on write. Each re-ingestion of a
	// key resets its expiry.
	TTL time.Duration

	// LRUSize bounds the in-process hot-lookup cache in front of the
	// backend. Zero selects DefaultLRUSize.
	LRUSize int

	// LookupTimeout bounds a single backend read. Zero disables it.
	LookupTimeout time.Duration
}

// lruEntry mirrors the backend TTL so the fast path never outlives it.
type lruEntry struct {
	ioc        core.IOC
	expiration time.Time
}

// Store is the cache-backed indicator store. It is safe for concurrent use;
// Add performs its read-merge-write under a per-key striped lock so two
// concurrent ingestions of the same (value, type) lose neither side's
// severity or source contribution.
type Store struct {
	cache  Cache
	cfg    StoreConfig
	hot    *lru.Cache[string, lruEntry]
	locks  [lockStripes]sync.Mutex
	stats  *stats.Registry
	logger *zap.SugaredLogger
}

// StoreStats is a point-in-time view of store counters. HitRate is
// recomputed on every read, never stored.
type StoreStats struct {
	TotalIOCs    int64   `json:"total_iocs"`
	Lookups      int64   `json:"lookups"`
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Errors       int64   `json:"errors"`
	CacheHitRate float64 `json:"cache_hit_rate"`
}

// NewStore creates an indicator store on top of the given cache backend.
func NewStore(cache Cache, cfg StoreConfig, registry *stats.Registry, logger *zap.SugaredLogger) (*Store, error) {
	size := cfg.LRUSize
	if size <= 0 {
		size = DefaultLRUSize
	}
	hot, err := lru.New[string, lruEntry](size)
	if err != nil {
		return nil, err
	}

	return &Store{
		cache:  cache,
		cfg:    cfg,
		hot:    hot,
		stats:  registry,
		logger: logger,
	}, nil
}

func (s *Store) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s.locks[h.Sum32()%lockStripes]
}

func cacheKey(key string) string     { return iocKeyPrefix + key }
func indexKey(t core.IOCType) string { return iocIndexPrefix + string(t) }

// Add inserts a new indicator or merges it into the existing record for the
// same (value, type). Returns true when a new key was created. Every write
// refreshes the key's TTL and updates the per-type membership index.
func (s *Store) Add(ctx context.Context, ioc *core.IOC) (bool, error) {
	key := ioc.Key()

	mu := s.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	var existing core.IOC
	found, err := s.cache.Get(ctx, cacheKey(key), &existing)
	if err != nil {
		s.stats.Inc(stats.StoreErrors)
		return false, err
	}

	record := *ioc
	if found {
		merged := existing
		merged.Merge(ioc)
		record = merged
	}

	if err := s.cache.Set(ctx, cacheKey(key), &record, s.cfg.TTL); err != nil {
		s.stats.Inc(stats.StoreErrors)
		return false, err
	}

	// Index membership survives key expiry on purpose: expiry removes the
	// indicator from matching, not from ingestion-time statistics.
	if err := s.cache.SAdd(ctx, indexKey(ioc.Type), core.NormalizeIOCValue(ioc.Value, ioc.Type)); err != nil {
		s.logger.Warnf("Failed to index indicator %s: %v", key, err)
	}

	s.hot.Add(key, lruEntry{ioc: record, expiration: s.expiry()})

	if !found {
		s.stats.Inc(stats.TotalIOCs)
		if n, err := s.cache.SCard(ctx, indexKey(ioc.Type)); err == nil {
			metrics.StoredIndicators.WithLabelValues(string(ioc.Type)).Set(float64(n))
		}
	} else {
		s.stats.Inc(stats.IOCsMerged)
	}
	return !found, nil
}

func (s *Store) expiry() time.Time {
	if s.cfg.TTL <= 0 {
		return time.Time{}
	}
	return time.Now().Add(s.cfg.TTL)
}

// Lookup resolves a single (value, type) pair. A clean miss returns
// (nil, nil); only backend failures produce an error.
func (s *Store) Lookup(ctx context.Context, value string, iocType core.IOCType) (*core.IOC, error) {
	s.stats.Inc(stats.Lookups)

	key := core.Candidate{Value: value, Type: iocType}.Key()

	if entry, ok := s.hot.Get(key); ok {
		if entry.expiration.IsZero() || time.Now().Before(entry.expiration) {
			s.stats.Inc(stats.LookupHits)
			ioc := entry.ioc
			return &ioc, nil
		}
		s.hot.Remove(key)
	}

	if s.cfg.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.LookupTimeout)
		defer cancel()
	}

	var ioc core.IOC
	found, err := s.cache.Get(ctx, cacheKey(key), &ioc)
	if err != nil {
		s.stats.Inc(stats.LookupErrors)
		return nil, err
	}
	if !found {
		s.stats.Inc(stats.LookupMisses)
		return nil, nil
	}

	s.stats.Inc(stats.LookupHits)
	s.hot.Add(key, lruEntry{ioc: ioc, expiration: s.expiry()})
	return &ioc, nil
}

// BatchLookup resolves many pairs in one call. The result has the same
// length and order as the input; absent keys yield nil entries. A backend
// failure on one key degrades that entry to nil and is counted, never
// dropped from the output.
func (s *Store) BatchLookup(ctx context.Context, candidates []core.Candidate) []*core.IOC {
	results := make([]*core.IOC, len(candidates))
	for i, c := range candidates {
		ioc, err := s.Lookup(ctx, c.Value, c.Type)
		if err != nil {
			s.logger.Warnw("Batch lookup failed for key, degrading to absent",
				"value", c.Value, "type", c.Type, "error", err)
			continue
		}
		results[i] = ioc
	}
	return results
}

// CountByType returns the number of indexed values for a type. The index
// intentionally counts ever-ingested values, so it is unaffected by TTL.
func (s *Store) CountByType(ctx context.Context, iocType core.IOCType) (int64, error) {
	return s.cache.SCard(ctx, indexKey(iocType))
}

// Values enumerates the indexed values for a type.
func (s *Store) Values(ctx context.Context, iocType core.IOCType) ([]string, error) {
	return s.cache.SMembers(ctx, indexKey(iocType))
}

// Ping verifies backend connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() StoreStats {
	hits := s.stats.Get(stats.LookupHits)
	misses := s.stats.Get(stats.LookupMisses)
	denom := hits + misses
	if denom < 1 {
		denom = 1
	}
	return StoreStats{
		TotalIOCs:    s.stats.Get(stats.TotalIOCs),
		Lookups:      s.stats.Get(stats.Lookups),
		Hits:         hits,
		Misses:       misses,
		Errors:       s.stats.Get(stats.LookupErrors),
		CacheHitRate: float64(hits) / float64(denom),
	}
}
