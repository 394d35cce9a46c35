// Package stats provides instance-scoped counters shared by the store,
// ingestor and matching engine. Counters are exact under concurrency and
// reset only by explicit caller action.
package stats

import "sync/atomic"

// Counter names updated by the engine components.
const (
	FeedsProcessed = "feeds_processed"
	TotalIOCs      = "total_iocs"
	IOCsMerged     = "iocs_merged"
	ParseErrors    = "parse_errors"
	FeedErrors     = "feed_errors"
	LogsScanned    = "logs_scanned"
	MatchesFound   = "matches_found"
	ScanErrors     = "scan_errors"
	Lookups        = "lookups"
	LookupHits     = "lookup_hits"
	LookupMisses   = "lookup_misses"
	LookupErrors   = "lookup_errors"
	StoreErrors    = "store_errors"
)

var allCounters = []string{
	FeedsProcessed, TotalIOCs, IOCsMerged, ParseErrors, FeedErrors,
	LogsScanned, MatchesFound, ScanErrors,
	Lookups, LookupHits, LookupMisses, LookupErrors, StoreErrors,
}

// Registry holds a fixed set of monotonically increasing counters. The zero
// value is not usable; construct with NewRegistry.
type Registry struct {
	counters map[string]*atomic.Int64
}

// NewRegistry creates a registry with all counters at zero.
func NewRegistry() *Registry {
	counters := make(map[string]*atomic.Int64, len(allCounters))
	for _, name := range allCounters {
		counters[name] = &atomic.Int64{}
	}
	return &Registry{counters: counters}
}

// Inc increments the named counter by one. Unknown names are ignored.
func (r *Registry) Inc(name string) {
	r.Add(name, 1)
}

// Add increments the named counter by n. Unknown names are ignored.
func (r *Registry) Add(name string, n int64) {
	if c, ok := r.counters[name]; ok {
		c.Add(n)
	}
}

// Get returns the current value of the named counter.
func (r *Registry) Get(name string) int64 {
	if c, ok := r.counters[name]; ok {
		return c.Load()
	}
	return 0
}

// Snapshot returns a copy of all counter values.
func (r *Registry) Snapshot() map[string]int64 {
	snap := make(map[string]int64, len(r.counters))
	for name, c := range r.counters {
		snap[name] = c.Load()
	}
	return snap
}

// Reset zeroes all counters. Never called implicitly.
func (r *Registry) Reset() {
	for _, c := range r.counters {
		c.Store(0)
	}
}
