// Package match orchestrates scanning log records against the indicator
// store: extract candidates, dedupe, batch-lookup, emit scored alerts.
package match

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tripwire/core"
	"tripwire/extract"
	"tripwire/metrics"
	"tripwire/stats"

	"go.uber.org/zap"
)

// IndicatorLookup is the slice of the store the engine needs. Implemented
// by storage.Store.
type IndicatorLookup interface {
	BatchLookup(ctx context.Context, candidates []core.Candidate) []*core.IOC
}

// Config configures the matching engine.
type Config struct {
	// Workers bounds concurrent record scans inside ScanBatch.
	Workers int

	// Confidence maps matched indicator severity to alert confidence.
	// The mapping is deterministic; no statistical scoring is involved.
	Confidence map[core.Severity]float64
}

// DefaultConfidence is the severity-to-confidence table used when none is
// configured.
func DefaultConfidence() map[core.Severity]float64 {
	return map[core.Severity]float64{
		core.SeverityCritical: 1.0,
		core.SeverityHigh:     0.8,
		core.SeverityMedium:   0.5,
		core.SeverityLow:      0.3,
	}
}

// DefaultConfig returns a config with 4 workers and the default confidence
// table.
func DefaultConfig() Config {
	return Config{
		Workers:    4,
		Confidence: DefaultConfidence(),
	}
}

// Engine scans log records for known indicators. Safe for concurrent use;
// the store and stats registry are the only shared state.
type Engine struct {
	store     IndicatorLookup
	extractor *extract.Extractor
	cfg       Config
	stats     *stats.Registry
	logger    *zap.SugaredLogger
}

// EngineStats is a point-in-time view of engine counters.
type EngineStats struct {
	LogsScanned  int64 `json:"logs_scanned"`
	MatchesFound int64 `json:"matches_found"`
	ScanErrors   int64 `json:"scan_errors"`
}

// NewEngine creates a matching engine. A malformed confidence table is a
// construction-time error; the engine refuses to run with undefined
// severity scoring.
func NewEngine(store IndicatorLookup, cfg Config, registry *stats.Registry, logger *zap.SugaredLogger) (*Engine, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("match: workers must be >= 1, got %d", cfg.Workers)
	}
	if cfg.Confidence == nil {
		cfg.Confidence = DefaultConfidence()
	}
	for _, sev := range core.AllSeverities {
		conf, ok := cfg.Confidence[sev]
		if !ok {
			return nil, fmt.Errorf("match: confidence table missing severity %q", sev)
		}
		if conf < 0 || conf > 1 {
			return nil, fmt.Errorf("match: confidence for %q out of range [0,1]: %v", sev, conf)
		}
	}

	return &Engine{
		store:     store,
		extractor: extract.New(),
		cfg:       cfg,
		stats:     registry,
		logger:    logger,
	}, nil
}

// ScanLog scans a single record. Candidates are deduplicated before one
// batch lookup; each hit produces one alert whose confidence is the
// configured value for the indicator's severity. Always returns a
// well-formed (possibly empty) slice and increments logs_scanned.
func (e *Engine) ScanLog(ctx context.Context, record *core.LogRecord) []core.Alert {
	start := time.Now()
	defer func() {
		metrics.ScanDuration.Observe(time.Since(start).Seconds())
	}()

	e.stats.Inc(stats.LogsScanned)
	metrics.LogsScanned.Inc()

	candidates := e.extractor.Extract(record)
	if len(candidates) == 0 {
		return []core.Alert{}
	}

	unique, fields := dedupe(candidates, record)
	matches := e.store.BatchLookup(ctx, unique)

	alerts := make([]core.Alert, 0, 2)
	for i, ioc := range matches {
		if ioc == nil {
			continue
		}
		alert := core.NewAlert(ioc, record.ID, fields[unique[i].Key()], unique[i].Value, e.cfg.Confidence[ioc.Severity])
		alerts = append(alerts, alert)

		e.stats.Inc(stats.MatchesFound)
		metrics.MatchesFound.WithLabelValues(string(ioc.Severity)).Inc()
	}
	return alerts
}

// ScanBatch scans records independently across the worker pool. The result
// has the same order and length as the input. A panic while scanning one
// record yields an empty alert list at that position and is counted; it
// never aborts the batch. Cancelling ctx stops dispatching new records;
// in-flight scans complete and keep their results, while positions that
// were never dispatched hold empty lists.
func (e *Engine) ScanBatch(ctx context.Context, records []*core.LogRecord) [][]core.Alert {
	results := make([][]core.Alert, len(records))
	for i := range results {
		results[i] = []core.Alert{}
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.cfg.Workers)

dispatch:
	for i, record := range records {
		if ctx.Err() != nil {
			break
		}

		// The semaphore acquire must also watch ctx: a cancel arriving
		// while parked on a full pool stops dispatch instead of
		// launching one more record when a slot frees.
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, record *core.LogRecord) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					e.logger.Errorw("Recovered from panic scanning record",
						"record_id", record.ID, "panic", r)
					e.stats.Inc(stats.ScanErrors)
				}
			}()

			results[i] = e.ScanLog(ctx, record)
		}(i, record)
	}

	wg.Wait()
	return results
}

// Stats returns a snapshot of engine counters since construction or the
// last explicit reset.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		LogsScanned:  e.stats.Get(stats.LogsScanned),
		MatchesFound: e.stats.Get(stats.MatchesFound),
		ScanErrors:   e.stats.Get(stats.ScanErrors),
	}
}

// dedupe collapses duplicate (value, type) pairs, preserving first-seen
// order, and remembers which field produced each candidate for alert
// attribution.
func dedupe(candidates []core.Candidate, record *core.LogRecord) ([]core.Candidate, map[string]string) {
	seen := make(map[string]struct{}, len(candidates))
	fields := make(map[string]string, len(candidates))
	unique := make([]core.Candidate, 0, len(candidates))

	for _, c := range candidates {
		key := c.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		fields[key] = fieldOf(c, record)
		unique = append(unique, c)
	}
	return unique, fields
}

// fieldOf attributes a candidate back to the record field it came from.
// Direct field values win over substring hits in free text.
func fieldOf(c core.Candidate, record *core.LogRecord) string {
	direct := []string{
		extract.FieldIPAddress, extract.FieldSourceIP, extract.FieldURL,
	}
	for _, f := range direct {
		if record.StringField(f) == c.Value {
			return f
		}
	}
	for _, f := range []string{extract.FieldMessage, extract.FieldURL, extract.FieldUserAgent} {
		if v := record.StringField(f); v != "" && strings.Contains(v, c.Value) {
			return f
		}
	}
	return extract.FieldMessage
}
