package feed

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"tripwire/core"
	"tripwire/metrics"
	"tripwire/stats"
	"tripwire/storage"

	"go.uber.org/zap"
)

// DefaultMaxConcurrentSyncs bounds parallel feed syncs within one Ingest call.
const DefaultMaxConcurrentSyncs = 3

// SourceResult captures the outcome of syncing one source.
type SourceResult struct {
	Source  string `json:"source"`
	Added   int    `json:"added"`
	Merged  int    `json:"merged"`
	Skipped int    `json:"skipped"`
	Errors  int    `json:"errors"`
	Err     string `json:"error,omitempty"`
}

// IngestResult aggregates one Ingest run across all sources. Failures are
// recorded here and never raised to the caller.
type IngestResult struct {
	Added     int                     `json:"added"`
	Merged    int                     `json:"merged"`
	Skipped   int                     `json:"skipped"`
	Errors    int                     `json:"errors"`
	PerSource map[string]SourceResult `json:"per_source"`
	Duration  time.Duration           `json:"duration"`
}

// Ingestor parses feed payloads and persists normalized indicators.
type Ingestor struct {
	store          *storage.Store
	fetcher        Fetcher
	stats          *stats.Registry
	logger         *zap.SugaredLogger
	maxConcurrency int
}

// NewIngestor creates a feed ingestor. fetcher may be nil when all sources
// carry inline text.
func NewIngestor(store *storage.Store, fetcher Fetcher, registry *stats.Registry, logger *zap.SugaredLogger) *Ingestor {
	return &Ingestor{
		store:          store,
		fetcher:        fetcher,
		stats:          registry,
		logger:         logger,
		maxConcurrency: DefaultMaxConcurrentSyncs,
	}
}

// SetMaxConcurrentSyncs bounds parallel source syncs (minimum 1).
func (ing *Ingestor) SetMaxConcurrentSyncs(n int) {
	if n < 1 {
		n = 1
	}
	ing.maxConcurrency = n
}

// =============================================================================
// Parsers
// =============================================================================

// defaultSeverity is applied when a source configures no baseline.
const defaultSeverity = core.SeverityMedium

// ParseIPFeed parses a line-oriented IP list. Lines starting with '#' and
// blank lines are skipped; malformed lines are skipped and counted, never
// surfaced to the caller.
func (ing *Ingestor) ParseIPFeed(raw, source string, baseline core.Severity) []*core.IOC {
	iocs, _ := ing.parseIPFeed(raw, source, baseline)
	return iocs
}

// parseIPFeed additionally reports how many lines were skipped so Ingest
// can attribute them to the right source under concurrency.
func (ing *Ingestor) parseIPFeed(raw, source string, baseline core.Severity) ([]*core.IOC, int) {
	if baseline == "" {
		baseline = defaultSeverity
	}

	var iocs []*core.IOC
	skipped := 0
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if net.ParseIP(line) == nil {
			ing.stats.Inc(stats.ParseErrors)
			skipped++
			continue
		}
		iocs = append(iocs, core.NewIOC(line, core.IOCTypeIP, baseline, source))
	}
	return iocs, skipped
}

// structuredRecord is the JSON feed record shape.
type structuredRecord struct {
	Value       string `json:"value"`
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// ParseStructuredFeed parses CSV or JSON payloads. Record-level problems
// follow the same skip-and-count policy as ParseIPFeed; only an unusable
// payload as a whole (unknown format, undecodable JSON) is an error.
func (ing *Ingestor) ParseStructuredFeed(raw, source string, format Format, baseline core.Severity) ([]*core.IOC, error) {
	iocs, _, err := ing.parseStructured(raw, source, format, baseline)
	return iocs, err
}

func (ing *Ingestor) parseStructured(raw, source string, format Format, baseline core.Severity) ([]*core.IOC, int, error) {
	if baseline == "" {
		baseline = defaultSeverity
	}

	switch format {
	case FormatIPList:
		iocs, skipped := ing.parseIPFeed(raw, source, baseline)
		return iocs, skipped, nil
	case FormatCSV:
		iocs, skipped := ing.parseCSV(raw, source, baseline)
		return iocs, skipped, nil
	case FormatJSON:
		return ing.parseJSON(raw, source, baseline)
	default:
		return nil, 0, ErrUnsupportedFormat
	}
}

// parseCSV reads records of the form value[,type[,severity[,description]]].
func (ing *Ingestor) parseCSV(raw, source string, baseline core.Severity) ([]*core.IOC, int) {
	reader := csv.NewReader(strings.NewReader(raw))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var iocs []*core.IOC
	skipped := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			ing.stats.Inc(stats.ParseErrors)
			skipped++
			continue
		}

		ioc := ing.recordToIOC(record, source, baseline)
		if ioc == nil {
			ing.stats.Inc(stats.ParseErrors)
			skipped++
			continue
		}
		iocs = append(iocs, ioc)
	}
	return iocs, skipped
}

func (ing *Ingestor) recordToIOC(record []string, source string, baseline core.Severity) *core.IOC {
	if len(record) == 0 {
		return nil
	}
	value := strings.TrimSpace(record[0])
	if value == "" {
		return nil
	}

	iocType := core.IOCType("")
	if len(record) > 1 {
		iocType = core.IOCType(strings.ToLower(strings.TrimSpace(record[1])))
	}
	if !iocType.IsValid() {
		iocType = core.DetectIOCType(value)
	}
	if iocType == "" {
		return nil
	}
	if err := core.ValidateIOCValue(value, iocType); err != nil {
		return nil
	}

	severity := baseline
	if len(record) > 2 {
		if parsed, err := core.ParseSeverity(record[2]); err == nil {
			severity = parsed
		}
	}

	ioc := core.NewIOC(value, iocType, severity, source)
	if len(record) > 3 {
		ioc.Description = strings.TrimSpace(record[3])
	}
	return ioc
}

// parseJSON reads an array of structured records. Individual records with
// missing or invalid values are skipped and counted.
func (ing *Ingestor) parseJSON(raw, source string, baseline core.Severity) ([]*core.IOC, int, error) {
	var records []structuredRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, 0, err
	}

	var iocs []*core.IOC
	skipped := 0
	for _, rec := range records {
		fields := []string{rec.Value, rec.Type, rec.Severity, rec.Description}
		ioc := ing.recordToIOC(fields, source, baseline)
		if ioc == nil {
			ing.stats.Inc(stats.ParseErrors)
			skipped++
			continue
		}
		iocs = append(iocs, ioc)
	}
	return iocs, skipped, nil
}

// =============================================================================
// Ingest
// =============================================================================

// Ingest fetches, parses and stores every given source. Sources run
// concurrently up to the configured bound; a fetch or parse failure on one
// source is isolated to its SourceResult. Cancelling ctx stops launching
// new sources while in-flight syncs run to completion and stay in the
// result.
func (ing *Ingestor) Ingest(ctx context.Context, sources ...Source) *IngestResult {
	start := time.Now()
	result := &IngestResult{PerSource: make(map[string]SourceResult, len(sources))}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, ing.maxConcurrency)
	)

dispatch:
	for _, src := range sources {
		if ctx.Err() != nil {
			ing.logger.Infow("Ingest cancelled, not launching remaining sources",
				"next", src.Name)
			break
		}

		// Watch ctx while parked on a full semaphore too, so a cancel
		// during the wait never launches one more source.
		select {
		case <-ctx.Done():
			ing.logger.Infow("Ingest cancelled, not launching remaining sources",
				"next", src.Name)
			break dispatch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			defer func() { <-sem }()

			sr := ing.syncSource(ctx, src)

			mu.Lock()
			result.PerSource[src.Name] = sr
			result.Added += sr.Added
			result.Merged += sr.Merged
			result.Skipped += sr.Skipped
			result.Errors += sr.Errors
			mu.Unlock()
		}(src)
	}

	wg.Wait()
	result.Duration = time.Since(start)
	return result
}

// syncSource fetches and stores one source. All failure modes end up in the
// returned SourceResult.
func (ing *Ingestor) syncSource(ctx context.Context, src Source) SourceResult {
	sr := SourceResult{Source: src.Name}

	if err := src.Validate(); err != nil {
		ing.stats.Inc(stats.FeedErrors)
		metrics.FeedsProcessed.WithLabelValues(src.Name, "error").Inc()
		sr.Errors++
		sr.Err = err.Error()
		return sr
	}

	raw := src.Text
	if raw == "" {
		if ing.fetcher == nil {
			ing.stats.Inc(stats.FeedErrors)
			metrics.FeedsProcessed.WithLabelValues(src.Name, "error").Inc()
			sr.Errors++
			sr.Err = "no fetcher configured for URL source"
			return sr
		}
		fetched, err := ing.fetcher.Fetch(ctx, src.URL)
		if err != nil {
			ing.logger.Warnw("Feed fetch failed", "source", src.Name, "error", err)
			ing.stats.Inc(stats.FeedErrors)
			metrics.FeedsProcessed.WithLabelValues(src.Name, "error").Inc()
			sr.Errors++
			sr.Err = err.Error()
			return sr
		}
		raw = fetched
	}

	iocs, skipped, err := ing.parseStructured(raw, src.Name, src.Format, src.BaselineSeverity)
	if err != nil {
		ing.stats.Inc(stats.FeedErrors)
		metrics.FeedsProcessed.WithLabelValues(src.Name, "error").Inc()
		sr.Errors++
		sr.Err = err.Error()
		return sr
	}
	sr.Skipped = skipped

	for _, ioc := range iocs {
		created, err := ing.store.Add(ctx, ioc)
		if err != nil {
			sr.Errors++
			continue
		}
		if created {
			sr.Added++
			metrics.IOCsIngested.WithLabelValues(src.Name, "added").Inc()
		} else {
			sr.Merged++
			metrics.IOCsIngested.WithLabelValues(src.Name, "merged").Inc()
		}
	}

	ing.stats.Inc(stats.FeedsProcessed)
	status := "ok"
	if sr.Errors > 0 {
		status = "partial"
	}
	metrics.FeedsProcessed.WithLabelValues(src.Name, status).Inc()
	ing.logger.Infow("Feed sync completed",
		"source", src.Name, "added", sr.Added, "merged", sr.Merged,
		"skipped", sr.Skipped, "errors", sr.Errors)
	return sr
}
