package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"tripwire/core"
	"tripwire/stats"
	"tripwire/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestIngestor(t *testing.T, fetcher Fetcher) (*Ingestor, *storage.Store, *stats.Registry) {
	t.Helper()

	cache := storage.NewMemoryCache()
	t.Cleanup(func() { cache.Close() })

	registry := stats.NewRegistry()
	store, err := storage.NewStore(cache, storage.StoreConfig{TTL: time.Hour}, registry, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	return NewIngestor(store, fetcher, registry, zaptest.NewLogger(t).Sugar()), store, registry
}

func TestParseIPFeedSkipsCommentsAndBlanks(t *testing.T) {
	ing, _, _ := newTestIngestor(t, nil)

	iocs := ing.ParseIPFeed("# comment\n192.168.1.100\n10.0.0.50\n\n", "abuse-list", core.SeverityHigh)

	require.Len(t, iocs, 2)
	for _, ioc := range iocs {
		assert.Equal(t, core.IOCTypeIP, ioc.Type)
		assert.Equal(t, core.SeverityHigh, ioc.Severity)
		assert.Equal(t, []string{"abuse-list"}, ioc.Sources)
	}
	assert.Equal(t, "192.168.1.100", iocs[0].Value)
	assert.Equal(t, "10.0.0.50", iocs[1].Value)
}

func TestParseIPFeedCountsMalformedLines(t *testing.T) {
	ing, _, registry := newTestIngestor(t, nil)

	iocs := ing.ParseIPFeed("10.0.0.1\nnot-an-ip\n999.1.1.1\n10.0.0.2\n", "feed-a", "")

	require.Len(t, iocs, 2)
	assert.Equal(t, int64(2), registry.Get(stats.ParseErrors))
}

func TestParseIPFeedDefaultsBaseline(t *testing.T) {
	ing, _, _ := newTestIngestor(t, nil)

	iocs := ing.ParseIPFeed("10.0.0.1\n", "feed-a", "")
	require.Len(t, iocs, 1)
	assert.Equal(t, core.SeverityMedium, iocs[0].Severity)
}

func TestParseStructuredFeedCSV(t *testing.T) {
	ing, _, registry := newTestIngestor(t, nil)

	raw := "# header comment\n" +
		"evil.example.com,domain,high,C2 domain\n" +
		"10.0.0.1,ip\n" +
		"5d41402abc4b2a76b9719d911017c592\n" +
		",,broken,row\n"

	iocs, err := ing.ParseStructuredFeed(raw, "intel-csv", FormatCSV, core.SeverityLow)
	require.NoError(t, err)
	require.Len(t, iocs, 3)

	assert.Equal(t, core.IOCTypeDomain, iocs[0].Type)
	assert.Equal(t, core.SeverityHigh, iocs[0].Severity)
	assert.Equal(t, "C2 domain", iocs[0].Description)

	assert.Equal(t, core.IOCTypeIP, iocs[1].Type)
	assert.Equal(t, core.SeverityLow, iocs[1].Severity)

	// Type auto-detected when no column is present.
	assert.Equal(t, core.IOCTypeHash, iocs[2].Type)

	assert.Equal(t, int64(1), registry.Get(stats.ParseErrors))
}

func TestParseStructuredFeedJSON(t *testing.T) {
	ing, _, registry := newTestIngestor(t, nil)

	raw := `[
		{"value": "evil.example.com", "type": "domain", "severity": "critical"},
		{"value": "10.0.0.1"},
		{"value": ""}
	]`

	iocs, err := ing.ParseStructuredFeed(raw, "intel-json", FormatJSON, "")
	require.NoError(t, err)
	require.Len(t, iocs, 2)
	assert.Equal(t, core.SeverityCritical, iocs[0].Severity)
	assert.Equal(t, core.IOCTypeIP, iocs[1].Type)
	assert.Equal(t, int64(1), registry.Get(stats.ParseErrors))
}

func TestParseStructuredFeedUndecodableJSON(t *testing.T) {
	ing, _, _ := newTestIngestor(t, nil)

	_, err := ing.ParseStructuredFeed("{not json", "bad", FormatJSON, "")
	assert.Error(t, err)
}

func TestParseStructuredFeedUnknownFormat(t *testing.T) {
	ing, _, _ := newTestIngestor(t, nil)

	_, err := ing.ParseStructuredFeed("anything", "bad", Format("xml"), "")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

// stubFetcher serves canned payloads and fails for configured URLs.
type stubFetcher struct {
	payloads map[string]string
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (string, error) {
	payload, ok := f.payloads[url]
	if !ok {
		return "", errors.New("connection refused")
	}
	return payload, nil
}

func TestIngestMultipleSources(t *testing.T) {
	ing, store, _ := newTestIngestor(t, &stubFetcher{payloads: map[string]string{
		"https://feeds.example.com/ips.txt": "10.0.0.1\n10.0.0.2\n",
	}})
	ctx := context.Background()

	result := ing.Ingest(ctx,
		Source{Name: "remote-ips", URL: "https://feeds.example.com/ips.txt", Format: FormatIPList},
		Source{Name: "inline", Text: "10.0.0.2\n10.0.0.3\n", Format: FormatIPList, BaselineSeverity: core.SeverityHigh},
	)

	assert.Equal(t, 3, result.Added)
	assert.Equal(t, 1, result.Merged)
	assert.Equal(t, 0, result.Errors)
	assert.Len(t, result.PerSource, 2)

	// The overlapping indicator carries both sources.
	got, err := store.Lookup(ctx, "10.0.0.2", core.IOCTypeIP)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.ElementsMatch(t, []string{"remote-ips", "inline"}, got.Sources)
}

func TestIngestIsolatesSourceFailures(t *testing.T) {
	ing, _, registry := newTestIngestor(t, &stubFetcher{payloads: map[string]string{}})
	ctx := context.Background()

	result := ing.Ingest(ctx,
		Source{Name: "dead-feed", URL: "https://unreachable.example.com/x", Format: FormatIPList},
		Source{Name: "inline", Text: "10.0.0.1\n", Format: FormatIPList},
	)

	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.Errors)
	assert.NotEmpty(t, result.PerSource["dead-feed"].Err)
	assert.Empty(t, result.PerSource["inline"].Err)
	assert.Equal(t, int64(1), registry.Get(stats.FeedErrors))
	assert.Equal(t, int64(1), registry.Get(stats.FeedsProcessed))
}

func TestIngestInvalidSourceConfig(t *testing.T) {
	ing, _, _ := newTestIngestor(t, nil)

	result := ing.Ingest(context.Background(), Source{Name: "", Text: "10.0.0.1\n", Format: FormatIPList})
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 0, result.Added)
}

func TestIngestCancelledContextLaunchesNothing(t *testing.T) {
	ing, _, _ := newTestIngestor(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := ing.Ingest(ctx,
		Source{Name: "a", Text: "10.0.0.1\n", Format: FormatIPList},
		Source{Name: "b", Text: "10.0.0.2\n", Format: FormatIPList},
	)

	assert.Equal(t, 0, result.Added)
	assert.Empty(t, result.PerSource)
}

// gateFetcher parks every fetch until released.
type gateFetcher struct {
	started chan struct{}
	release chan struct{}
}

func (f *gateFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.started <- struct{}{}
	<-f.release
	return "10.0.0.1\n", nil
}

func TestIngestCancelWhileParkedOnFullSemaphore(t *testing.T) {
	fetcher := &gateFetcher{started: make(chan struct{}, 3), release: make(chan struct{})}
	ing, _, _ := newTestIngestor(t, fetcher)
	ing.SetMaxConcurrentSyncs(1)

	ctx, cancel := context.WithCancel(context.Background())
	resCh := make(chan *IngestResult, 1)
	go func() {
		resCh <- ing.Ingest(ctx,
			Source{Name: "a", URL: "https://feeds.example.com/a", Format: FormatIPList},
			Source{Name: "b", URL: "https://feeds.example.com/b", Format: FormatIPList},
			Source{Name: "c", URL: "https://feeds.example.com/c", Format: FormatIPList},
		)
	}()

	// Source a holds the only sync slot, so the dispatcher is parked on
	// the semaphore. Cancelling there must stop dispatch; the in-flight
	// source still completes and stays in the result.
	<-fetcher.started
	cancel()
	close(fetcher.release)

	result := <-resCh
	assert.Len(t, result.PerSource, 1, "no source may launch after cancellation")
	assert.Equal(t, 1, result.Added)
}

func TestIngestResultSkippedCountsParseFailures(t *testing.T) {
	ing, _, _ := newTestIngestor(t, nil)

	result := ing.Ingest(context.Background(),
		Source{Name: "messy", Text: "10.0.0.1\ngarbage\n", Format: FormatIPList},
	)

	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.Skipped)
}
