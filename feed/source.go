// Package feed parses threat intelligence feed payloads into normalized
// indicators and loads them into the store. Feed payloads reach the
// ingestor either as literal text or through a Fetcher collaborator;
// failures on one source never abort the others.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"tripwire/core"
)

// Format identifies how a feed payload is parsed.
type Format string

const (
	FormatIPList Format = "ip_list" // line-oriented IP literals
	FormatCSV    Format = "csv"
	FormatJSON   Format = "json"
)

// IsValid checks if the format is supported.
func (f Format) IsValid() bool {
	return f == FormatIPList || f == FormatCSV || f == FormatJSON
}

// Source describes one configured feed. Exactly one of URL or Text is set:
// URL sources go through the Fetcher, Text sources carry the payload inline
// (already retrieved by a collaborator).
type Source struct {
	Name             string
	URL              string
	Text             string
	Format           Format
	BaselineSeverity core.Severity
}

var (
	ErrInvalidSource     = errors.New("invalid feed source")
	ErrUnsupportedFormat = errors.New("unsupported feed format")
	ErrFetchFailed       = errors.New("feed fetch failed")
)

// Validate checks the source configuration.
func (s Source) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidSource)
	}
	if s.URL == "" && s.Text == "" {
		return fmt.Errorf("%w: source %q has neither URL nor text", ErrInvalidSource, s.Name)
	}
	if !s.Format.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, s.Format)
	}
	if s.BaselineSeverity != "" && !s.BaselineSeverity.IsValid() {
		return fmt.Errorf("%w: source %q has invalid severity %q", ErrInvalidSource, s.Name, s.BaselineSeverity)
	}
	return nil
}

// Fetcher retrieves raw feed payloads. The ingestor does not care how the
// bytes are obtained; any collaborator that can produce text satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// maxFeedBytes bounds a single feed payload (32MB).
const maxFeedBytes = 32 << 20

// HTTPFetcher fetches feed payloads over HTTP with a bounded timeout.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher with the given per-request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPFetcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch retrieves the payload at url.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: HTTP %d from %s", ErrFetchFailed, resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return string(body), nil
}
