// Package extract pulls candidate indicator values out of log records. The
// extractor is stateless and pure; it never blocks and never fails, it only
// produces fewer candidates when fields are absent or malformed.
package extract

import (
	"net"
	"net/url"
	"regexp"
	"strings"

	"tripwire/core"
)

// Field names consumed from log records. Any superset is accepted;
// unrecognized fields are ignored.
const (
	FieldMessage   = "message"
	FieldURL       = "url"
	FieldIPAddress = "ip_address"
	FieldSourceIP  = "source_ip"
	FieldUserAgent = "user_agent"
)

// Candidate patterns. All RE2-safe; a regexp hit is a candidate only, the
// syntactic validators below decide whether it is reported.
var (
	ipv4Pattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	urlPattern  = regexp.MustCompile(`https?://[^\s"'<>]+`)
	// Longest hash length first so a SHA256 is not reported as its MD5 prefix.
	hashPattern  = regexp.MustCompile(`\b(?:[a-fA-F0-9]{128}|[a-fA-F0-9]{64}|[a-fA-F0-9]{40}|[a-fA-F0-9]{32})\b`)
	emailPattern = regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`)
)

// textFields are scanned with the full pattern set, in fixed order so
// extraction is deterministic for identical input.
var textFields = []string{FieldMessage, FieldUserAgent}

// ipFields carry a single IP literal rather than free text.
var ipFields = []string{FieldIPAddress, FieldSourceIP}

// Extractor extracts indicator candidates from log records.
type Extractor struct{}

// New creates an extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract returns the candidate (value, type) pairs found in the record.
// The result is a deterministic multiset for identical input; order follows
// field scan order. Absent fields contribute no candidates and an empty
// record yields an empty slice, never an error.
func (e *Extractor) Extract(record *core.LogRecord) []core.Candidate {
	var candidates []core.Candidate
	if record == nil || len(record.Fields) == 0 {
		return candidates
	}

	for _, field := range ipFields {
		value := strings.TrimSpace(record.StringField(field))
		if value == "" {
			continue
		}
		if net.ParseIP(value) != nil {
			candidates = append(candidates, core.Candidate{Value: value, Type: core.IOCTypeIP})
		}
	}

	if raw := strings.TrimSpace(record.StringField(FieldURL)); raw != "" {
		if strings.Contains(raw, "://") {
			candidates = append(candidates, urlCandidates(raw)...)
		} else {
			// Scheme-less URL field; only the host component is usable.
			candidates = append(candidates, hostCandidates("http://"+raw)...)
		}
	}

	for _, field := range textFields {
		text := record.StringField(field)
		if text == "" {
			continue
		}
		candidates = append(candidates, scanText(text)...)
	}

	return candidates
}

// scanText applies the full pattern set to free-form text.
func scanText(text string) []core.Candidate {
	var candidates []core.Candidate

	for _, raw := range urlPattern.FindAllString(text, -1) {
		// Trailing sentence punctuation is not part of the URL.
		raw = strings.TrimRight(raw, ").,;!")
		candidates = append(candidates, urlCandidates(raw)...)
	}

	for _, match := range ipv4Pattern.FindAllString(text, -1) {
		// The dotted-quad pattern admits octets above 255; only
		// syntactically well-formed addresses are reported.
		if net.ParseIP(match) != nil {
			candidates = append(candidates, core.Candidate{Value: match, Type: core.IOCTypeIP})
		}
	}

	for _, match := range emailPattern.FindAllString(text, -1) {
		candidates = append(candidates, core.Candidate{Value: match, Type: core.IOCTypeEmail})
	}

	for _, match := range hashPattern.FindAllString(text, -1) {
		candidates = append(candidates, core.Candidate{Value: match, Type: core.IOCTypeHash})
	}

	return candidates
}

// urlCandidates reports a URL-bearing value as a URL candidate plus the host
// component reduced to a domain or IP candidate.
func urlCandidates(raw string) []core.Candidate {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil
	}

	candidates := []core.Candidate{{Value: raw, Type: core.IOCTypeURL}}
	candidates = append(candidates, hostToCandidate(u.Hostname())...)
	return candidates
}

// hostCandidates parses a URL and reports only its host component.
func hostCandidates(raw string) []core.Candidate {
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	return hostToCandidate(u.Hostname())
}

func hostToCandidate(host string) []core.Candidate {
	if host == "" {
		return nil
	}
	if net.ParseIP(host) != nil {
		return []core.Candidate{{Value: host, Type: core.IOCTypeIP}}
	}
	if strings.Contains(host, ".") {
		return []core.Candidate{{Value: host, Type: core.IOCTypeDomain}}
	}
	return nil
}
