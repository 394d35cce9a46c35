package core

import (
	"fmt"
	"net"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// =============================================================================
// IOC Types and Constants
// =============================================================================

// IOCType represents the type of indicator of compromise
type IOCType string

const (
	IOCTypeIP     IOCType = "ip"
	IOCTypeDomain IOCType = "domain"
	IOCTypeHash   IOCType = "hash" // MD5, SHA1, SHA256, SHA512
	IOCTypeURL    IOCType = "url"
	IOCTypeEmail  IOCType = "email"
)

// AllIOCTypes returns all valid IOC types for validation
var AllIOCTypes = []IOCType{
	IOCTypeIP, IOCTypeDomain, IOCTypeHash, IOCTypeURL, IOCTypeEmail,
}

// IsValid checks if the IOC type is valid
func (t IOCType) IsValid() bool {
	for _, valid := range AllIOCTypes {
		if t == valid {
			return true
		}
	}
	return false
}

// Severity represents threat severity level
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AllSeverities returns all valid severities, lowest first
var AllSeverities = []Severity{
	SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical,
}

// IsValid checks if the severity is valid
func (s Severity) IsValid() bool {
	for _, valid := range AllSeverities {
		if s == valid {
			return true
		}
	}
	return false
}

// Rank returns the numeric rank of the severity for ordering.
// Higher rank means more severe. Unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseSeverity converts a string to a Severity, accepting common aliases.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "crit", "4":
		return SeverityCritical, nil
	case "high", "3":
		return SeverityHigh, nil
	case "medium", "med", "2":
		return SeverityMedium, nil
	case "low", "1":
		return SeverityLow, nil
	default:
		return "", fmt.Errorf("invalid severity: %q", s)
	}
}

// =============================================================================
// IOC Value Validation
// =============================================================================

// Validation patterns - compiled once at package init
var (
	// Domain pattern - ReDoS-safe
	domainPattern = regexp.MustCompile(`^(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)
	// Hash pattern - MD5(32), SHA1(40), SHA256(64), SHA512(128)
	hashPattern = regexp.MustCompile(`^[a-fA-F0-9]{32}$|^[a-fA-F0-9]{40}$|^[a-fA-F0-9]{64}$|^[a-fA-F0-9]{128}$`)
)

// MaxIOCValueLength caps indicator values to keep cache keys bounded
const MaxIOCValueLength = 4096

// ValidateIOCValue checks that a value is well-formed for its type.
func ValidateIOCValue(value string, iocType IOCType) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("empty IOC value")
	}
	if len(value) > MaxIOCValueLength {
		return fmt.Errorf("IOC value exceeds maximum length of %d", MaxIOCValueLength)
	}

	switch iocType {
	case IOCTypeIP:
		if net.ParseIP(value) == nil {
			return fmt.Errorf("invalid IP address: %q", value)
		}
	case IOCTypeDomain:
		if !domainPattern.MatchString(strings.ToLower(value)) {
			return fmt.Errorf("invalid domain: %q", value)
		}
	case IOCTypeHash:
		if !hashPattern.MatchString(value) {
			return fmt.Errorf("invalid hash: %q", value)
		}
	case IOCTypeURL:
		u, err := url.Parse(value)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid URL: %q", value)
		}
	case IOCTypeEmail:
		if _, err := mail.ParseAddress(value); err != nil {
			return fmt.Errorf("invalid email address: %q", value)
		}
	default:
		return fmt.Errorf("invalid IOC type: %q", iocType)
	}
	return nil
}

// DetectIOCType attempts to determine the IOC type from the value itself.
// Returns empty string if the value matches no known type.
func DetectIOCType(value string) IOCType {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	if ip := net.ParseIP(value); ip != nil {
		return IOCTypeIP
	}

	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		if u, err := url.Parse(value); err == nil && u.Host != "" {
			return IOCTypeURL
		}
	}

	if strings.Contains(value, "@") {
		if _, err := mail.ParseAddress(value); err == nil {
			return IOCTypeEmail
		}
	}

	if hashPattern.MatchString(value) {
		return IOCTypeHash
	}

	if domainPattern.MatchString(strings.ToLower(value)) {
		return IOCTypeDomain
	}

	return ""
}

// NormalizeIOCValue returns the canonical form of a value used as the store
// key. Domains, hashes and emails are case-insensitive; IPs and URLs are
// kept as-is apart from surrounding whitespace.
func NormalizeIOCValue(value string, iocType IOCType) string {
	value = strings.TrimSpace(value)
	switch iocType {
	case IOCTypeDomain, IOCTypeHash, IOCTypeEmail:
		return strings.ToLower(value)
	default:
		return value
	}
}

// =============================================================================
// IOC Model
// =============================================================================

// IOC represents a single indicator of compromise. The natural key is
// (Value, Type); re-ingesting the same key merges rather than duplicating.
type IOC struct {
	Value       string    `json:"value" msgpack:"value"`
	Type        IOCType   `json:"type" msgpack:"type"`
	Severity    Severity  `json:"severity" msgpack:"severity"`
	Sources     []string  `json:"sources" msgpack:"sources"`
	Description string    `json:"description,omitempty" msgpack:"description"`
	FirstSeen   time.Time `json:"first_seen" msgpack:"first_seen"`
	LastSeen    time.Time `json:"last_seen" msgpack:"last_seen"`
}

// NewIOC creates an indicator with seen timestamps set to now.
func NewIOC(value string, iocType IOCType, severity Severity, source string) *IOC {
	now := time.Now().UTC()
	return &IOC{
		Value:     value,
		Type:      iocType,
		Severity:  severity,
		Sources:   []string{source},
		FirstSeen: now,
		LastSeen:  now,
	}
}

// Key returns the natural key of the indicator.
func (ioc *IOC) Key() string {
	return string(ioc.Type) + ":" + NormalizeIOCValue(ioc.Value, ioc.Type)
}

// HasSource reports whether the indicator already carries the given source.
func (ioc *IOC) HasSource(source string) bool {
	for _, s := range ioc.Sources {
		if s == source {
			return true
		}
	}
	return false
}

// Merge folds a re-sighting of the same (Value, Type) into the receiver.
// The highest severity wins, sources are unioned, LastSeen is refreshed and
// FirstSeen keeps the earliest sighting. Merge is commutative with respect
// to severity and source contributions, so concurrent ingestions of the
// same key may apply their merges in either order.
func (ioc *IOC) Merge(other *IOC) {
	ioc.Severity = MaxSeverity(ioc.Severity, other.Severity)
	for _, src := range other.Sources {
		if !ioc.HasSource(src) {
			ioc.Sources = append(ioc.Sources, src)
		}
	}
	if ioc.Description == "" {
		ioc.Description = other.Description
	}
	if !other.FirstSeen.IsZero() && other.FirstSeen.Before(ioc.FirstSeen) {
		ioc.FirstSeen = other.FirstSeen
	}
	if other.LastSeen.After(ioc.LastSeen) {
		ioc.LastSeen = other.LastSeen
	}
}

// Candidate is a (value, type) pair pulled out of a log record, the unit of
// a store lookup.
type Candidate struct {
	Value string
	Type  IOCType
}

// Key returns the store key for the candidate.
func (c Candidate) Key() string {
	return string(c.Type) + ":" + NormalizeIOCValue(c.Value, c.Type)
}
