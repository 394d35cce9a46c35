package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityRank(t *testing.T) {
	assert.True(t, SeverityCritical.Rank() > SeverityHigh.Rank())
	assert.True(t, SeverityHigh.Rank() > SeverityMedium.Rank())
	assert.True(t, SeverityMedium.Rank() > SeverityLow.Rank())
	assert.True(t, SeverityLow.Rank() > Severity("bogus").Rank())
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in      string
		want    Severity
		wantErr bool
	}{
		{"critical", SeverityCritical, false},
		{"HIGH", SeverityHigh, false},
		{" med ", SeverityMedium, false},
		{"low", SeverityLow, false},
		{"2", SeverityMedium, false},
		{"urgent", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSeverity(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestMergeKeepsHighestSeverityAndUnionsSources(t *testing.T) {
	a := NewIOC("10.0.0.1", IOCTypeIP, SeverityLow, "feed-a")
	b := NewIOC("10.0.0.1", IOCTypeIP, SeverityCritical, "feed-b")

	a.Merge(b)

	assert.Equal(t, SeverityCritical, a.Severity)
	assert.ElementsMatch(t, []string{"feed-a", "feed-b"}, a.Sources)
}

func TestMergeIsCommutativeForSeverityAndSources(t *testing.T) {
	mk := func() (*IOC, *IOC) {
		a := NewIOC("evil.example.com", IOCTypeDomain, SeverityMedium, "feed-a")
		b := NewIOC("evil.example.com", IOCTypeDomain, SeverityHigh, "feed-b")
		return a, b
	}

	x, y := mk()
	x.Merge(y)

	p, q := mk()
	q.Merge(p)

	assert.Equal(t, x.Severity, q.Severity)
	assert.ElementsMatch(t, x.Sources, q.Sources)
}

func TestMergeRefreshesLastSeenKeepsFirstSeen(t *testing.T) {
	early := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	a := NewIOC("10.0.0.1", IOCTypeIP, SeverityLow, "feed-a")
	a.FirstSeen = early
	a.LastSeen = early

	b := NewIOC("10.0.0.1", IOCTypeIP, SeverityLow, "feed-a")
	b.FirstSeen = late
	b.LastSeen = late

	a.Merge(b)

	assert.Equal(t, early, a.FirstSeen)
	assert.Equal(t, late, a.LastSeen)
}

func TestMergeDoesNotDuplicateSources(t *testing.T) {
	a := NewIOC("10.0.0.1", IOCTypeIP, SeverityLow, "feed-a")
	b := NewIOC("10.0.0.1", IOCTypeIP, SeverityLow, "feed-a")

	a.Merge(b)

	assert.Equal(t, []string{"feed-a"}, a.Sources)
}

func TestDetectIOCType(t *testing.T) {
	tests := []struct {
		value string
		want  IOCType
	}{
		{"192.168.1.100", IOCTypeIP},
		{"2001:db8::1", IOCTypeIP},
		{"evil.example.com", IOCTypeDomain},
		{"https://evil.example.com/payload", IOCTypeURL},
		{"user@evil.example.com", IOCTypeEmail},
		{"5d41402abc4b2a76b9719d911017c592", IOCTypeHash},
		{"not an indicator", ""},
		{"", ""},
		{"999.999.999.999", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectIOCType(tt.value), "value %q", tt.value)
	}
}

func TestValidateIOCValue(t *testing.T) {
	require.NoError(t, ValidateIOCValue("10.0.0.1", IOCTypeIP))
	require.NoError(t, ValidateIOCValue("evil.example.com", IOCTypeDomain))
	require.NoError(t, ValidateIOCValue("5d41402abc4b2a76b9719d911017c592", IOCTypeHash))

	assert.Error(t, ValidateIOCValue("300.1.1.1", IOCTypeIP))
	assert.Error(t, ValidateIOCValue("nodots", IOCTypeDomain))
	assert.Error(t, ValidateIOCValue("xyz", IOCTypeHash))
	assert.Error(t, ValidateIOCValue("", IOCTypeIP))
	assert.Error(t, ValidateIOCValue("10.0.0.1", IOCType("bogus")))
}

func TestIOCKeyNormalization(t *testing.T) {
	a := NewIOC("Evil.Example.COM", IOCTypeDomain, SeverityLow, "feed-a")
	b := NewIOC("evil.example.com", IOCTypeDomain, SeverityLow, "feed-b")
	assert.Equal(t, a.Key(), b.Key())

	// IPs and URLs keep their exact form.
	c := Candidate{Value: "10.0.0.1", Type: IOCTypeIP}
	assert.Equal(t, "ip:10.0.0.1", c.Key())
}
