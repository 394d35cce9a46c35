package core

import (
	"time"

	"github.com/google/uuid"
)

// Alert is produced when an extracted candidate matches a stored indicator.
// Alerts reference the originating log record by ID rather than carrying a
// copy of its payload. The engine retains no reference after returning one.
type Alert struct {
	ID           string    `json:"id"`
	Indicator    IOC       `json:"matched_indicator"`
	LogRecordID  string    `json:"log_record_id"`
	MatchedField string    `json:"matched_field"`
	MatchedValue string    `json:"matched_value"`
	Confidence   float64   `json:"confidence"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// NewAlert builds an alert for a matched indicator.
func NewAlert(indicator *IOC, recordID, field, value string, confidence float64) Alert {
	return Alert{
		ID:           uuid.New().String(),
		Indicator:    *indicator,
		LogRecordID:  recordID,
		MatchedField: field,
		MatchedValue: value,
		Confidence:   confidence,
		GeneratedAt:  time.Now().UTC(),
	}
}
