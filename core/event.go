package core

import (
	"time"

	"github.com/google/uuid"
)

// LogRecord is a single log entry handed to the matching engine. The engine
// treats it as read-only; Fields belongs to the caller.
type LogRecord struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields"`
}

// NewLogRecord creates a log record with a generated ID and current timestamp.
func NewLogRecord(fields map[string]interface{}) *LogRecord {
	return &LogRecord{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Fields:    fields,
	}
}

// StringField returns the named field as a string, or "" if absent or not
// string-valued.
func (r *LogRecord) StringField(name string) string {
	if r.Fields == nil {
		return ""
	}
	if v, ok := r.Fields[name].(string); ok {
		return v
	}
	return ""
}
