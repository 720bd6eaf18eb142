package logging

import "log/slog"

// Common field names so log queries work across components.
const (
	FieldComponent = "component"
	FieldError     = "error"
	FieldSink      = "sink"
	FieldDay       = "day"
	FieldCount     = "count"
	FieldAttempt   = "attempt"
	FieldReason    = "reason"
	FieldRecordID  = "record_id"
)

// Component returns a slog attribute naming the emitting component.
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// Error returns a slog attribute for an error. A nil error yields an empty value.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// Sink returns a slog attribute for the buffer/sink name.
func Sink(name string) slog.Attr {
	return slog.String(FieldSink, name)
}

// Day returns a slog attribute for a DD_MM_YYYY day key.
func Day(key string) slog.Attr {
	return slog.String(FieldDay, key)
}

// Count returns a slog attribute for a record count.
func Count(n int) slog.Attr {
	return slog.Int(FieldCount, n)
}

// Attempt returns a slog attribute for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// Reason returns a slog attribute for a failure reason.
func Reason(r string) slog.Attr {
	return slog.String(FieldReason, r)
}

// RecordID returns a slog attribute for an enriched record id.
func RecordID(id string) slog.Attr {
	return slog.String(FieldRecordID, id)
}
