package logging

// LogEntry is a single structured log record.
type LogEntry struct {
	Time     int64 // Unix nanoseconds
	Severity Severity
	Message  string

	// Caller information
	File     string
	Line     int
	Function string

	// Correlation identifier propagated through optimization runs, if any.
	CorrelationID string

	// Structured fields
	Fields map[string]interface{}
}
