// Package logbuf holds the log lines captured from the node until the
// telemetry loop delivers them.
package logbuf

import "time"

// TimestampFormat is the strict UTC form stamped on every entry.
const TimestampFormat = "2006-01-02T15:04:05Z"

// Entry is one accepted line from the node. Message keeps the original
// text including its [LEVEL] tag.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// NewEntry stamps message with t in UTC.
func NewEntry(t time.Time, message string) Entry {
	return Entry{
		Timestamp: t.UTC().Format(TimestampFormat),
		Message:   message,
	}
}
