package domain

import (
	"math"
	"time"
)

// LogEvent is one console call after normalization. It is immutable once
// built and consumed exactly once by a formatter.
type LogEvent struct {
	Method   Method    `json:"method"`
	Args     []Value   `json:"args"`
	Source   string    `json:"source"`
	Location *Location `json:"location,omitempty"`

	// Timestamp is wall-clock milliseconds since the Unix epoch. The
	// debugging protocol reports sub-millisecond precision.
	Timestamp float64 `json:"timestamp"`
}

// Location points at the script position that made the console call.
type Location struct {
	URL    string `json:"url"`
	Line   int    `json:"lineNumber"`
	Column int    `json:"columnNumber"`
}

// Time converts the event timestamp to a time.Time.
func (e LogEvent) Time() time.Time {
	return MillisToTime(e.Timestamp)
}

// MillisToTime converts fractional epoch milliseconds to a time.Time.
func MillisToTime(ms float64) time.Time {
	whole, frac := math.Modf(ms)
	return time.UnixMilli(int64(whole)).Add(time.Duration(frac * 1e6))
}

// TimeToMillis converts t to fractional epoch milliseconds.
func TimeToMillis(t time.Time) float64 {
	return float64(t.UnixMilli()) + float64(t.Nanosecond()%1e6)/1e6
}

// Source identifies the page or tab a console event came from.
type Source struct {
	TabID int    `json:"tabId"`
	URL   string `json:"url"`
	Title string `json:"title"`
}
