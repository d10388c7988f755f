package reactor

import "time"

// Timestamp is the microsecond-resolution receipt time threaded through
// read callbacks. It wraps time.Time rather than reinventing a
// gettimeofday-style counter: Go's clock already carries the precision
// the reference implementation hand-rolled.
type Timestamp struct {
	t time.Time
}

// Now returns the current Timestamp.
func Now() Timestamp {
	return Timestamp{t: time.Now()}
}

// UnixMicro returns microseconds since the Unix epoch.
func (ts Timestamp) UnixMicro() int64 {
	return ts.t.UnixMicro()
}

// Time returns the underlying time.Time.
func (ts Timestamp) Time() time.Time {
	return ts.t
}

// String formats the timestamp as RFC3339 with microsecond precision,
// matching the register of a log line timestamp.
func (ts Timestamp) String() string {
	return ts.t.Format("2006-01-02T15:04:05.000000Z07:00")
}

// IsZero reports whether ts is the zero Timestamp.
func (ts Timestamp) IsZero() bool {
	return ts.t.IsZero()
}
