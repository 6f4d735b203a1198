// Package timewindow builds acceptance windows for wall-clock assertions on
// delayed and time-bounded pipeline invocations.
package timewindow

import (
	"time"

	"github.com/rickb777/date/v2/timespan"
)

type TimeSpan = timespan.TimeSpan

const epsilon = time.Millisecond

// Window returns the span in which an operation started at start should
// complete, given that it must take at least min and at most max.
func Window(start time.Time, min, max time.Duration) TimeSpan {
	return timespan.BetweenTimes(start.Add(min).Add(-epsilon), start.Add(max).Add(epsilon))
}

// Within reports whether t falls inside ts.
func Within(ts TimeSpan, t time.Time) bool {
	return !t.Before(ts.Start()) && !t.After(ts.End())
}
