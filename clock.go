package match

import "time"

// Clock supplies the timestamps stamped on emitted events. Timestamps are
// opaque metadata and never participate in matching decisions, so tests can
// inject a fixed or stepping clock and replay command sequences
// deterministically.
type Clock func() time.Time

// SystemClock reads the wall clock in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}
