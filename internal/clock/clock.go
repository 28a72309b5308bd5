// Package clock supplies the timebase trace records are stamped with.
// Drivers stamp records with time since boot, not Unix epoch, so storage
// needs the boot-to-wall offset to produce wall-clock timestamps.
package clock

import "time"

// Clock reads the trace timebase.
type Clock interface {
	// NowNs returns the current trace timestamp.
	NowNs() uint64
	// WallOffsetNs returns the offset that converts a trace timestamp
	// into Unix epoch nanoseconds. It drifts with suspend and NTP steps,
	// so long-running callers refresh it periodically.
	WallOffsetNs() (int64, error)
}

// New returns the platform trace clock.
func New() Clock {
	return newClock()
}

// WallTime converts a trace timestamp to wall-clock time using a
// previously read offset.
func WallTime(traceNs uint64, offsetNs int64) time.Time {
	ns := int64(traceNs) + offsetNs
	if ns < 0 {
		ns = 0
	}

	return time.Unix(0, ns)
}
