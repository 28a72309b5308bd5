//go:build !linux

package clock

import "time"

// monoClock measures from an arbitrary process-start base using Go's
// monotonic reading. Good enough off Linux, where there is no real driver
// to agree with anyway.
type monoClock struct {
	base time.Time
}

func newClock() Clock {
	return &monoClock{base: time.Now()}
}

func (c *monoClock) NowNs() uint64 {
	return uint64(time.Since(c.base).Nanoseconds())
}

func (c *monoClock) WallOffsetNs() (int64, error) {
	return c.base.UnixNano(), nil
}
