package callback

import (
	"sync/atomic"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/driver"
)

const maxCallbackID = driver.CallbackFatalError

// Stats provides lock-free per-callback counters plus a counter of launch
// records dropped on queue overflow. Snapshot atomically reads and resets,
// making it suitable for periodic reporting without contention.
type Stats struct {
	counts  [maxCallbackID + 1]atomic.Uint64
	dropped atomic.Uint64
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Record increments the counter for the given callback id by one.
func (s *Stats) Record(id driver.CallbackID) {
	if id > maxCallbackID {
		return
	}

	s.counts[id].Add(1)
}

// RecordDropped counts one launch record lost to queue overflow.
func (s *Stats) RecordDropped() {
	s.dropped.Add(1)
}

// Dropped returns the running drop count without resetting it.
func (s *Stats) Dropped() uint64 {
	return s.dropped.Load()
}

// Snapshot atomically reads and resets all counters, returning only
// non-zero entries plus the dropped count.
func (s *Stats) Snapshot() (map[driver.CallbackID]uint64, uint64) {
	result := make(map[driver.CallbackID]uint64, int(maxCallbackID))

	for i := range s.counts {
		v := s.counts[i].Swap(0)
		if v > 0 {
			result[driver.CallbackID(i)] = v
		}
	}

	return result, s.dropped.Swap(0)
}
