package activity

import "sync/atomic"

// Stats provides lock-free counters for the buffer exchange. Snapshot
// atomically reads and resets, making it suitable for periodic reporting
// without contention.
type Stats struct {
	requested   atomic.Uint64
	completed   atomic.Uint64
	dropped     atomic.Uint64
	records     atomic.Uint64
	parseErrors atomic.Uint64
}

// StatsSnapshot is one read-and-reset view of the counters.
type StatsSnapshot struct {
	BuffersRequested uint64
	BuffersCompleted uint64
	BuffersDropped   uint64
	Records          uint64
	ParseErrors      uint64
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// RecordRequested counts one buffer handed to the driver.
func (s *Stats) RecordRequested() { s.requested.Add(1) }

// RecordCompleted counts one buffer returned by the driver.
func (s *Stats) RecordCompleted() { s.completed.Add(1) }

// RecordDropped counts one request refused for pool exhaustion.
func (s *Stats) RecordDropped() { s.dropped.Add(1) }

// RecordRecords counts parsed kernel records.
func (s *Stats) RecordRecords(n uint64) { s.records.Add(n) }

// RecordParseError counts one corrupt buffer region.
func (s *Stats) RecordParseError() { s.parseErrors.Add(1) }

// Dropped returns the running drop count without resetting it.
func (s *Stats) Dropped() uint64 {
	return s.dropped.Load()
}

// Snapshot atomically reads and resets all counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		BuffersRequested: s.requested.Swap(0),
		BuffersCompleted: s.completed.Swap(0),
		BuffersDropped:   s.dropped.Swap(0),
		Records:          s.records.Swap(0),
		ParseErrors:      s.parseErrors.Swap(0),
	}
}
