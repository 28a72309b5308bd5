package profiler

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/activity"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/callback"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/session"
)

// kernelStats aggregates the kernel executions attributed to one range path.
type kernelStats struct {
	Launches           int
	DurationNs         uint64
	MaxRegsPerThread   uint32
	MaxThreadsPerBlock uint32
	MaxDynamicSmem     uint32
}

type launchKey struct {
	ctxID  uint32
	kernel string
}

// correlator pairs launch interceptions with the activity records the
// driver delivers later. A launch record carries the range stack open at
// launch time but no execution timing; an activity record carries timing
// and occupancy but no range attribution. Launches enqueue their range
// path per (context, kernel name), and activity records pop them in FIFO
// order, which holds because the driver completes kernels of one context
// in submission order.
type correlator struct {
	mu      sync.Mutex
	pending map[launchKey][]string
	stats   map[uint32]map[string]*kernelStats

	unmatched atomic.Uint64
}

func newCorrelator() *correlator {
	return &correlator{
		pending: make(map[launchKey][]string),
		stats:   make(map[uint32]map[string]*kernelStats),
	}
}

// rangePath flattens a range stack snapshot into a slash-joined path.
// Launches outside any range map to the empty path.
func rangePath(frames []session.RangeFrame) string {
	if len(frames) == 0 {
		return ""
	}

	names := make([]string, len(frames))
	for i, f := range frames {
		names[i] = f.Name
	}

	return strings.Join(names, "/")
}

// ObserveLaunch records one intercepted launch and its range attribution.
func (c *correlator) ObserveLaunch(rec callback.LaunchRecord) {
	path := rangePath(rec.Ranges)

	c.mu.Lock()
	defer c.mu.Unlock()

	key := launchKey{ctxID: rec.ContextID, kernel: rec.KernelName}
	c.pending[key] = append(c.pending[key], path)

	c.statsLocked(rec.ContextID, path).Launches++
}

// ObserveKernel folds one completed kernel execution into the stats of the
// range path its launch was attributed to. An activity record with no
// pending launch is counted as unmatched and dropped.
func (c *correlator) ObserveKernel(rec activity.KernelRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := launchKey{ctxID: rec.ContextID, kernel: rec.Name}

	queue := c.pending[key]
	if len(queue) == 0 {
		c.unmatched.Add(1)

		return
	}

	path := queue[0]

	if len(queue) == 1 {
		delete(c.pending, key)
	} else {
		c.pending[key] = queue[1:]
	}

	st := c.statsLocked(rec.ContextID, path)
	st.DurationNs += rec.DurationNs()

	if regs := rec.RegsPerThrd; regs > st.MaxRegsPerThread {
		st.MaxRegsPerThread = regs
	}

	if threads := rec.ThreadsPerBlock(); threads > st.MaxThreadsPerBlock {
		st.MaxThreadsPerBlock = threads
	}

	if smem := rec.DynamicSmem; smem > st.MaxDynamicSmem {
		st.MaxDynamicSmem = smem
	}
}

// Take removes and returns the accumulated stats of one context, keyed by
// range path. Pending launches of the context are discarded with it.
func (c *correlator) Take(ctxID uint32) map[string]kernelStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	byPath := c.stats[ctxID]
	delete(c.stats, ctxID)

	for key := range c.pending {
		if key.ctxID == ctxID {
			delete(c.pending, key)
		}
	}

	out := make(map[string]kernelStats, len(byPath))
	for path, st := range byPath {
		out[path] = *st
	}

	return out
}

// Drop discards all state of one context.
func (c *correlator) Drop(ctxID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.stats, ctxID)

	for key := range c.pending {
		if key.ctxID == ctxID {
			delete(c.pending, key)
		}
	}
}

// Unmatched returns the running count of activity records that arrived
// with no pending launch.
func (c *correlator) Unmatched() uint64 {
	return c.unmatched.Load()
}

func (c *correlator) statsLocked(ctxID uint32, path string) *kernelStats {
	byPath := c.stats[ctxID]
	if byPath == nil {
		byPath = make(map[string]*kernelStats)
		c.stats[ctxID] = byPath
	}

	st := byPath[path]
	if st == nil {
		st = &kernelStats{}
		byPath[path] = st
	}

	return st
}
