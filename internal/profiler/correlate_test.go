package profiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/activity"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/callback"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/session"
)

func launchIn(ctxID uint32, kernel string, ranges ...string) callback.LaunchRecord {
	frames := make([]session.RangeFrame, len(ranges))
	for i, name := range ranges {
		frames[i] = session.RangeFrame{Name: name, Depth: i + 1}
	}

	return callback.LaunchRecord{
		ContextID:  ctxID,
		KernelName: kernel,
		Ranges:     frames,
	}
}

func TestCorrelator_AttributesKernelToRangePath(t *testing.T) {
	c := newCorrelator()

	c.ObserveLaunch(launchIn(1, "matmul", "frame", "draw"))
	c.ObserveKernel(activity.KernelRecord{
		ContextID:   1,
		Name:        "matmul",
		StartNs:     1000,
		EndNs:       4500,
		BlockX:      16,
		BlockY:      16,
		BlockZ:      1,
		RegsPerThrd: 48,
		DynamicSmem: 2048,
	})

	stats := c.Take(1)
	require.Contains(t, stats, "frame/draw")

	st := stats["frame/draw"]
	assert.Equal(t, 1, st.Launches)
	assert.Equal(t, uint64(3500), st.DurationNs)
	assert.Equal(t, uint32(48), st.MaxRegsPerThread)
	assert.Equal(t, uint32(256), st.MaxThreadsPerBlock)
	assert.Equal(t, uint32(2048), st.MaxDynamicSmem)
}

func TestCorrelator_SameKernelMatchedInOrder(t *testing.T) {
	c := newCorrelator()

	// Two launches of the same kernel under different ranges. Activity
	// records must pair in submission order.
	c.ObserveLaunch(launchIn(1, "copy", "upload"))
	c.ObserveLaunch(launchIn(1, "copy", "download"))

	c.ObserveKernel(activity.KernelRecord{ContextID: 1, Name: "copy", StartNs: 0, EndNs: 100})
	c.ObserveKernel(activity.KernelRecord{ContextID: 1, Name: "copy", StartNs: 100, EndNs: 300})

	stats := c.Take(1)
	require.Len(t, stats, 2)
	assert.Equal(t, uint64(100), stats["upload"].DurationNs)
	assert.Equal(t, uint64(200), stats["download"].DurationNs)
}

func TestCorrelator_LaunchOutsideRange(t *testing.T) {
	c := newCorrelator()

	c.ObserveLaunch(launchIn(1, "warmup"))

	stats := c.Take(1)
	require.Contains(t, stats, "")
	assert.Equal(t, 1, stats[""].Launches)
}

func TestCorrelator_UnmatchedActivity(t *testing.T) {
	c := newCorrelator()

	c.ObserveKernel(activity.KernelRecord{ContextID: 1, Name: "orphan"})

	assert.Equal(t, uint64(1), c.Unmatched())
	assert.Empty(t, c.Take(1))
}

func TestCorrelator_TakeClearsContext(t *testing.T) {
	c := newCorrelator()

	c.ObserveLaunch(launchIn(1, "k", "r"))
	c.ObserveLaunch(launchIn(2, "k", "r"))

	first := c.Take(1)
	require.Len(t, first, 1)

	// Context 1 is gone, context 2 untouched.
	assert.Empty(t, c.Take(1))
	assert.Len(t, c.Take(2), 1)
}

func TestCorrelator_DropDiscardsPending(t *testing.T) {
	c := newCorrelator()

	c.ObserveLaunch(launchIn(3, "k", "r"))
	c.Drop(3)

	c.ObserveKernel(activity.KernelRecord{ContextID: 3, Name: "k"})

	assert.Equal(t, uint64(1), c.Unmatched())
	assert.Empty(t, c.Take(3))
}

func TestCorrelator_MaximaAcrossKernels(t *testing.T) {
	c := newCorrelator()

	c.ObserveLaunch(launchIn(1, "a", "r"))
	c.ObserveLaunch(launchIn(1, "b", "r"))

	c.ObserveKernel(activity.KernelRecord{
		ContextID: 1, Name: "a", EndNs: 50,
		RegsPerThrd: 32, BlockX: 128, BlockY: 1, BlockZ: 1, DynamicSmem: 4096,
	})
	c.ObserveKernel(activity.KernelRecord{
		ContextID: 1, Name: "b", EndNs: 70,
		RegsPerThrd: 64, BlockX: 64, BlockY: 1, BlockZ: 1, DynamicSmem: 1024,
	})

	st := c.Take(1)["r"]
	require.NotNil(t, st)
	assert.Equal(t, 2, st.Launches)
	assert.Equal(t, uint64(120), st.DurationNs)
	assert.Equal(t, uint32(64), st.MaxRegsPerThread)
	assert.Equal(t, uint32(128), st.MaxThreadsPerBlock)
	assert.Equal(t, uint32(4096), st.MaxDynamicSmem)
}
