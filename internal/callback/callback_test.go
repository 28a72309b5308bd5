package callback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/driver"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/hostconfig"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/session"
)

type fakeEvents struct {
	mu           sync.Mutex
	fn           driver.CallbackFunc
	subscribed   bool
	unsubscribed bool
	enabled      map[string]bool
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{enabled: make(map[string]bool)}
}

func (e *fakeEvents) Subscribe(fn driver.CallbackFunc) (driver.Subscription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.subscribed {
		return 0, errors.New("subscriber already registered")
	}

	e.fn = fn
	e.subscribed = true

	return 1, nil
}

func (e *fakeEvents) Unsubscribe(s driver.Subscription) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.unsubscribed = true

	return nil
}

func (e *fakeEvents) EnableDomain(s driver.Subscription, d driver.Domain, enable bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.enabled[d.String()] = enable

	return nil
}

func (e *fakeEvents) EnableCallback(
	s driver.Subscription, d driver.Domain, id driver.CallbackID, enable bool,
) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.enabled[fmt.Sprintf("%s/%s", d, id)] = enable

	return nil
}

// fire delivers an event the way the driver would: synchronously on the
// calling goroutine.
func (e *fakeEvents) fire(ev driver.CallbackEvent) {
	e.mu.Lock()
	fn := e.fn
	gone := e.unsubscribed
	e.mu.Unlock()

	if fn != nil && !gone {
		fn(ev)
	}
}

type nopCollector struct{}

func (nopCollector) RangeProfilerEnable(ctxID uint32) (driver.Handle, error) { return 1, nil }
func (nopCollector) RangeProfilerDisable(h driver.Handle) error              { return nil }
func (nopCollector) RangeProfilerSetConfig(h driver.Handle, p driver.SetConfigParams) error {
	return nil
}
func (nopCollector) RangeProfilerStart(h driver.Handle) error { return nil }
func (nopCollector) RangeProfilerStop(h driver.Handle) (driver.StopInfo, error) {
	return driver.StopInfo{}, nil
}
func (nopCollector) RangeProfilerPush(h driver.Handle, name string) error { return nil }
func (nopCollector) RangeProfilerPop(h driver.Handle) error               { return nil }
func (nopCollector) CounterDataImage(h driver.Handle, maxRanges, numMetrics int, dst []byte) (int, error) {
	return 128, nil
}
func (nopCollector) DecodeCounterData(h driver.Handle) ([]byte, error) { return nil, nil }

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

func startedTestSession(t *testing.T, reg *session.Registry, ctxID uint32) *session.Session {
	t.Helper()

	avail := hostconfig.EncodeAvailability([]string{"metric_a"})

	b, err := hostconfig.NewBuilder("ga102", avail)
	require.NoError(t, err)
	require.NoError(t, b.AddMetrics("metric_a"))

	img, err := b.ConfigImage()
	require.NoError(t, err)

	s, err := reg.Enable(ctxID)
	require.NoError(t, err)
	require.NoError(t, s.SetConfig(img, 8, 16))
	require.NoError(t, s.Start())

	return s
}

func TestSubscriber_LaunchCorrelation(t *testing.T) {
	events := newFakeEvents()
	reg := session.NewRegistry(testLog(), nopCollector{})
	sub := New(testLog(), events, reg, 16)

	var (
		mu  sync.Mutex
		got []LaunchRecord
	)

	sub.OnLaunch(func(rec LaunchRecord) {
		mu.Lock()
		defer mu.Unlock()

		got = append(got, rec)
	})

	require.NoError(t, sub.Start(context.Background()))

	sess := startedTestSession(t, reg, 7)
	require.NoError(t, sess.PushRange("frame"))
	require.NoError(t, sess.PushRange("draw"))

	events.fire(driver.CallbackEvent{
		Domain:      driver.DomainDriverAPI,
		ID:          driver.CallbackLaunchKernel,
		ContextID:   7,
		TimestampNs: 1000,
		KernelName:  "saxpy",
	})

	require.NoError(t, sub.Stop())

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, got, 1)
	assert.Equal(t, "saxpy", got[0].KernelName)
	assert.Equal(t, uint32(7), got[0].ContextID)

	require.Len(t, got[0].Ranges, 2)
	assert.Equal(t, "frame", got[0].Ranges[0].Name)
	assert.Equal(t, "draw", got[0].Ranges[1].Name)
	assert.Equal(t, 2, got[0].Ranges[1].Depth)
}

func TestSubscriber_LaunchWithoutSession(t *testing.T) {
	events := newFakeEvents()
	reg := session.NewRegistry(testLog(), nopCollector{})
	sub := New(testLog(), events, reg, 16)

	var (
		mu  sync.Mutex
		got []LaunchRecord
	)

	sub.OnLaunch(func(rec LaunchRecord) {
		mu.Lock()
		defer mu.Unlock()

		got = append(got, rec)
	})

	require.NoError(t, sub.Start(context.Background()))

	events.fire(driver.CallbackEvent{
		ID:         driver.CallbackLaunchKernel,
		ContextID:  99,
		KernelName: "orphan",
	})

	require.NoError(t, sub.Stop())

	mu.Lock()
	defer mu.Unlock()

	// Launches on contexts without a session still flow through, with no
	// range attribution.
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Ranges)
}

func TestSubscriber_QueueOverflowDrops(t *testing.T) {
	events := newFakeEvents()
	reg := session.NewRegistry(testLog(), nopCollector{})
	sub := New(testLog(), events, reg, 1)

	block := make(chan struct{})

	sub.OnLaunch(func(rec LaunchRecord) {
		<-block
	})

	require.NoError(t, sub.Start(context.Background()))

	for i := 0; i < 6; i++ {
		events.fire(driver.CallbackEvent{
			ID:         driver.CallbackLaunchKernel,
			KernelName: "k",
		})
	}

	// With a queue of one and a stalled consumer, at most two records can
	// be in flight; the rest must have been dropped, never blocked on.
	assert.GreaterOrEqual(t, sub.Stats().Dropped(), uint64(4))

	close(block)
	require.NoError(t, sub.Stop())
}

func TestSubscriber_ContextLifecycleHandlers(t *testing.T) {
	events := newFakeEvents()
	reg := session.NewRegistry(testLog(), nopCollector{})
	sub := New(testLog(), events, reg, 16)

	var created, destroyed []uint32

	sub.OnContextCreated(func(ctxID uint32, dev int32) {
		created = append(created, ctxID)
	})
	sub.OnContextDestroying(func(ctxID uint32, dev int32) {
		destroyed = append(destroyed, ctxID)
	})

	require.NoError(t, sub.Start(context.Background()))

	events.fire(driver.CallbackEvent{
		Domain:    driver.DomainResource,
		ID:        driver.CallbackContextCreated,
		ContextID: 3,
	})
	events.fire(driver.CallbackEvent{
		Domain:    driver.DomainResource,
		ID:        driver.CallbackContextDestroying,
		ContextID: 3,
	})

	// Context lifecycle handlers run synchronously on the event thread.
	assert.Equal(t, []uint32{3}, created)
	assert.Equal(t, []uint32{3}, destroyed)

	require.NoError(t, sub.Stop())
}

func TestSubscriber_FatalErrorHandler(t *testing.T) {
	events := newFakeEvents()
	reg := session.NewRegistry(testLog(), nopCollector{})
	sub := New(testLog(), events, reg, 16)

	var got error

	sub.OnError(func(err error) {
		got = err
	})

	require.NoError(t, sub.Start(context.Background()))

	events.fire(driver.CallbackEvent{
		Domain:  driver.DomainState,
		ID:      driver.CallbackFatalError,
		Message: "device fell off the bus",
		Err:     errors.New("xid 79"),
	})

	require.Error(t, got)
	assert.True(t, driver.Fatal(got))

	require.NoError(t, sub.Stop())
}

func TestSubscriber_SecondSubscribeRejected(t *testing.T) {
	events := newFakeEvents()
	reg := session.NewRegistry(testLog(), nopCollector{})

	first := New(testLog(), events, reg, 16)
	require.NoError(t, first.Start(context.Background()))

	second := New(testLog(), events, reg, 16)
	err := second.Start(context.Background())
	require.Error(t, err)
	assert.True(t, driver.IsKind(err, driver.KindConflict))

	require.NoError(t, first.Stop())
}

func TestSubscriber_StopDrainsQueue(t *testing.T) {
	events := newFakeEvents()
	reg := session.NewRegistry(testLog(), nopCollector{})
	sub := New(testLog(), events, reg, 16)

	var (
		mu  sync.Mutex
		got int
	)

	sub.OnLaunch(func(rec LaunchRecord) {
		mu.Lock()
		defer mu.Unlock()

		got++
	})

	require.NoError(t, sub.Start(context.Background()))

	for i := 0; i < 5; i++ {
		events.fire(driver.CallbackEvent{
			ID:         driver.CallbackLaunchKernel,
			KernelName: "k",
		})
	}

	require.NoError(t, sub.Stop())

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, 5, got)
}

func TestStats_Snapshot(t *testing.T) {
	s := NewStats()

	s.Record(driver.CallbackLaunchKernel)
	s.Record(driver.CallbackLaunchKernel)
	s.Record(driver.CallbackContextCreated)
	s.RecordDropped()

	counts, dropped := s.Snapshot()
	assert.Equal(t, uint64(2), counts[driver.CallbackLaunchKernel])
	assert.Equal(t, uint64(1), counts[driver.CallbackContextCreated])
	assert.Equal(t, uint64(1), dropped)

	// Snapshot resets.
	counts, dropped = s.Snapshot()
	assert.Empty(t, counts)
	assert.Zero(t, dropped)
}
