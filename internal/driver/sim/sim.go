// Package sim provides an in-process collection driver with no hardware
// behind it. It enforces the same calling protocol a vendor driver would,
// synthesizes deterministic counter and kernel activity records, and
// delivers events through the registered callbacks. Tests and the CLI's
// simulation mode run against it.
package sim

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/activity"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/counterdata"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/driver"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/hostconfig"
)

// Device describes one simulated GPU.
type Device struct {
	ChipName               string
	ComputeCapabilityMajor int
	ComputeCapabilityMinor int
	MultiprocessorCount    int
}

// LaunchParams describes one simulated kernel launch.
type LaunchParams struct {
	KernelName  string
	DurationNs  uint64
	GridX       uint32
	GridY       uint32
	GridZ       uint32
	BlockX      uint32
	BlockY      uint32
	BlockZ      uint32
	RegsPerThrd uint32
	StaticSmem  uint32
	DynamicSmem uint32
}

type simRange struct {
	path       string
	depth      int
	occurrence int
	launches   int
	durationNs uint64
}

type simSession struct {
	ctxID     uint32
	metrics   []string
	maxRanges int
	started   bool
	stack     []*simRange
	occ       map[string]int
	pushed    int
	pending   []byte
}

type simContext struct {
	device   int32
	profiler driver.Handle
}

// Driver is the simulated collection driver.
type Driver struct {
	mu sync.Mutex

	devices   []Device
	available []string

	contexts   map[uint32]*simContext
	nextCtx    uint32
	sessions   map[driver.Handle]*simSession
	nextHandle driver.Handle

	probed map[int32]bool
	// growAvailability makes the next availability probe under-report,
	// exercising the size growth retry.
	growAvailability bool

	subscribed bool
	subID      driver.Subscription
	callback   driver.CallbackFunc
	enabled    map[enableKey]bool

	bufRequest  driver.BufferRequestFunc
	bufComplete driver.BufferCompleteFunc
	kernelOn    bool
	actPending  []byte
	// actBufCap remembers the consumer's buffer size so best-effort
	// flushes can hold back a tail that would not fill a buffer.
	actBufCap int

	failures map[string]error
	nowNs    uint64
	lastErr  error
}

type enableKey struct {
	domain driver.Domain
	id     driver.CallbackID
}

var _ driver.Driver = (*Driver)(nil)

// New creates a simulated driver exposing the given devices, each able to
// collect the given metric names.
func New(devices []Device, availableMetrics []string) *Driver {
	return &Driver{
		devices:   devices,
		available: availableMetrics,
		contexts:  make(map[uint32]*simContext),
		sessions:  make(map[driver.Handle]*simSession),
		probed:    make(map[int32]bool),
		enabled:   make(map[enableKey]bool),
		failures:  make(map[string]error),
		nowNs:     1_000_000,
	}
}

// FailNext makes the named operation fail once with the given error.
func (d *Driver) FailNext(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.failures[op] = err
}

// GrowAvailabilityOnce makes the next availability probe under-report the
// image size, so the sized fill disagrees and the caller must retry.
func (d *Driver) GrowAvailabilityOnce() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.growAvailability = true
}

// LastError returns the most recent error the driver produced.
func (d *Driver) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.lastErr
}

func (d *Driver) failLocked(op string) error {
	if err, ok := d.failures[op]; ok {
		delete(d.failures, op)
		d.lastErr = err

		return err
	}

	return nil
}

func (d *Driver) recordErrLocked(err error) error {
	if err != nil {
		d.lastErr = err
	}

	return err
}

// CreateContext provisions a context on a device and fires the
// context-created callback.
func (d *Driver) CreateContext(device int32) (uint32, error) {
	d.mu.Lock()

	if int(device) >= len(d.devices) || device < 0 {
		defer d.mu.Unlock()

		return 0, d.recordErrLocked(driver.Errorf(driver.KindNotFound,
			"create_context", "no device %d", device))
	}

	d.nextCtx++
	ctxID := d.nextCtx
	d.contexts[ctxID] = &simContext{device: device}
	ts := d.tickLocked()
	d.mu.Unlock()

	d.fire(driver.CallbackEvent{
		Domain:      driver.DomainResource,
		ID:          driver.CallbackContextCreated,
		ContextID:   ctxID,
		Device:      device,
		TimestampNs: ts,
	})

	return ctxID, nil
}

// DestroyContext fires the context-destroying callback and removes the
// context.
func (d *Driver) DestroyContext(ctxID uint32) error {
	d.mu.Lock()

	ctx, ok := d.contexts[ctxID]
	if !ok {
		defer d.mu.Unlock()

		return d.recordErrLocked(driver.Errorf(driver.KindNotFound,
			"destroy_context", "no context %d", ctxID))
	}

	ts := d.tickLocked()
	dev := ctx.device
	d.mu.Unlock()

	d.fire(driver.CallbackEvent{
		Domain:      driver.DomainResource,
		ID:          driver.CallbackContextDestroying,
		ContextID:   ctxID,
		Device:      dev,
		TimestampNs: ts,
	})

	d.mu.Lock()
	delete(d.contexts, ctxID)
	d.mu.Unlock()

	return nil
}

// InjectFatalError fires the fatal-error state callback.
func (d *Driver) InjectFatalError(msg string, err error) {
	d.mu.Lock()
	d.lastErr = err
	ts := d.tickLocked()
	d.mu.Unlock()

	d.fire(driver.CallbackEvent{
		Domain:      driver.DomainState,
		ID:          driver.CallbackFatalError,
		TimestampNs: ts,
		Message:     msg,
		Err:         err,
	})
}

func (d *Driver) tickLocked() uint64 {
	d.nowNs += 1000

	return d.nowNs
}

// ContextDevice implements driver.DeviceQuerier.
func (d *Driver) ContextDevice(ctxID uint32) (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, ok := d.contexts[ctxID]
	if !ok {
		return 0, d.recordErrLocked(driver.Errorf(driver.KindNotFound,
			"context_device", "no context %d", ctxID))
	}

	return ctx.device, nil
}

// DeviceAttributes implements driver.DeviceQuerier.
func (d *Driver) DeviceAttributes(device int32) (driver.DeviceAttributes, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if int(device) >= len(d.devices) || device < 0 {
		return driver.DeviceAttributes{}, d.recordErrLocked(driver.Errorf(
			driver.KindNotFound, "device_attributes", "no device %d", device))
	}

	dev := d.devices[device]

	return driver.DeviceAttributes{
		Device:                 device,
		ComputeCapabilityMajor: dev.ComputeCapabilityMajor,
		ComputeCapabilityMinor: dev.ComputeCapabilityMinor,
		MultiprocessorCount:    dev.MultiprocessorCount,
	}, nil
}

// ChipName implements driver.DeviceQuerier.
func (d *Driver) ChipName(device int32) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if int(device) >= len(d.devices) || device < 0 {
		return "", d.recordErrLocked(driver.Errorf(driver.KindNotFound,
			"chip_name", "no device %d", device))
	}

	return d.devices[device].ChipName, nil
}

// CounterAvailability implements the two-call protocol over a real encoded
// availability image. Filling before probing is a protocol violation.
func (d *Driver) CounterAvailability(device int32, dst []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failLocked("counter_availability"); err != nil {
		return 0, err
	}

	if int(device) >= len(d.devices) || device < 0 {
		return 0, d.recordErrLocked(driver.Errorf(driver.KindNotFound,
			"counter_availability", "no device %d", device))
	}

	image := hostconfig.EncodeAvailability(d.available)

	if dst == nil {
		d.probed[device] = true

		if d.growAvailability {
			d.growAvailability = false

			return len(image) / 2, nil
		}

		return len(image), nil
	}

	if !d.probed[device] {
		return 0, d.recordErrLocked(driver.Errorf(driver.KindInvalidState,
			"counter_availability", "fill before size probe on device %d", device))
	}

	// The returned size is authoritative: a short destination shows up as
	// a size disagreement the caller must resolve.
	copy(dst, image)

	return len(image), nil
}

// RangeProfilerEnable implements driver.RangeCollector. One profiler per
// context.
func (d *Driver) RangeProfilerEnable(ctxID uint32) (driver.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failLocked("range_profiler_enable"); err != nil {
		return 0, err
	}

	ctx, ok := d.contexts[ctxID]
	if !ok {
		return 0, d.recordErrLocked(driver.Errorf(driver.KindNotFound,
			"range_profiler_enable", "no context %d", ctxID))
	}

	if ctx.profiler != 0 {
		return 0, d.recordErrLocked(driver.Errorf(driver.KindConflict,
			"range_profiler_enable", "context %d already profiled", ctxID))
	}

	d.nextHandle++
	h := d.nextHandle
	ctx.profiler = h
	d.sessions[h] = &simSession{
		ctxID: ctxID,
		occ:   make(map[string]int),
	}

	return h, nil
}

// RangeProfilerDisable implements driver.RangeCollector.
func (d *Driver) RangeProfilerDisable(h driver.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sess, ok := d.sessions[h]
	if !ok {
		return d.recordErrLocked(driver.Errorf(driver.KindNotFound,
			"range_profiler_disable", "no profiler handle %d", h))
	}

	if ctx, ok := d.contexts[sess.ctxID]; ok && ctx.profiler == h {
		ctx.profiler = 0
	}

	delete(d.sessions, h)

	return nil
}

// RangeProfilerSetConfig implements driver.RangeCollector.
func (d *Driver) RangeProfilerSetConfig(h driver.Handle, params driver.SetConfigParams) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failLocked("range_profiler_set_config"); err != nil {
		return err
	}

	sess, ok := d.sessions[h]
	if !ok {
		return d.recordErrLocked(driver.Errorf(driver.KindNotFound,
			"range_profiler_set_config", "no profiler handle %d", h))
	}

	_, metrics, err := hostconfig.ParseConfig(params.Config)
	if err != nil {
		return d.recordErrLocked(err)
	}

	sess.metrics = metrics
	sess.maxRanges = params.MaxRanges

	return nil
}

// RangeProfilerStart implements driver.RangeCollector.
func (d *Driver) RangeProfilerStart(h driver.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failLocked("range_profiler_start"); err != nil {
		return err
	}

	sess, ok := d.sessions[h]
	if !ok {
		return d.recordErrLocked(driver.Errorf(driver.KindNotFound,
			"range_profiler_start", "no profiler handle %d", h))
	}

	if len(sess.metrics) == 0 {
		return d.recordErrLocked(driver.Errorf(driver.KindInvalidState,
			"range_profiler_start", "start before set config"))
	}

	sess.started = true
	sess.stack = sess.stack[:0]
	sess.pushed = 0
	sess.occ = make(map[string]int)
	sess.pending = nil

	return nil
}

// RangeProfilerStop implements driver.RangeCollector.
func (d *Driver) RangeProfilerStop(h driver.Handle) (driver.StopInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failLocked("range_profiler_stop"); err != nil {
		return driver.StopInfo{}, err
	}

	sess, ok := d.sessions[h]
	if !ok {
		return driver.StopInfo{}, d.recordErrLocked(driver.Errorf(driver.KindNotFound,
			"range_profiler_stop", "no profiler handle %d", h))
	}

	if !sess.started {
		return driver.StopInfo{}, d.recordErrLocked(driver.Errorf(
			driver.KindInvalidState, "range_profiler_stop", "stop before start"))
	}

	sess.started = false

	// One pass covers everything in simulation.
	return driver.StopInfo{AllPassesSubmitted: true}, nil
}

// RangeProfilerPush implements driver.RangeCollector.
func (d *Driver) RangeProfilerPush(h driver.Handle, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failLocked("range_profiler_push"); err != nil {
		return err
	}

	sess, ok := d.sessions[h]
	if !ok {
		return d.recordErrLocked(driver.Errorf(driver.KindNotFound,
			"range_profiler_push", "no profiler handle %d", h))
	}

	if !sess.started {
		return d.recordErrLocked(driver.Errorf(driver.KindInvalidState,
			"range_profiler_push", "push before start"))
	}

	if sess.pushed >= sess.maxRanges {
		return d.recordErrLocked(driver.Errorf(driver.KindCapacityExceeded,
			"range_profiler_push", "range capacity %d exhausted", sess.maxRanges))
	}

	path := name
	if len(sess.stack) > 0 {
		path = sess.stack[len(sess.stack)-1].path + "/" + name
	}

	depth := len(sess.stack) + 1
	occKey := fmt.Sprintf("%d/%s", depth, name)
	occurrence := sess.occ[occKey]
	sess.occ[occKey] = occurrence + 1

	sess.stack = append(sess.stack, &simRange{
		path:       path,
		depth:      depth,
		occurrence: occurrence,
	})
	sess.pushed++

	return nil
}

// RangeProfilerPop implements driver.RangeCollector. Popping a range emits
// its counter record into the pending decode stream.
func (d *Driver) RangeProfilerPop(h driver.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failLocked("range_profiler_pop"); err != nil {
		return err
	}

	sess, ok := d.sessions[h]
	if !ok {
		return d.recordErrLocked(driver.Errorf(driver.KindNotFound,
			"range_profiler_pop", "no profiler handle %d", h))
	}

	if !sess.started {
		return d.recordErrLocked(driver.Errorf(driver.KindInvalidState,
			"range_profiler_pop", "pop before start"))
	}

	if len(sess.stack) == 0 {
		return d.recordErrLocked(driver.Errorf(driver.KindUnbalancedRange,
			"range_profiler_pop", "pop with no open range"))
	}

	top := sess.stack[len(sess.stack)-1]
	sess.stack = sess.stack[:len(sess.stack)-1]

	sess.pending = append(sess.pending, counterdata.EncodeRecord(counterdata.RangeInfo{
		Path:       top.path,
		Depth:      top.depth,
		Occurrence: top.occurrence,
		Values:     d.synthesizeValues(sess.metrics, top),
	})...)

	return nil
}

// synthesizeValues produces deterministic per-metric values: the duration
// metric carries the accumulated kernel time, everything else scales with
// the launch count.
func (d *Driver) synthesizeValues(metrics []string, r *simRange) []float64 {
	values := make([]float64, len(metrics))

	for i, m := range metrics {
		if m == "gpu__time_duration.sum" {
			values[i] = float64(r.durationNs)

			continue
		}

		values[i] = float64(r.launches) * float64(i+1)
	}

	return values
}

// CounterDataImage implements the two-call protocol for the counter data
// image scaffold. The image scales with the configured capacity.
func (d *Driver) CounterDataImage(h driver.Handle, maxRanges, numMetrics int, dst []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failLocked("counter_data_image"); err != nil {
		return 0, err
	}

	if _, ok := d.sessions[h]; !ok {
		return 0, d.recordErrLocked(driver.Errorf(driver.KindNotFound,
			"counter_data_image", "no profiler handle %d", h))
	}

	size := 256 + maxRanges*(64+8*numMetrics)

	if dst == nil {
		return size, nil
	}

	return size, nil
}

// DecodeCounterData implements driver.RangeCollector: it returns the raw
// records produced since the previous call.
func (d *Driver) DecodeCounterData(h driver.Handle) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failLocked("decode_counter_data"); err != nil {
		return nil, err
	}

	sess, ok := d.sessions[h]
	if !ok {
		return nil, d.recordErrLocked(driver.Errorf(driver.KindNotFound,
			"decode_counter_data", "no profiler handle %d", h))
	}

	raw := sess.pending
	sess.pending = nil

	return raw, nil
}

// Subscribe implements driver.EventSource. One subscriber per process.
func (d *Driver) Subscribe(fn driver.CallbackFunc) (driver.Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.subscribed {
		return 0, d.recordErrLocked(driver.Errorf(driver.KindConflict,
			"subscribe", "a subscriber is already registered"))
	}

	d.subscribed = true
	d.subID++
	d.callback = fn

	return d.subID, nil
}

// Unsubscribe implements driver.EventSource.
func (d *Driver) Unsubscribe(s driver.Subscription) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.subscribed || s != d.subID {
		return d.recordErrLocked(driver.Errorf(driver.KindNotFound,
			"unsubscribe", "no subscription %d", s))
	}

	d.subscribed = false
	d.callback = nil
	d.enabled = make(map[enableKey]bool)

	return nil
}

// EnableDomain implements driver.EventSource.
func (d *Driver) EnableDomain(s driver.Subscription, domain driver.Domain, enable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.subscribed || s != d.subID {
		return d.recordErrLocked(driver.Errorf(driver.KindNotFound,
			"enable_domain", "no subscription %d", s))
	}

	for _, id := range domainCallbacks(domain) {
		d.enabled[enableKey{domain: domain, id: id}] = enable
	}

	return nil
}

// EnableCallback implements driver.EventSource.
func (d *Driver) EnableCallback(
	s driver.Subscription, domain driver.Domain, id driver.CallbackID, enable bool,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.subscribed || s != d.subID {
		return d.recordErrLocked(driver.Errorf(driver.KindNotFound,
			"enable_callback", "no subscription %d", s))
	}

	d.enabled[enableKey{domain: domain, id: id}] = enable

	return nil
}

func domainCallbacks(domain driver.Domain) []driver.CallbackID {
	switch domain {
	case driver.DomainDriverAPI:
		return []driver.CallbackID{driver.CallbackLaunchKernel}
	case driver.DomainResource:
		return []driver.CallbackID{
			driver.CallbackContextCreated,
			driver.CallbackContextDestroying,
		}
	case driver.DomainState:
		return []driver.CallbackID{driver.CallbackFatalError}
	default:
		return nil
	}
}

// fire delivers an event synchronously, the way a vendor driver invokes
// callbacks on the triggering thread. Disabled callbacks are filtered.
func (d *Driver) fire(ev driver.CallbackEvent) {
	d.mu.Lock()
	fn := d.callback
	on := d.enabled[enableKey{domain: ev.Domain, id: ev.ID}]
	d.mu.Unlock()

	if fn != nil && on {
		fn(ev)
	}
}

// RegisterActivityCallbacks implements driver.ActivitySource.
func (d *Driver) RegisterActivityCallbacks(
	request driver.BufferRequestFunc, complete driver.BufferCompleteFunc,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.bufRequest = request
	d.bufComplete = complete

	return nil
}

// EnableActivityKind implements driver.ActivitySource.
func (d *Driver) EnableActivityKind(kind driver.ActivityKind, enable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if kind != driver.ActivityKindKernel {
		return d.recordErrLocked(driver.Errorf(driver.KindNotFound,
			"enable_activity", "unsupported activity kind %d", kind))
	}

	d.kernelOn = enable

	return nil
}

// FlushActivity implements driver.ActivitySource: pending kernel records
// are written into requested buffers on whole-record boundaries and
// completed back. A forced flush delivers everything, including a final
// partially filled buffer; a best-effort flush holds the partial tail
// back until enough records accumulate to fill a buffer.
func (d *Driver) FlushActivity(forced bool) error {
	d.mu.Lock()

	if err := d.failLocked("flush_activity"); err != nil {
		d.mu.Unlock()

		return err
	}

	pending := d.actPending
	d.actPending = nil
	request := d.bufRequest
	complete := d.bufComplete
	bufCap := d.actBufCap
	d.mu.Unlock()

	if len(pending) == 0 || request == nil || complete == nil {
		d.requeueActivity(pending)

		return nil
	}

	for len(pending) > 0 {
		if !forced && bufCap > 0 && len(pending) < bufCap {
			d.requeueActivity(pending)

			return nil
		}

		buf, err := request()
		if err != nil {
			// No buffer, the remaining records are lost.
			d.mu.Lock()
			d.lastErr = err
			d.mu.Unlock()

			return nil
		}

		bufCap = len(buf.Bytes())

		d.mu.Lock()
		d.actBufCap = bufCap
		d.mu.Unlock()

		n, err := alignedRecordPrefix(pending, bufCap)
		if err != nil {
			complete(buf, 0)

			d.mu.Lock()
			d.lastErr = err
			d.mu.Unlock()

			return err
		}

		copy(buf.Bytes(), pending[:n])
		pending = pending[n:]
		complete(buf, n)
	}

	return nil
}

// requeueActivity puts undelivered record bytes back in front of anything
// queued since they were taken.
func (d *Driver) requeueActivity(pending []byte) {
	if len(pending) == 0 {
		return
	}

	d.mu.Lock()
	merged := make([]byte, 0, len(pending)+len(d.actPending))
	merged = append(merged, pending...)
	merged = append(merged, d.actPending...)
	d.actPending = merged
	d.mu.Unlock()
}

// alignedRecordPrefix returns the longest prefix of pending that fits in
// size bytes without splitting a kernel record. pending always holds
// whole encoded records, each carrying its total size at offset 4. A
// single record larger than the buffer can never be delivered and fails
// explicitly.
func alignedRecordPrefix(pending []byte, size int) (int, error) {
	off := 0

	for off < len(pending) {
		total := int(binary.LittleEndian.Uint32(pending[off+4:]))

		if total > size {
			return 0, driver.Errorf(driver.KindCapacityExceeded,
				"flush_activity",
				"kernel record of %d bytes exceeds %d byte buffer", total, size)
		}

		if off+total > size {
			break
		}

		off += total
	}

	return off, nil
}

// LaunchKernel simulates one kernel launch on a context: the launch
// callback fires, the innermost open range accumulates the execution, and
// a kernel activity record is queued for the next flush.
func (d *Driver) LaunchKernel(ctxID uint32, params LaunchParams) error {
	d.mu.Lock()

	ctx, ok := d.contexts[ctxID]
	if !ok {
		defer d.mu.Unlock()

		return d.recordErrLocked(driver.Errorf(driver.KindNotFound,
			"launch_kernel", "no context %d", ctxID))
	}

	start := d.tickLocked()
	end := start + params.DurationNs
	d.nowNs = end

	if sess, live := d.sessions[ctx.profiler]; live && sess.started && len(sess.stack) > 0 {
		top := sess.stack[len(sess.stack)-1]
		top.launches++
		top.durationNs += params.DurationNs
	}

	if d.kernelOn {
		d.actPending = append(d.actPending, activity.EncodeKernelRecord(activity.KernelRecord{
			ContextID:   ctxID,
			Device:      ctx.device,
			StartNs:     start,
			EndNs:       end,
			GridX:       params.GridX,
			GridY:       params.GridY,
			GridZ:       params.GridZ,
			BlockX:      params.BlockX,
			BlockY:      params.BlockY,
			BlockZ:      params.BlockZ,
			RegsPerThrd: params.RegsPerThrd,
			StaticSmem:  params.StaticSmem,
			DynamicSmem: params.DynamicSmem,
			Name:        params.KernelName,
		})...)
	}

	dev := ctx.device
	d.mu.Unlock()

	d.fire(driver.CallbackEvent{
		Domain:      driver.DomainDriverAPI,
		ID:          driver.CallbackLaunchKernel,
		ContextID:   ctxID,
		Device:      dev,
		TimestampNs: start,
		KernelName:  params.KernelName,
	})

	return nil
}
