// Package driver defines the contract between the profiling engine and the
// underlying GPU collection driver. The driver is an external collaborator:
// it answers sized-resource queries, runs range-scoped counter collection,
// delivers execution events through subscribed callbacks, and exchanges
// activity trace buffers asynchronously.
package driver

// DeviceAttributes holds the cached identity of a device.
type DeviceAttributes struct {
	Device                 int32
	ComputeCapabilityMajor int
	ComputeCapabilityMinor int
	MultiprocessorCount    int
}

// DeviceQuerier resolves device identity for execution contexts.
type DeviceQuerier interface {
	// ContextDevice returns the device backing the given context.
	ContextDevice(ctxID uint32) (int32, error)
	// DeviceAttributes returns the attributes of a device.
	DeviceAttributes(device int32) (DeviceAttributes, error)
	// ChipName returns the architecture identifier of a device.
	ChipName(device int32) (string, error)
}

// AvailabilitySource exposes the counter availability image through the
// two-call size-query protocol: a nil dst probes the required size, a second
// call fills dst. The returned size is authoritative on both calls.
type AvailabilitySource interface {
	CounterAvailability(device int32, dst []byte) (int, error)
}

// Handle identifies an enabled range-profiler instance on a context.
type Handle uint64

// SetConfigParams carries the collection configuration for a session.
type SetConfigParams struct {
	// Config is the immutable host-built config image.
	Config []byte
	// MaxRanges caps the number of ranges recorded per pass.
	MaxRanges int
	// MaxLaunchesPerRange caps kernel launches attributed to one range.
	MaxLaunchesPerRange int
	// PassIndex and TargetNestingLevel resume multi-pass replay.
	PassIndex          int
	TargetNestingLevel int
}

// StopInfo reports replay progress after a stop.
type StopInfo struct {
	PassIndex          int
	TargetNestingLevel int
	AllPassesSubmitted bool
}

// RangeCollector drives on-device range-scoped counter collection.
type RangeCollector interface {
	RangeProfilerEnable(ctxID uint32) (Handle, error)
	RangeProfilerDisable(h Handle) error
	RangeProfilerSetConfig(h Handle, params SetConfigParams) error
	RangeProfilerStart(h Handle) error
	RangeProfilerStop(h Handle) (StopInfo, error)
	RangeProfilerPush(h Handle, name string) error
	RangeProfilerPop(h Handle) error

	// CounterDataImage builds the initialized counter data image for a
	// session, sized for maxRanges ranges of numMetrics counters each.
	// Two-call protocol: nil dst probes the required size.
	CounterDataImage(h Handle, maxRanges, numMetrics int, dst []byte) (int, error)

	// DecodeCounterData returns raw counter records produced since the
	// previous call. An empty slice means nothing new was collected.
	DecodeCounterData(h Handle) ([]byte, error)
}

// Domain groups related callback events.
type Domain uint8

const (
	// DomainDriverAPI covers intercepted driver API calls such as
	// kernel launches.
	DomainDriverAPI Domain = iota + 1
	// DomainResource covers context lifecycle events.
	DomainResource
	// DomainState covers driver state notifications such as fatal errors.
	DomainState
)

// String returns the human-readable name of the domain.
func (d Domain) String() string {
	switch d {
	case DomainDriverAPI:
		return "driver_api"
	case DomainResource:
		return "resource"
	case DomainState:
		return "state"
	default:
		return "unknown"
	}
}

// CallbackID identifies a specific event within a domain.
type CallbackID uint32

const (
	CallbackLaunchKernel CallbackID = iota + 1
	CallbackContextCreated
	CallbackContextDestroying
	CallbackFatalError
)

// String returns the human-readable name of the callback id.
func (id CallbackID) String() string {
	switch id {
	case CallbackLaunchKernel:
		return "launch_kernel"
	case CallbackContextCreated:
		return "context_created"
	case CallbackContextDestroying:
		return "context_destroying"
	case CallbackFatalError:
		return "fatal_error"
	default:
		return "unknown"
	}
}

// CallbackEvent is delivered synchronously on whatever thread triggered the
// underlying driver event. Handlers must not block.
type CallbackEvent struct {
	Domain      Domain
	ID          CallbackID
	ContextID   uint32
	Device      int32
	TimestampNs uint64

	// KernelName is set on launch events.
	KernelName string

	// Message and Err are set on fatal error events.
	Message string
	Err     error
}

// CallbackFunc handles a single driver event.
type CallbackFunc func(ev CallbackEvent)

// Subscription identifies a registered callback subscription. The driver
// admits at most one per process.
type Subscription uint64

// EventSource manages callback subscriptions.
type EventSource interface {
	Subscribe(fn CallbackFunc) (Subscription, error)
	Unsubscribe(s Subscription) error
	EnableDomain(s Subscription, d Domain, enable bool) error
	EnableCallback(s Subscription, d Domain, id CallbackID, enable bool) error
}

// ActivityKind selects which trace records the driver produces.
type ActivityKind uint8

const (
	// ActivityKindKernel records completed kernel executions.
	ActivityKindKernel ActivityKind = iota + 1
)

// ActivityBuffer is one trace buffer handed to the driver. The driver owns
// the buffer between request and completion and writes records into Bytes.
type ActivityBuffer interface {
	Bytes() []byte
	MaxRecords() int
}

// BufferRequestFunc is invoked by the driver when it needs an empty buffer.
type BufferRequestFunc func() (ActivityBuffer, error)

// BufferCompleteFunc is invoked by the driver when it returns a filled
// buffer. validSize is the number of record bytes written, at most
// len(buf.Bytes()).
type BufferCompleteFunc func(buf ActivityBuffer, validSize int)

// ActivitySource manages the asynchronous trace buffer exchange.
type ActivitySource interface {
	RegisterActivityCallbacks(request BufferRequestFunc, complete BufferCompleteFunc) error
	EnableActivityKind(kind ActivityKind, enable bool) error
	// FlushActivity asks the driver to complete outstanding buffers.
	// When forced, partially filled buffers are returned as well.
	FlushActivity(forced bool) error
}

// Driver is the full collection driver surface the engine runs against.
type Driver interface {
	DeviceQuerier
	AvailabilitySource
	RangeCollector
	EventSource
	ActivitySource

	// LastError returns the most recent error recorded by the driver,
	// or nil. Reading it does not clear it.
	LastError() error
}
