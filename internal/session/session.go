// Package session implements the range profiling session state machine and
// the per-process registry mapping contexts to their active sessions.
package session

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/counterdata"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/driver"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/hostconfig"
)

// State is the lifecycle state of a session.
type State int

const (
	StateDisabled State = iota
	StateEnabled
	StateConfigured
	StateStarted
	StateStopped
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateEnabled:
		return "enabled"
	case StateConfigured:
		return "configured"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// RangeFrame is one entry of the range stack.
type RangeFrame struct {
	Name string
	// Depth is 1-based stack depth.
	Depth int
	// Occurrence disambiguates repeated names at the same depth.
	Occurrence int
}

type occKey struct {
	depth int
	name  string
}

// Session governs range-scoped counter collection on one context. All
// methods are safe for concurrent use; the range stack may be snapshotted
// from driver callback threads while the launching thread pushes and pops.
type Session struct {
	log   logrus.FieldLogger
	drv   driver.RangeCollector
	ctxID uint32

	// release deregisters the session from its registry.
	release func()

	mu          sync.Mutex
	state       State
	handle      driver.Handle
	config      []byte
	metrics     []string
	maxRanges   int
	maxLaunches int
	stack       []RangeFrame
	pushed      int
	occ         map[occKey]int
	data        *counterdata.Image
	stopInfo    driver.StopInfo

	// inflight tracks decode and evaluation work; Disable drains it
	// before releasing the counter data image.
	inflight sync.WaitGroup
}

// ContextID returns the context the session collects on.
func (s *Session) ContextID() uint32 {
	return s.ctxID
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Metrics returns the configured metric names, nil before SetConfig.
func (s *Session) Metrics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.metrics))
	copy(out, s.metrics)

	return out
}

// Data returns the counter data image, nil before Start.
func (s *Session) Data() *counterdata.Image {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.data
}

// StopInfo returns replay progress reported by the last Stop.
func (s *Session) StopInfo() driver.StopInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stopInfo
}

// SetConfig attaches a host-built config image. Legal only in Enabled.
func (s *Session) SetConfig(configImage []byte, maxRanges, maxLaunchesPerRange int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateEnabled {
		return driver.Errorf(driver.KindInvalidState,
			"set_config", "session is %s, want enabled", s.state)
	}

	if maxRanges <= 0 {
		return driver.Errorf(driver.KindInvalidState,
			"set_config", "max ranges must be positive, got %d", maxRanges)
	}

	_, metrics, err := hostconfig.ParseConfig(configImage)
	if err != nil {
		return err
	}

	if err := s.drv.RangeProfilerSetConfig(s.handle, driver.SetConfigParams{
		Config:              configImage,
		MaxRanges:           maxRanges,
		MaxLaunchesPerRange: maxLaunchesPerRange,
		PassIndex:           s.stopInfo.PassIndex,
		TargetNestingLevel:  s.stopInfo.TargetNestingLevel,
	}); err != nil {
		return driver.WrapErr(driver.KindDriverFailure, "set_config", err)
	}

	s.config = configImage
	s.metrics = metrics
	s.maxRanges = maxRanges
	s.maxLaunches = maxLaunchesPerRange
	s.state = StateConfigured

	return nil
}

// Start begins collection. It allocates the counter data image through the
// two-call protocol, sized for the configured max ranges. A driver failure
// here is fatal to the session.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConfigured {
		return driver.Errorf(driver.KindInvalidState,
			"start", "session is %s, want configured", s.state)
	}

	image, err := driver.ReadSized("counter_data_image", func(dst []byte) (int, error) {
		return s.drv.CounterDataImage(s.handle, s.maxRanges, len(s.metrics), dst)
	})
	if err != nil {
		return s.forceDisableLocked("start", err)
	}

	data := counterdata.NewImage()
	if err := data.Initialize(len(image)); err != nil {
		return err
	}

	if err := s.drv.RangeProfilerStart(s.handle); err != nil {
		return s.forceDisableLocked("start", err)
	}

	s.data = data
	s.stack = s.stack[:0]
	s.pushed = 0
	s.occ = make(map[occKey]int)
	s.state = StateStarted

	return nil
}

// PushRange opens a named range. Legal only in Started. Exceeding the
// configured max ranges fails with CapacityExceeded before any device
// contact.
func (s *Session) PushRange(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStarted {
		return driver.Errorf(driver.KindInvalidState,
			"push_range", "session is %s, want started", s.state)
	}

	if s.pushed >= s.maxRanges {
		return driver.Errorf(driver.KindCapacityExceeded,
			"push_range", "range capacity %d exhausted", s.maxRanges)
	}

	if err := s.drv.RangeProfilerPush(s.handle, name); err != nil {
		return s.forceDisableLocked("push_range", err)
	}

	depth := len(s.stack) + 1
	key := occKey{depth: depth, name: name}
	occurrence := s.occ[key]
	s.occ[key] = occurrence + 1

	s.stack = append(s.stack, RangeFrame{
		Name:       name,
		Depth:      depth,
		Occurrence: occurrence,
	})
	s.pushed++

	return nil
}

// PopRange closes the innermost open range. Legal only in Started.
func (s *Session) PopRange() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStarted {
		return driver.Errorf(driver.KindInvalidState,
			"pop_range", "session is %s, want started", s.state)
	}

	if len(s.stack) == 0 {
		return driver.Errorf(driver.KindUnbalancedRange,
			"pop_range", "pop with no open range")
	}

	if err := s.drv.RangeProfilerPop(s.handle); err != nil {
		return s.forceDisableLocked("pop_range", err)
	}

	s.stack = s.stack[:len(s.stack)-1]

	return nil
}

// Depth returns the current range stack depth.
func (s *Session) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.stack)
}

// Snapshot copies the current range stack. Callbacks use it to capture
// launch-time correlation state without blocking pushes and pops for long.
func (s *Session) Snapshot() []RangeFrame {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RangeFrame, len(s.stack))
	copy(out, s.stack)

	return out
}

// Stop ends collection. Legal only in Started at depth 0; a nonzero depth
// fails with UnbalancedRange. A driver failure is fatal to the session.
func (s *Session) Stop() error {
	s.mu.Lock()

	if s.state != StateStarted {
		s.mu.Unlock()

		return driver.Errorf(driver.KindInvalidState,
			"stop", "session is %s, want started", s.state)
	}

	if len(s.stack) != 0 {
		depth := len(s.stack)
		s.mu.Unlock()

		return driver.Errorf(driver.KindUnbalancedRange,
			"stop", "stop at depth %d, want 0", depth)
	}

	info, err := s.drv.RangeProfilerStop(s.handle)
	if err != nil {
		defer s.mu.Unlock()

		return s.forceDisableLocked("stop", err)
	}

	s.stopInfo = info
	s.state = StateStopped
	s.mu.Unlock()

	// Collect whatever the driver produced up to the stop.
	if _, err := s.Decode(); err != nil {
		return err
	}

	return nil
}

// Decode pulls raw counter records from the driver and decodes them into
// the counter data image. Legal in Started or Stopped. It is blocking and
// CPU-bound; callers run it off the callback execution path.
func (s *Session) Decode() (int, error) {
	s.mu.Lock()

	if s.state != StateStarted && s.state != StateStopped {
		s.mu.Unlock()

		return 0, driver.Errorf(driver.KindInvalidState,
			"decode_data", "session is %s, want started or stopped", s.state)
	}

	handle := s.handle
	data := s.data

	s.inflight.Add(1)
	s.mu.Unlock()

	defer s.inflight.Done()

	raw, err := s.drv.DecodeCounterData(handle)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()

		return 0, s.forceDisableLocked("decode_data", err)
	}

	return data.DecodeData(raw)
}

// Disable releases the config and counter data images and returns the
// session to Disabled. Legal from Stopped or Enabled. Disable waits for
// in-flight decode work to drain before releasing the image.
func (s *Session) Disable() error {
	s.mu.Lock()

	switch s.state {
	case StateStopped, StateEnabled:
	default:
		state := s.state
		s.mu.Unlock()

		return driver.Errorf(driver.KindInvalidState,
			"disable", "session is %s, want stopped or enabled", state)
	}

	// No new decode begins once the state leaves Started/Stopped.
	s.state = StateDisabled
	handle := s.handle
	s.mu.Unlock()

	s.inflight.Wait()

	err := s.drv.RangeProfilerDisable(handle)

	s.mu.Lock()
	if s.data != nil {
		s.data.Release()
	}

	s.data = nil
	s.config = nil
	s.metrics = nil
	s.stack = nil
	s.mu.Unlock()

	if s.release != nil {
		s.release()
	}

	if err != nil {
		return driver.WrapErr(driver.KindDriverFailure, "disable", err)
	}

	return nil
}

// forceDisableLocked handles a fatal collection failure: the session drops
// to Disabled immediately and the driver failure propagates unmodified.
// Callers must hold s.mu.
func (s *Session) forceDisableLocked(op string, err error) error {
	s.log.WithError(err).WithField("op", op).
		Warn("Collection call failed, disabling session")

	s.state = StateDisabled

	if s.data != nil {
		s.data.Release()
		s.data = nil
	}

	s.config = nil
	s.stack = nil

	// Best effort. The session is already lost.
	_ = s.drv.RangeProfilerDisable(s.handle)

	if s.release != nil {
		s.release()
	}

	return driver.WrapErr(driver.KindDriverFailure, op, err)
}
