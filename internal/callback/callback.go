// Package callback subscribes to driver execution events and turns kernel
// launch interceptions into correlated launch records. Driver callbacks run
// synchronously on the launching thread, so the handler only snapshots the
// session range stack and enqueues; a consumer goroutine does the rest.
package callback

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/driver"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/session"
)

// LaunchRecord is one intercepted kernel launch with the range stack
// captured at launch time.
type LaunchRecord struct {
	ContextID   uint32
	Device      int32
	TimestampNs uint64
	KernelName  string
	Ranges      []session.RangeFrame
}

// LaunchHandler is called for each dequeued launch record.
type LaunchHandler func(rec LaunchRecord)

// ContextHandler is called synchronously for context lifecycle events.
type ContextHandler func(ctxID uint32, dev int32)

// ErrorHandler is called for driver-reported errors.
type ErrorHandler func(err error)

// Subscriber manages the process-wide callback subscription.
type Subscriber interface {
	// Start subscribes to the driver and begins consuming launch records.
	Start(ctx context.Context) error
	// Stop unsubscribes and drains the launch queue.
	Stop() error
	// OnLaunch registers a handler for correlated launch records.
	OnLaunch(handler LaunchHandler)
	// OnContextCreated registers a handler for new contexts.
	OnContextCreated(handler ContextHandler)
	// OnContextDestroying registers a handler for contexts going away.
	OnContextDestroying(handler ContextHandler)
	// OnError registers a handler for fatal driver errors.
	OnError(handler ErrorHandler)
	// Stats returns the event counters.
	Stats() *Stats
}

type subscriber struct {
	log       logrus.FieldLogger
	events    driver.EventSource
	sessions  *session.Registry
	queueSize int

	launchHandlers  []LaunchHandler
	createdHandlers []ContextHandler
	destroyHandlers []ContextHandler
	errorHandlers   []ErrorHandler

	sub    driver.Subscription
	queue  chan LaunchRecord
	stats  *Stats
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a subscriber over the given event source. Launch records are
// buffered in a queue of queueSize entries; records arriving while the
// queue is full are dropped and counted, never blocked on.
func New(
	log logrus.FieldLogger,
	events driver.EventSource,
	sessions *session.Registry,
	queueSize int,
) Subscriber {
	return &subscriber{
		log:       log.WithField("component", "callback"),
		events:    events,
		sessions:  sessions,
		queueSize: queueSize,
		stats:     NewStats(),
	}
}

func (s *subscriber) OnLaunch(handler LaunchHandler) {
	s.launchHandlers = append(s.launchHandlers, handler)
}

func (s *subscriber) OnContextCreated(handler ContextHandler) {
	s.createdHandlers = append(s.createdHandlers, handler)
}

func (s *subscriber) OnContextDestroying(handler ContextHandler) {
	s.destroyHandlers = append(s.destroyHandlers, handler)
}

func (s *subscriber) OnError(handler ErrorHandler) {
	s.errorHandlers = append(s.errorHandlers, handler)
}

func (s *subscriber) Stats() *Stats {
	return s.stats
}

func (s *subscriber) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.queue = make(chan LaunchRecord, s.queueSize)

	sub, err := s.events.Subscribe(s.handleEvent)
	if err != nil {
		return driver.WrapErr(driver.KindConflict, "subscribe", err)
	}

	s.sub = sub

	enables := []struct {
		domain driver.Domain
		id     driver.CallbackID
	}{
		{driver.DomainDriverAPI, driver.CallbackLaunchKernel},
		{driver.DomainResource, driver.CallbackContextCreated},
		{driver.DomainResource, driver.CallbackContextDestroying},
		{driver.DomainState, driver.CallbackFatalError},
	}

	for _, e := range enables {
		if err := s.events.EnableCallback(s.sub, e.domain, e.id, true); err != nil {
			_ = s.events.Unsubscribe(s.sub)

			return driver.WrapErr(driver.KindDriverFailure, "enable_callback", err)
		}
	}

	s.wg.Add(1)

	go s.consumeLoop(ctx)

	s.log.Info("Callback subscription started")

	return nil
}

func (s *subscriber) Stop() error {
	// Unsubscribe first so no event fires after the queue stops draining.
	err := s.events.Unsubscribe(s.sub)

	if s.cancel != nil {
		s.cancel()
	}

	s.wg.Wait()

	s.log.Info("Callback subscription stopped")

	if err != nil {
		return driver.WrapErr(driver.KindDriverFailure, "unsubscribe", err)
	}

	return nil
}

// handleEvent runs on the driver's event thread and must not block.
func (s *subscriber) handleEvent(ev driver.CallbackEvent) {
	s.stats.Record(ev.ID)

	switch ev.ID {
	case driver.CallbackLaunchKernel:
		s.handleLaunch(ev)
	case driver.CallbackContextCreated:
		for _, h := range s.createdHandlers {
			h(ev.ContextID, ev.Device)
		}
	case driver.CallbackContextDestroying:
		for _, h := range s.destroyHandlers {
			h(ev.ContextID, ev.Device)
		}
	case driver.CallbackFatalError:
		s.handleFatal(ev)
	}
}

func (s *subscriber) handleLaunch(ev driver.CallbackEvent) {
	rec := LaunchRecord{
		ContextID:   ev.ContextID,
		Device:      ev.Device,
		TimestampNs: ev.TimestampNs,
		KernelName:  ev.KernelName,
	}

	// The stack must be captured here, on the launching thread, or the
	// record cannot be attributed to the ranges open at launch time.
	if sess, ok := s.sessions.Lookup(ev.ContextID); ok {
		rec.Ranges = sess.Snapshot()
	}

	select {
	case s.queue <- rec:
	default:
		s.stats.RecordDropped()
	}
}

func (s *subscriber) handleFatal(ev driver.CallbackEvent) {
	err := driver.WrapErr(driver.KindDriverFailure, "fatal_error", ev.Err)

	s.log.WithError(ev.Err).WithField("message", ev.Message).
		Error("Driver reported fatal error")

	for _, h := range s.errorHandlers {
		h(err)
	}
}

func (s *subscriber) consumeLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case rec := <-s.queue:
			s.dispatch(rec)
		case <-ctx.Done():
			// Drain whatever is already queued before exiting.
			for {
				select {
				case rec := <-s.queue:
					s.dispatch(rec)
				default:
					return
				}
			}
		}
	}
}

func (s *subscriber) dispatch(rec LaunchRecord) {
	for _, h := range s.launchHandlers {
		h(rec)
	}
}
