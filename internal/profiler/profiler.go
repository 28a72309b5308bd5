// Package profiler wires the driver, session, callback, activity, and
// export layers into the top-level profiling engine.
package profiler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/activity"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/availability"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/callback"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/clock"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/device"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/driver"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/export"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/hostconfig"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/session"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/sink"
)

// Profiler is the top-level orchestrator. Sessions are provisioned as
// contexts appear, collected on an interval, and torn down as contexts go
// away or the engine stops.
type Profiler interface {
	// Start initializes all components and begins profiling.
	Start(ctx context.Context) error
	// Stop collects outstanding sessions and shuts all components down.
	Stop() error
	// PushRange opens a named range on a context's session.
	PushRange(ctxID uint32, name string) error
	// PopRange closes the innermost open range on a context's session.
	PopRange(ctxID uint32) error
	// Collect stops the context's session, exports its results, and
	// restarts collection.
	Collect(ctxID uint32) error
}

// contextState is the per-context provisioning state the engine keeps
// alongside the session itself.
type contextState struct {
	builder *hostconfig.Builder
	info    device.Info
}

type profiler struct {
	log    logrus.FieldLogger
	cfg    *Config
	drv    driver.Driver
	health *export.HealthMetrics
	clk    clock.Clock

	devices  *device.Registry
	avail    *availability.Negotiator
	sessions *session.Registry
	events   callback.Subscriber
	pipeline activity.Pipeline
	corr     *correlator
	sinks    []sink.Sink

	// nvml is set when device attributes come from NVML instead of the
	// driver; context-created events bind contexts to devices on it.
	nvml *device.NVMLSource

	metrics []string

	mu       sync.Mutex
	contexts map[uint32]*contextState

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Profiler over the given driver.
func New(log logrus.FieldLogger, cfg *Config, drv driver.Driver) (Profiler, error) {
	health := export.NewHealthMetrics(log, cfg.Health)

	var querier driver.DeviceQuerier = drv

	var nvmlSrc *device.NVMLSource

	if cfg.DeviceSource == DeviceSourceNVML {
		src, err := device.NewNVMLSource(log)
		if err != nil {
			return nil, fmt.Errorf("initializing NVML device source: %w", err)
		}

		querier = src
		nvmlSrc = src
	}

	sessions := session.NewRegistry(log, drv)

	p := &profiler{
		log:      log.WithField("component", "profiler"),
		cfg:      cfg,
		drv:      drv,
		health:   health,
		clk:      clock.New(),
		devices:  device.NewRegistry(log, querier),
		avail:    availability.NewNegotiator(log, drv),
		sessions: sessions,
		events:   callback.New(log, drv, sessions, cfg.LaunchQueueDepth),
		pipeline: activity.New(
			log, drv,
			cfg.Activity.BufferCount,
			cfg.Activity.BufferSize,
			cfg.Activity.MaxRecordsPerBuffer,
		),
		corr:     newCorrelator(),
		nvml:     nvmlSrc,
		metrics:  cfg.MetricNames(),
		contexts: make(map[uint32]*contextState),
	}

	if cfg.Sinks.Ranges.Enabled {
		rs, err := sink.NewRangeSink(log, cfg.Sinks.Ranges, health, p.clk)
		if err != nil {
			return nil, fmt.Errorf("creating range sink: %w", err)
		}

		p.sinks = append(p.sinks, rs)
	}

	return p, nil
}

func (p *profiler) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	// 1. Start health metrics server.
	if err := p.health.Start(ctx); err != nil {
		return fmt.Errorf("starting health metrics: %w", err)
	}

	// 2. Start enabled sinks.
	for _, s := range p.sinks {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("starting sink %s: %w", s.Name(), err)
		}

		p.log.WithField("sink", s.Name()).Info("Sink started")
	}

	// 3. Register event handlers before any subscription goes live.
	p.events.OnContextCreated(p.onContextCreated)
	p.events.OnContextDestroying(p.onContextDestroying)
	p.events.OnLaunch(p.onLaunch)
	p.events.OnError(p.onFatalError)

	p.pipeline.OnRecord(p.corr.ObserveKernel)
	p.pipeline.OnError(func(err error) {
		p.health.DriverErrors.WithLabelValues("activity_parse").Inc()
		p.log.WithError(err).Warn("Activity buffer parse error")
	})

	// 4. Start the activity buffer exchange.
	if err := p.pipeline.Start(ctx); err != nil {
		return fmt.Errorf("starting activity pipeline: %w", err)
	}

	// 5. Subscribe to driver callbacks.
	if err := p.events.Start(ctx); err != nil {
		return fmt.Errorf("starting callback subscription: %w", err)
	}

	p.health.MetricsConfigured.Set(float64(len(p.metrics)))

	// 6. Start collection and stats monitors.
	p.wg.Add(2)

	go p.monitorCollect(ctx)
	go p.monitorStats(ctx)

	p.log.WithField("metrics", len(p.metrics)).Info("Profiler fully started")

	return nil
}

func (p *profiler) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}

	p.wg.Wait()

	// No new launches once the subscription is gone; the queue drains
	// into the correlator before Stop returns.
	if err := p.events.Stop(); err != nil {
		p.log.WithError(err).Error("Error stopping callback subscription")
	}

	// Force outstanding activity buffers back and drain them.
	if err := p.pipeline.Stop(); err != nil {
		p.log.WithError(err).Error("Error stopping activity pipeline")
	}

	// Final collection pass over every live session.
	p.mu.Lock()
	ctxIDs := make([]uint32, 0, len(p.contexts))
	for ctxID := range p.contexts {
		ctxIDs = append(ctxIDs, ctxID)
	}
	p.mu.Unlock()

	for _, ctxID := range ctxIDs {
		if err := p.collectContext(ctxID, true); err != nil {
			p.log.WithError(err).WithField("context", ctxID).
				Warn("Final collection failed")
		}
	}

	p.foldStats()

	for _, s := range p.sinks {
		if err := s.Stop(); err != nil {
			p.log.WithError(err).WithField("sink", s.Name()).
				Error("Error stopping sink")
		}
	}

	if p.nvml != nil {
		if err := p.nvml.Shutdown(); err != nil {
			p.log.WithError(err).Error("Error shutting down NVML")
		}
	}

	if err := p.health.Stop(); err != nil {
		p.log.WithError(err).Error("Error stopping health metrics")
	}

	p.log.Info("Profiler stopped")

	return nil
}

func (p *profiler) PushRange(ctxID uint32, name string) error {
	sess, ok := p.sessions.Lookup(ctxID)
	if !ok {
		return driver.Errorf(driver.KindNotFound,
			"push_range", "no session on context %d", ctxID)
	}

	return sess.PushRange(name)
}

func (p *profiler) PopRange(ctxID uint32) error {
	sess, ok := p.sessions.Lookup(ctxID)
	if !ok {
		return driver.Errorf(driver.KindNotFound,
			"pop_range", "no session on context %d", ctxID)
	}

	return sess.PopRange()
}

func (p *profiler) Collect(ctxID uint32) error {
	if err := p.pipeline.Flush(false); err != nil {
		p.log.WithError(err).Warn("Activity flush before collection failed")
	}

	return p.collectContext(ctxID, false)
}

// onContextCreated runs synchronously on the driver's thread when a new
// context appears.
func (p *profiler) onContextCreated(ctxID uint32, dev int32) {
	if err := p.provision(ctxID, dev); err != nil {
		p.health.SessionsFailed.Inc()
		p.log.WithError(err).WithFields(logrus.Fields{
			"context": ctxID,
			"device":  dev,
		}).Error("Failed to provision session for new context")
	}
}

// onContextDestroying collects and tears down the context's session before
// the context goes away.
func (p *profiler) onContextDestroying(ctxID uint32, _ int32) {
	if err := p.collectContext(ctxID, true); err != nil {
		p.log.WithError(err).WithField("context", ctxID).
			Warn("Collection on context teardown failed")
	}

	p.devices.ForgetContext(ctxID)
	p.corr.Drop(ctxID)
}

// onLaunch runs on the callback consumer goroutine for each dequeued
// launch record. Decoding here keeps the counter data image current
// without blocking the driver's event thread.
func (p *profiler) onLaunch(rec callback.LaunchRecord) {
	p.corr.ObserveLaunch(rec)

	sess, ok := p.sessions.Lookup(rec.ContextID)
	if !ok {
		return
	}

	if sess.State() != session.StateStarted {
		return
	}

	n, err := sess.Decode()
	if err != nil {
		if driver.Fatal(err) {
			p.health.SessionsFailed.Inc()
			p.health.DriverErrors.WithLabelValues("decode_data").Inc()
			p.dropContext(rec.ContextID)
		}

		p.log.WithError(err).WithField("context", rec.ContextID).
			Warn("Incremental decode failed")

		return
	}

	p.health.RecordsDecoded.Add(float64(n))
}

// onFatalError tears down every live session. The driver is not usable
// for collection after a fatal error.
func (p *profiler) onFatalError(err error) {
	p.health.DriverErrors.WithLabelValues("fatal_error").Inc()
	p.log.WithError(err).Error("Fatal driver error, disabling all sessions")

	for _, sess := range p.sessions.Active() {
		ctxID := sess.ContextID()

		if sess.State() == session.StateStarted {
			if stopErr := sess.Stop(); stopErr != nil {
				p.log.WithError(stopErr).WithField("context", ctxID).
					Debug("Stop during fatal teardown failed")
			}
		}

		switch sess.State() {
		case session.StateStopped, session.StateEnabled:
			if disErr := sess.Disable(); disErr != nil {
				p.log.WithError(disErr).WithField("context", ctxID).
					Debug("Disable during fatal teardown failed")
			}
		}

		p.health.SessionsFailed.Inc()
		p.dropContext(ctxID)
	}
}

// provision enables, configures, and starts a session on a context. The
// metric list is filtered against the device's availability; metrics the
// chip cannot collect are skipped with a warning.
func (p *profiler) provision(ctxID uint32, dev int32) error {
	if p.nvml != nil {
		p.nvml.BindContext(ctxID, dev)
	}

	info, err := p.devices.ResolveDevice(ctxID)
	if err != nil {
		return err
	}

	availImage, err := p.avail.Image(info.Device)
	if err != nil {
		return err
	}

	builder, err := hostconfig.NewBuilder(info.ChipName, availImage)
	if err != nil {
		return err
	}

	accepted := 0

	for _, m := range p.metrics {
		if err := builder.AddMetrics(m); err != nil {
			if driver.IsKind(err, driver.KindUnknownMetric) {
				p.log.WithFields(logrus.Fields{
					"metric": m,
					"chip":   info.ChipName,
				}).Warn("Skipping metric not collectable on chip")

				continue
			}

			return err
		}

		accepted++
	}

	if accepted == 0 {
		return driver.Errorf(driver.KindUnknownMetric,
			"provision", "no configured metric collectable on %s", info.ChipName)
	}

	configImage, err := builder.ConfigImage()
	if err != nil {
		return err
	}

	sess, err := p.sessions.Enable(ctxID)
	if err != nil {
		return err
	}

	if err := sess.SetConfig(configImage, p.cfg.MaxRangesPerPass, p.cfg.MaxLaunchesPerRange); err != nil {
		_ = sess.Disable()

		return err
	}

	if err := sess.Start(); err != nil {
		return err
	}

	p.mu.Lock()
	p.contexts[ctxID] = &contextState{builder: builder, info: info}
	deviceCount := p.deviceCountLocked()
	p.mu.Unlock()

	p.health.SessionsEnabled.Inc()
	p.health.SessionsActive.Set(float64(len(p.sessions.Active())))
	p.health.DevicesRegistered.Set(float64(deviceCount))

	p.log.WithFields(logrus.Fields{
		"context": ctxID,
		"device":  info.Device,
		"chip":    info.ChipName,
		"metrics": accepted,
	}).Info("Session provisioned")

	return nil
}

// collectContext stops a context's session, evaluates and exports its
// ranges, and either restarts collection or tears the state down for good.
func (p *profiler) collectContext(ctxID uint32, final bool) error {
	p.mu.Lock()
	state, ok := p.contexts[ctxID]
	p.mu.Unlock()

	if !ok {
		return driver.Errorf(driver.KindNotFound,
			"collect", "no provisioned context %d", ctxID)
	}

	sess, live := p.sessions.Lookup(ctxID)
	if !live {
		// The session died underneath us, e.g. on a driver failure.
		p.dropContext(ctxID)

		return driver.Errorf(driver.KindNotFound,
			"collect", "session on context %d is gone", ctxID)
	}

	if depth := sess.Depth(); depth != 0 {
		return driver.Errorf(driver.KindUnbalancedRange,
			"collect", "context %d has %d open ranges", ctxID, depth)
	}

	if err := sess.Stop(); err != nil {
		if driver.Fatal(err) {
			p.health.SessionsFailed.Inc()
			p.dropContext(ctxID)
		}

		return err
	}

	results, err := state.builder.EvaluateAllRanges(sess.Data())
	if err != nil {
		p.log.WithError(err).WithField("context", ctxID).
			Error("Range evaluation failed")
	}

	p.emit(ctxID, state.info, results)

	if disErr := sess.Disable(); disErr != nil {
		p.log.WithError(disErr).WithField("context", ctxID).
			Warn("Session disable failed")
	}

	p.dropContext(ctxID)

	if final || err != nil {
		return err
	}

	return p.provision(ctxID, state.info.Device)
}

// emit merges evaluated ranges with correlated kernel stats and hands the
// rows to every sink.
func (p *profiler) emit(ctxID uint32, info device.Info, results []hostconfig.RangeValues) {
	kernels := p.corr.Take(ctxID)
	now := p.clk.NowNs()

	for _, rv := range results {
		row := sink.RangeResult{
			TimestampNs: now,
			ContextID:   ctxID,
			Device:      info.Device,
			ChipName:    info.ChipName,
			Path:        rv.Path,
			Name:        rv.Name,
			Depth:       rv.Depth,
			Occurrence:  rv.Occurrence,
			Metrics:     rv.Metrics,
		}

		if ks, ok := kernels[rv.Path]; ok {
			row.KernelCount = ks.Launches
			row.KernelDurationNs = ks.DurationNs
			row.MaxRegsPerThread = ks.MaxRegsPerThread
			row.MaxThreadsPerBlock = ks.MaxThreadsPerBlock
			row.MaxDynamicSmem = ks.MaxDynamicSmem
		}

		for _, s := range p.sinks {
			s.HandleRange(row)
		}
	}

	p.health.RangesDecoded.Add(float64(len(results)))

	p.log.WithFields(logrus.Fields{
		"context": ctxID,
		"ranges":  len(results),
	}).Debug("Exported collected ranges")
}

// dropContext removes the per-context state and refreshes the active
// session gauge.
func (p *profiler) dropContext(ctxID uint32) {
	p.mu.Lock()
	delete(p.contexts, ctxID)
	deviceCount := p.deviceCountLocked()
	p.mu.Unlock()

	p.health.SessionsActive.Set(float64(len(p.sessions.Active())))
	p.health.DevicesRegistered.Set(float64(deviceCount))
}

func (p *profiler) deviceCountLocked() int {
	seen := make(map[int32]struct{}, len(p.contexts))
	for _, st := range p.contexts {
		seen[st.info.Device] = struct{}{}
	}

	return len(seen)
}

func (p *profiler) monitorCollect(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.CollectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.pipeline.Flush(false); err != nil {
				p.log.WithError(err).Warn("Periodic activity flush failed")
			}

			p.mu.Lock()
			ctxIDs := make([]uint32, 0, len(p.contexts))
			for ctxID := range p.contexts {
				ctxIDs = append(ctxIDs, ctxID)
			}
			p.mu.Unlock()

			for _, ctxID := range ctxIDs {
				err := p.collectContext(ctxID, false)
				if err == nil {
					continue
				}

				if driver.IsKind(err, driver.KindUnbalancedRange) {
					// Mid-range. Try again next tick.
					p.log.WithField("context", ctxID).
						Debug("Skipping collection, ranges still open")

					continue
				}

				p.log.WithError(err).WithField("context", ctxID).
					Warn("Periodic collection failed")
			}
		}
	}
}

func (p *profiler) monitorStats(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.foldStats()
		}
	}
}

// foldStats folds the lock-free event and buffer counters into the health
// metrics. The snapshots reset the counters, so every fold adds deltas.
func (p *profiler) foldStats() {
	counts, dropped := p.events.Stats().Snapshot()

	p.health.LaunchesObserved.Add(float64(counts[driver.CallbackLaunchKernel]))
	p.health.CorrelationDrops.Add(float64(dropped))

	act := p.pipeline.Stats().Snapshot()

	p.health.BuffersRequested.Add(float64(act.BuffersRequested))
	p.health.BuffersCompleted.Add(float64(act.BuffersCompleted))
	p.health.BuffersDropped.Add(float64(act.BuffersDropped))
	p.health.ActivityRecords.Add(float64(act.Records))
}
