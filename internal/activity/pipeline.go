package activity

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/driver"
)

// RecordHandler is called for each parsed kernel record.
type RecordHandler func(rec KernelRecord)

// ErrorHandler is called for buffer parse errors.
type ErrorHandler func(err error)

// Pipeline manages the buffer exchange with the driver and drains filled
// buffers into record handlers.
type Pipeline interface {
	// Start registers the exchange callbacks, enables kernel activity,
	// and begins draining filled buffers.
	Start(ctx context.Context) error
	// Stop flushes outstanding buffers and shuts the consumer down.
	Stop() error
	// Flush asks the driver to complete outstanding buffers. When forced,
	// partially filled buffers come back too.
	Flush(forced bool) error
	// OnRecord registers a handler for parsed kernel records.
	OnRecord(handler RecordHandler)
	// OnError registers a handler for parse errors.
	OnError(handler ErrorHandler)
	// Stats returns the exchange counters.
	Stats() *Stats
}

type filledBuffer struct {
	buf   *Buffer
	valid int
}

type pipeline struct {
	log logrus.FieldLogger
	drv driver.ActivitySource

	pool       *Pool
	recordFns  []RecordHandler
	errorFns   []ErrorHandler
	stats      *Stats
	filled     chan filledBuffer
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	maxRecords int
}

// New creates a pipeline with a pool of bufferCount buffers of bufferSize
// bytes, each advertising maxRecords to the driver.
func New(
	log logrus.FieldLogger,
	drv driver.ActivitySource,
	bufferCount, bufferSize, maxRecords int,
) Pipeline {
	return &pipeline{
		log:        log.WithField("component", "activity"),
		drv:        drv,
		pool:       NewPool(bufferCount, bufferSize, maxRecords),
		stats:      NewStats(),
		maxRecords: maxRecords,
		// Sized to the pool, so completion never blocks the driver.
		filled: make(chan filledBuffer, bufferCount),
	}
}

func (p *pipeline) OnRecord(handler RecordHandler) {
	p.recordFns = append(p.recordFns, handler)
}

func (p *pipeline) OnError(handler ErrorHandler) {
	p.errorFns = append(p.errorFns, handler)
}

func (p *pipeline) Stats() *Stats {
	return p.stats
}

func (p *pipeline) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	if err := p.drv.RegisterActivityCallbacks(p.bufferRequested, p.bufferCompleted); err != nil {
		return driver.WrapErr(driver.KindDriverFailure, "register_activity", err)
	}

	if err := p.drv.EnableActivityKind(driver.ActivityKindKernel, true); err != nil {
		return driver.WrapErr(driver.KindDriverFailure, "enable_activity", err)
	}

	p.wg.Add(1)

	go p.drainLoop(ctx)

	p.log.Info("Activity pipeline started")

	return nil
}

func (p *pipeline) Stop() error {
	// Force outstanding buffers back before the consumer goes away.
	flushErr := p.Flush(true)

	if err := p.drv.EnableActivityKind(driver.ActivityKindKernel, false); err != nil {
		p.log.WithError(err).Warn("Failed to disable kernel activity")
	}

	if p.cancel != nil {
		p.cancel()
	}

	p.wg.Wait()

	p.log.Info("Activity pipeline stopped")

	return flushErr
}

func (p *pipeline) Flush(forced bool) error {
	if err := p.drv.FlushActivity(forced); err != nil {
		return driver.WrapErr(driver.KindDriverFailure, "flush_activity", err)
	}

	return nil
}

// bufferRequested runs on the driver's thread when it needs an empty
// buffer. Pool exhaustion is reported to the driver, which drops activity
// for the interval; the drop is counted here.
func (p *pipeline) bufferRequested() (driver.ActivityBuffer, error) {
	buf, err := p.pool.Acquire()
	if err != nil {
		p.stats.RecordDropped()

		return nil, err
	}

	p.stats.RecordRequested()

	return buf, nil
}

// bufferCompleted runs on the driver's thread when it hands a buffer back.
// It only enqueues; parsing happens on the drain goroutine.
func (p *pipeline) bufferCompleted(buf driver.ActivityBuffer, validSize int) {
	b, ok := buf.(*Buffer)
	if !ok {
		p.log.Error("Driver completed a buffer the pipeline never issued")

		return
	}

	if validSize > len(b.data) {
		validSize = len(b.data)
	}

	if validSize < 0 {
		validSize = 0
	}

	b.transition(bufferRequested, bufferFilled)
	p.stats.RecordCompleted()

	// Capacity equals the pool size, so this cannot block.
	p.filled <- filledBuffer{buf: b, valid: validSize}
}

func (p *pipeline) drainLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case fb := <-p.filled:
			p.consume(fb)
		case <-ctx.Done():
			for {
				select {
				case fb := <-p.filled:
					p.consume(fb)
				default:
					return
				}
			}
		}
	}
}

func (p *pipeline) consume(fb filledBuffer) {
	reader := NewReader(fb.buf.data[:fb.valid])

	var n uint64

	for {
		rec, ok, err := reader.Next()
		if err != nil {
			p.stats.RecordParseError()

			for _, h := range p.errorFns {
				h(err)
			}

			break
		}

		if !ok {
			break
		}

		n++

		for _, h := range p.recordFns {
			h(rec)
		}
	}

	p.stats.RecordRecords(n)
	p.pool.Release(fb.buf)
}
