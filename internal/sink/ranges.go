package sink

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/clock"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/export"
	httpexport "github.com/dreveman/perfetto-cupti-gpu-compute/internal/export/http"
)

// RangeSink writes every merged range result to ClickHouse in batches,
// optionally mirroring rows to an NDJSON HTTP endpoint.
type RangeSink struct {
	log    logrus.FieldLogger
	cfg    RangeSinkConfig
	writer *export.ClickHouseWriter
	health *export.HealthMetrics
	clk    clock.Clock

	// HTTP export processor (optional).
	httpProcessor *processor.BatchItemProcessor[RangeResultJSON]

	wallOffsetNs atomic.Int64

	mu       sync.Mutex
	batch    []RangeResult
	cancel   context.CancelFunc
	done     chan struct{}
	resultCh chan RangeResult
}

var _ Sink = (*RangeSink)(nil)

// NewRangeSink creates a new range result sink.
func NewRangeSink(
	log logrus.FieldLogger,
	cfg RangeSinkConfig,
	health *export.HealthMetrics,
	clk clock.Clock,
) (*RangeSink, error) {
	sink := &RangeSink{
		log:      log.WithField("sink", "ranges"),
		cfg:      cfg,
		writer:   export.NewClickHouseWriter(log, cfg.ClickHouse),
		health:   health,
		clk:      clk,
		batch:    make([]RangeResult, 0, cfg.ClickHouse.BatchSize),
		done:     make(chan struct{}),
		resultCh: make(chan RangeResult, 8192),
	}

	if cfg.HTTP.Enabled {
		proc, err := httpexport.NewProcessor[RangeResultJSON](
			log,
			cfg.HTTP,
			"ranges_http",
		)
		if err != nil {
			return nil, fmt.Errorf("creating HTTP processor: %w", err)
		}

		sink.httpProcessor = proc
	}

	return sink, nil
}

func (s *RangeSink) Name() string { return "ranges" }

func (s *RangeSink) Start(ctx context.Context) error {
	if err := s.writer.Start(ctx); err != nil {
		return err
	}

	if s.health != nil {
		s.health.SinkChannelCapacity.WithLabelValues("ranges").
			Set(float64(cap(s.resultCh)))
		s.health.ClickHouseConnected.WithLabelValues("ranges").Set(1)
	}

	offset, err := s.clk.WallOffsetNs()
	if err != nil {
		s.log.WithError(err).
			Warn("Failed to compute wall clock offset")
	} else {
		s.wallOffsetNs.Store(offset)
	}

	ctx, s.cancel = context.WithCancel(ctx)

	if s.httpProcessor != nil {
		s.httpProcessor.Start(ctx)
		s.log.Info("HTTP export started")
	}

	go s.runLoop(ctx)

	s.log.Info("Range sink started")

	return nil
}

func (s *RangeSink) Stop() error {
	if s.cancel == nil {
		return s.writer.Stop()
	}

	s.cancel()
	<-s.done

	// Flush remaining rows.
	s.mu.Lock()
	remaining := s.batch
	s.batch = nil
	s.mu.Unlock()

	if len(remaining) > 0 {
		if err := s.flush(context.Background(), remaining); err != nil {
			s.log.WithError(err).Error("Final flush failed")
			s.reportExportError()
		}
	}

	if s.httpProcessor != nil {
		if err := s.httpProcessor.Shutdown(context.Background()); err != nil {
			s.log.WithError(err).Error("HTTP processor shutdown failed")
		}
	}

	return s.writer.Stop()
}

func (s *RangeSink) HandleRange(result RangeResult) {
	select {
	case s.resultCh <- result:
		if s.health != nil {
			s.health.SinkRowsProcessed.WithLabelValues("ranges").Inc()
		}
	default:
		s.log.Warn("Range sink channel full, dropping result")
		s.reportExportError()
	}
}

func (s *RangeSink) runLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.writer.Config().FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case result := <-s.resultCh:
			s.addResult(ctx, result)
		case <-ticker.C:
			if s.health != nil {
				s.health.SinkChannelLength.WithLabelValues("ranges").
					Set(float64(len(s.resultCh)))
			}

			s.refreshWallOffset()
			s.tickFlush(ctx)
		}
	}
}

func (s *RangeSink) addResult(ctx context.Context, result RangeResult) {
	if result.WallTime.IsZero() {
		result.WallTime = clock.WallTime(result.TimestampNs, s.wallOffsetNs.Load())
	}

	s.mu.Lock()
	s.batch = append(s.batch, result)
	shouldFlush := len(s.batch) >= s.writer.Config().BatchSize

	var toFlush []RangeResult

	if shouldFlush {
		toFlush = s.batch
		s.batch = s.batch[:0]
	}

	s.mu.Unlock()

	if shouldFlush {
		if err := s.flush(ctx, toFlush); err != nil {
			s.log.WithError(err).Error("Batch flush failed")
			s.reportExportError()
		}
	}
}

func (s *RangeSink) tickFlush(ctx context.Context) {
	s.mu.Lock()

	if len(s.batch) == 0 {
		s.mu.Unlock()

		return
	}

	toFlush := s.batch
	s.batch = s.batch[:0]
	s.mu.Unlock()

	if err := s.flush(ctx, toFlush); err != nil {
		s.log.WithError(err).Error("Periodic flush failed")
		s.reportExportError()
	}
}

func (s *RangeSink) flush(ctx context.Context, results []RangeResult) error {
	if len(results) == 0 {
		return nil
	}

	if s.httpProcessor != nil {
		s.exportHTTP(ctx, results)
	}

	start := time.Now()

	conn := s.writer.Conn()
	cfg := s.writer.Config()
	table := fmt.Sprintf("%s.%s", cfg.Database, cfg.Table)

	batch, err := conn.PrepareBatch(
		ctx,
		fmt.Sprintf(
			"INSERT INTO %s (timestamp_ns, wall_timestamp, context_id, device, chip, range_path, range_name, depth, occurrence, metrics, kernel_count, kernel_duration_ns, max_regs_per_thread, max_threads_per_block, max_dynamic_smem, meta_host_name, meta_cluster_name)",
			table,
		),
	)
	if err != nil {
		s.recordBatchError("prepare")

		return fmt.Errorf("preparing batch: %w", err)
	}

	for _, r := range results {
		if err := batch.Append(
			r.TimestampNs,
			r.WallTime,
			r.ContextID,
			r.Device,
			r.ChipName,
			r.Path,
			r.Name,
			uint16(r.Depth),
			uint32(r.Occurrence),
			r.Metrics,
			uint32(r.KernelCount),
			r.KernelDurationNs,
			r.MaxRegsPerThread,
			r.MaxThreadsPerBlock,
			r.MaxDynamicSmem,
			cfg.MetaHostName,
			cfg.MetaClusterName,
		); err != nil {
			s.recordBatchError("append")

			return fmt.Errorf("appending row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		s.recordBatchError("send")

		return fmt.Errorf("sending batch of %d rows: %w", len(results), err)
	}

	if s.health != nil {
		duration := time.Since(start)
		s.health.SinkFlushDuration.WithLabelValues("ranges").Observe(duration.Seconds())
		s.health.SinkBatchSize.WithLabelValues("ranges").Observe(float64(len(results)))
	}

	s.log.WithField("rows", len(results)).
		Debug("Flushed range results")

	return nil
}

// exportHTTP mirrors rows to the HTTP processor.
func (s *RangeSink) exportHTTP(ctx context.Context, results []RangeResult) {
	rows := make([]*RangeResultJSON, 0, len(results))

	for _, r := range results {
		row := toRangeResultJSON(r, s.cfg.HTTP.MetaHostName, s.cfg.HTTP.MetaClusterName)
		rows = append(rows, &row)
	}

	if err := s.httpProcessor.Write(ctx, rows); err != nil {
		s.log.WithError(err).Debug("HTTP export failed (queue may be full)")
	}
}

func (s *RangeSink) refreshWallOffset() {
	offset, err := s.clk.WallOffsetNs()
	if err != nil {
		s.log.WithError(err).
			Debug("Failed to refresh wall clock offset")

		return
	}

	s.wallOffsetNs.Store(offset)
}

func (s *RangeSink) reportExportError() {
	if s.health == nil {
		return
	}

	s.health.ExportErrors.Inc()
}

// recordBatchError records a batch error with categorized error type.
func (s *RangeSink) recordBatchError(errorType string) {
	if s.health == nil {
		return
	}

	s.health.ExportBatchErrors.WithLabelValues("ranges", errorType).Inc()
}
