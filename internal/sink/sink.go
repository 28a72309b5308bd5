// Package sink delivers merged range results to storage backends.
package sink

import (
	"context"
	"time"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/export"
	httpexport "github.com/dreveman/perfetto-cupti-gpu-compute/internal/export/http"
)

// Config holds configuration for all sinks.
type Config struct {
	Ranges RangeSinkConfig `yaml:"ranges"`
}

// RangeSinkConfig configures the range result sink.
type RangeSinkConfig struct {
	Enabled    bool                    `yaml:"enabled"`
	ClickHouse export.ClickHouseConfig `yaml:"clickhouse"`
	// HTTP configures optional NDJSON export alongside ClickHouse.
	HTTP httpexport.Config `yaml:"http"`
}

// RangeResult is one decoded range merged with the kernel executions
// attributed to it.
type RangeResult struct {
	// TimestampNs is the trace timestamp the range was decoded at.
	TimestampNs uint64
	// WallTime is TimestampNs converted through the boot-to-wall offset.
	WallTime time.Time

	ContextID uint32
	Device    int32
	ChipName  string

	Path       string
	Name       string
	Depth      int
	Occurrence int

	// Metrics maps configured metric names to evaluated values.
	Metrics map[string]float64

	// Kernel execution summary for the range.
	KernelCount        int
	KernelDurationNs   uint64
	MaxRegsPerThread   uint32
	MaxThreadsPerBlock uint32
	MaxDynamicSmem     uint32
}

// Sink defines the interface for range result consumers.
type Sink interface {
	// Name returns the sink's name for logging.
	Name() string
	// Start initializes the sink.
	Start(ctx context.Context) error
	// Stop shuts down the sink, flushing buffered rows.
	Stop() error
	// HandleRange processes a single merged range result.
	HandleRange(result RangeResult)
}
