package profiler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/hostconfig"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, DriverSim, cfg.Driver)
	assert.Equal(t, ":9090", cfg.Health.Addr)
	assert.Equal(t, 64, cfg.MaxRangesPerPass)
	assert.Equal(t, 2048, cfg.MaxLaunchesPerRange)
	assert.Equal(t, DeviceSourceDriver, cfg.DeviceSource)
	assert.Equal(t, 8, cfg.Activity.BufferCount)
	assert.Equal(t, 1024*1024, cfg.Activity.BufferSize)
	assert.Equal(t, 15*time.Second, cfg.CollectInterval)

	require.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	yaml := `
log_level: debug
metrics: "gpu__time_duration.sum, sm__cycles_active.avg"
max_ranges_per_pass: 32
max_launches_per_range: 512
launch_queue_depth: 1024
activity:
  buffer_count: 4
  buffer_size: 65536
  max_records_per_buffer: 256
device_source: nvml
collect_interval: 5s
stats_interval: 2s
sinks:
  ranges:
    enabled: true
    clickhouse:
      endpoint: "localhost:9000"
      database: profiling
      table: range_metrics
health:
  addr: ":9091"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 32, cfg.MaxRangesPerPass)
	assert.Equal(t, 512, cfg.MaxLaunchesPerRange)
	assert.Equal(t, 1024, cfg.LaunchQueueDepth)
	assert.Equal(t, 4, cfg.Activity.BufferCount)
	assert.Equal(t, DeviceSourceNVML, cfg.DeviceSource)
	assert.Equal(t, 5*time.Second, cfg.CollectInterval)
	assert.True(t, cfg.Sinks.Ranges.Enabled)
	assert.Equal(t, "range_metrics", cfg.Sinks.Ranges.ClickHouse.Table)
	assert.Equal(t, ":9091", cfg.Health.Addr)
	assert.Equal(t,
		[]string{"gpu__time_duration.sum", "sm__cycles_active.avg"},
		cfg.MetricNames(),
	)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("\t- bad"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Driver = "cupti"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver must be")
}

func TestValidate_InvalidMaxRanges(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRangesPerPass = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_ranges_per_pass")
}

func TestValidate_InvalidDeviceSource(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DeviceSource = "cuda"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device_source")
}

func TestValidate_InvalidActivityBuffers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Activity.BufferCount = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "activity.buffer_count")
}

func TestMetricNames_EmptyYieldsDefaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, hostconfig.DefaultMetrics, cfg.MetricNames())
}
