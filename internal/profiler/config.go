package profiler

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/export"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/hostconfig"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/sink"
)

// DeviceSourceDriver resolves device attributes through the profiling
// driver itself; DeviceSourceNVML resolves them through NVML.
const (
	DeviceSourceDriver = "driver"
	DeviceSourceNVML   = "nvml"
)

// DriverSim is the in-process simulation backend. It is currently the
// only collection backend.
const DriverSim = "sim"

// Config is the top-level configuration for the profiler engine.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Driver selects the collection backend. Only "sim" is supported.
	Driver string `yaml:"driver"`

	// Metrics is a comma or semicolon separated list of counter metric
	// names to collect. Empty selects the built-in default set.
	Metrics string `yaml:"metrics"`

	// MaxRangesPerPass bounds how many ranges one collection pass can
	// hold. Defaults to 64.
	MaxRangesPerPass int `yaml:"max_ranges_per_pass"`

	// MaxLaunchesPerRange bounds kernel launches per range. Defaults
	// to 2048.
	MaxLaunchesPerRange int `yaml:"max_launches_per_range"`

	// LaunchQueueDepth is the capacity of the launch correlation queue.
	// Launches arriving while the queue is full are dropped and counted.
	// Defaults to 4096.
	LaunchQueueDepth int `yaml:"launch_queue_depth"`

	// Activity configures the trace buffer exchange.
	Activity ActivityConfig `yaml:"activity"`

	// DeviceSource selects where device attributes come from: "driver"
	// or "nvml". Defaults to "driver".
	DeviceSource string `yaml:"device_source"`

	// CollectInterval is how often running sessions are stopped,
	// evaluated, and restarted. Defaults to 15s.
	CollectInterval time.Duration `yaml:"collect_interval"`

	// StatsInterval is how often event and buffer counters are folded
	// into the health metrics. Defaults to 10s.
	StatsInterval time.Duration `yaml:"stats_interval"`

	// Sinks configures result export sinks.
	Sinks sink.Config `yaml:"sinks"`

	// Health configures the Prometheus health metrics server.
	Health export.HealthConfig `yaml:"health"`
}

// ActivityConfig configures the activity buffer pool.
type ActivityConfig struct {
	// BufferCount is the number of pooled buffers. Defaults to 8.
	BufferCount int `yaml:"buffer_count"`

	// BufferSize is the byte size of each buffer. Defaults to 1MB.
	BufferSize int `yaml:"buffer_size"`

	// MaxRecordsPerBuffer caps records per buffer as advertised to the
	// driver. Defaults to 4096.
	MaxRecordsPerBuffer int `yaml:"max_records_per_buffer"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:            "info",
		Driver:              DriverSim,
		MaxRangesPerPass:    64,
		MaxLaunchesPerRange: 2048,
		LaunchQueueDepth:    4096,
		Activity: ActivityConfig{
			BufferCount:         8,
			BufferSize:          1024 * 1024, // 1MB
			MaxRecordsPerBuffer: 4096,
		},
		DeviceSource:    DeviceSourceDriver,
		CollectInterval: 15 * time.Second,
		StatsInterval:   10 * time.Second,
		Health: export.HealthConfig{
			Addr: ":9090",
		},
	}
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for required fields and consistency.
func (c *Config) Validate() error {
	if c.Driver != DriverSim {
		return fmt.Errorf("driver must be %q, got %q", DriverSim, c.Driver)
	}

	if c.MaxRangesPerPass <= 0 {
		return fmt.Errorf("max_ranges_per_pass must be positive")
	}

	if c.MaxLaunchesPerRange <= 0 {
		return fmt.Errorf("max_launches_per_range must be positive")
	}

	if c.LaunchQueueDepth <= 0 {
		return fmt.Errorf("launch_queue_depth must be positive")
	}

	if c.Activity.BufferCount <= 0 {
		return fmt.Errorf("activity.buffer_count must be positive")
	}

	if c.Activity.BufferSize <= 0 {
		return fmt.Errorf("activity.buffer_size must be positive")
	}

	if c.Activity.MaxRecordsPerBuffer <= 0 {
		return fmt.Errorf("activity.max_records_per_buffer must be positive")
	}

	switch c.DeviceSource {
	case DeviceSourceDriver, DeviceSourceNVML:
	default:
		return fmt.Errorf(
			"device_source must be %q or %q, got %q",
			DeviceSourceDriver, DeviceSourceNVML, c.DeviceSource,
		)
	}

	if c.CollectInterval <= 0 {
		return fmt.Errorf("collect_interval must be positive")
	}

	if c.StatsInterval <= 0 {
		return fmt.Errorf("stats_interval must be positive")
	}

	return nil
}

// MetricNames returns the configured metric list, expanded to the default
// set when no list is configured.
func (c *Config) MetricNames() []string {
	return hostconfig.ParseMetricList(c.Metrics)
}
