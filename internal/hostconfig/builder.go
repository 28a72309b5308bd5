package hostconfig

import (
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/driver"
)

// Builder assembles a collection configuration from a metric list and a
// device availability image. It is pure host state: nothing here touches
// the device.
type Builder struct {
	chipName  string
	available map[string]struct{}
	metrics   []string
}

// NewBuilder initializes a builder for the given chip. availabilityImage
// may be nil (nothing available), in which case every metric is unknown.
func NewBuilder(chipName string, availabilityImage []byte) (*Builder, error) {
	available := map[string]struct{}{}

	if len(availabilityImage) > 0 {
		var err error

		available, err = ParseAvailability(availabilityImage)
		if err != nil {
			return nil, err
		}
	}

	return &Builder{
		chipName:  chipName,
		available: available,
	}, nil
}

// AddMetrics validates every name against the availability image and adds
// them to the configuration. Validation is all-or-none: a single unknown
// name rejects the whole call and leaves the builder unchanged.
func (b *Builder) AddMetrics(names ...string) error {
	for _, n := range names {
		if _, ok := b.available[n]; !ok {
			return driver.Errorf(driver.KindUnknownMetric,
				"add_metrics", "metric %q not collectable on %s", n, b.chipName)
		}
	}

	b.metrics = append(b.metrics, names...)

	return nil
}

// Metrics returns the accepted metric names in configuration order.
func (b *Builder) Metrics() []string {
	out := make([]string, len(b.metrics))
	copy(out, b.metrics)

	return out
}

// ChipName returns the chip the builder was initialized for.
func (b *Builder) ChipName() string {
	return b.chipName
}

// ConfigImage produces the immutable config image through the two-call
// size-then-fill protocol. At least one metric must have been added.
func (b *Builder) ConfigImage() ([]byte, error) {
	if len(b.metrics) == 0 {
		return nil, driver.Errorf(driver.KindInvalidState,
			"config_image", "no metrics added")
	}

	encoded := encodeConfig(b.chipName, b.metrics)

	return driver.ReadSized("config_image", func(dst []byte) (int, error) {
		if dst == nil {
			return len(encoded), nil
		}

		return copy(dst, encoded), nil
	})
}
