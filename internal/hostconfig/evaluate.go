package hostconfig

import (
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/counterdata"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/driver"
)

// RangeValues is one evaluated range: its identity plus the metric name to
// value mapping.
type RangeValues struct {
	Path       string
	Name       string
	Depth      int
	Occurrence int
	Metrics    map[string]float64
}

// EvaluateToGpuValues maps the decoded counter values of one range onto the
// configured metric names. Pure function of already-decoded data.
func (b *Builder) EvaluateToGpuValues(img *counterdata.Image, rangeIndex int) (map[string]float64, error) {
	info, err := img.RangeInfo(rangeIndex)
	if err != nil {
		return nil, err
	}

	if len(info.Values) != len(b.metrics) {
		return nil, driver.Errorf(driver.KindDriverFailure,
			"evaluate", "range %d carries %d values for %d configured metrics",
			rangeIndex, len(info.Values), len(b.metrics))
	}

	values := make(map[string]float64, len(b.metrics))
	for i, name := range b.metrics {
		values[name] = info.Values[i]
	}

	return values, nil
}

// EvaluateAllRanges evaluates every decoded range in the image, in decode
// order.
func (b *Builder) EvaluateAllRanges(img *counterdata.Image) ([]RangeValues, error) {
	count := img.RangeCount()
	out := make([]RangeValues, 0, count)

	for i := 0; i < count; i++ {
		info, err := img.RangeInfo(i)
		if err != nil {
			return nil, err
		}

		metrics, err := b.EvaluateToGpuValues(img, i)
		if err != nil {
			return nil, err
		}

		out = append(out, RangeValues{
			Path:       info.Path,
			Name:       info.Name(),
			Depth:      info.Depth,
			Occurrence: info.Occurrence,
			Metrics:    metrics,
		})
	}

	return out, nil
}
