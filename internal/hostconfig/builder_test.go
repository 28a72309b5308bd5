package hostconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/counterdata"
	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/driver"
)

func availabilityFor(t *testing.T, counters ...string) []byte {
	t.Helper()

	image := EncodeAvailability(counters)
	require.NotEmpty(t, image)

	return image
}

func TestAvailabilityRoundTrip(t *testing.T) {
	image := EncodeAvailability([]string{"counter_x", "counter_y"})

	set, err := ParseAvailability(image)
	require.NoError(t, err)
	assert.Len(t, set, 2)
	assert.Contains(t, set, "counter_x")
	assert.Contains(t, set, "counter_y")
}

func TestParseAvailability_Corrupt(t *testing.T) {
	image := EncodeAvailability([]string{"counter_x"})
	image[0] ^= 0xff

	_, err := ParseAvailability(image)
	require.Error(t, err)
	assert.True(t, driver.IsKind(err, driver.KindDriverFailure))
}

func TestBuilder_AddMetricsAllOrNone(t *testing.T) {
	b, err := NewBuilder("gt200", availabilityFor(t, "counter_x", "counter_y"))
	require.NoError(t, err)

	err = b.AddMetrics("counter_x", "bogus", "counter_y")
	require.Error(t, err)
	assert.True(t, driver.IsKind(err, driver.KindUnknownMetric))

	// No partial mutation: nothing was added.
	assert.Empty(t, b.Metrics())

	require.NoError(t, b.AddMetrics("counter_x", "counter_y"))
	assert.Equal(t, []string{"counter_x", "counter_y"}, b.Metrics())
}

func TestBuilder_NoAvailabilityRejectsEverything(t *testing.T) {
	b, err := NewBuilder("gt200", nil)
	require.NoError(t, err)

	err = b.AddMetrics("counter_x")
	require.Error(t, err)
	assert.True(t, driver.IsKind(err, driver.KindUnknownMetric))
}

func TestBuilder_ConfigImageRoundTrip(t *testing.T) {
	b, err := NewBuilder("gt200", availabilityFor(t, "counter_x", "counter_y"))
	require.NoError(t, err)
	require.NoError(t, b.AddMetrics("counter_y", "counter_x"))

	image, err := b.ConfigImage()
	require.NoError(t, err)
	require.NotEmpty(t, image)

	chip, metrics, err := ParseConfig(image)
	require.NoError(t, err)
	assert.Equal(t, "gt200", chip)
	assert.Equal(t, []string{"counter_y", "counter_x"}, metrics)
}

func TestBuilder_ConfigImageWithoutMetrics(t *testing.T) {
	b, err := NewBuilder("gt200", availabilityFor(t, "counter_x"))
	require.NoError(t, err)

	_, err = b.ConfigImage()
	require.Error(t, err)
	assert.True(t, driver.IsKind(err, driver.KindInvalidState))
}

func TestBuilder_EvaluateToGpuValues(t *testing.T) {
	b, err := NewBuilder("gt200", availabilityFor(t, "counter_x", "counter_y"))
	require.NoError(t, err)
	require.NoError(t, b.AddMetrics("counter_x", "counter_y"))

	img := counterdata.NewImage()
	require.NoError(t, img.Initialize(256))

	_, err = img.DecodeData(counterdata.EncodeRecord(counterdata.RangeInfo{
		Path:   "kernelA",
		Depth:  1,
		Values: []float64{1.5, 2.5},
	}))
	require.NoError(t, err)

	values, err := b.EvaluateToGpuValues(img, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{
		"counter_x": 1.5,
		"counter_y": 2.5,
	}, values)
}

func TestBuilder_EvaluateRangeIndexOutOfBounds(t *testing.T) {
	b, err := NewBuilder("gt200", availabilityFor(t, "counter_x"))
	require.NoError(t, err)
	require.NoError(t, b.AddMetrics("counter_x"))

	img := counterdata.NewImage()
	require.NoError(t, img.Initialize(64))

	_, err = b.EvaluateToGpuValues(img, 0)
	require.Error(t, err)
	assert.True(t, driver.IsKind(err, driver.KindNotFound))
}

func TestBuilder_EvaluateValueCountMismatch(t *testing.T) {
	b, err := NewBuilder("gt200", availabilityFor(t, "counter_x", "counter_y"))
	require.NoError(t, err)
	require.NoError(t, b.AddMetrics("counter_x", "counter_y"))

	img := counterdata.NewImage()
	require.NoError(t, img.Initialize(64))

	_, err = img.DecodeData(counterdata.EncodeRecord(counterdata.RangeInfo{
		Path:   "kernelA",
		Depth:  1,
		Values: []float64{1},
	}))
	require.NoError(t, err)

	_, err = b.EvaluateToGpuValues(img, 0)
	require.Error(t, err)
	assert.True(t, driver.IsKind(err, driver.KindDriverFailure))
}

func TestBuilder_EvaluateAllRanges(t *testing.T) {
	b, err := NewBuilder("gt200", availabilityFor(t, "counter_x"))
	require.NoError(t, err)
	require.NoError(t, b.AddMetrics("counter_x"))

	img := counterdata.NewImage()
	require.NoError(t, img.Initialize(256))

	for i, name := range []string{"a", "b"} {
		_, err = img.DecodeData(counterdata.EncodeRecord(counterdata.RangeInfo{
			Path:   name,
			Depth:  1,
			Values: []float64{float64(i)},
		}))
		require.NoError(t, err)
	}

	all, err := b.EvaluateAllRanges(img)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name)
	assert.Equal(t, float64(0), all[0].Metrics["counter_x"])
	assert.Equal(t, "b", all[1].Name)
	assert.Equal(t, float64(1), all[1].Metrics["counter_x"])
}

func TestParseMetricList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty yields defaults",
			input:    "",
			expected: DefaultMetrics,
		},
		{
			name:     "whitespace yields defaults",
			input:    "   ",
			expected: DefaultMetrics,
		},
		{
			name:     "mixed separators",
			input:    "metric1; metric2, metric3",
			expected: []string{"metric1", "metric2", "metric3"},
		},
		{
			name:     "empty segments dropped",
			input:    "metric1;;,metric2",
			expected: []string{"metric1", "metric2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseMetricList(tt.input))
		})
	}
}
