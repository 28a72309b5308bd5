package device

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/driver"
)

type fakeQuerier struct {
	contexts map[uint32]int32
	chips    map[int32]string

	contextCalls int
	attrCalls    int
	chipCalls    int
}

func (q *fakeQuerier) ContextDevice(ctxID uint32) (int32, error) {
	q.contextCalls++

	dev, ok := q.contexts[ctxID]
	if !ok {
		return 0, driver.Errorf(driver.KindNotFound, "context_device", "context %d", ctxID)
	}

	return dev, nil
}

func (q *fakeQuerier) DeviceAttributes(dev int32) (driver.DeviceAttributes, error) {
	q.attrCalls++

	return driver.DeviceAttributes{
		Device:                 dev,
		ComputeCapabilityMajor: 8,
		ComputeCapabilityMinor: 6,
		MultiprocessorCount:    84,
	}, nil
}

func (q *fakeQuerier) ChipName(dev int32) (string, error) {
	q.chipCalls++

	return q.chips[dev], nil
}

func newTestRegistry(q *fakeQuerier) *Registry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return NewRegistry(log, q)
}

func TestRegistry_ResolveDevice(t *testing.T) {
	q := &fakeQuerier{
		contexts: map[uint32]int32{1: 0},
		chips:    map[int32]string{0: "ga102"},
	}
	r := newTestRegistry(q)

	info, err := r.ResolveDevice(1)
	require.NoError(t, err)
	assert.Equal(t, int32(0), info.Device)
	assert.Equal(t, "ga102", info.ChipName)
	assert.Equal(t, 8, info.Attributes.ComputeCapabilityMajor)
	assert.Equal(t, 84, info.Attributes.MultiprocessorCount)
}

func TestRegistry_ResolveDeviceCaches(t *testing.T) {
	q := &fakeQuerier{
		contexts: map[uint32]int32{1: 0},
		chips:    map[int32]string{0: "ga102"},
	}
	r := newTestRegistry(q)

	_, err := r.ResolveDevice(1)
	require.NoError(t, err)

	_, err = r.ResolveDevice(1)
	require.NoError(t, err)

	assert.Equal(t, 1, q.contextCalls)
	assert.Equal(t, 1, q.attrCalls)
	assert.Equal(t, 1, q.chipCalls)
}

func TestRegistry_InvalidContextIsNotFound(t *testing.T) {
	q := &fakeQuerier{contexts: map[uint32]int32{}}
	r := newTestRegistry(q)

	_, err := r.ResolveDevice(99)
	require.Error(t, err)
	assert.True(t, driver.IsKind(err, driver.KindNotFound))
}

func TestRegistry_ChipNameCaches(t *testing.T) {
	q := &fakeQuerier{chips: map[int32]string{2: "ad104"}}
	r := newTestRegistry(q)

	chip, err := r.ChipName(2)
	require.NoError(t, err)
	assert.Equal(t, "ad104", chip)

	_, err = r.ChipName(2)
	require.NoError(t, err)
	assert.Equal(t, 1, q.chipCalls)
}

func TestRegistry_ForgetContext(t *testing.T) {
	q := &fakeQuerier{
		contexts: map[uint32]int32{1: 0},
		chips:    map[int32]string{0: "ga102"},
	}
	r := newTestRegistry(q)

	_, err := r.ResolveDevice(1)
	require.NoError(t, err)

	r.ForgetContext(1)

	_, err = r.ResolveDevice(1)
	require.NoError(t, err)

	// The context is re-resolved but device attributes stay cached.
	assert.Equal(t, 2, q.contextCalls)
	assert.Equal(t, 1, q.attrCalls)
}
