package device

import (
	"fmt"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/sirupsen/logrus"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/driver"
)

// NVMLSource answers device attribute queries through NVML. NVML has no
// notion of execution contexts, so context to device bindings are recorded
// as the engine observes context-created events.
type NVMLSource struct {
	log logrus.FieldLogger

	mu       sync.Mutex
	contexts map[uint32]int32
}

var _ driver.DeviceQuerier = (*NVMLSource)(nil)

// NewNVMLSource initializes NVML and returns a querier backed by it.
func NewNVMLSource(log logrus.FieldLogger) (*NVMLSource, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("initializing NVML: %s", nvml.ErrorString(ret))
	}

	return &NVMLSource{
		log:      log.WithField("component", "nvml"),
		contexts: make(map[uint32]int32),
	}, nil
}

// Shutdown releases NVML.
func (s *NVMLSource) Shutdown() error {
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("shutting down NVML: %s", nvml.ErrorString(ret))
	}

	return nil
}

// BindContext records which device backs a context.
func (s *NVMLSource) BindContext(ctxID uint32, dev int32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contexts[ctxID] = dev
}

func (s *NVMLSource) ContextDevice(ctxID uint32) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, ok := s.contexts[ctxID]
	if !ok {
		return 0, driver.Errorf(driver.KindNotFound,
			"context_device", "no device bound for context %d", ctxID)
	}

	return dev, nil
}

func (s *NVMLSource) DeviceAttributes(dev int32) (driver.DeviceAttributes, error) {
	handle, ret := nvml.DeviceGetHandleByIndex(int(dev))
	if ret != nvml.SUCCESS {
		return driver.DeviceAttributes{}, driver.Errorf(driver.KindNotFound,
			"device_attributes", "device %d: %s", dev, nvml.ErrorString(ret))
	}

	major, minor, ret := handle.GetCudaComputeCapability()
	if ret != nvml.SUCCESS {
		return driver.DeviceAttributes{}, fmt.Errorf(
			"querying compute capability of device %d: %s", dev, nvml.ErrorString(ret))
	}

	attrs, ret := handle.GetAttributes()
	if ret != nvml.SUCCESS {
		return driver.DeviceAttributes{}, fmt.Errorf(
			"querying attributes of device %d: %s", dev, nvml.ErrorString(ret))
	}

	return driver.DeviceAttributes{
		Device:                 dev,
		ComputeCapabilityMajor: major,
		ComputeCapabilityMinor: minor,
		MultiprocessorCount:    int(attrs.MultiprocessorCount),
	}, nil
}

func (s *NVMLSource) ChipName(dev int32) (string, error) {
	handle, ret := nvml.DeviceGetHandleByIndex(int(dev))
	if ret != nvml.SUCCESS {
		return "", driver.Errorf(driver.KindNotFound,
			"chip_name", "device %d: %s", dev, nvml.ErrorString(ret))
	}

	name, ret := handle.GetName()
	if ret != nvml.SUCCESS {
		return "", fmt.Errorf("querying name of device %d: %s", dev, nvml.ErrorString(ret))
	}

	return name, nil
}
