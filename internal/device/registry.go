// Package device resolves and caches device identity for execution
// contexts: attributes, chip name, and the context to device mapping.
package device

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/driver"
)

// Info is the cached identity of one device.
type Info struct {
	Device     int32
	Attributes driver.DeviceAttributes
	ChipName   string
}

// Registry caches device lookups for the process lifetime of a device.
type Registry struct {
	log     logrus.FieldLogger
	querier driver.DeviceQuerier

	mu        sync.Mutex
	byContext map[uint32]int32
	devices   map[int32]Info
}

// NewRegistry creates a registry over the given querier.
func NewRegistry(log logrus.FieldLogger, querier driver.DeviceQuerier) *Registry {
	return &Registry{
		log:       log.WithField("component", "device"),
		querier:   querier,
		byContext: make(map[uint32]int32),
		devices:   make(map[int32]Info),
	}
}

// ResolveDevice returns the device identity for a context, cached after the
// first success. An invalid context fails with NotFound.
func (r *Registry) ResolveDevice(ctxID uint32) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if dev, ok := r.byContext[ctxID]; ok {
		return r.devices[dev], nil
	}

	dev, err := r.querier.ContextDevice(ctxID)
	if err != nil {
		return Info{}, driver.WrapErr(driver.KindNotFound, "resolve_device", err)
	}

	info, err := r.deviceInfoLocked(dev)
	if err != nil {
		return Info{}, err
	}

	r.byContext[ctxID] = dev

	return info, nil
}

// ChipName returns the architecture identifier of a device, cached.
func (r *Registry) ChipName(dev int32) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, err := r.deviceInfoLocked(dev)
	if err != nil {
		return "", err
	}

	return info.ChipName, nil
}

// DeviceInfo returns the cached identity of a device, querying on first use.
func (r *Registry) DeviceInfo(dev int32) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.deviceInfoLocked(dev)
}

// ForgetContext drops the context mapping, e.g. after context destruction.
// Device attributes stay cached.
func (r *Registry) ForgetContext(ctxID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.byContext, ctxID)
}

func (r *Registry) deviceInfoLocked(dev int32) (Info, error) {
	if info, ok := r.devices[dev]; ok {
		return info, nil
	}

	attrs, err := r.querier.DeviceAttributes(dev)
	if err != nil {
		return Info{}, driver.WrapErr(driver.KindNotFound, "device_attributes", err)
	}

	chip, err := r.querier.ChipName(dev)
	if err != nil {
		return Info{}, driver.WrapErr(driver.KindNotFound, "chip_name", err)
	}

	info := Info{Device: dev, Attributes: attrs, ChipName: chip}
	r.devices[dev] = info

	r.log.WithFields(logrus.Fields{
		"device": dev,
		"chip":   chip,
		"cc":     attrs.ComputeCapabilityMajor*10 + attrs.ComputeCapabilityMinor,
		"sms":    attrs.MultiprocessorCount,
	}).Debug("Cached device identity")

	return info, nil
}
