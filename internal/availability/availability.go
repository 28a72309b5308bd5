// Package availability negotiates which hardware counters a device can
// collect together, caching the resulting descriptor per device.
package availability

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/driver"
)

// Negotiator fetches counter availability images through the two-call
// size-query protocol and caches them per device.
type Negotiator struct {
	log logrus.FieldLogger
	src driver.AvailabilitySource

	mu    sync.Mutex
	cache map[int32][]byte
}

// NewNegotiator creates a negotiator over the given source.
func NewNegotiator(log logrus.FieldLogger, src driver.AvailabilitySource) *Negotiator {
	return &Negotiator{
		log:   log.WithField("component", "availability"),
		src:   src,
		cache: make(map[int32][]byte),
	}
}

// Image returns the availability image for a device. The first call probes
// the size, allocates, and fills; a size disagreement between the two calls
// is retried once and escalates to DriverFailure if it recurs. The result
// is cached and must be treated as immutable by callers.
func (n *Negotiator) Image(dev int32) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if image, ok := n.cache[dev]; ok {
		return image, nil
	}

	image, err := driver.ReadSized("counter_availability", func(dst []byte) (int, error) {
		return n.src.CounterAvailability(dev, dst)
	})
	if err != nil {
		return nil, err
	}

	n.cache[dev] = image

	n.log.WithFields(logrus.Fields{
		"device": dev,
		"bytes":  len(image),
	}).Debug("Cached counter availability image")

	return image, nil
}

// Invalidate drops the cached image for a device.
func (n *Negotiator) Invalidate(dev int32) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.cache, dev)
}
