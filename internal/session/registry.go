package session

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/driver"
)

// Registry tracks at most one active session per context.
type Registry struct {
	log logrus.FieldLogger
	drv driver.RangeCollector

	mu     sync.Mutex
	active map[uint32]*Session
}

// NewRegistry creates a session registry over the given collector.
func NewRegistry(log logrus.FieldLogger, drv driver.RangeCollector) *Registry {
	return &Registry{
		log:    log.WithField("component", "session"),
		drv:    drv,
		active: make(map[uint32]*Session),
	}
}

// Enable provisions a session on a context and moves it to Enabled. A
// context with a live session fails with Conflict.
func (r *Registry) Enable(ctxID uint32) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[ctxID]; ok {
		return nil, driver.Errorf(driver.KindConflict,
			"enable", "context %d already has an active session", ctxID)
	}

	handle, err := r.drv.RangeProfilerEnable(ctxID)
	if err != nil {
		return nil, driver.WrapErr(driver.KindDriverFailure, "enable", err)
	}

	s := &Session{
		log:    r.log.WithField("context", ctxID),
		drv:    r.drv,
		ctxID:  ctxID,
		handle: handle,
		state:  StateEnabled,
	}
	s.release = func() { r.remove(ctxID, s) }

	r.active[ctxID] = s

	r.log.WithFields(logrus.Fields{
		"context": ctxID,
		"handle":  handle,
	}).Debug("Enabled range profiling session")

	return s, nil
}

// Lookup returns the active session for a context.
func (r *Registry) Lookup(ctxID uint32) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.active[ctxID]

	return s, ok
}

// Active returns all live sessions.
func (r *Registry) Active() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.active))
	for _, s := range r.active {
		out = append(out, s)
	}

	return out
}

// remove deregisters a session, but only if it is still the one bound to
// the context. A replacement enabled after a forced disable stays put.
func (r *Registry) remove(ctxID uint32, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active[ctxID] == s {
		delete(r.active, ctxID)
	}
}
