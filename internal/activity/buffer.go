package activity

import (
	"sync/atomic"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/driver"
)

// bufferState tracks where a buffer is in its lifecycle.
type bufferState int32

const (
	bufferFree bufferState = iota
	bufferRequested
	bufferFilled
)

// Buffer is one pooled trace buffer. The driver owns it between request
// and completion.
type Buffer struct {
	data       []byte
	maxRecords int
	state      atomic.Int32
}

var _ driver.ActivityBuffer = (*Buffer)(nil)

// Bytes returns the writable record region.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// MaxRecords returns the record cap advertised to the driver.
func (b *Buffer) MaxRecords() int {
	return b.maxRecords
}

func (b *Buffer) transition(from, to bufferState) bool {
	return b.state.CompareAndSwap(int32(from), int32(to))
}

// Pool holds a fixed set of buffers. Exhaustion is reported, never grown:
// the driver drops activity when no buffer is free, and the drop is counted.
type Pool struct {
	free chan *Buffer
}

// NewPool allocates count buffers of size bytes each.
func NewPool(count, size, maxRecords int) *Pool {
	p := &Pool{free: make(chan *Buffer, count)}

	for i := 0; i < count; i++ {
		p.free <- &Buffer{
			data:       make([]byte, size),
			maxRecords: maxRecords,
		}
	}

	return p
}

// Acquire hands out a free buffer, failing with CapacityExceeded when the
// pool is exhausted. It never blocks.
func (p *Pool) Acquire() (*Buffer, error) {
	select {
	case b := <-p.free:
		b.transition(bufferFree, bufferRequested)

		return b, nil
	default:
		return nil, driver.Errorf(driver.KindCapacityExceeded,
			"buffer_requested", "activity buffer pool exhausted")
	}
}

// Release clears a consumed buffer and returns it to the pool.
func (p *Pool) Release(b *Buffer) {
	for i := range b.data {
		b.data[i] = 0
	}

	b.state.Store(int32(bufferFree))

	select {
	case p.free <- b:
	default:
		// The pool is full, which means the buffer was double-released.
	}
}

// Free returns how many buffers are currently available.
func (p *Pool) Free() int {
	return len(p.free)
}
