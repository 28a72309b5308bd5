// Package activity implements the asynchronous trace buffer exchange with
// the driver: a fixed pool of buffers handed out on request, returned
// filled with kernel execution records, and drained by a consumer.
package activity

import (
	"encoding/binary"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/driver"
)

// kernelRecordMagic marks the start of one kernel activity record. A zero
// word where a magic is expected is the end-of-buffer sentinel.
const kernelRecordMagic uint32 = 0x4e524b41 // "AKRN"

// kernelRecordFixedSize is the encoded size before the name bytes.
const kernelRecordFixedSize = 70

// KernelRecord describes one completed kernel execution.
type KernelRecord struct {
	ContextID   uint32
	Device      int32
	StartNs     uint64
	EndNs       uint64
	GridX       uint32
	GridY       uint32
	GridZ       uint32
	BlockX      uint32
	BlockY      uint32
	BlockZ      uint32
	RegsPerThrd uint32
	StaticSmem  uint32
	DynamicSmem uint32
	Name        string
}

// DurationNs returns the kernel execution time.
func (r KernelRecord) DurationNs() uint64 {
	if r.EndNs < r.StartNs {
		return 0
	}

	return r.EndNs - r.StartNs
}

// ThreadsPerBlock returns the block size as a flat thread count.
func (r KernelRecord) ThreadsPerBlock() uint32 {
	return r.BlockX * r.BlockY * r.BlockZ
}

// EncodeKernelRecord serializes one record. Layout, little-endian:
//
//	u32 magic | u32 total size | u32 context | u32 device |
//	u64 start | u64 end | u32 grid x,y,z | u32 block x,y,z |
//	u32 regs per thread | u32 static smem | u32 dynamic smem |
//	u16 name length | name bytes
func EncodeKernelRecord(rec KernelRecord) []byte {
	total := kernelRecordFixedSize + len(rec.Name)
	buf := make([]byte, total)

	binary.LittleEndian.PutUint32(buf[0:], kernelRecordMagic)
	binary.LittleEndian.PutUint32(buf[4:], uint32(total))
	binary.LittleEndian.PutUint32(buf[8:], rec.ContextID)
	binary.LittleEndian.PutUint32(buf[12:], uint32(rec.Device))
	binary.LittleEndian.PutUint64(buf[16:], rec.StartNs)
	binary.LittleEndian.PutUint64(buf[24:], rec.EndNs)
	binary.LittleEndian.PutUint32(buf[32:], rec.GridX)
	binary.LittleEndian.PutUint32(buf[36:], rec.GridY)
	binary.LittleEndian.PutUint32(buf[40:], rec.GridZ)
	binary.LittleEndian.PutUint32(buf[44:], rec.BlockX)
	binary.LittleEndian.PutUint32(buf[48:], rec.BlockY)
	binary.LittleEndian.PutUint32(buf[52:], rec.BlockZ)
	binary.LittleEndian.PutUint32(buf[56:], rec.RegsPerThrd)
	binary.LittleEndian.PutUint32(buf[60:], rec.StaticSmem)
	binary.LittleEndian.PutUint32(buf[64:], rec.DynamicSmem)
	binary.LittleEndian.PutUint16(buf[68:], uint16(len(rec.Name)))
	copy(buf[kernelRecordFixedSize:], rec.Name)

	return buf
}

// Reader iterates the records of one filled buffer lazily. Iteration stops
// at the end of the valid region or at a zero end-of-buffer sentinel,
// whichever comes first.
type Reader struct {
	buf []byte
	off int
}

// NewReader wraps the valid region of a completed buffer.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Next returns the next record. ok is false when the buffer is exhausted.
func (r *Reader) Next() (rec KernelRecord, ok bool, err error) {
	remaining := r.buf[r.off:]
	if len(remaining) < 4 {
		return KernelRecord{}, false, nil
	}

	magic := binary.LittleEndian.Uint32(remaining[0:])
	if magic == 0 {
		// End-of-buffer sentinel.
		return KernelRecord{}, false, nil
	}

	if magic != kernelRecordMagic {
		return KernelRecord{}, false, driver.Errorf(driver.KindDriverFailure,
			"activity_read", "bad kernel record magic 0x%08x at offset %d", magic, r.off)
	}

	if len(remaining) < kernelRecordFixedSize {
		return KernelRecord{}, false, driver.Errorf(driver.KindDriverFailure,
			"activity_read", "truncated kernel record at offset %d", r.off)
	}

	total := int(binary.LittleEndian.Uint32(remaining[4:]))
	if total < kernelRecordFixedSize || total > len(remaining) {
		return KernelRecord{}, false, driver.Errorf(driver.KindDriverFailure,
			"activity_read", "kernel record size %d overruns buffer", total)
	}

	nameLen := int(binary.LittleEndian.Uint16(remaining[68:]))
	if kernelRecordFixedSize+nameLen > total {
		return KernelRecord{}, false, driver.Errorf(driver.KindDriverFailure,
			"activity_read", "kernel record name overruns record of size %d", total)
	}

	rec = KernelRecord{
		ContextID:   binary.LittleEndian.Uint32(remaining[8:]),
		Device:      int32(binary.LittleEndian.Uint32(remaining[12:])),
		StartNs:     binary.LittleEndian.Uint64(remaining[16:]),
		EndNs:       binary.LittleEndian.Uint64(remaining[24:]),
		GridX:       binary.LittleEndian.Uint32(remaining[32:]),
		GridY:       binary.LittleEndian.Uint32(remaining[36:]),
		GridZ:       binary.LittleEndian.Uint32(remaining[40:]),
		BlockX:      binary.LittleEndian.Uint32(remaining[44:]),
		BlockY:      binary.LittleEndian.Uint32(remaining[48:]),
		BlockZ:      binary.LittleEndian.Uint32(remaining[52:]),
		RegsPerThrd: binary.LittleEndian.Uint32(remaining[56:]),
		StaticSmem:  binary.LittleEndian.Uint32(remaining[60:]),
		DynamicSmem: binary.LittleEndian.Uint32(remaining[64:]),
		Name:        string(remaining[kernelRecordFixedSize : kernelRecordFixedSize+nameLen]),
	}

	r.off += total

	return rec, true, nil
}
