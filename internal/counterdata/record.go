// Package counterdata owns the mutable buffer that accumulates raw counter
// records and decodes them into per-range values.
package counterdata

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/driver"
)

// recordMagic marks the start of one raw counter record.
const recordMagic uint32 = 0x474e5243 // "CRNG"

// recordHeaderSize covers the magic and total-size fields. A record is
// decodable only once its full totalSize bytes are present.
const recordHeaderSize = 8

// RangeInfo is one decoded range: its nesting path, stack depth, occurrence
// index, and the raw counter values in config metric order.
type RangeInfo struct {
	// Path is the slash-joined nesting path, e.g. "frame/draw/kernelA".
	Path string
	// Depth is the stack depth the range was pushed at, starting at 1.
	Depth int
	// Occurrence disambiguates repeated names at the same depth.
	Occurrence int
	// Values holds one raw counter value per configured metric.
	Values []float64
}

// Name returns the leaf name of the range path.
func (r RangeInfo) Name() string {
	if i := strings.LastIndexByte(r.Path, '/'); i >= 0 {
		return r.Path[i+1:]
	}

	return r.Path
}

// EncodeRecord serializes one range record in the raw counter wire format.
// Layout, little-endian:
//
//	u32 magic | u32 total size | u16 depth | u32 occurrence |
//	u16 path length | path bytes | u32 value count | f64 values
func EncodeRecord(info RangeInfo) []byte {
	total := recordHeaderSize + 2 + 4 + 2 + len(info.Path) + 4 + 8*len(info.Values)
	buf := make([]byte, total)

	binary.LittleEndian.PutUint32(buf[0:], recordMagic)
	binary.LittleEndian.PutUint32(buf[4:], uint32(total))
	binary.LittleEndian.PutUint16(buf[8:], uint16(info.Depth))
	binary.LittleEndian.PutUint32(buf[10:], uint32(info.Occurrence))
	binary.LittleEndian.PutUint16(buf[14:], uint16(len(info.Path)))

	off := 16 + copy(buf[16:], info.Path)

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(info.Values)))
	off += 4

	for _, v := range info.Values {
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v))
		off += 8
	}

	return buf
}

// decodeRecord parses one record from the front of raw. It returns the
// record, the number of bytes consumed, and an error for corrupt data.
// A zero consumed count with a nil error means the record is incomplete.
func decodeRecord(raw []byte) (RangeInfo, int, error) {
	if len(raw) < recordHeaderSize {
		return RangeInfo{}, 0, nil
	}

	if magic := binary.LittleEndian.Uint32(raw[0:]); magic != recordMagic {
		return RangeInfo{}, 0, driver.Errorf(driver.KindDriverFailure,
			"decode_data", "bad record magic 0x%08x", magic)
	}

	total := int(binary.LittleEndian.Uint32(raw[4:]))
	if total < recordHeaderSize+12 {
		return RangeInfo{}, 0, driver.Errorf(driver.KindDriverFailure,
			"decode_data", "record size %d below minimum", total)
	}

	if len(raw) < total {
		// Trailing partial record. Wait for more bytes.
		return RangeInfo{}, 0, nil
	}

	depth := int(binary.LittleEndian.Uint16(raw[8:]))
	occurrence := int(binary.LittleEndian.Uint32(raw[10:]))
	pathLen := int(binary.LittleEndian.Uint16(raw[14:]))

	off := 16
	if off+pathLen+4 > total {
		return RangeInfo{}, 0, driver.Errorf(driver.KindDriverFailure,
			"decode_data", "record path overruns record of size %d", total)
	}

	path := string(raw[off : off+pathLen])
	off += pathLen

	numValues := int(binary.LittleEndian.Uint32(raw[off:]))
	off += 4

	if off+8*numValues > total {
		return RangeInfo{}, 0, driver.Errorf(driver.KindDriverFailure,
			"decode_data", "record values overrun record of size %d", total)
	}

	values := make([]float64, numValues)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[off:]))
		off += 8
	}

	return RangeInfo{
		Path:       path,
		Depth:      depth,
		Occurrence: occurrence,
		Values:     values,
	}, total, nil
}
