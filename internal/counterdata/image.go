package counterdata

import (
	"sync"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/driver"
)

// Image accumulates raw counter records and decodes them into per-range
// values. Decoding is incremental: a cursor marks how much of the raw
// stream has been processed, so repeated calls never double-count a range,
// and a trailing partial record is held until a follow-up call completes it.
type Image struct {
	mu          sync.Mutex
	initialized bool
	raw         []byte
	cursor      int
	ranges      []RangeInfo
}

// NewImage returns an uninitialized image. Initialize must be called before
// any decode.
func NewImage() *Image {
	return &Image{}
}

// Initialize allocates the image buffer. sizeHint is the driver-probed
// counter data size; it bounds nothing (real sizes are workload-dependent)
// and only pre-sizes the allocation. Re-initializing resets the image.
func (img *Image) Initialize(sizeHint int) error {
	if sizeHint < 0 {
		return driver.Errorf(driver.KindInvalidState,
			"counter_data_initialize", "negative size hint %d", sizeHint)
	}

	img.mu.Lock()
	defer img.mu.Unlock()

	img.initialized = true
	img.raw = make([]byte, 0, sizeHint)
	img.cursor = 0
	img.ranges = img.ranges[:0]

	return nil
}

// DecodeData appends raw record bytes produced by the driver since the last
// call and decodes every newly completed record. It returns the number of
// ranges added by this call.
func (img *Image) DecodeData(raw []byte) (int, error) {
	img.mu.Lock()
	defer img.mu.Unlock()

	if !img.initialized {
		return 0, driver.Errorf(driver.KindInvalidState,
			"decode_data", "counter data image not initialized")
	}

	img.raw = append(img.raw, raw...)

	added := 0

	for img.cursor < len(img.raw) {
		info, n, err := decodeRecord(img.raw[img.cursor:])
		if err != nil {
			return added, err
		}

		if n == 0 {
			// Incomplete trailing record. Keep the cursor in front
			// of it so the next call picks it up.
			break
		}

		img.ranges = append(img.ranges, info)
		img.cursor += n
		added++
	}

	return added, nil
}

// RangeCount returns the number of fully decoded ranges.
func (img *Image) RangeCount() int {
	img.mu.Lock()
	defer img.mu.Unlock()

	return len(img.ranges)
}

// RangeInfo returns the decoded range at index, valid in [0, RangeCount).
func (img *Image) RangeInfo(index int) (RangeInfo, error) {
	img.mu.Lock()
	defer img.mu.Unlock()

	if index < 0 || index >= len(img.ranges) {
		return RangeInfo{}, driver.Errorf(driver.KindNotFound,
			"range_info", "range index %d out of [0, %d)", index, len(img.ranges))
	}

	return img.ranges[index], nil
}

// Release frees the image buffers. The image must be re-initialized before
// further decoding.
func (img *Image) Release() {
	img.mu.Lock()
	defer img.mu.Unlock()

	img.initialized = false
	img.raw = nil
	img.cursor = 0
	img.ranges = nil
}
