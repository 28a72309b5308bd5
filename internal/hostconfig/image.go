// Package hostconfig builds collection configurations host-side, with no
// device contact: it validates metric names against an availability image,
// produces the immutable config image, and evaluates decoded counter data
// into per-metric values.
package hostconfig

import (
	"encoding/binary"

	"github.com/dreveman/perfetto-cupti-gpu-compute/internal/driver"
)

const (
	availabilityMagic uint32 = 0x4c564143 // "CAVL"
	configMagic       uint32 = 0x47464343 // "CCFG"
	imageVersion      uint16 = 1
)

// EncodeAvailability serializes a counter availability image: the set of
// counters a device can collect concurrently. Layout, little-endian:
//
//	u32 magic | u16 version | u16 reserved | u32 count |
//	repeated (u16 name length | name bytes)
func EncodeAvailability(counters []string) []byte {
	size := 12
	for _, c := range counters {
		size += 2 + len(c)
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:], availabilityMagic)
	binary.LittleEndian.PutUint16(buf[4:], imageVersion)
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(counters)))

	off := 12
	for _, c := range counters {
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(c)))
		off += 2
		off += copy(buf[off:], c)
	}

	return buf
}

// ParseAvailability decodes an availability image into its counter set.
func ParseAvailability(image []byte) (map[string]struct{}, error) {
	names, err := parseNameTable(image, availabilityMagic, "parse_availability", nil)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}

	return set, nil
}

// encodeConfig serializes a config image: the chip name plus the ordered
// metric list. Layout matches the availability image with the chip name
// inserted after the header.
func encodeConfig(chipName string, metrics []string) []byte {
	size := 12 + 2 + len(chipName)
	for _, m := range metrics {
		size += 2 + len(m)
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:], configMagic)
	binary.LittleEndian.PutUint16(buf[4:], imageVersion)
	binary.LittleEndian.PutUint16(buf[6:], uint16(len(chipName)))
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(metrics)))

	off := 12
	off += copy(buf[off:], chipName)

	for _, m := range metrics {
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(m)))
		off += 2
		off += copy(buf[off:], m)
	}

	return buf
}

// ParseConfig decodes a config image into its chip name and metric list.
func ParseConfig(image []byte) (string, []string, error) {
	if len(image) < 12 {
		return "", nil, driver.Errorf(driver.KindDriverFailure,
			"parse_config", "config image truncated at %d bytes", len(image))
	}

	chipLen := int(binary.LittleEndian.Uint16(image[6:]))

	chip := ""
	metrics, err := parseNameTable(image, configMagic, "parse_config", func(body []byte) ([]byte, error) {
		if len(body) < chipLen {
			return nil, driver.Errorf(driver.KindDriverFailure,
				"parse_config", "chip name overruns image")
		}

		chip = string(body[:chipLen])

		return body[chipLen:], nil
	})
	if err != nil {
		return "", nil, err
	}

	return chip, metrics, nil
}

// parseNameTable decodes the shared header plus length-prefixed name table.
// prefix, when set, consumes image-specific bytes between header and table.
func parseNameTable(
	image []byte,
	magic uint32,
	op string,
	prefix func(body []byte) ([]byte, error),
) ([]string, error) {
	if len(image) < 12 {
		return nil, driver.Errorf(driver.KindDriverFailure,
			op, "image truncated at %d bytes", len(image))
	}

	if m := binary.LittleEndian.Uint32(image[0:]); m != magic {
		return nil, driver.Errorf(driver.KindDriverFailure,
			op, "bad image magic 0x%08x", m)
	}

	if v := binary.LittleEndian.Uint16(image[4:]); v != imageVersion {
		return nil, driver.Errorf(driver.KindDriverFailure,
			op, "unsupported image version %d", v)
	}

	count := int(binary.LittleEndian.Uint32(image[8:]))
	body := image[12:]

	if prefix != nil {
		var err error

		body, err = prefix(body)
		if err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, count)

	for i := 0; i < count; i++ {
		if len(body) < 2 {
			return nil, driver.Errorf(driver.KindDriverFailure,
				op, "name table truncated at entry %d", i)
		}

		n := int(binary.LittleEndian.Uint16(body))
		body = body[2:]

		if len(body) < n {
			return nil, driver.Errorf(driver.KindDriverFailure,
				op, "name %d overruns image", i)
		}

		names = append(names, string(body[:n]))
		body = body[n:]
	}

	return names, nil
}
