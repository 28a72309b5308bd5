package driver

// SizedReadFunc is one sized-resource accessor. Called with a nil dst it
// returns the required size without filling anything; called with an
// allocated dst it fills it and returns the size it needed.
type SizedReadFunc func(dst []byte) (int, error)

// ReadSized performs the two-call size-then-fill protocol against a sized
// resource accessor: probe the size, allocate, fill. A size of 0 means
// nothing is available and yields a nil buffer.
//
// The fill call may report a larger size than the probe did (the resource
// grew between calls). ReadSized re-probes and reallocates once; a second
// disagreement escalates to DriverFailure. A smaller fill size is fine and
// truncates the result.
func ReadSized(op string, read SizedReadFunc) ([]byte, error) {
	size, err := read(nil)
	if err != nil {
		return nil, WrapErr(KindDriverFailure, op, err)
	}

	if size == 0 {
		return nil, nil
	}

	for attempt := 0; ; attempt++ {
		buf := make([]byte, size)

		n, err := read(buf)
		if err != nil {
			return nil, WrapErr(KindDriverFailure, op, err)
		}

		if n <= size {
			return buf[:n], nil
		}

		if attempt > 0 {
			return nil, Errorf(KindDriverFailure, op,
				"size disagreement persists after re-probe: probed %d, needed %d", size, n)
		}

		// The resource grew between probe and fill. Re-probe once.
		size, err = read(nil)
		if err != nil {
			return nil, WrapErr(KindDriverFailure, op, err)
		}

		if size == 0 {
			return nil, nil
		}
	}
}
