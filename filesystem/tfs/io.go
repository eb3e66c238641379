package tfs

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"
)

func toUint64(b []byte, start int, to *uint64) (int, error) {
	if len(b) < start+8 {
		return 0, fmt.Errorf("%w: expected at least %d bytes, received: %d", io.ErrUnexpectedEOF, start+8, len(b))
	}
	*to = binary.LittleEndian.Uint64(b[start:])
	return start + 8, nil
}

func toUint32(b []byte, start int, to *uint32) (int, error) {
	if len(b) < start+4 {
		return 0, fmt.Errorf("%w: expected at least %d bytes, received: %d", io.ErrUnexpectedEOF, start+4, len(b))
	}
	*to = binary.LittleEndian.Uint32(b[start:])
	return start + 4, nil
}

func toUint16(b []byte, start int, to *uint16) (int, error) {
	if len(b) < start+2 {
		return 0, fmt.Errorf("%w: expected at least %d bytes, received: %d", io.ErrUnexpectedEOF, start+2, len(b))
	}
	*to = binary.LittleEndian.Uint16(b[start:])
	return start + 2, nil
}

func toUint8(b []byte, start int, to *uint8) (int, error) {
	if len(b) <= start {
		return 0, fmt.Errorf("%w: expected at least %d bytes, received: %d", io.ErrUnexpectedEOF, start+1, len(b))
	}
	*to = b[start]
	return start + 1, nil
}

func toString(b []byte, start, length int, to *string) (int, error) {
	if len(b) < start+length {
		return 0, fmt.Errorf("%w: expected at least %d bytes, received: %d", io.ErrUnexpectedEOF, start+length, len(b))
	}
	*to = string(b[start : start+length])
	return start + length, nil
}

func toTime(b []byte, start int, to *time.Time) (int, error) {
	var nsec uint64
	offset, err := toUint64(b, start, &nsec)
	if err != nil {
		return 0, err
	}
	*to = timeFromNanos(int64(nsec))
	return offset, nil
}

// zeroTimeNanos marks a zero time.Time on disk. It lies outside the range
// validTime accepts, so no real instant encodes to it.
const zeroTimeNanos int64 = math.MinInt64

var (
	minTime = time.Unix(0, math.MinInt64+1).UTC()
	maxTime = time.Unix(0, math.MaxInt64).UTC()
)

// validTime reports whether t can be stored as nanoseconds since the epoch
func validTime(t time.Time) bool {
	return t.IsZero() || (!t.Before(minTime) && !t.After(maxTime))
}

func timeToNanos(t time.Time) int64 {
	if t.IsZero() {
		return zeroTimeNanos
	}
	return t.UnixNano()
}

func timeFromNanos(n int64) time.Time {
	if n == zeroTimeNanos {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
