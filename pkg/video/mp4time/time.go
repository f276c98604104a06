// Package mp4time implements the 90 kHz H.264 timescale arithmetic used
// throughout the HLS segmenter and live streamer: conversions between
// Unix-nanosecond wall-clock time and Unix-H264 media time, plus checked
// arithmetic that treats overflow as fatal for the owning stream.
package mp4time

import (
	"errors"
	"math"
)

// VideoTimescale is the number of H.264 ticks per second.
const VideoTimescale = 90000

const nanosPerSecond = 1_000_000_000

// ErrArithmeticOverflow is returned by the checked arithmetic helpers.
// The segmenter and live streamer treat it as fatal for the current stream.
var ErrArithmeticOverflow = errors.New("mp4time: arithmetic overflow")

// UnixH264 is a point in time expressed in 90 kHz ticks since the Unix epoch.
type UnixH264 int64

// DurationH264 is a signed duration expressed in 90 kHz ticks.
type DurationH264 int64

// Seconds returns the duration as a floating point number of seconds.
func (d DurationH264) Seconds() float64 {
	return float64(d) / VideoTimescale
}

// DurationH264FromSeconds converts a floating point second count to ticks.
func DurationH264FromSeconds(s float64) DurationH264 {
	return DurationH264(math.Round(s * VideoTimescale))
}

// Add returns a+b, or ErrArithmeticOverflow if the result does not fit in
// an int64.
func (a UnixH264) Add(b DurationH264) (UnixH264, error) {
	sum, err := checkedAddInt64(int64(a), int64(b))
	return UnixH264(sum), err
}

// Sub returns the duration a-b.
func (a UnixH264) Sub(b UnixH264) (DurationH264, error) {
	diff, err := checkedSubInt64(int64(a), int64(b))
	return DurationH264(diff), err
}

// Add returns a+b.
func (a DurationH264) Add(b DurationH264) (DurationH264, error) {
	sum, err := checkedAddInt64(int64(a), int64(b))
	return DurationH264(sum), err
}

func checkedAddInt64(a, b int64) (int64, error) {
	sum := a + b
	// Overflow happened iff the operands have the same sign and the
	// result's sign differs from theirs.
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

func checkedSubInt64(a, b int64) (int64, error) {
	return checkedAddInt64(a, -b)
}

// UnixNanoToH264 converts Unix-nanosecond wall-clock time to H264 ticks.
// Uses integer math (ticks = nanos*9/100000) to avoid floating point drift.
func UnixNanoToH264(nanos int64) (UnixH264, error) {
	// nanos*9 can overflow int64 for nanos close to MaxInt64; check first.
	const maxSafeNanos = math.MaxInt64 / 9
	if nanos > maxSafeNanos || nanos < -maxSafeNanos {
		return 0, ErrArithmeticOverflow
	}
	return UnixH264((nanos * 9) / 100000), nil
}

// H264ToUnixNano converts H264 ticks back to Unix-nanosecond wall-clock time.
func H264ToUnixNano(ticks UnixH264) (int64, error) {
	const maxSafeTicks = math.MaxInt64 / 100000
	if int64(ticks) > maxSafeTicks || int64(ticks) < -maxSafeTicks {
		return 0, ErrArithmeticOverflow
	}
	return (int64(ticks) * 100000) / 9, nil
}

// DurationFromNanos converts a nanosecond duration to H264 ticks.
func DurationFromNanos(nanos int64) (DurationH264, error) {
	v, err := UnixNanoToH264(nanos)
	return DurationH264(v), err
}

// NanosFromDuration converts an H264-tick duration to nanoseconds.
func NanosFromDuration(d DurationH264) (int64, error) {
	return H264ToUnixNano(UnixH264(d))
}

// maxStreamDuration is the same 3000-day fatal guard the teacher repo uses
// for its legacy DurationGoToMp4 helper — beyond this no real recording or
// live session should run uninterrupted.
const maxStreamDuration = 3000 * 24 * 3600 * nanosPerSecond
