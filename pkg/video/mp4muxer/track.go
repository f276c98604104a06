package mp4muxer

// videoTrackID is the mp4 track_id used for the single video track.
// Audio is out of scope (spec.md Non-goal), so there's never a second track.
const videoTrackID uint32 = 1

// nanoToTimescale converts a duration in nanoseconds to the given timescale
// (ticks per second).
func nanoToTimescale(nanos int64, timescale int64) int64 {
	return nanos * timescale / 1e9
}
