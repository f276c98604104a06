package hls

import "nvr/pkg/video/mp4time"

// TrackParameters describes the single H.264 video track served by a muxer,
// captured once per stream from the SDP/SPS the RTSP ingest adapter hands
// in. Width/Height/SPS/PPS feed Component B's init.mp4 and avcC generation;
// Codec is the RFC 6381 `codecs=` string used in the primary playlist.
type TrackParameters struct {
	Width  int
	Height int
	SPS    []byte
	PPS    []byte
	Codec  string
}

// VideoSample is one H.264 access unit handed to the segmenter.
// PTS/DTS are in the 90 kHz H.264 timescale, relative to the muxer's start.
type VideoSample struct {
	PTS        mp4time.UnixH264
	DTS        mp4time.UnixH264
	NextDTS    mp4time.UnixH264
	AVCC       []byte
	IdrPresent bool
}

func (s *VideoSample) duration() mp4time.DurationH264 {
	return mp4time.DurationH264(s.NextDTS - s.DTS)
}
