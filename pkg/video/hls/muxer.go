package hls

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"nvr/pkg/log"
	"nvr/pkg/video/mp4time"
)

// MuxerFileResponse is a response of the Muxer's File() func.
type MuxerFileResponse struct {
	Status int
	Header map[string]string
	Body   io.Reader
}

// Muxer is the Component F driver: segmenter + playlist actor + init.mp4
// cache, dispatched to by File() the way the teacher's addon HTTP handlers
// dispatch by path suffix.
type Muxer struct {
	playlist  *playlist
	segmenter *segmenter
	logf      log.Func

	mutex          sync.Mutex
	params         TrackParameters
	initContentSPS []byte
	initContentPPS []byte
	initContent    []byte
}

// NewMuxer allocates a Muxer. params carries the initial SPS/PPS/dimensions;
// later IDR frames may update SPS/PPS via WriteH264, which forces a segment
// boundary and invalidates the cached init.mp4.
func NewMuxer(
	ctx context.Context,
	segmentCount int,
	segmentDuration mp4time.DurationH264,
	partDuration mp4time.DurationH264,
	segmentMaxSize uint64,
	logf log.Func,
	params TrackParameters,
) *Muxer {
	playlist := newPlaylist(ctx, segmentCount)
	go playlist.start()

	m := &Muxer{
		playlist: playlist,
		logf:     logf,
		params:   params,
	}

	m.segmenter = newSegmenter(
		uint16(time.Now().UnixNano()),
		segmentDuration,
		partDuration,
		segmentMaxSize,
		m.playlist.onSegmentFinalized,
		m.playlist.partFinalized,
	)
	return m
}

// WriteH264 writes one H.264 access unit, already PTS/DTS-stamped by the
// RTSP ingest adapter. sps/pps reflect the parameter set active for this
// sample; a change from the previous call forces a segment boundary and
// invalidates the cached init.mp4.
func (m *Muxer) WriteH264(
	ntp time.Time,
	dts, pts mp4time.UnixH264,
	avcc []byte,
	idrPresent bool,
	sps, pps []byte,
) error {
	if idrPresent && (len(sps) > 0 || len(pps) > 0) {
		m.mutex.Lock()
		if len(sps) > 0 {
			m.params.SPS = sps
		}
		if len(pps) > 0 {
			m.params.PPS = pps
		}
		m.mutex.Unlock()
	}
	return m.segmenter.writeH264(ntp, dts, pts, avcc, idrPresent, sps)
}

// File returns a file response for the given HLS resource name, dispatching
// to the primary playlist, init.mp4, or the media playlist/segment/part
// actor the way hls.rs's HlsMuxer::file does.
func (m *Muxer) File(
	name string,
	msn string,
	part string,
	skip string,
) *MuxerFileResponse {
	if name == "index.m3u8" {
		m.mutex.Lock()
		params := m.params
		m.mutex.Unlock()
		return primaryPlaylist(params)
	}

	if name == "init.mp4" {
		m.mutex.Lock()
		defer m.mutex.Unlock()

		if m.initContent == nil ||
			!bytes.Equal(m.initContentSPS, m.params.SPS) ||
			!bytes.Equal(m.initContentPPS, m.params.PPS) {
			m.initContent = generateInit(m.params)
			m.initContentSPS = m.params.SPS
			m.initContentPPS = m.params.PPS
		}

		return &MuxerFileResponse{
			Status: http.StatusOK,
			Header: map[string]string{
				"Content-Type": "video/mp4",
			},
			Body: bytes.NewReader(m.initContent),
		}
	}

	return m.playlist.file(name, msn, part, skip)
}

// Params returns the track parameters currently in effect.
func (m *Muxer) Params() TrackParameters {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.params
}

// WaitForSegFinalized blocks until a new segment has been finalized.
func (m *Muxer) WaitForSegFinalized() {
	m.playlist.waitForSegFinalized()
}

// NextSegment returns the first segment with an ID greater than prevID.
// Will wait for new segments if the next segment isn't cached.
func (m *Muxer) NextSegment(prevID uint64) (*SegmentFinalized, error) {
	return m.playlist.nextSegment(prevID)
}
