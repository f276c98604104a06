package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"nvr/pkg/log"
	"nvr/pkg/video/gortsplib"
	"nvr/pkg/video/gortsplib/pkg/h264"
	"nvr/pkg/video/gortsplib/pkg/ringbuffer"
	"nvr/pkg/video/gortsplib/pkg/rtph264"
	"nvr/pkg/video/hls"
	"nvr/pkg/video/mp4time"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
)

// HLS muxer tuning. Neither the teacher nor its callers ever settled on
// configurable values for these (PathConf carries none), so they're fixed
// here: a ~6 second live window made of 1 second segments, with 200ms
// low-latency parts.
const (
	hlsSegmentCount   = 6
	hlsSegmentMaxSize = 50 * 1024 * 1024
)

var (
	hlsSegmentDuration = mp4time.DurationH264FromSeconds(1)
	hlsPartDuration    = mp4time.DurationH264FromSeconds(0.2)
)

type hlsMuxerResponse struct {
	status int
	header map[string]string
	body   io.Reader
}

type hlsMuxerRequest struct {
	path string
	file string
	msn  string
	part string
	skip string
	req  *http.Request
	res  chan hlsMuxerResponse
}

type hlsMuxerParent interface {
	onMuxerClose(*hlsMuxer)
}

type hlsMuxer struct {
	path            *path
	readBufferCount int
	wg              *sync.WaitGroup
	parent          hlsMuxerParent
	logger          *log.Logger

	ctx             context.Context
	ctxCancel       func()
	ringBuffer      *ringbuffer.RingBuffer
	videoTrackID    int
	lastRequestTime *int64
	muxer           *hls.Muxer
	requests        []hlsMuxerRequest

	// in
	request chan hlsMuxerRequest
}

func newHLSMuxer(
	parentCtx context.Context,
	pa *path,
	readBufferCount int,
	wg *sync.WaitGroup,
	parent hlsMuxerParent,
	logger *log.Logger,
) *hlsMuxer {
	ctx, ctxCancel := context.WithCancel(parentCtx)

	now := time.Now().Unix()

	m := &hlsMuxer{
		path:            pa,
		readBufferCount: readBufferCount,
		wg:              wg,
		parent:          parent,
		logger:          logger,
		ctx:             ctx,
		ctxCancel:       ctxCancel,
		videoTrackID:    -1,
		lastRequestTime: &now,
		request:         make(chan hlsMuxerRequest),
	}

	m.wg.Add(1)
	go m.run()

	return m
}

func (m *hlsMuxer) close() {
	m.ctxCancel()
}

func (m *hlsMuxer) logf(level log.Level, format string, args ...interface{}) {
	sendLogf(m.logger, *m.path.conf, level, "HLS", format, args...)
}

func (m *hlsMuxer) run() {
	defer m.wg.Done()

	innerCtx, innerCtxCancel := context.WithCancel(context.Background())
	innerReady := make(chan struct{})
	innerErr := make(chan error)
	go func() {
		innerErr <- m.runInner(innerCtx, innerReady)
	}()

	isReady := false

	err := func() error {
		for {
			select {
			case <-m.ctx.Done():
				innerCtxCancel()
				<-innerErr
				return context.Canceled

			case req := <-m.request:
				if isReady {
					req.res <- m.handleRequest(req)
				} else {
					m.requests = append(m.requests, req)
				}

			case <-innerReady:
				isReady = true
				for _, req := range m.requests {
					req.res <- m.handleRequest(req)
				}
				m.requests = nil

			case err := <-innerErr:
				innerCtxCancel()
				return err
			}
		}
	}()

	m.ctxCancel()

	for _, req := range m.requests {
		req.res <- hlsMuxerResponse{status: http.StatusNotFound}
	}

	m.parent.onMuxerClose(m)

	if err != nil && !errors.Is(err, context.Canceled) {
		m.logf(log.LevelError, "closed: %v", err)
	}
}

// Errors.
var (
	ErrTooManyTracks = errors.New("too many tracks")
	ErrNoVideoTrack  = errors.New("the stream doesn't contain a H264 track")
	ErrNoSPS         = errors.New("H264 track has no SPS")
)

func (m *hlsMuxer) runInner(innerCtx context.Context, innerReady chan struct{}) error {
	res := m.path.onReaderSetupPlay(pathReaderSetupPlayReq{
		author:   m,
		pathName: m.path.Name(),
	})
	if res.err != nil {
		return res.err
	}

	defer m.path.onReaderRemove(pathReaderRemoveReq{author: m})

	var videoTrack *gortsplib.TrackH264
	videoTrackID := -1
	var h264Decoder *rtph264.Decoder

	for i, track := range res.stream.tracks() {
		tt, ok := track.(*gortsplib.TrackH264)
		if !ok {
			continue
		}
		if videoTrack != nil {
			return fmt.Errorf("can't encode track %d with HLS: %w", i+1, ErrTooManyTracks)
		}

		videoTrack = tt
		videoTrackID = i
		h264Decoder = rtph264.NewDecoder()
	}

	if videoTrack == nil {
		return ErrNoVideoTrack
	}

	sps := videoTrack.SafeSPS()
	if sps == nil {
		return ErrNoSPS
	}

	var parsedSPS h264.SPS
	if err := parsedSPS.Unmarshal(sps); err != nil {
		return fmt.Errorf("parse SPS: %w", err)
	}

	var err error
	m.muxer, err = hls.NewMuxer(
		innerCtx,
		hlsSegmentCount,
		hlsSegmentDuration,
		hlsPartDuration,
		hlsSegmentMaxSize,
		func(level log.Level, format string, a ...interface{}) { m.logf(level, format, a...) },
		hls.TrackParameters{
			Width:  parsedSPS.Width(),
			Height: parsedSPS.Height(),
			SPS:    sps,
			PPS:    videoTrack.SafePPS(),
		},
	)
	if err != nil {
		return err
	}

	innerReady <- struct{}{}

	m.ringBuffer, err = ringbuffer.New(uint64(m.readBufferCount))
	if err != nil {
		return err
	}
	m.videoTrackID = videoTrackID

	m.path.onReaderPlay(pathReaderPlayReq{author: m})

	writerDone := make(chan error)
	go func() {
		for {
			item, ok := m.ringBuffer.Pull()
			if !ok {
				writerDone <- context.Canceled
				return
			}

			pkt := item.(*rtp.Packet) //nolint:forcetypeassert

			err := m.decodeAndWrite(pkt, videoTrack, h264Decoder)
			if err != nil {
				m.logf(log.LevelWarning, "unable to decode RTP packet: %v", err)
			}
		}
	}()

	select {
	case err := <-writerDone:
		return err

	case <-innerCtx.Done():
		m.ringBuffer.Close()
		<-writerDone
		return context.Canceled
	}
}

func (m *hlsMuxer) decodeAndWrite(
	pkt *rtp.Packet,
	videoTrack *gortsplib.TrackH264,
	h264Decoder *rtph264.Decoder,
) error {
	nalus, ptsDuration, err := h264Decoder.DecodeUntilMarker(pkt)
	if err != nil {
		if errors.Is(err, rtph264.ErrMorePacketsNeeded) ||
			errors.Is(err, rtph264.ErrNonStartingPacketAndNoPrevious) {
			return nil
		}
		return fmt.Errorf("unable to decode video track: %w", err)
	}

	idrPresent := false
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		if h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeIDR {
			idrPresent = true
			break
		}
	}

	avcc := h264.AVCCMarshal(nalus)

	pts, err := mp4time.DurationFromNanos(int64(ptsDuration))
	if err != nil {
		return fmt.Errorf("convert timestamp: %w", err)
	}

	err = m.muxer.WriteH264(
		time.Now(),
		mp4time.UnixH264(pts),
		mp4time.UnixH264(pts),
		avcc,
		idrPresent,
		videoTrack.SafeSPS(),
		videoTrack.SafePPS(),
	)
	if err != nil {
		return fmt.Errorf("unable to write segment: %w", err)
	}

	return nil
}

func (m *hlsMuxer) handleRequest(req hlsMuxerRequest) hlsMuxerResponse {
	atomic.StoreInt64(m.lastRequestTime, time.Now().Unix())

	name := req.file
	if name == "" {
		name = "index.m3u8"
	}

	r := m.muxer.File(name, req.msn, req.part, req.skip)
	if r == nil {
		return hlsMuxerResponse{status: http.StatusNotFound}
	}

	return hlsMuxerResponse{
		status: r.Status,
		header: r.Header,
		body:   r.Body,
	}
}

// onRequest is called by hlsServer (forwarded from ServeHTTP).
func (m *hlsMuxer) onRequest(req hlsMuxerRequest) {
	select {
	case m.request <- req:
	case <-m.ctx.Done():
		req.res <- hlsMuxerResponse{status: http.StatusNotFound}
	}
}

// WaitForSegFinalized implements IHLSMuxer.
func (m *hlsMuxer) WaitForSegFinalized() {
	m.muxer.WaitForSegFinalized()
}

// NextSegment implements IHLSMuxer.
func (m *hlsMuxer) NextSegment(prevID uint64) (*hls.SegmentFinalized, error) {
	return m.muxer.NextSegment(prevID)
}

// Params implements IHLSMuxer.
func (m *hlsMuxer) Params() hls.TrackParameters {
	return m.muxer.Params()
}

// onReaderAccepted implements reader.
func (m *hlsMuxer) onReaderAccepted() {
	m.logf(log.LevelInfo, "is converting to HLS")
}

// onReaderPacketRTP implements reader.
func (m *hlsMuxer) onReaderPacketRTP(trackID int, pkt *rtp.Packet) {
	if trackID != m.videoTrackID {
		return
	}
	m.ringBuffer.Push(pkt)
}
