// Package mp4streamer is the live fMP4 streamer (Component G): a registry
// of per-monitor muxers that serve init.mp4 followed by a continuous run of
// moof+mdat fragments to a small number of live players, as an alternative
// to the LL-HLS path in pkg/video/hls. Concurrency follows the same
// single-goroutine-actor pattern as hls's playlist: each actor owns its
// mutable state and is reached only through request channels.
package mp4streamer

import (
	"context"

	"nvr/pkg/log"
	"nvr/pkg/video/hls"
	"nvr/pkg/video/mp4time"
)

// MonitorID identifies the camera a muxer belongs to.
type MonitorID string

type muxerKey struct {
	monitorID MonitorID
	subStream bool
}

// StartSessionResult is the outcome of Streamer.StartSession.
type StartSessionResult struct {
	StreamerCancelled bool
	MuxerNotExist     bool
	FirstFrameTime    mp4time.UnixH264
}

// PlayResult is the outcome of Streamer.Play. On success Frames yields
// init.mp4 as its first value, then one fragment per subsequent value,
// until the session, muxer or streamer is cancelled (at which point the
// channel is closed).
type PlayResult struct {
	StreamerCancelled bool
	MuxerNotExist     bool
	MuxerCancelled    bool
	Frames            <-chan []byte
}

// Streamer is the concurrent registry map<(MonitorID, subStream), *Muxer>.
// The zero value is not usable; construct with NewStreamer.
type Streamer struct {
	logf log.Func
	done chan struct{}

	chNewMuxer     chan newMuxerRequest
	chGetMuxer     chan getMuxerRequest
	chStartSession chan startSessionRequest
	chPlay         chan playRequest
}

type newMuxerRequest struct {
	ctx        context.Context
	key        muxerKey
	params     hls.TrackParameters
	startTime  mp4time.UnixH264
	firstFrame *hls.VideoSample
	res        chan *Muxer
}

type getMuxerRequest struct {
	key muxerKey
	res chan *Muxer
}

type startSessionRequest struct {
	key       muxerKey
	sessionID uint32
	res       chan StartSessionResult
}

type playRequest struct {
	key       muxerKey
	sessionID uint32
	res       chan PlayResult
}

// NewStreamer starts the registry actor. It shuts down and cancels every
// muxer it owns when ctx is done.
func NewStreamer(ctx context.Context, logf log.Func) *Streamer {
	s := &Streamer{
		logf:           logf,
		done:           make(chan struct{}),
		chNewMuxer:     make(chan newMuxerRequest),
		chGetMuxer:     make(chan getMuxerRequest),
		chStartSession: make(chan startSessionRequest),
		chPlay:         make(chan playRequest),
	}
	go s.run(ctx)
	return s
}

func (s *Streamer) run(ctx context.Context) {
	defer close(s.done)

	muxers := map[muxerKey]*Muxer{}
	muxerIDCount := uint16(0)

	for {
		select {
		case <-ctx.Done():
			for _, m := range muxers {
				m.cancel()
			}
			return

		case req := <-s.chNewMuxer:
			if old, ok := muxers[req.key]; ok {
				old.cancel()
			}
			muxerIDCount++
			m := newMuxer(req.ctx, muxerIDCount, req.params, req.startTime, req.firstFrame, s.logf)
			muxers[req.key] = m
			req.res <- m

		case req := <-s.chGetMuxer:
			req.res <- muxers[req.key]

		case req := <-s.chStartSession:
			m, ok := muxers[req.key]
			if !ok {
				req.res <- StartSessionResult{MuxerNotExist: true}
				continue
			}
			req.res <- m.startSession(req.sessionID)

		case req := <-s.chPlay:
			m, ok := muxers[req.key]
			if !ok {
				req.res <- PlayResult{MuxerNotExist: true}
				continue
			}
			req.res <- m.play(req.sessionID)
		}
	}
}

// NewMuxer cancels and replaces any existing muxer for (monitorID,
// subStream), then creates a new one. ctx bounds the new muxer's lifetime;
// it is additionally cancelled when the streamer itself shuts down.
// firstFrame is the initial IDR sample, the first sample of the muxer's
// first segment. ok is false only if the streamer itself is cancelled.
func (s *Streamer) NewMuxer(
	ctx context.Context,
	monitorID MonitorID,
	subStream bool,
	params hls.TrackParameters,
	startTime mp4time.UnixH264,
	firstFrame *hls.VideoSample,
) (muxer *Muxer, writer *H264Writer, ok bool) {
	res := make(chan *Muxer, 1)
	req := newMuxerRequest{
		ctx: ctx, key: muxerKey{monitorID, subStream},
		params: params, startTime: startTime, firstFrame: firstFrame,
		res: res,
	}
	select {
	case s.chNewMuxer <- req:
	case <-s.done:
		return nil, nil, false
	}
	select {
	case m := <-res:
		return m, &H264Writer{muxer: m}, true
	case <-s.done:
		return nil, nil, false
	}
}

// Muxer returns the muxer registered for (monitorID, subStream), or nil if
// none exists. ok is false if the streamer has been cancelled.
func (s *Streamer) Muxer(monitorID MonitorID, subStream bool) (muxer *Muxer, ok bool) {
	res := make(chan *Muxer, 1)
	req := getMuxerRequest{key: muxerKey{monitorID, subStream}, res: res}
	select {
	case s.chGetMuxer <- req:
	case <-s.done:
		return nil, false
	}
	select {
	case m := <-res:
		return m, true
	case <-s.done:
		return nil, false
	}
}

// StartSession registers a new session on the muxer for (monitorID,
// subStream), or reports why it could not.
func (s *Streamer) StartSession(monitorID MonitorID, subStream bool, sessionID uint32) StartSessionResult {
	res := make(chan StartSessionResult, 1)
	req := startSessionRequest{key: muxerKey{monitorID, subStream}, sessionID: sessionID, res: res}
	select {
	case s.chStartSession <- req:
	case <-s.done:
		return StartSessionResult{StreamerCancelled: true}
	}
	select {
	case r := <-res:
		return r
	case <-s.done:
		return StartSessionResult{StreamerCancelled: true}
	}
}

// Play begins streaming session's fragments. The caller should range over
// PlayResult.Frames until it closes.
func (s *Streamer) Play(monitorID MonitorID, subStream bool, sessionID uint32) PlayResult {
	res := make(chan PlayResult, 1)
	req := playRequest{key: muxerKey{monitorID, subStream}, sessionID: sessionID, res: res}
	select {
	case s.chPlay <- req:
	case <-s.done:
		return PlayResult{StreamerCancelled: true}
	}
	select {
	case r := <-res:
		return r
	case <-s.done:
		return PlayResult{StreamerCancelled: true}
	}
}
