package mp4streamer

import (
	"context"

	"nvr/pkg/log"
	"nvr/pkg/video/hls"
	"nvr/pkg/video/mp4time"
)

// sessionQueueSize bounds the per-session fragment queue. Once full the
// writer drops the oldest queued fragment rather than blocking; the
// session is then marked to skip ahead to the next IDR fragment, mirroring
// how a late client resyncs on a decoder reset.
const sessionQueueSize = 120

// ringSize bounds how many fragments since the last IDR the muxer keeps
// around, so a session that starts mid-GOP can be seeded immediately
// instead of waiting out the rest of the GOP in silence.
const ringSize = 300

// Muxer is the live fMP4 muxer for one (monitor, sub-stream) pair: owns
// init.mp4, a ring of recent fragments, and the set of sessions currently
// reading from it. Reached only through its actor goroutine.
type Muxer struct {
	id       uint16
	cancelFn context.CancelFunc
	logf     log.Func
	done     chan struct{}

	chWrite        chan *hls.VideoSample
	chStartSession chan sessStartReq
	chPlaySession  chan sessPlayReq

	// immutable after construction
	initContent []byte
	startTime   mp4time.UnixH264
}

type sessStartReq struct {
	id  uint32
	res chan StartSessionResult
}

type sessPlayReq struct {
	id  uint32
	res chan PlayResult
}

type session struct {
	frames        chan []byte
	waitingForIDR bool
}

func newMuxer(
	ctx context.Context,
	id uint16,
	params hls.TrackParameters,
	startTime mp4time.UnixH264,
	firstFrame *hls.VideoSample,
	logf log.Func,
) *Muxer {
	muxerCtx, cancel := context.WithCancel(ctx)

	m := &Muxer{
		id:             id,
		cancelFn:       cancel,
		logf:           logf,
		done:           make(chan struct{}),
		chWrite:        make(chan *hls.VideoSample),
		chStartSession: make(chan sessStartReq),
		chPlaySession:  make(chan sessPlayReq),
		initContent:    hls.GenerateInit(params),
		startTime:      startTime,
	}

	go m.run(muxerCtx, firstFrame)
	return m
}

func (m *Muxer) run(ctx context.Context, firstFrame *hls.VideoSample) {
	defer close(m.done)

	sessions := map[uint32]*session{}
	var ring []renderedFragment

	if firstFrame != nil {
		ring = append(ring, renderFragment(firstFrame))
	}

	for {
		select {
		case <-ctx.Done():
			for _, sess := range sessions {
				close(sess.frames)
			}
			return

		case sample := <-m.chWrite:
			frag := renderFragment(sample)
			if sample.IdrPresent {
				ring = []renderedFragment{frag}
			} else if len(ring) < ringSize {
				ring = append(ring, frag)
			}

			for id, sess := range sessions {
				if m.deliver(sess, frag) {
					m.logf(log.LevelWarning, "mp4streamer: muxer %d session %d dropped a fragment, waiting for next IDR", m.id, id)
				}
			}

		case req := <-m.chStartSession:
			sess := &session{
				frames:        make(chan []byte, sessionQueueSize),
				waitingForIDR: true,
			}
			for _, frag := range ring {
				m.deliver(sess, frag)
			}
			sessions[req.id] = sess
			req.res <- StartSessionResult{FirstFrameTime: m.startTime}

		case req := <-m.chPlaySession:
			sess, ok := sessions[req.id]
			if !ok {
				req.res <- PlayResult{MuxerNotExist: true}
				continue
			}
			req.res <- PlayResult{Frames: m.playFrames(ctx, sess)}
		}
	}
}

// renderedFragment is one moof+mdat fragment plus whether it starts a GOP.
type renderedFragment struct {
	content []byte
	isIDR   bool
}

func renderFragment(sample *hls.VideoSample) renderedFragment {
	return renderedFragment{
		content: hls.GenerateFragment([]*hls.VideoSample{sample}),
		isIDR:   sample.IdrPresent,
	}
}

// deliver pushes frag to sess, dropping the oldest queued fragment first
// if the queue is full rather than blocking the writer. A session that had
// to drop resyncs by discarding every fragment until the next IDR. Returns
// true if a fragment was dropped to make room.
func (m *Muxer) deliver(sess *session, frag renderedFragment) bool {
	if sess.waitingForIDR && !frag.isIDR {
		return false
	}
	sess.waitingForIDR = false

	select {
	case sess.frames <- frag.content:
		return false
	default:
	}

	select {
	case <-sess.frames:
	default:
	}
	select {
	case sess.frames <- frag.content:
	default:
	}
	sess.waitingForIDR = true
	return true
}

// playFrames streams initContent followed by sess.frames on a
// caller-owned channel, closing it when ctx (the muxer's) is done or the
// session's channel is closed.
func (m *Muxer) playFrames(ctx context.Context, sess *session) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		select {
		case out <- m.initContent:
		case <-ctx.Done():
			return
		}
		for {
			select {
			case frag, ok := <-sess.frames:
				if !ok {
					return
				}
				select {
				case out <- frag:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// cancel tears the muxer down, closing every session's stream.
func (m *Muxer) cancel() {
	m.cancelFn()
}

func (m *Muxer) startSession(id uint32) StartSessionResult {
	res := make(chan StartSessionResult, 1)
	select {
	case m.chStartSession <- sessStartReq{id: id, res: res}:
	case <-m.done:
		return StartSessionResult{MuxerNotExist: true}
	}
	select {
	case r := <-res:
		return r
	case <-m.done:
		return StartSessionResult{MuxerNotExist: true}
	}
}

func (m *Muxer) play(id uint32) PlayResult {
	res := make(chan PlayResult, 1)
	select {
	case m.chPlaySession <- sessPlayReq{id: id, res: res}:
	case <-m.done:
		return PlayResult{MuxerCancelled: true}
	}
	select {
	case r := <-res:
		return r
	case <-m.done:
		return PlayResult{MuxerCancelled: true}
	}
}

// H264Writer feeds access units into a live muxer. Returned by
// Streamer.NewMuxer alongside the Muxer itself, mirroring how the LL-HLS
// segmenter is fed in pkg/video/hls.
type H264Writer struct {
	muxer *Muxer
}

// WriteH264 hands sample to the muxer's actor. It never blocks the caller
// on a full session queue — only on the actor's own request channel,
// which drains in O(1) per sample.
func (w *H264Writer) WriteH264(sample *hls.VideoSample) {
	select {
	case w.muxer.chWrite <- sample:
	case <-w.muxer.done:
	}
}
