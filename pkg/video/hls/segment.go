package hls

import (
	"errors"
	"io"
	"strconv"
	"time"

	"nvr/pkg/video/mp4time"
)

// partsReader sequentially reads the rendered content of a segment's parts,
// in order, presenting them as one contiguous byte stream.
type partsReader struct {
	parts   []*MuxerPart
	curPart int
	curPos  int
}

func (r *partsReader) Read(p []byte) (int, error) {
	n := 0
	want := len(p)

	for {
		if r.curPart >= len(r.parts) {
			return n, io.EOF
		}

		copied := copy(p[n:], r.parts[r.curPart].renderedContent[r.curPos:])
		r.curPos += copied
		n += copied

		if r.curPos == len(r.parts[r.curPart].renderedContent) {
			r.curPart++
			r.curPos = 0
		}

		if n == want {
			return n, nil
		}
	}
}

// ErrMaximumSegmentSize is returned by writeH264 when appending the sample
// would exceed segmentMaxSize.
var ErrMaximumSegmentSize = errors.New("hls: reached maximum segment size")

// Segment groups parts, enforces the size ceiling, and drives part
// switching on target duration (Component D). Mutable until finalize().
type Segment struct {
	ID             uint64
	MuxerID        uint16
	StartTime      time.Time
	startDTS       mp4time.UnixH264
	segmentMaxSize uint64
	genPartID      func() uint64
	onPartFinalized func(*MuxerPart)

	name             string
	size             uint64
	Parts            []*MuxerPart
	currentPart      *MuxerPart
	RenderedDuration mp4time.DurationH264
}

func newSegment(
	id uint64,
	muxerID uint16,
	startTime time.Time,
	startDTS mp4time.UnixH264,
	segmentMaxSize uint64,
	genPartID func() uint64,
	onPartFinalized func(*MuxerPart),
) *Segment {
	s := &Segment{
		ID:              id,
		MuxerID:         muxerID,
		StartTime:       startTime,
		startDTS:        startDTS,
		segmentMaxSize:  segmentMaxSize,
		genPartID:       genPartID,
		onPartFinalized: onPartFinalized,
		name:            "seg" + strconv.FormatUint(id, 10),
	}
	s.currentPart = newPart(s.genPartID())
	return s
}

func (s *Segment) reader() io.Reader {
	return &partsReader{parts: s.Parts}
}

func (s *Segment) getRenderedDuration() mp4time.DurationH264 {
	return s.RenderedDuration
}

// writeH264 implements the Open(size, current_part) state machine of
// spec.md §4.D: size-check, append, and roll the part once its duration
// reaches adjustedPartDuration.
func (s *Segment) writeH264(sample *VideoSample, adjustedPartDuration mp4time.DurationH264) error {
	size := uint64(len(sample.AVCC))

	if (s.size + size) > s.segmentMaxSize {
		return ErrMaximumSegmentSize
	}

	s.currentPart.writeH264(sample)
	s.size += size

	if s.currentPart.duration() >= adjustedPartDuration {
		s.currentPart.finalize()
		if s.currentPart.renderedContent != nil {
			s.Parts = append(s.Parts, s.currentPart)
			s.onPartFinalized(s.currentPart)
		}
		s.currentPart = newPart(s.genPartID())
	}

	return nil
}

// ErrCalculateDuration is returned by finalize when the computed segment
// duration is not strictly positive.
var ErrCalculateDuration = errors.New("hls: segment duration must be positive")

// SegmentFinalized is the immutable, published form of a Segment.
type SegmentFinalized struct {
	ID        uint64
	MuxerID   uint16
	StartTime time.Time
	name      string
	Parts     []*MuxerPart
	Duration  mp4time.DurationH264
}

func (s *SegmentFinalized) getRenderedDuration() mp4time.DurationH264 {
	return s.Duration
}

func (s *SegmentFinalized) reader() io.Reader {
	return &partsReader{parts: s.Parts}
}

// finalize finalizes the trailing part (publishing it only if non-empty),
// computes duration = nextSampleDTS - startDTS, and produces a
// SegmentFinalized. Fails ErrCalculateDuration on a non-positive result.
func (s *Segment) finalize(nextSampleDTS mp4time.UnixH264) (*SegmentFinalized, error) {
	s.currentPart.finalize()
	if s.currentPart.renderedContent != nil {
		s.onPartFinalized(s.currentPart)
		s.Parts = append(s.Parts, s.currentPart)
	}
	s.currentPart = nil

	duration, err := nextSampleDTS.Sub(s.startDTS)
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		return nil, ErrCalculateDuration
	}
	s.RenderedDuration = duration

	return &SegmentFinalized{
		ID:        s.ID,
		MuxerID:   s.MuxerID,
		StartTime: s.StartTime,
		name:      s.name,
		Parts:     s.Parts,
		Duration:  duration,
	}, nil
}
