package hls

import (
	"bytes"
	"time"

	"nvr/pkg/video/mp4time"
)

// partDurationIsCompatible reports whether partDuration is compatible with
// sampleDuration: iPhone iOS fails if a part's duration is less than 85% of
// the nearest multiple of the sample duration that covers partDuration.
func partDurationIsCompatible(partDuration, sampleDuration mp4time.DurationH264) bool {
	if sampleDuration <= 0 || sampleDuration > partDuration {
		return false
	}

	f := partDuration / sampleDuration
	if partDuration%sampleDuration != 0 {
		f++
	}
	f *= sampleDuration

	return partDuration > ((f * 85) / 100)
}

func partDurationIsCompatibleWithAll(
	partDuration mp4time.DurationH264,
	sampleDurations map[mp4time.DurationH264]struct{},
) bool {
	for sd := range sampleDurations {
		if !partDurationIsCompatible(partDuration, sd) {
			return false
		}
	}
	return true
}

// findCompatiblePartDuration implements the "part duration adjustment" of
// spec.md §4.D: search upward from minPartDuration for a duration compatible
// with every sample duration observed so far this segment.
func findCompatiblePartDuration(
	minPartDuration mp4time.DurationH264,
	sampleDurations map[mp4time.DurationH264]struct{},
) mp4time.DurationH264 {
	const ceiling = mp4time.DurationH264(5 * mp4time.VideoTimescale)
	const step = mp4time.DurationH264(mp4time.VideoTimescale / 200) // 5ms

	i := minPartDuration
	for ; i < ceiling; i += step {
		if partDurationIsCompatibleWithAll(i, sampleDurations) {
			break
		}
	}
	return i
}

// segmenter is the Component F adapter: consumes VideoSamples and drives
// Segment/Part (D/C), rolling segments on IDR boundaries at or past
// segmentDuration, or immediately on an SPS change.
type segmenter struct {
	muxerID         uint16
	segmentDuration mp4time.DurationH264
	partDuration    mp4time.DurationH264
	segmentMaxSize  uint64

	onSegmentFinalized func(*SegmentFinalized)
	onPartFinalized    func(*MuxerPart)

	videoFirstIDRReceived bool
	startDTS              mp4time.UnixH264
	videoSPS              []byte

	nextSegmentID         uint64
	nextPartID            uint64
	currentSegment        *Segment
	nextVideoSample       *VideoSample
	firstSegmentFinalized bool
	sampleDurations       map[mp4time.DurationH264]struct{}
	adjustedPartDuration  mp4time.DurationH264
}

func newSegmenter(
	muxerID uint16,
	segmentDuration mp4time.DurationH264,
	partDuration mp4time.DurationH264,
	segmentMaxSize uint64,
	onSegmentFinalized func(*SegmentFinalized),
	onPartFinalized func(*MuxerPart),
) *segmenter {
	return &segmenter{
		muxerID:            muxerID,
		segmentDuration:    segmentDuration,
		partDuration:       partDuration,
		segmentMaxSize:     segmentMaxSize,
		onSegmentFinalized: onSegmentFinalized,
		onPartFinalized:    onPartFinalized,
		nextSegmentID:      7, // Required by iOS.
		sampleDurations:    make(map[mp4time.DurationH264]struct{}),
	}
}

func (m *segmenter) genSegmentID() uint64 {
	id := m.nextSegmentID
	m.nextSegmentID++
	return id
}

func (m *segmenter) genPartID() uint64 {
	id := m.nextPartID
	m.nextPartID++
	return id
}

func (m *segmenter) adjustPartDuration(du mp4time.DurationH264) {
	if m.firstSegmentFinalized || du == 0 {
		return
	}
	if _, ok := m.sampleDurations[du]; !ok {
		m.sampleDurations[du] = struct{}{}
		m.adjustedPartDuration = findCompatiblePartDuration(m.partDuration, m.sampleDurations)
	}
}

// writeH264 accepts one access unit, already PTS/DTS-stamped by the ingest
// adapter (out of scope per spec.md §1). The first IDR received establishes
// startDTS = 0 for the stream's timeline; all later samples are offset
// relative to it.
func (m *segmenter) writeH264(
	ntp time.Time,
	dts, pts mp4time.UnixH264,
	avcc []byte,
	idrPresent bool,
	sps []byte,
) error {
	if !m.videoFirstIDRReceived {
		if !idrPresent {
			return nil // skip silently until we find one with an IDR
		}
		m.videoFirstIDRReceived = true
		m.videoSPS = sps
		m.startDTS = dts
		dts = 0
		pts -= m.startDTS
	} else {
		pts -= m.startDTS
		dts -= m.startDTS
	}

	return m.writeH264Entry(ntp, &VideoSample{
		PTS:        pts,
		DTS:        dts,
		AVCC:       avcc,
		IdrPresent: idrPresent,
	}, sps)
}

func (m *segmenter) writeH264Entry(ntp time.Time, sample *VideoSample, sps []byte) error { //nolint:funlen
	sample, m.nextVideoSample = m.nextVideoSample, sample
	if sample == nil {
		return nil
	}

	next := m.nextVideoSample
	sample.NextDTS = next.DTS

	if m.currentSegment == nil {
		m.currentSegment = newSegment(
			m.genSegmentID(),
			m.muxerID,
			ntp,
			sample.DTS,
			m.segmentMaxSize,
			m.genPartID,
			m.onPartFinalized,
		)
	}

	m.adjustPartDuration(sample.duration())

	if err := m.currentSegment.writeH264(sample, m.adjustedPartDuration); err != nil {
		return err
	}

	if !next.IdrPresent {
		return nil
	}

	spsChanged := !bytes.Equal(m.videoSPS, sps)
	elapsed, err := next.DTS.Sub(m.currentSegment.startDTS)
	if err != nil {
		return err
	}

	if elapsed >= m.segmentDuration || spsChanged {
		finalized, err := m.currentSegment.finalize(next.DTS)
		if err != nil {
			return err
		}
		if finalized != nil {
			m.onSegmentFinalized(finalized)
			m.firstSegmentFinalized = true
		}

		m.currentSegment = newSegment(
			m.genSegmentID(),
			m.muxerID,
			ntp,
			next.DTS,
			m.segmentMaxSize,
			m.genPartID,
			m.onPartFinalized,
		)

		if spsChanged {
			m.videoSPS = sps
			m.firstSegmentFinalized = false
			m.sampleDurations = make(map[mp4time.DurationH264]struct{})
		}
	}

	return nil
}
