package hls

import (
	"bytes"
	"io"
	"strconv"

	"nvr/pkg/video/mp4"
	"nvr/pkg/video/mp4time"
)

// videoMdat is the raw-AVCC mdat body of a rendered part; adapted from the
// teacher's myMdat but video-only (audio tracks are out of scope).
type videoMdat struct {
	samples []*VideoSample
}

func (*videoMdat) Type() mp4.BoxType {
	return [4]byte{'m', 'd', 'a', 't'}
}

func (b *videoMdat) Size() int {
	total := 0
	for _, e := range b.samples {
		total += len(e.AVCC)
	}
	return total
}

func (b *videoMdat) Marshal(buf []byte, pos *int) {
	for _, e := range b.samples {
		mp4.Write(buf, pos, e.AVCC)
	}
}

func generateVideoTraf(trackID int, samples []*VideoSample, dataOffset int32) mp4.Boxes {
	/*
	   traf
	   - tfhd
	   - tfdt
	   - trun
	*/
	tfhd := &mp4.Tfhd{
		FullBox: mp4.FullBox{Flags: [3]byte{2, 0, 0}},
		TrackID: uint32(trackID),
	}

	tfdt := &mp4.Tfdt{
		FullBox:               mp4.FullBox{Version: 1},
		BaseMediaDecodeTimeV1: uint64(samples[0].DTS),
	}

	flags := mp4.TrunDataOffsetPresent |
		mp4.TrunSampleDurationPresent |
		mp4.TrunSampleSizePresent |
		mp4.TrunSampleFlagsPresent |
		mp4.TrunSampleCompositionTimeOffsetPresent
	trun := &mp4.Trun{
		FullBox: mp4.FullBox{
			Version: 1,
			Flags:   [3]byte{0, byte(flags >> 8), byte(flags)},
		},
		SampleCount: uint32(len(samples)),
		DataOffset:  dataOffset,
	}

	trun.Entries = make([]mp4.TrunEntry, len(samples))
	for i, e := range samples {
		off := e.PTS - e.DTS

		sampleFlags := uint32(0)
		if !e.IdrPresent {
			sampleFlags |= 1 << 16 // sample_is_non_sync_sample
		}
		trun.Entries[i] = mp4.TrunEntry{
			SampleDuration:                uint32(e.duration()),
			SampleSize:                    uint32(len(e.AVCC)),
			SampleFlags:                   sampleFlags,
			SampleCompositionTimeOffsetV1: int32(off),
		}
	}

	return mp4.Boxes{
		Box: &mp4.Traf{},
		Children: []mp4.Boxes{
			{Box: tfhd},
			{Box: tfdt},
			{Box: trun},
		},
	}
}

// generatePart renders one LL-HLS part as moof+mdat.
func generatePart(samples []*VideoSample) []byte {
	/*
	   moof
	   - mfhd
	   - traf (video)
	   mdat
	*/
	moof := mp4.Boxes{
		Box: &mp4.Moof{},
		Children: []mp4.Boxes{
			{Box: &mp4.Mfhd{SequenceNumber: 0}},
		},
	}

	const mfhdOffset = 24
	videoTrunSize := len(samples)*16 + 20
	mdatOffset := mfhdOffset + videoTrunSize + 44

	const videoTrackID = 1
	videoDataOffset := int32(mdatOffset + 8)
	moof.Children = append(moof.Children, generateVideoTraf(videoTrackID, samples, videoDataOffset))

	mdat := &mp4.Boxes{Box: &videoMdat{samples: samples}}

	size := moof.Size() + mdat.Size()
	buf := make([]byte, size)
	pos := 0
	moof.Marshal(buf, &pos)
	mdat.Marshal(buf, &pos)
	return buf
}

func partName(id uint64) string {
	return "part" + strconv.FormatUint(id, 10)
}

// MuxerPart buffers samples of one LL-HLS sub-segment (Component C).
// Mutable until finalize(), after which renderedContent/renderedDuration
// are immutable and the part is safe to read from multiple goroutines.
type MuxerPart struct {
	id uint64

	isIndependent    bool
	videoSamples     []*VideoSample
	renderedContent  []byte
	renderedDuration mp4time.DurationH264
}

func newPart(id uint64) *MuxerPart {
	return &MuxerPart{id: id}
}

func (p *MuxerPart) name() string {
	return partName(p.id)
}

func (p *MuxerPart) reader() io.Reader {
	return bytes.NewReader(p.renderedContent)
}

// duration is last.dts+last.duration-first.dts, i.e. the DTS delta across
// the buffered samples. Zero if empty.
func (p *MuxerPart) duration() mp4time.DurationH264 {
	var total mp4time.DurationH264
	for _, e := range p.videoSamples {
		total += e.duration()
	}
	return total
}

// finalize renders the part. If empty, renderedContent stays nil and
// renderedDuration stays zero — callers must not publish such a part.
// Idempotent: calling finalize twice is a no-op the second time since
// videoSamples is never mutated afterward.
func (p *MuxerPart) finalize() {
	if len(p.videoSamples) == 0 {
		return
	}
	p.renderedContent = generatePart(p.videoSamples)
	p.renderedDuration = p.duration()
}

// VideoSamples returns the part's buffered video samples.
func (p *MuxerPart) VideoSamples() []*VideoSample {
	return p.videoSamples
}

func (p *MuxerPart) writeH264(sample *VideoSample) {
	if sample.IdrPresent {
		p.isIndependent = true
	}
	p.videoSamples = append(p.videoSamples, sample)
}
