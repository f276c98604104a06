package customformat

import (
	"fmt"
	"io"
	"nvr/pkg/video/hls"
)

// Writer writes videos in our custom format.
type Writer struct {
	meta io.Writer // Output file.
	mdat io.Writer // Output file.

	mdatPos int
}

// NewWriter creates a new Writer and writes the header.
func NewWriter(meta io.Writer, mdat io.Writer, header Header) (*Writer, error) {
	w := &Writer{
		meta: meta,
		mdat: mdat,
	}

	_, err := meta.Write(header.Marshal())
	if err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	return w, nil
}

// WriteSegment writes a finalized HLS segment in the custom format to the
// output files. Samples are already in presentation order within each part.
func (w *Writer) WriteSegment(segment *hls.SegmentFinalized) error {
	for _, part := range segment.Parts {
		for _, sample := range part.VideoSamples() {
			if err := w.writeVideoSample(sample); err != nil {
				return fmt.Errorf("write video sample: %w", err)
			}
		}
	}
	return nil
}

func (w *Writer) writeVideoSample(sample *hls.VideoSample) error {
	s := Sample{
		IsSyncSample: sample.IdrPresent,
		PTS:          int64(sample.PTS),
		DTS:          int64(sample.DTS),
		Next:         int64(sample.NextDTS),
		Offset:       uint32(w.mdatPos),
		Size:         uint32(len(sample.AVCC)),
	}
	marshaled := s.Marshal()

	n, err := w.mdat.Write(sample.AVCC)
	if err != nil {
		return err
	}
	w.mdatPos += n

	_, err = w.meta.Write(marshaled)
	if err != nil {
		return err
	}

	return nil
}
