package customformat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"nvr/pkg/video/gortsplib"
)

// Header meta file header. Audio is out of scope (spec.md Non-goal), so the
// format only ever carries a single H.264 video track.
type Header struct {
	VideoSPS  []byte
	VideoPPS  []byte
	StartTime int64 // UnixNano.
}

// Size marshaled size.
func (h *Header) Size() int {
	return 13 + len(h.VideoSPS) + len(h.VideoPPS)
}

// Marshal header.
func (h Header) Marshal() []byte {
	out := make([]byte, h.Size())
	pos := 0

	const version = 0
	out[pos] = version
	pos++

	// Video sps.
	marshalArray(out, &pos, h.VideoSPS)

	// Video pps.
	marshalArray(out, &pos, h.VideoPPS)

	// Start time.
	binary.BigEndian.PutUint64(out[pos:pos+8], uint64(h.StartTime))
	pos += 8

	return out
}

func marshalArray(out []byte, pos *int, value []byte) {
	size := len(value)
	binary.BigEndian.PutUint16(out[*pos:*pos+2], uint16(size))
	*pos += 2

	copy(out[*pos:*pos+size], value)
	*pos += size
}

// ErrUnsupportedVersion unsupported version.
var ErrUnsupportedVersion = errors.New("unsupported version")

// Unmarshal header from reader.
func (h *Header) Unmarshal(r io.Reader) (int, error) {
	read := 0

	version := make([]byte, 1)
	n, err := io.ReadFull(r, version)
	if err != nil {
		return 0, err
	}
	if version[0] != 0 {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version[0])
	}
	read += n

	// Video sps.
	n, err = unmarshalArray(r, &h.VideoSPS)
	if err != nil {
		return 0, err
	}
	read += n

	// Video pps.
	n, err = unmarshalArray(r, &h.VideoPPS)
	if err != nil {
		return 0, err
	}
	read += n

	// Start time.
	startTime := make([]byte, 8)
	n, err = io.ReadFull(r, startTime)
	if err != nil {
		return 0, err
	}
	h.StartTime = int64(binary.BigEndian.Uint64(startTime))
	read += n

	return read, nil
}

func unmarshalArray(r io.Reader, value *[]byte) (int, error) {
	read := 0

	sizeBuf := make([]byte, 2)
	n, err := io.ReadFull(r, sizeBuf)
	if err != nil {
		return 0, err
	}
	size := binary.BigEndian.Uint16(sizeBuf)
	read += n

	*value = make([]byte, size)
	n, err = io.ReadFull(r, *value)
	if err != nil {
		return 0, err
	}
	read += n

	return read, nil
}

// GetTrack returns the video track described by the header.
func (h Header) GetTrack() *gortsplib.TrackH264 {
	return &gortsplib.TrackH264{SPS: h.VideoSPS, PPS: h.VideoPPS}
}
