package eventdb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"nvr/pkg/common"
)

// Wire format, little-endian, one record per recording-trigger event:
//
//	record {
//	    recordLen  uint32          // length of everything after this field
//	    time       int64           // UnixNano
//	    duration   int64           // nanoseconds
//	    source     [sourceLen]byte // zero-padded
//	    detCount   uint16
//	    detections []detection
//	}
//
//	detection {
//	    label    [labelLen]byte // zero-padded
//	    score    float32
//	    kind     uint8 // 0 = none, 1 = rectangle, 2 = polygon
//	    ... kind-specific fields
//	}
//
//	rectangle { x, y, width, height uint32 }
//	polygon   { count uint16; points []struct{ x, y uint32 } }
const (
	sourceLen = 7
	labelLen  = 64
)

var errRecordTruncated = errors.New("eventdb: truncated record")

func encodeEvent(buf *bytes.Buffer, event common.Event) error {
	body := &bytes.Buffer{}

	if err := binary.Write(body, binary.LittleEndian, event.Time.UnixNano()); err != nil {
		return err
	}
	if err := binary.Write(body, binary.LittleEndian, int64(event.Duration)); err != nil {
		return err
	}

	var source [sourceLen]byte
	copy(source[:], event.Source)
	if _, err := body.Write(source[:]); err != nil {
		return err
	}

	if err := binary.Write(body, binary.LittleEndian, uint16(len(event.Detections))); err != nil {
		return err
	}

	for _, det := range event.Detections {
		var label [labelLen]byte
		copy(label[:], det.Label)
		if _, err := body.Write(label[:]); err != nil {
			return err
		}
		if err := binary.Write(body, binary.LittleEndian, det.Score); err != nil {
			return err
		}
		if err := encodeRegion(body, det.Region); err != nil {
			return err
		}
	}

	if err := binary.Write(buf, binary.LittleEndian, uint32(body.Len())); err != nil {
		return err
	}
	_, err := buf.Write(body.Bytes())
	return err
}

func encodeRegion(w io.Writer, region common.Region) error {
	switch {
	case region.Rectangle != nil:
		if err := binary.Write(w, binary.LittleEndian, uint8(1)); err != nil {
			return err
		}
		r := region.Rectangle
		return binary.Write(w, binary.LittleEndian, [4]uint32{r.X, r.Y, r.Width, r.Height})

	case region.Polygon != nil:
		if err := binary.Write(w, binary.LittleEndian, uint8(2)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint16(len(region.Polygon))); err != nil {
			return err
		}
		for _, p := range region.Polygon {
			if err := binary.Write(w, binary.LittleEndian, [2]uint32{p.X, p.Y}); err != nil {
				return err
			}
		}
		return nil

	default:
		return binary.Write(w, binary.LittleEndian, uint8(0))
	}
}

// decodeAll decodes every record in buf, in file order (oldest first).
func decodeAll(buf []byte) ([]common.Event, error) {
	var events []common.Event
	r := bytes.NewReader(buf)

	for r.Len() > 0 {
		if r.Len() < 4 {
			return nil, errRecordTruncated
		}
		var recordLen uint32
		if err := binary.Read(r, binary.LittleEndian, &recordLen); err != nil {
			return nil, err
		}
		if r.Len() < int(recordLen) {
			return nil, errRecordTruncated
		}

		body := make([]byte, recordLen)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}

		event, err := decodeEvent(body)
		if err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, event)
	}

	return events, nil
}

func decodeEvent(body []byte) (common.Event, error) {
	r := bytes.NewReader(body)

	var timeNano, durationNano int64
	if err := binary.Read(r, binary.LittleEndian, &timeNano); err != nil {
		return common.Event{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &durationNano); err != nil {
		return common.Event{}, err
	}

	var source [sourceLen]byte
	if _, err := io.ReadFull(r, source[:]); err != nil {
		return common.Event{}, err
	}

	var detCount uint16
	if err := binary.Read(r, binary.LittleEndian, &detCount); err != nil {
		return common.Event{}, err
	}

	detections := make([]common.Detection, 0, detCount)
	for i := uint16(0); i < detCount; i++ {
		var label [labelLen]byte
		if _, err := io.ReadFull(r, label[:]); err != nil {
			return common.Event{}, err
		}

		var score float32
		if err := binary.Read(r, binary.LittleEndian, &score); err != nil {
			return common.Event{}, err
		}

		region, err := decodeRegion(r)
		if err != nil {
			return common.Event{}, err
		}

		detections = append(detections, common.Detection{
			Label:  common.Label(bytes.TrimRight(label[:], "\x00")),
			Score:  score,
			Region: region,
		})
	}

	return common.Event{
		Time:       time.Unix(0, timeNano),
		Duration:   time.Duration(durationNano),
		Detections: detections,
		Source:     common.EventSource(bytes.TrimRight(source[:], "\x00")),
	}, nil
}

func decodeRegion(r *bytes.Reader) (common.Region, error) {
	var kind uint8
	if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
		return common.Region{}, err
	}

	switch kind {
	case 1:
		var vals [4]uint32
		if err := binary.Read(r, binary.LittleEndian, &vals); err != nil {
			return common.Region{}, err
		}
		return common.Region{Rectangle: &common.RectangleNormalized{
			X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3],
		}}, nil

	case 2:
		var count uint16
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return common.Region{}, err
		}
		points := make([]common.PointNormalized, count)
		for i := range points {
			var vals [2]uint32
			if err := binary.Read(r, binary.LittleEndian, &vals); err != nil {
				return common.Region{}, err
			}
			points[i] = common.PointNormalized{X: vals[0], Y: vals[1]}
		}
		return common.Region{Polygon: points}, nil

	default:
		return common.Region{}, nil
	}
}
