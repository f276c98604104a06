package video

import "github.com/pion/rtp"

// reader is an entity that can read a stream.
type reader interface {
	close()
	onReaderAccepted()
	onReaderPacketRTP(trackID int, pkt *rtp.Packet)
}

type closer interface {
	close()
}
