package hls

// GenerateInit builds the ftyp+moov init segment for params. Exported so
// the live streamer (Component G) can serve the same init.mp4 bytes as the
// LL-HLS muxer without duplicating the box tree.
func GenerateInit(params TrackParameters) []byte {
	return generateInit(params)
}

// GenerateFragment renders samples as a standalone moof+mdat fragment.
// Exported for the live streamer, which pushes one fragment per sample
// rather than batching samples into LL-HLS parts.
func GenerateFragment(samples []*VideoSample) []byte {
	return generatePart(samples)
}
