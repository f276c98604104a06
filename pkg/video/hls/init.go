package hls

import (
	"nvr/pkg/video/mp4"
	"nvr/pkg/video/mp4time"
)

// generateInit builds the `ftyp`+`moov` payload served once per stream as
// init.mp4. Brand and box tree are normative for LL-HLS client compatibility
// (Safari native, hls.js): `iso5` major brand, `avc1` compatible, a single
// video track with an `avc1` sample entry carrying `avcC` built from the
// SPS/PPS captured in TrackParameters.
func generateInit(params TrackParameters) []byte { //nolint:funlen
	/*
		ftyp
		moov
		  mvhd
		  trak (video)
		    tkhd
		    mdia
		      mdhd
		      hdlr
		      minf
		        vmhd
		        dinf
		          dref
		            url
		        stbl
		          stsd
		            avc1
		              avcC
		              btrt
		          stts
		          stsc
		          stsz
		          stco
		  mvex
		    trex (video)
	*/

	ftyp := mp4.Boxes{
		Box: &mp4.Ftyp{
			MajorBrand:   [4]byte{'i', 's', 'o', '5'},
			MinorVersion: 512,
			CompatibleBrands: []mp4.CompatibleBrandElem{
				{CompatibleBrand: [4]byte{'i', 's', 'o', '5'}},
				{CompatibleBrand: [4]byte{'a', 'v', 'c', '1'}},
			},
		},
	}

	stbl := mp4.Boxes{
		Box: &mp4.Stbl{},
		Children: []mp4.Boxes{
			{
				Box: &mp4.Stsd{EntryCount: 1},
				Children: []mp4.Boxes{
					{
						Box: &mp4.Avc1{
							SampleEntry: mp4.SampleEntry{
								DataReferenceIndex: 1,
							},
							Width:           uint16(params.Width),
							Height:          uint16(params.Height),
							Horizresolution: 4718592,
							Vertresolution:  4718592,
							FrameCount:      1,
							Depth:           24,
							PreDefined3:     -1,
						},
						Children: []mp4.Boxes{
							{Box: &mp4.AvcC{
								ConfigurationVersion:       1,
								Profile:                    avcProfile(params.SPS),
								ProfileCompatibility:       avcProfileCompat(params.SPS),
								Level:                      avcLevel(params.SPS),
								LengthSizeMinusOne:         3,
								NumOfSequenceParameterSets: 1,
								SequenceParameterSets: []mp4.AVCParameterSet{
									{Length: uint16(len(params.SPS)), NALUnit: params.SPS},
								},
								NumOfPictureParameterSets: 1,
								PictureParameterSets: []mp4.AVCParameterSet{
									{Length: uint16(len(params.PPS)), NALUnit: params.PPS},
								},
							}},
							{Box: &mp4.Btrt{
								MaxBitrate: 1000000,
								AvgBitrate: 1000000,
							}},
						},
					},
				},
			},
			{Box: &mp4.Stts{}},
			{Box: &mp4.Stsc{}},
			{Box: &mp4.Stsz{}},
			{Box: &mp4.Stco{}},
		},
	}

	minf := mp4.Boxes{
		Box: &mp4.Minf{},
		Children: []mp4.Boxes{
			{Box: &mp4.Vmhd{FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 1}}}},
			{
				Box: &mp4.Dinf{},
				Children: []mp4.Boxes{
					{
						Box: &mp4.Dref{EntryCount: 1},
						Children: []mp4.Boxes{
							{Box: &mp4.Url{FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 1}}}},
						},
					},
				},
			},
			stbl,
		},
	}

	const videoTrackID = 1

	trak := mp4.Boxes{
		Box: &mp4.Trak{},
		Children: []mp4.Boxes{
			{
				Box: &mp4.Tkhd{
					FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 3}},
					TrackID: videoTrackID,
					Width:   uint32(params.Width * 65536),
					Height:  uint32(params.Height * 65536),
					Matrix:  [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000},
				},
			},
			{
				Box: &mp4.Mdia{},
				Children: []mp4.Boxes{
					{Box: &mp4.Mdhd{
						Timescale: mp4time.VideoTimescale,
						Language:  [3]byte{'u', 'n', 'd'},
					}},
					{Box: &mp4.Hdlr{
						HandlerType: [4]byte{'v', 'i', 'd', 'e'},
						Name:        "VideoHandler",
					}},
					minf,
				},
			},
		},
	}

	mvex := mp4.Boxes{
		Box: &mp4.Mvex{},
		Children: []mp4.Boxes{
			{Box: &mp4.Trex{
				TrackID:                       videoTrackID,
				DefaultSampleDescriptionIndex: 1,
			}},
		},
	}

	moov := mp4.Boxes{
		Box: &mp4.Moov{},
		Children: []mp4.Boxes{
			{Box: &mp4.Mvhd{
				Timescale:   1000,
				Rate:        65536,
				Volume:      256,
				Matrix:      [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000},
				NextTrackID: 2,
			}},
			trak,
			mvex,
		},
	}

	size := ftyp.Size() + moov.Size()
	buf := make([]byte, size)
	pos := 0
	ftyp.Marshal(buf, &pos)
	moov.Marshal(buf, &pos)
	return buf
}

func avcProfile(sps []byte) uint8 {
	if len(sps) < 2 {
		return 0
	}
	return sps[1]
}

func avcProfileCompat(sps []byte) uint8 {
	if len(sps) < 3 {
		return 0
	}
	return sps[2]
}

func avcLevel(sps []byte) uint8 {
	if len(sps) < 4 {
		return 0
	}
	return sps[3]
}
