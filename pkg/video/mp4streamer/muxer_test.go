package mp4streamer

import (
	"context"
	"testing"
	"time"

	"nvr/pkg/log"
	"nvr/pkg/video/hls"
	"nvr/pkg/video/mp4time"

	"github.com/stretchr/testify/require"
)

func nopLogf(log.Level, string, ...interface{}) {}

func testParams() hls.TrackParameters {
	return hls.TrackParameters{
		Width: 640, Height: 480,
		SPS: []byte{0x67, 0x64, 0x00, 0x1f},
		PPS: []byte{0x68, 0xeb, 0x8f, 0x2c},
	}
}

func idrSample(dts, nextDTS int64) *hls.VideoSample {
	return &hls.VideoSample{
		DTS:        mp4time.UnixH264(dts),
		NextDTS:    mp4time.UnixH264(nextDTS),
		PTS:        mp4time.UnixH264(dts),
		IdrPresent: true,
		AVCC:       []byte{1, 2, 3},
	}
}

func TestNewMuxerAndPlay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streamer := NewStreamer(ctx, nopLogf)

	first := idrSample(0, 3000)
	muxer, writer, ok := streamer.NewMuxer(ctx, "cam1", false, testParams(), 0, first)
	require.True(t, ok)
	require.NotNil(t, muxer)

	start := streamer.StartSession("cam1", false, 1)
	require.False(t, start.StreamerCancelled)
	require.False(t, start.MuxerNotExist)

	play := streamer.Play("cam1", false, 1)
	require.False(t, play.MuxerNotExist)
	require.NotNil(t, play.Frames)

	initFrame := <-play.Frames
	require.NotEmpty(t, initFrame)

	writer.WriteH264(idrSample(3000, 6000))

	select {
	case frag := <-play.Frames:
		require.NotEmpty(t, frag)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fragment")
	}
}

func TestStartSessionMuxerNotExist(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streamer := NewStreamer(ctx, nopLogf)
	res := streamer.StartSession("cam1", false, 1)
	require.True(t, res.MuxerNotExist)
}

func TestPlayMuxerNotExist(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streamer := NewStreamer(ctx, nopLogf)
	res := streamer.Play("cam1", false, 1)
	require.True(t, res.MuxerNotExist)
}

func TestNewMuxerReplacesExisting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streamer := NewStreamer(ctx, nopLogf)

	first := idrSample(0, 3000)
	_, _, ok := streamer.NewMuxer(ctx, "cam1", false, testParams(), 0, first)
	require.True(t, ok)

	start := streamer.StartSession("cam1", false, 1)
	require.False(t, start.MuxerNotExist)

	play := streamer.Play("cam1", false, 1)
	<-play.Frames // drain init.mp4

	// Replacing the muxer cancels the old one; its play stream ends.
	_, _, ok = streamer.NewMuxer(ctx, "cam1", false, testParams(), 0, idrSample(0, 3000))
	require.True(t, ok)

	select {
	case _, open := <-play.Frames:
		require.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for old muxer's stream to close")
	}
}

func TestStreamerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	streamer := NewStreamer(ctx, nopLogf)

	_, _, ok := streamer.NewMuxer(ctx, "cam1", false, testParams(), 0, idrSample(0, 3000))
	require.True(t, ok)

	cancel()

	require.Eventually(t, func() bool {
		return streamer.StartSession("cam1", false, 1).StreamerCancelled
	}, time.Second, time.Millisecond)
}
