package storage

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testBody() []byte {
	// 11 bytes: 0..10
	return []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
}

func TestServeMP4ContentNoRange(t *testing.T) {
	body := testBody()
	req := httptest.NewRequest(http.MethodGet, "/x.mp4", nil)
	rec := httptest.NewRecorder()

	err := ServeMP4Content(rec, req, time.Time{}, int64(len(body)), bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, body, rec.Body.Bytes())
}

func TestServeMP4ContentSingleRange(t *testing.T) {
	body := testBody()

	req := httptest.NewRequest(http.MethodGet, "/x.mp4", nil)
	req.Header.Set("Range", "bytes=0-4")
	rec := httptest.NewRecorder()

	err := ServeMP4Content(rec, req, time.Time{}, int64(len(body)), bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, body[0:5], rec.Body.Bytes())
	require.Equal(t, "bytes 0-4/11", rec.Header().Get("Content-Range"))
}

func TestServeMP4ContentSuffixRange(t *testing.T) {
	body := testBody()

	req := httptest.NewRequest(http.MethodGet, "/x.mp4", nil)
	req.Header.Set("Range", "bytes=10-")
	rec := httptest.NewRecorder()

	err := ServeMP4Content(rec, req, time.Time{}, int64(len(body)), bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, []byte{10}, rec.Body.Bytes())
}

func TestServeMP4ContentUnsatisfiable(t *testing.T) {
	body := testBody()

	req := httptest.NewRequest(http.MethodGet, "/x.mp4", nil)
	req.Header.Set("Range", "bytes=11-")
	rec := httptest.NewRecorder()

	err := ServeMP4Content(rec, req, time.Time{}, int64(len(body)), bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
}

func TestServeMP4ContentMultipleRangesFallsBackToFullBody(t *testing.T) {
	body := testBody()

	req := httptest.NewRequest(http.MethodGet, "/x.mp4", nil)
	req.Header.Set("Range", "bytes=0-0,5-8")
	rec := httptest.NewRecorder()

	err := ServeMP4Content(rec, req, time.Time{}, int64(len(body)), bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, body, rec.Body.Bytes())
}
