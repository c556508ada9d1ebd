package testutil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nginxlive/livetest"
	"github.com/nginxlive/livetest/control"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueAssertions(t *testing.T) {
	assert.NoError(t, Equal("a", "a"))
	assert.ErrorIs(t, Equal(1, 2), livetest.ErrAssertion)
	assert.NoError(t, LessThan(1, 2))
	assert.Error(t, LessThan(2, 2))
	assert.NoError(t, GreaterThan(3.5, 2.0))
	assert.Error(t, GreaterThan(2, 2))
	assert.NoError(t, Between(5, 5, 10))
	assert.Error(t, Between(11, 5, 10))
	assert.NoError(t, EndsWith([]byte("seg-5-svar1.ts\n#EXT-X-ENDLIST"), []byte("#EXT-X-ENDLIST")))
	assert.Error(t, EndsWith([]byte("#EXTM3U\n"), []byte("#EXT-X-ENDLIST")))
}

func TestExpectStatus(t *testing.T) {
	notFound := &control.StatusError{Method: "DELETE", URL: "/channels/test", StatusCode: 404}

	assert.NoError(t, ExpectStatus(notFound, 404))

	err := ExpectStatus(notFound, 409)
	require.Error(t, err)
	assert.True(t, control.IsStatus(err, 404), "the wrapped status error is preserved")

	assert.ErrorIs(t, ExpectStatus(nil, 409), livetest.ErrAssertion)

	transport := errors.New("connection refused")
	assert.ErrorIs(t, ExpectHTTPError(func() error { return transport }, 503), transport)
}

func TestAsyncGet(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte("#EXTM3U\n"))
	}))
	defer srv.Close()

	r := Go(context.Background(), nil, srv.URL+"/hls-ts/test/tl/main/master.m3u8")
	time.Sleep(50 * time.Millisecond)
	close(release)

	resp := r.Join()
	require.NoError(t, resp.OK())
	assert.Equal(t, "#EXTM3U\n", string(resp.Body))
	assert.GreaterOrEqual(t, resp.Elapsed, 50*time.Millisecond)
}

func TestGetStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	resp := Get(context.Background(), nil, srv.URL)
	assert.NoError(t, resp.Err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Error(t, resp.OK())
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		prefix, suffix, want string
	}{
		{"hls-ts", "", "http://localhost:8001/hls-ts/test/tl/main/master.m3u8"},
		{"hls-fmp4", "index-svar1.m3u8", "http://localhost:8001/hls-fmp4/test/tl/main/index-svar1.m3u8"},
		{"dash", "", "http://localhost:8001/dash/test/tl/main/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StreamURL("http://localhost:8001/", tt.prefix, "test", "main", tt.suffix))
	}
}
