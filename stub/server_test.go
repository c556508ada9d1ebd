package stub

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nginxlive/livetest/cleanup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, port int) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), time.Second)
	require.NoError(t, err)
	return conn
}

func TestServerHandlesConnections(t *testing.T) {
	var stack cleanup.Stack
	var handled atomic.Int32

	s, err := Start(0, func(conn net.Conn) error {
		handled.Add(1)
		_, err := conn.Write([]byte("bye"))
		return err
	}, &stack)
	require.NoError(t, err)
	assert.Equal(t, 2, stack.Len(), "listener close and stop must be registered")

	for i := 0; i < 2; i++ {
		conn := dial(t, s.Port())
		data, err := io.ReadAll(conn)
		conn.Close()
		require.NoError(t, err)
		assert.Equal(t, "bye", string(data))
	}

	require.NoError(t, stack.Reset())
	assert.Equal(t, int32(2), handled.Load(), "the unblocking connection must not reach the handler")

	_, err = net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.Port())), 200*time.Millisecond)
	assert.Error(t, err, "listener should be closed after reset")
}

func TestServerSerializesConnections(t *testing.T) {
	var stack cleanup.Stack
	release := make(chan struct{})
	var active, maxActive atomic.Int32

	s, err := Start(0, func(conn net.Conn) error {
		n := active.Add(1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		<-release
		active.Add(-1)
		return nil
	}, &stack)
	require.NoError(t, err)

	c1 := dial(t, s.Port())
	defer c1.Close()
	c2 := dial(t, s.Port())
	defer c2.Close()

	time.Sleep(100 * time.Millisecond)
	close(release)

	require.NoError(t, stack.Reset())
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestServerReportsHandlerError(t *testing.T) {
	var stack cleanup.Stack
	errDelete := errors.New("delete failed")

	s, err := Start(0, func(conn net.Conn) error {
		return errDelete
	}, &stack)
	require.NoError(t, err)

	conn := dial(t, s.Port())
	io.ReadAll(conn)
	conn.Close()

	err = stack.Reset()
	assert.ErrorIs(t, err, errDelete)
}

func TestResponseBuilders(t *testing.T) {
	got := Response("", []byte("hello"), WithHeader("X-Test", "1"))
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nX-Test: 1\r\n\r\nhello", string(got))

	got = Response("404 Not Found", nil, WithLength(100))
	assert.Equal(t, "HTTP/1.1 404 Not Found\r\nContent-Length: 100\r\n\r\n", string(got))

	got = ChunkedResponse("", []byte("0123456789abcdefg"))
	assert.Equal(t, "HTTP/1.1 200 OK\r\nTransfer-Encoding: Chunked\r\n\r\n11\r\n0123456789abcdefg\r\n0\r\n", string(got))
}

func TestReadRequest(t *testing.T) {
	var stack cleanup.Stack
	bodies := make(chan string, 1)

	s, err := Start(0, func(conn net.Conn) error {
		req, body, err := ReadRequest(conn)
		if err != nil {
			return err
		}
		bodies <- req.Method + " " + req.URL.Path + " " + string(body)
		_, err = conn.Write(Response("", nil))
		return err
	}, &stack)
	require.NoError(t, err)
	defer stack.Reset()

	resp, err := http.Post("http://127.0.0.1:"+strconv.Itoa(s.Port())+"/store/channel/test/index",
		"application/octet-stream", strings.NewReader("index-data"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "POST /store/channel/test/index index-data", <-bodies)
}

func TestStopTimesOutOnStuckHandler(t *testing.T) {
	var stack cleanup.Stack
	entered := make(chan struct{})
	release := make(chan struct{})

	s, err := Start(0, func(conn net.Conn) error {
		close(entered)
		<-release
		return nil
	}, &stack)
	require.NoError(t, err)
	s.stopTimeout = 100 * time.Millisecond

	conn := dial(t, s.Port())
	defer conn.Close()
	<-entered

	err = s.Stop()
	assert.ErrorIs(t, err, ErrStopTimeout)

	// A repeated stop is bounded the same way while the handler is still stuck.
	start := time.Now()
	err = s.Stop()
	assert.ErrorIs(t, err, ErrStopTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)

	close(release)
	require.Eventually(t, func() bool { return s.Stop() == nil }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, stack.Reset())
}
