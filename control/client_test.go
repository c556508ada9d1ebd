package control

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	body   string
}

func newTestServer(t *testing.T, status int, response string) (*Client, *[]recorded) {
	t.Helper()
	var requests []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, recorded{r.Method, r.URL.EscapedPath(), string(body)})
		w.WriteHeader(status)
		io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL + "/control"), &requests
}

func TestPathEncoding(t *testing.T) {
	ids := []string{"test", "a/b", "what?", "frag#1", "with space", "50%", "x:y@z&w=1+2"}
	for _, id := range ids {
		t.Run(id, func(t *testing.T) {
			p := Path("channels", id)
			escaped := p[len("/channels/"):]
			assert.NotContains(t, escaped, "/")
			assert.NotContains(t, escaped, "?")
			assert.NotContains(t, escaped, "#")
			assert.NotContains(t, escaped, " ")

			decoded, err := url.PathUnescape(escaped)
			require.NoError(t, err)
			assert.Equal(t, id, decoded)
		})
	}
}

func TestChannelCalls(t *testing.T) {
	ctx := context.Background()
	c, reqs := newTestServer(t, http.StatusOK, `{"id":"a/b"}`)

	_, err := c.Channels().Create(ctx, Channel{ID: Set("a/b"), Preset: Set("main")})
	require.NoError(t, err)
	_, err = c.Channels().Update(ctx, Channel{ID: Set("a/b"), Filler: Null[Filler]()})
	require.NoError(t, err)
	res, err := c.Channels().Get(ctx, "a/b")
	require.NoError(t, err)
	require.NoError(t, c.Channels().Delete(ctx, "a/b"))
	_, err = c.Channels().List(ctx)
	require.NoError(t, err)

	got, err := Decode[map[string]string](res)
	require.NoError(t, err)
	assert.Equal(t, "a/b", got["id"])

	assert.Equal(t, []recorded{
		{"POST", "/control/channels", `{"id":"a/b","preset":"main"}`},
		{"PUT", "/control/channels/a%2Fb", `{"id":"a/b","filler":null}`},
		{"GET", "/control/channels/a%2Fb", ""},
		{"DELETE", "/control/channels/a%2Fb", ""},
		{"GET", "/control/channels", ""},
	}, *reqs)
}

func TestChannelScopedCalls(t *testing.T) {
	ctx := context.Background()
	c, reqs := newTestServer(t, http.StatusNoContent, "")
	ch := c.Channel("test")

	_, err := ch.Timelines().Create(ctx, Timeline{ID: Set("main"), Active: Set(true)})
	require.NoError(t, err)
	_, err = ch.Variants().Create(ctx, Variant{ID: Set("var1")})
	require.NoError(t, err)
	_, err = ch.Tracks().Create(ctx, Track{ID: Set("v1"), MediaType: Set(MediaVideo)})
	require.NoError(t, err)
	res, err := ch.Variants().AddTrack(ctx, "var1", "v1")
	require.NoError(t, err)
	assert.Nil(t, res, "empty body must yield no result")
	_, err = ch.Timelines().Update(ctx, Timeline{ID: Set("main"), EndList: Set(true)})
	require.NoError(t, err)

	assert.Equal(t, []recorded{
		{"POST", "/control/channels/test/timelines", `{"id":"main","active":true}`},
		{"POST", "/control/channels/test/variants", `{"id":"var1"}`},
		{"POST", "/control/channels/test/tracks", `{"id":"v1","media_type":"video"}`},
		{"POST", "/control/channels/test/variants/var1/tracks", `{"id":"v1"}`},
		{"PUT", "/control/channels/test/timelines/main", `{"id":"main","end_list":true}`},
	}, *reqs)
}

func TestStatusError(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestServer(t, http.StatusNotFound, "channel not found")

	err := c.Channels().Delete(ctx, "test")
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.False(t, IsStatus(err, http.StatusConflict))

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "DELETE", se.Method)
	assert.Equal(t, "channel not found", string(se.Body))

	_, err = c.Channels().Create(ctx, Channel{ID: Set("test")})
	assert.True(t, IsStatus(err, http.StatusNotFound))
}

func TestUpdateRequiresID(t *testing.T) {
	c, reqs := newTestServer(t, http.StatusOK, "")
	_, err := c.Channel("test").Tracks().Update(context.Background(), Track{Opaque: Set("x")})
	assert.Error(t, err)
	assert.Empty(t, *reqs)
}

func TestInvalidJSONResponse(t *testing.T) {
	c, _ := newTestServer(t, http.StatusOK, "<html>")
	_, err := c.Channels().List(context.Background())
	assert.Error(t, err)
	assert.False(t, IsStatus(err, http.StatusOK))
}

func TestPing(t *testing.T) {
	c, reqs := newTestServer(t, http.StatusOK, "{}")
	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, "/control/", (*reqs)[0].path)
}

func TestNestedRecords(t *testing.T) {
	data, err := json.Marshal(Channel{
		ID: Set("test"),
		Filler: Set(Filler{
			ChannelID:  Set("__filler"),
			Preset:     Set("main"),
			TimelineID: Set("main"),
		}),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"test","filler":{"channel_id":"__filler","preset":"main","timeline_id":"main"}}`, string(data))

	data, err = json.Marshal(Timeline{
		ID:     Set("copy"),
		Source: Set(TimelineSource{ID: Set("main"), StartOffset: Set(int64(90000))}),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"id":"copy","source":{"id":"main","start_offset":90000}}`, string(data))
}

func TestPingPrefixLocation(t *testing.T) {
	// nginx serves the API from "location /control/", so the bare prefix is a 404.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/control/") {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, "{}")
	}))
	t.Cleanup(srv.Close)

	for _, base := range []string{srv.URL + "/control", srv.URL + "/control/"} {
		assert.NoError(t, New(base).Ping(context.Background()), base)
	}
}
