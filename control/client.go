// Package control is a client for the control API of the server under test.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nginxlive/livetest/internal/logger"
	"github.com/nginxlive/livetest/monitoring"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// Client issues control API requests. It holds no state beyond its base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client for the control API rooted at baseURL, e.g. http://localhost:8001/control.
func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the control API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Channels returns the channel service.
func (c *Client) Channels() *ChannelService {
	return &ChannelService{resource[Channel]{client: c, prefix: []string{"channels"}, kind: "channel"}}
}

// Channel returns a handle scoping variant, track and timeline calls to one channel.
func (c *Client) Channel(id string) *ChannelHandle {
	return &ChannelHandle{client: c, id: id}
}

// Ping issues a GET against the API root and reports whether it returned 2xx.
// The API is served from a prefix location, so the root carries a trailing slash.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.send(ctx, http.MethodGet, c.baseURL+"/", nil)
	return err
}

// Path builds an API path from segments, escaping each one on its own.
func Path(segments ...string) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(escapeSegment(s))
	}
	return b.String()
}

const upperhex = "0123456789ABCDEF"

// escapeSegment percent-encodes everything except unreserved characters, so an
// identifier never contributes a path separator or query delimiter.
func escapeSegment(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if isUnreserved(ch) {
			b.WriteByte(ch)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[ch>>4])
		b.WriteByte(upperhex[ch&15])
	}
	return b.String()
}

func isUnreserved(ch byte) bool {
	switch {
	case 'a' <= ch && ch <= 'z', 'A' <= ch && ch <= 'Z', '0' <= ch && ch <= '9':
		return true
	case ch == '-' || ch == '_' || ch == '.' || ch == '~':
		return true
	}
	return false
}

// do performs a request. The result is nil when the response body is empty.
func (c *Client) do(ctx context.Context, method string, segments []string, body any) (json.RawMessage, error) {
	return c.send(ctx, method, c.baseURL+Path(segments...), body)
}

func (c *Client) send(ctx context.Context, method, url string, body any) (json.RawMessage, error) {

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s %s: %w", method, url, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s %s: %w", method, url, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		monitoring.RecordControlRequest(method, 0, time.Since(start))
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	monitoring.RecordControlRequest(method, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: failed to read response: %w", method, url, err)
	}

	logger.Log.Debug("{method} {url} -> {status}", method, url, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: method, URL: url, StatusCode: resp.StatusCode, Body: data}
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s %s: response is not valid JSON", method, url)
	}
	return json.RawMessage(data), nil
}

// Decode unmarshals a result into a value of type T.
func Decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, fmt.Errorf("empty result")
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("failed to decode result: %w", err)
	}
	return v, nil
}
