package stub

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
)

// Header is a single response header line.
type Header struct {
	Name  string
	Value string
}

// ResponseOption customizes a raw HTTP response.
type ResponseOption func(*response)

type response struct {
	length  int
	headers []Header
}

// WithLength overrides the declared body length, e.g. to announce more bytes than are sent.
func WithLength(n int) ResponseOption {
	return func(r *response) {
		r.length = n
	}
}

// WithHeader adds a header line. Headers are written in the order given.
func WithHeader(name, value string) ResponseOption {
	return func(r *response) {
		r.headers = append(r.headers, Header{Name: name, Value: value})
	}
}

func buildResponse(body []byte, opts []ResponseOption) response {
	r := response{length: len(body)}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

func writeHeaders(b *bytes.Buffer, headers []Header) {
	for _, h := range headers {
		fmt.Fprintf(b, "%s: %s\r\n", h.Name, h.Value)
	}
}

// Response builds a raw HTTP/1.1 response with a Content-Length header.
// An empty status means "200 OK".
func Response(status string, body []byte, opts ...ResponseOption) []byte {
	if status == "" {
		status = "200 OK"
	}
	r := buildResponse(body, opts)

	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %s\r\nContent-Length: %d\r\n", status, r.length)
	writeHeaders(&b, r.headers)
	b.WriteString("\r\n")
	b.Write(body)
	return b.Bytes()
}

// ChunkedResponse builds a raw HTTP/1.1 response carrying body as a single chunk.
func ChunkedResponse(status string, body []byte, opts ...ResponseOption) []byte {
	if status == "" {
		status = "200 OK"
	}
	r := buildResponse(body, opts)

	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %s\r\nTransfer-Encoding: Chunked\r\n", status)
	writeHeaders(&b, r.headers)
	fmt.Fprintf(&b, "\r\n%x\r\n", r.length)
	b.Write(body)
	b.WriteString("\r\n0\r\n")
	return b.Bytes()
}

// ReadRequest reads one request from conn, including its Content-Length body.
func ReadRequest(conn net.Conn) (*http.Request, []byte, error) {
	req, err := http.ReadRequest(bufio.NewReader(conn))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read request: %w", err)
	}
	defer req.Body.Close()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return req, nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return req, body, nil
}
