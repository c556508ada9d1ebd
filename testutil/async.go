package testutil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Response is the outcome of an asynchronous GET.
type Response struct {
	StatusCode int
	Body       []byte
	Err        error
	Elapsed    time.Duration
}

// AsyncResult is a request running on its own goroutine.
type AsyncResult struct {
	done chan struct{}
	resp Response
}

// Go issues a GET for url on a new goroutine while the caller keeps working.
// A nil client uses http.DefaultClient.
func Go(ctx context.Context, client *http.Client, url string) *AsyncResult {
	if client == nil {
		client = http.DefaultClient
	}
	r := &AsyncResult{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		start := time.Now()
		r.resp = get(ctx, client, url)
		r.resp.Elapsed = time.Since(start)
	}()
	return r
}

// Join waits for the request and returns its response.
func (r *AsyncResult) Join() Response {
	<-r.done
	return r.resp
}

// Get issues a GET and reads the whole body. Non-2xx statuses are not errors.
func Get(ctx context.Context, client *http.Client, url string) Response {
	if client == nil {
		client = http.DefaultClient
	}
	start := time.Now()
	resp := get(ctx, client, url)
	resp.Elapsed = time.Since(start)
	return resp
}

func get(ctx context.Context, client *http.Client, url string) Response {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Response{Err: fmt.Errorf("GET %s: %w", url, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{StatusCode: resp.StatusCode, Err: fmt.Errorf("GET %s: %w", url, err)}
	}
	return Response{StatusCode: resp.StatusCode, Body: body}
}

// OK returns an error unless the request succeeded with a 2xx status.
func (r Response) OK() error {
	if r.Err != nil {
		return r.Err
	}
	if r.StatusCode < 200 || r.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", r.StatusCode)
	}
	return nil
}
