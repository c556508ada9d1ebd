package testutil

import (
	"bytes"
	"cmp"
	"fmt"

	"github.com/nginxlive/livetest"
	"github.com/nginxlive/livetest/control"
)

// Equal fails unless got equals want.
func Equal[T comparable](got, want T) error {
	if got != want {
		return livetest.Assertf("%v != %v", got, want)
	}
	return nil
}

// LessThan fails unless v < limit.
func LessThan[T cmp.Ordered](v, limit T) error {
	if v >= limit {
		return livetest.Assertf("%v >= %v", v, limit)
	}
	return nil
}

// GreaterThan fails unless v > limit.
func GreaterThan[T cmp.Ordered](v, limit T) error {
	if v <= limit {
		return livetest.Assertf("%v <= %v", v, limit)
	}
	return nil
}

// Between fails unless lo <= v <= hi.
func Between[T cmp.Ordered](v, lo, hi T) error {
	if v < lo || v > hi {
		return livetest.Assertf("%v not between %v and %v", v, lo, hi)
	}
	return nil
}

// EndsWith fails unless data ends with suffix.
func EndsWith(data, suffix []byte) error {
	if !bytes.HasSuffix(data, suffix) {
		return livetest.Assertf("%q does not end with %q", tail(data, len(suffix)+32), suffix)
	}
	return nil
}

func tail(data []byte, n int) []byte {
	if len(data) <= n {
		return data
	}
	return data[len(data)-n:]
}

// ExpectStatus passes through a control API error carrying the expected status and
// returns nil. Any other error is returned unchanged; a nil error becomes an assertion failure.
func ExpectStatus(err error, code int) error {
	if err == nil {
		return livetest.Assertf("expected status %d, request succeeded", code)
	}
	if control.IsStatus(err, code) {
		return nil
	}
	return fmt.Errorf("expected status %d: %w", code, err)
}

// ExpectHTTPError runs fn and checks it failed with the given status.
func ExpectHTTPError(fn func() error, code int) error {
	return ExpectStatus(fn(), code)
}
