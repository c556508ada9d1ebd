// Package livetest drives integration tests against a live media-streaming server.
package livetest

import (
	"errors"
	"fmt"
)

var (
	// ErrStartupTimeout is returned when the server does not answer its health check in time.
	ErrStartupTimeout = errors.New("server startup timed out")

	// ErrShutdownTimeout is returned when the server process does not exit in time.
	ErrShutdownTimeout = errors.New("server shutdown timed out")

	// ErrAssertion indicates a scenario assertion failed.
	ErrAssertion = errors.New("assertion failed")

	// ErrUnknownScenario is returned when a selection names a scenario that is not registered.
	ErrUnknownScenario = errors.New("unknown scenario")

	// ErrInvalidConfig indicates the harness configuration is incomplete or inconsistent.
	ErrInvalidConfig = errors.New("invalid harness configuration")
)

// AssertionError describes a failed check. It matches ErrAssertion with errors.Is.
type AssertionError struct {
	Msg string
}

// Assertf builds an AssertionError from a format string.
func Assertf(format string, args ...interface{}) error {
	return &AssertionError{Msg: fmt.Sprintf(format, args...)}
}

func (e *AssertionError) Error() string {
	return "assertion failed: " + e.Msg
}

// Is reports whether target is ErrAssertion.
func (e *AssertionError) Is(target error) bool {
	return target == ErrAssertion
}
