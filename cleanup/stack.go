// Package cleanup provides a LIFO registry of teardown actions.
package cleanup

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nginxlive/livetest/internal/logger"
	"github.com/nginxlive/livetest/monitoring"
)

// Action releases a single resource.
type Action func() error

// Stack holds teardown actions in acquisition order.
// Acquirers push their release action at acquisition time.
type Stack struct {
	mu      sync.Mutex
	actions []Action
}

// Push registers an action.
func (s *Stack) Push(action Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
}

// PushFunc registers an action that cannot fail.
func (s *Stack) PushFunc(fn func()) {
	s.Push(func() error {
		fn()
		return nil
	})
}

// Len returns the number of pending actions.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions)
}

// Reset pops and runs every action, last pushed first, and leaves the stack empty.
// A failing action does not stop the remaining ones; all failures are returned joined.
func (s *Stack) Reset() error {
	s.mu.Lock()
	actions := s.actions
	s.actions = nil
	s.mu.Unlock()

	var errs []error
	for i := len(actions) - 1; i >= 0; i-- {
		if err := run(actions[i]); err != nil {
			logger.Log.Warn("Cleanup action {index} failed: {error}", i, err)
			monitoring.RecordCleanupFailure()
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func run(action Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cleanup action panicked: %v", r)
		}
	}()
	return action()
}
