// Package stub provides a fault-injection TCP server that stands in for a backend the
// server under test calls. Connections are handled one at a time on a background goroutine.
package stub

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nginxlive/livetest/cleanup"
	"github.com/nginxlive/livetest/internal/logger"
	"github.com/nginxlive/livetest/monitoring"
)

// DefaultStopTimeout bounds how long Stop waits for the accept loop to exit.
const DefaultStopTimeout = 5 * time.Second

// ErrStopTimeout is returned when the accept loop does not exit in time.
var ErrStopTimeout = errors.New("stub server stop timed out")

// Handler handles one accepted connection. The connection is closed after it returns.
type Handler func(conn net.Conn) error

// Server is a single-connection-at-a-time TCP acceptor.
type Server struct {
	port        int
	handler     Handler
	ln          net.Listener
	running     atomic.Bool
	done        chan struct{}
	stopTimeout time.Duration

	mu  sync.Mutex
	err error
}

// Start listens on port and begins accepting. Closing the listener and stopping the
// server are pushed onto stack, so stack.Reset always tears the server down.
// A zero port picks a free one; see Port.
func Start(port int, handler Handler, stack *cleanup.Stack) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	stack.Push(func() error {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})

	s := &Server{
		port:        ln.Addr().(*net.TCPAddr).Port,
		handler:     handler,
		ln:          ln,
		done:        make(chan struct{}),
		stopTimeout: DefaultStopTimeout,
	}
	s.running.Store(true)
	go s.acceptLoop()
	stack.Push(s.Stop)

	logger.Log.Debug("Stub server listening on port {port}", s.port)
	return s, nil
}

// Port returns the port the server listens on.
func (s *Server) Port() int {
	return s.port
}

// Err returns the first error returned by the handler, if any.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Server) acceptLoop() {
	defer close(s.done)

	for s.running.Load() {
		conn, err := s.ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Log.Warn("Stub server accept failed on port {port}: {error}", s.port, err)
			continue
		}

		if s.running.Load() {
			monitoring.RecordStubConnection(s.port)
			logger.Log.Debug("Stub server on port {port} accepted {remote}", s.port, conn.RemoteAddr())
			s.serve(conn)
		}
		conn.Close()
	}
}

func (s *Server) serve(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.setErr(fmt.Errorf("stub handler panicked: %v", r))
		}
	}()
	if err := s.handler(conn); err != nil {
		logger.Log.Warn("Stub handler on port {port} failed: {error}", s.port, err)
		s.setErr(err)
	}
}

func (s *Server) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Stop clears the running flag, opens a throwaway loopback connection to release the
// pending accept, and waits for the loop to exit. It returns the first handler error.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		select {
		case <-s.done:
			return s.Err()
		case <-time.After(s.stopTimeout):
			return fmt.Errorf("%w: port %d", ErrStopTimeout, s.port)
		}
	}

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(s.port))
	if conn, err := net.DialTimeout("tcp", addr, s.stopTimeout); err == nil {
		conn.Close()
	}

	select {
	case <-s.done:
	case <-time.After(s.stopTimeout):
		// The handler is stuck; closing the listener at least stops further accepts.
		s.ln.Close()
		return fmt.Errorf("%w: port %d", ErrStopTimeout, s.port)
	}

	logger.Log.Debug("Stub server on port {port} stopped", s.port)
	return s.Err()
}
