// Package server supervises the nginx process under test: it clears leftovers from
// earlier runs, starts the binary against a configuration, waits for the control
// API to answer, and stops it again.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nginxlive/livetest"
	"github.com/nginxlive/livetest/backends"
	"github.com/nginxlive/livetest/internal/logger"
	"github.com/nginxlive/livetest/monitoring"
	"github.com/nginxlive/livetest/resilience"
)

// Pinger answers the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Runner executes an external command to completion.
type Runner func(ctx context.Context, name string, args ...string) error

// Process is a server started by a Supervisor.
type Process struct {
	Name string
	Conf string

	cmd  *exec.Cmd
	log  *os.File
	done chan struct{}

	mu      sync.Mutex
	waitErr error
}

// Pid returns the pid of the launched process.
func (p *Process) Pid() int {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Exited reports whether the launched process has been reaped.
func (p *Process) Exited() bool {
	if p == nil || p.done == nil {
		return true
	}
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Process) exitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

func (p *Process) closeLog() {
	if p.log != nil {
		p.log.Close()
		p.log = nil
	}
}

// Supervisor owns the server process, its log files and its persisted store.
type Supervisor struct {
	cfg    *livetest.Config
	pinger Pinger
	wiper  backends.Wiper
	run    Runner
	stdout io.Writer
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithRunner replaces the runner used for killall, lcov and genhtml.
func WithRunner(r Runner) Option {
	return func(s *Supervisor) {
		s.run = r
	}
}

// WithOutput sets where the server's own output goes when it is not captured by valgrind.
func WithOutput(w io.Writer) Option {
	return func(s *Supervisor) {
		s.stdout = w
	}
}

// New creates a supervisor. wiper may be nil when the store is not managed.
func New(cfg *livetest.Config, pinger Pinger, wiper backends.Wiper, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:    cfg,
		pinger: pinger,
		wiper:  wiper,
		run:    runCommand,
		stdout: os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if len(out) > 0 {
		logger.Log.Debug("{command}: {output}", name, strings.TrimSpace(string(out)))
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return nil
}

// Clear kills stray server processes, wipes the persisted store and removes the log files.
func (s *Supervisor) Clear(ctx context.Context) error {
	for _, name := range s.killTargets() {
		// killall fails when nothing matched.
		if err := s.run(ctx, "killall", "-9", name); err != nil {
			logger.Log.Debug("killall {name}: {error}", name, err)
		}
	}

	if s.wiper != nil {
		if err := s.wiper.Wipe(ctx); err != nil {
			return fmt.Errorf("failed to wipe store: %w", err)
		}
	}

	for _, path := range []string{s.cfg.LogPath, s.cfg.AccessLogPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}

func (s *Supervisor) killTargets() []string {
	targets := []string{filepath.Base(s.cfg.ServerBinary)}
	if s.cfg.Valgrind {
		targets = append(targets, "memcheck-amd64-")
	}
	return targets
}

// Command returns the argv used to launch the server against conf.
func (s *Supervisor) Command(conf string) ([]string, error) {
	abs, err := filepath.Abs(conf)
	if err != nil {
		return nil, err
	}
	argv := []string{s.cfg.ServerBinary, "-c", abs}
	if s.cfg.Valgrind {
		argv = append(append([]string{s.cfg.ValgrindBinary}, s.cfg.ValgrindArgs...), argv...)
	}
	return argv, nil
}

// ValgrindLog returns the per-scenario memcheck log path.
func ValgrindLog(name string) string {
	return name + "-valgrind.log"
}

// Start launches the server against conf and waits until it answers. The valgrind
// log for name is truncated unless appendLog is set.
func (s *Supervisor) Start(ctx context.Context, conf, name string, appendLog bool) (*Process, error) {
	start := time.Now()
	p, err := s.launch(conf, name, appendLog)
	if err != nil {
		monitoring.RecordServerStart(time.Since(start), false)
		return nil, err
	}

	if err := s.WaitReady(ctx, p); err != nil {
		monitoring.RecordServerStart(time.Since(start), false)
		return p, err
	}

	monitoring.RecordServerStart(time.Since(start), true)
	logger.Log.Debug("Server started with {conf} in {duration}", conf, time.Since(start))
	return p, nil
}

func (s *Supervisor) launch(conf, name string, appendLog bool) (*Process, error) {
	argv, err := s.Command(conf)
	if err != nil {
		return nil, err
	}

	p := &Process{Name: name, Conf: conf, done: make(chan struct{})}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stdout

	if s.cfg.Valgrind {
		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if appendLog {
			flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}
		f, err := os.OpenFile(ValgrindLog(name), flags, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open valgrind log: %w", err)
		}
		p.log = f
		cmd.Stdout = f
		cmd.Stderr = f
	}

	logger.Log.Debug("Starting {command}", strings.Join(argv, " "))
	if err := cmd.Start(); err != nil {
		p.closeLog()
		return nil, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}
	p.cmd = cmd

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

// WaitReady polls the health check until it succeeds. In single-process mode a
// process that exits before answering fails immediately.
func (s *Supervisor) WaitReady(ctx context.Context, p *Process) error {
	var exited error
	poller := resilience.NewPoller(s.cfg.HealthInterval, s.cfg.StartTimeout)
	err := poller.Until(ctx, func(ctx context.Context) (bool, error) {
		if s.cfg.SingleProcess && p != nil && p.cmd != nil && p.Exited() {
			exited = fmt.Errorf("server exited before becoming ready: %v", p.exitErr())
			return true, nil
		}
		err := s.pinger.Ping(ctx)
		return err == nil, err
	})
	if exited != nil {
		return exited
	}
	if errors.Is(err, resilience.ErrTimeout) {
		return fmt.Errorf("%w: %v", livetest.ErrStartupTimeout, err)
	}
	return err
}

// Stop sends SIGTERM to the server and waits for it to exit. The pid comes from
// the launched process in single-process mode and from the pid file otherwise.
func (s *Supervisor) Stop(ctx context.Context, p *Process) error {
	err := s.stop(ctx, p)
	monitoring.RecordServerStop(err == nil)
	if p != nil {
		p.closeLog()
	}
	return err
}

func (s *Supervisor) stop(ctx context.Context, p *Process) error {
	pid, err := s.resolvePid(p)
	if err != nil {
		return err
	}

	logger.Log.Debug("Stopping server pid {pid}", pid)
	if err := terminate(pid); err != nil {
		return fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}

	poller := resilience.NewPoller(s.cfg.HealthInterval, s.cfg.StopTimeout)
	err = poller.Until(ctx, func(context.Context) (bool, error) {
		if s.ownsPid(p, pid) {
			return p.Exited(), nil
		}
		return !alive(pid), nil
	})
	if errors.Is(err, resilience.ErrTimeout) {
		return fmt.Errorf("%w: pid %d: %v", livetest.ErrShutdownTimeout, pid, err)
	}
	return err
}

func (s *Supervisor) ownsPid(p *Process, pid int) bool {
	return p != nil && p.cmd != nil && p.Pid() == pid
}

func (s *Supervisor) resolvePid(p *Process) (int, error) {
	if s.cfg.SingleProcess {
		if pid := p.Pid(); pid != 0 {
			return pid, nil
		}
		return 0, fmt.Errorf("no server process to stop")
	}
	return readPidFile(s.cfg.PIDFile)
}

func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s: %q", path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// Restart runs before, stops p and starts a fresh process against the same
// configuration, appending to its valgrind log.
func (s *Supervisor) Restart(ctx context.Context, p *Process, conf, name string, before func() error) (*Process, error) {
	if before != nil {
		if err := before(); err != nil {
			return p, err
		}
	}
	if err := s.Stop(ctx, p); err != nil {
		return p, err
	}
	return s.Start(ctx, conf, name, true)
}
