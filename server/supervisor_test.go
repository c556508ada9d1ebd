//go:build !windows
// +build !windows

package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nginxlive/livetest"
	"github.com/nginxlive/livetest/backends"
	"github.com/nginxlive/livetest/control"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	calls      atomic.Int32
	readyAfter int32
}

func (f *fakePinger) Ping(context.Context) error {
	if f.calls.Add(1) > f.readyAfter {
		return nil
	}
	return errors.New("connection refused")
}

type recorder struct {
	mu       sync.Mutex
	commands []string
}

func (r *recorder) run(_ context.Context, name string, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, strings.TrimSpace(name+" "+strings.Join(args, " ")))
	return nil
}

func script(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nginx")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func testConfig(t *testing.T, binary string) *livetest.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := livetest.DefaultConfig()
	cfg.ServerBinary = binary
	cfg.PIDFile = filepath.Join(dir, "nginx.pid")
	cfg.LogPath = filepath.Join(dir, "error.log")
	cfg.AccessLogPath = filepath.Join(dir, "access.log")
	cfg.SingleProcess = true
	cfg.StartTimeout = 3 * time.Second
	cfg.StopTimeout = 3 * time.Second
	cfg.HealthInterval = 10 * time.Millisecond
	cfg.CoverageFile = filepath.Join(dir, "coverage.info")
	cfg.CoverageDir = filepath.Join(dir, "cov")
	cfg.SourceDir = "/usr/local/src/nginx"
	return cfg
}

func TestCommand(t *testing.T) {
	cfg := testConfig(t, "/usr/local/nginx/sbin/nginx")
	s := New(cfg, &fakePinger{}, nil)

	argv, err := s.Command("/etc/nginx/temp.conf")
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/local/nginx/sbin/nginx", "-c", "/etc/nginx/temp.conf"}, argv)

	cfg.Valgrind = true
	argv, err = s.Command("nginx.conf")
	require.NoError(t, err)
	assert.Equal(t, "valgrind", argv[0])
	assert.Equal(t, []string{"-v", "--tool=memcheck", "--leak-check=yes", "--num-callers=128"}, argv[1:5])
	assert.Equal(t, "/usr/local/nginx/sbin/nginx", argv[5])
	assert.True(t, filepath.IsAbs(argv[7]))
}

func TestClear(t *testing.T) {
	cfg := testConfig(t, "/usr/local/nginx/sbin/nginx")
	cfg.Valgrind = true

	store := filepath.Join(t.TempDir(), "store", "channel")
	require.NoError(t, os.MkdirAll(filepath.Join(store, "test"), 0o755))
	require.NoError(t, os.WriteFile(cfg.LogPath, []byte("old"), 0o644))

	wiper, err := backends.Create(context.Background(), backends.FilesystemConfig{Path: store})
	require.NoError(t, err)

	rec := &recorder{}
	s := New(cfg, &fakePinger{}, wiper, WithRunner(rec.run))
	require.NoError(t, s.Clear(context.Background()))

	assert.Equal(t, []string{"killall -9 nginx", "killall -9 memcheck-amd64-"}, rec.commands)
	assert.NoFileExists(t, cfg.LogPath)
	assert.NoDirExists(t, store)
}

func TestStartStopSingleProcess(t *testing.T) {
	cfg := testConfig(t, script(t, "exec sleep 30"))
	pinger := &fakePinger{readyAfter: 3}
	s := New(cfg, pinger, nil)

	p, err := s.Start(context.Background(), "nginx.conf", "basic", false)
	require.NoError(t, err)
	assert.NotZero(t, p.Pid())
	assert.False(t, p.Exited())
	assert.GreaterOrEqual(t, pinger.calls.Load(), int32(4))

	require.NoError(t, s.Stop(context.Background(), p))
	assert.True(t, p.Exited())
}

func TestStartWithControlClient(t *testing.T) {
	var calls atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !strings.HasPrefix(r.URL.Path, "/control/") {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(api.Close)

	cfg := testConfig(t, script(t, "exec sleep 30"))
	cfg.ServerURL = api.URL
	s := New(cfg, control.New(cfg.ControlURL()), nil)

	p, err := s.Start(context.Background(), "nginx.conf", "control", false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	require.NoError(t, s.Stop(context.Background(), p))
}

func TestStartTimeout(t *testing.T) {
	cfg := testConfig(t, script(t, "exec sleep 30"))
	cfg.StartTimeout = 100 * time.Millisecond
	s := New(cfg, &fakePinger{readyAfter: 1 << 30}, nil)

	p, err := s.Start(context.Background(), "nginx.conf", "hung", false)
	assert.ErrorIs(t, err, livetest.ErrStartupTimeout)
	require.NotNil(t, p)
	require.NoError(t, s.Stop(context.Background(), p))
}

func TestStartExitedEarly(t *testing.T) {
	cfg := testConfig(t, script(t, "exit 3"))
	s := New(cfg, &fakePinger{readyAfter: 1 << 30}, nil)

	_, err := s.Start(context.Background(), "nginx.conf", "crash", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited before becoming ready")
	assert.NotErrorIs(t, err, livetest.ErrStartupTimeout)
}

func TestStopUsesPidFile(t *testing.T) {
	binary := script(t, `echo $$ > "$LIVETEST_PIDFILE"; exec sleep 30`)
	cfg := testConfig(t, binary)
	cfg.SingleProcess = false
	t.Setenv("LIVETEST_PIDFILE", cfg.PIDFile)

	s := New(cfg, &fakePinger{}, nil)
	p, err := s.Start(context.Background(), "nginx.conf", "daemon", false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := os.Stat(cfg.PIDFile)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	pid, err := readPidFile(cfg.PIDFile)
	require.NoError(t, err)
	assert.Equal(t, p.Pid(), pid)

	require.NoError(t, s.Stop(context.Background(), p))
	assert.True(t, p.Exited())
}

func TestStopMissingPidFile(t *testing.T) {
	cfg := testConfig(t, "/usr/local/nginx/sbin/nginx")
	cfg.SingleProcess = false
	s := New(cfg, &fakePinger{}, nil)

	err := s.Stop(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pid file")
}

func TestValgrindLogAppendsOnRestart(t *testing.T) {
	cfg := testConfig(t, "/usr/local/nginx/sbin/nginx")
	cfg.Valgrind = true
	cfg.ValgrindBinary = script(t, `echo "==1== Memcheck"; exec sleep 30`)
	s := New(cfg, &fakePinger{}, nil)

	name := filepath.Join(t.TempDir(), "channel_free_during_setup_read")
	ctx := context.Background()

	p, err := s.Start(ctx, "nginx.conf", name, false)
	require.NoError(t, err)

	var cleaned bool
	p, err = s.Restart(ctx, p, "nginx.conf", name, func() error {
		cleaned = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, cleaned)

	require.Eventually(t, func() bool {
		data, _ := os.ReadFile(ValgrindLog(name))
		return strings.Count(string(data), "Memcheck") == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop(ctx, p))

	// A fresh start truncates.
	p, err = s.Start(ctx, "nginx.conf", name, false)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		data, _ := os.ReadFile(ValgrindLog(name))
		return strings.Count(string(data), "Memcheck") == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop(ctx, p))
}

func TestRestartStopsOnBeforeError(t *testing.T) {
	cfg := testConfig(t, script(t, "exec sleep 30"))
	s := New(cfg, &fakePinger{}, nil)
	ctx := context.Background()

	p, err := s.Start(ctx, "nginx.conf", "basic", false)
	require.NoError(t, err)

	boom := errors.New("delete failed")
	same, err := s.Restart(ctx, p, "nginx.conf", "basic", func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Same(t, p, same)
	assert.False(t, p.Exited())

	require.NoError(t, s.Stop(ctx, p))
}

func TestCoverage(t *testing.T) {
	cfg := testConfig(t, script(t, "exec sleep 30"))
	cfg.Valgrind = true
	require.NoError(t, os.WriteFile(cfg.CoverageFile, []byte("stale"), 0o644))

	rec := &recorder{}
	s := New(cfg, &fakePinger{}, nil, WithRunner(rec.run))
	ctx := context.Background()

	require.NoError(t, s.ResetCoverage(ctx))
	p, err := s.GenerateCoverage(ctx, "nginx.conf")
	require.NoError(t, err)
	defer s.Stop(ctx, p)

	assert.Equal(t, []string{
		"lcov --directory /usr/local/src/nginx/ -z",
		"lcov -c -d /usr/local/src/nginx/ -o " + cfg.CoverageFile + " --ignore-errors graph",
		"genhtml " + cfg.CoverageFile + " --output-directory " + cfg.CoverageDir,
		"killall -9 nginx",
	}, rec.commands)
	assert.NoFileExists(t, cfg.CoverageFile)
	assert.DirExists(t, cfg.CoverageDir)
	assert.True(t, cfg.Valgrind, "valgrind setting is restored")
}
