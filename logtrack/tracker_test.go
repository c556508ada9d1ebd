package logtrack

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nginxlive/livetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendLog(t *testing.T, path, text string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(text)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestWindowIsolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "error.log")
	appendLog(t, path, "old: cancelling write\n")

	tr := New(path)
	require.NoError(t, tr.Init())

	found, err := tr.Contains([]byte("cancelling write"))
	require.NoError(t, err)
	assert.False(t, found, "bytes before Init must be ignored")

	appendLog(t, path, "[info] something unrelated\n")
	found, err = tr.Contains([]byte("cancelling write"))
	require.NoError(t, err)
	assert.False(t, found)

	appendLog(t, path, "[error] ngx_live_persist_index_channel_free: cancelling write\n")
	found, err = tr.Contains([]byte("cancelling write"))
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, tr.Init())
	found, err = tr.Contains([]byte("cancelling write"))
	require.NoError(t, err)
	assert.False(t, found, "re-init must start a fresh window")
}

func TestContainsAnyPattern(t *testing.T) {
	path := filepath.Join(t.TempDir(), "error.log")
	tr := New(path)
	require.NoError(t, tr.Init())

	appendLog(t, path, "read failed 409\n")
	found, err := tr.Contains([]byte("read failed 404"), []byte("read failed 409"))
	require.NoError(t, err)
	assert.True(t, found)

	assert.NoError(t, tr.AssertContains([]byte("nope"), []byte("409")))
	err = tr.AssertNotContains([]byte("409"))
	assert.True(t, errors.Is(err, livetest.ErrAssertion))
}

func TestMissingLog(t *testing.T) {
	tr := New(filepath.Join(t.TempDir(), "missing.log"))
	require.NoError(t, tr.Init())

	found, err := tr.Contains([]byte("anything"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, tr.AssertNoCriticalErrors())
}

func TestCriticalMarkers(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr bool
	}{
		{"bind noise only", "2024/01/01 00:00:00 [emerg] 123#0: bind() to 0.0.0.0:8001 failed (98: Address already in use)\n", false},
		{"plain error", "[error] 1#0: upstream timed out\n", false},
		{"emerg", "[emerg] 1#0: unknown directive\n", true},
		{"alert", "[alert] 1#0: worker process exited\n", true},
		{"crit", "[crit] 1#0: open() failed\n", true},
		{"sanitizer", "src/ngx_live.c:10: runtime error: signed integer overflow\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "error.log")
			tr := New(path)
			require.NoError(t, tr.Init())
			appendLog(t, path, tt.line)

			err := tr.AssertNoCriticalErrors()
			if tt.wantErr {
				assert.ErrorIs(t, err, livetest.ErrAssertion)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTruncatedLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "error.log")
	appendLog(t, path, "a long line written before the baseline\n")

	tr := New(path)
	require.NoError(t, tr.Init())

	require.NoError(t, os.WriteFile(path, []byte("[alert] fresh\n"), 0644))
	assert.Error(t, tr.AssertNoCriticalErrors())
}
