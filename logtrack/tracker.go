// Package logtrack scrapes the server error log for lines written since a recorded offset.
package logtrack

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/nginxlive/livetest"
	"github.com/nginxlive/livetest/internal/logger"
	"github.com/nginxlive/livetest/monitoring"
)

// bindNoise matches the address-reuse diagnostic the server logs when restarted quickly.
var bindNoise = regexp.MustCompile(`\[emerg\] [^ ]+ bind\(\) to [^ ]+ failed`)

// CriticalMarkers are the severity markers that fail a scenario whenever they appear.
var CriticalMarkers = [][]byte{
	[]byte("[emerg]"),
	[]byte("[alert]"),
	[]byte("[crit]"),
	[]byte("runtime error"),
}

// Tracker reads bytes appended to a log file after a baseline offset.
type Tracker struct {
	path   string
	offset int64
}

// New creates a tracker for the log at path. Call Init before querying it.
func New(path string) *Tracker {
	return &Tracker{path: path}
}

// Path returns the tracked log file.
func (t *Tracker) Path() string {
	return t.path
}

// Init records the current log size as the baseline. A missing log counts as empty.
func (t *Tracker) Init() error {
	info, err := os.Stat(t.path)
	switch {
	case os.IsNotExist(err):
		t.offset = 0
	case err != nil:
		return fmt.Errorf("failed to stat log %s: %w", t.path, err)
	default:
		t.offset = info.Size()
	}
	logger.Log.Debug("Log tracker baseline {offset} for {path}", t.offset, t.path)
	return nil
}

// Window returns the normalized bytes appended since the baseline.
func (t *Tracker) Window() ([]byte, error) {
	f, err := os.Open(t.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open log %s: %w", t.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat log %s: %w", t.path, err)
	}
	offset := t.offset
	if info.Size() < offset {
		// Log was truncated or replaced since Init.
		offset = 0
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek log %s: %w", t.path, err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read log %s: %w", t.path, err)
	}
	return bindNoise.ReplaceAll(data, nil), nil
}

// Contains reports whether any of the patterns occurs in the window.
func (t *Tracker) Contains(patterns ...[]byte) (bool, error) {
	_, found, err := t.find(patterns)
	return found, err
}

func (t *Tracker) find(patterns [][]byte) ([]byte, bool, error) {
	window, err := t.Window()
	if err != nil {
		return nil, false, err
	}
	for _, p := range patterns {
		if bytes.Contains(window, p) {
			return p, true, nil
		}
	}
	return nil, false, nil
}

// AssertContains fails unless one of the patterns occurs in the window.
func (t *Tracker) AssertContains(patterns ...[]byte) error {
	_, found, err := t.find(patterns)
	if err != nil {
		return err
	}
	monitoring.RecordLogAssertion("contains", found)
	if !found {
		return livetest.Assertf("log %s does not contain %s", t.path, quote(patterns))
	}
	return nil
}

// AssertNotContains fails if any of the patterns occurs in the window.
func (t *Tracker) AssertNotContains(patterns ...[]byte) error {
	match, found, err := t.find(patterns)
	if err != nil {
		return err
	}
	monitoring.RecordLogAssertion("not_contains", !found)
	if found {
		return livetest.Assertf("log %s contains %q", t.path, match)
	}
	return nil
}

// AssertNoCriticalErrors fails if the window holds a critical-severity marker.
func (t *Tracker) AssertNoCriticalErrors() error {
	match, found, err := t.find(CriticalMarkers)
	if err != nil {
		return err
	}
	monitoring.RecordLogAssertion("no_critical", !found)
	if found {
		logger.Log.Error("Critical marker {marker} found in {path}", string(match), t.path)
		return livetest.Assertf("log %s contains critical marker %q", t.path, match)
	}
	return nil
}

func quote(patterns [][]byte) string {
	var b bytes.Buffer
	for i, p := range patterns {
		if i > 0 {
			b.WriteString(" or ")
		}
		fmt.Fprintf(&b, "%q", p)
	}
	return b.String()
}
