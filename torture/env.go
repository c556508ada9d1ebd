package torture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/nginxlive/livetest"
	"github.com/nginxlive/livetest/cleanup"
	"github.com/nginxlive/livetest/control"
	"github.com/nginxlive/livetest/kmp"
	"github.com/nginxlive/livetest/logtrack"
	"github.com/nginxlive/livetest/stub"
	"github.com/nginxlive/livetest/testutil"
)

// DefaultChannelID is the channel scenarios create and the default cleanup deletes.
const DefaultChannelID = "test"

// Env is what a scenario works with. It is shared by all scenarios of a run.
type Env struct {
	Config  *livetest.Config
	Client  *control.Client
	Tracker *logtrack.Tracker
	Stack   *cleanup.Stack
}

// Channel returns a handle scoped to channel id.
func (e *Env) Channel(id string) *control.ChannelHandle {
	return e.Client.Channel(id)
}

// StartStub starts the fault-injection server on the configured stub port.
// It is torn down when the cleanup stack unwinds.
func (e *Env) StartStub(handler stub.Handler) (*stub.Server, error) {
	return stub.Start(e.Config.StubPort, handler, e.Stack)
}

// StubURL is the address nginx proxy_pass directives point at to reach the stub.
func (e *Env) StubURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", e.Config.StubPort)
}

// Connect opens an ingest connection for a track. The connection is closed when
// the cleanup stack unwinds.
func (e *Env) Connect(ctx context.Context, channelID, trackID string, initialFrameID uint64, opts ...kmp.SenderOption) (*kmp.Sender, error) {
	s, err := kmp.Dial(ctx, e.Config.KMPAddr, kmp.Connect{
		ChannelID:      channelID,
		TrackID:        trackID,
		InitialFrameID: initialFrameID,
	}, opts...)
	if err != nil {
		return nil, err
	}
	e.Stack.Push(func() error {
		if err := s.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})
	return s, nil
}

// OpenCapture opens a recorded track and closes it when the cleanup stack unwinds.
func (e *Env) OpenCapture(path string) (*kmp.Capture, error) {
	c, err := kmp.OpenCapture(path)
	if err != nil {
		return nil, err
	}
	e.Stack.Push(c.Close)
	return c, nil
}

// StreamURL returns a delivery URL on the server under test.
func (e *Env) StreamURL(prefix, channelID, timelineID, suffix string) string {
	return testutil.StreamURL(e.Config.ServerURL, prefix, channelID, timelineID, suffix)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DefaultCleanup deletes the default channel, tolerating 404, unwinds the cleanup
// stack and checks the log window for critical errors.
func DefaultCleanup(ctx context.Context, env *Env) error {
	if err := env.Client.Channels().Delete(ctx, DefaultChannelID); err != nil && !control.IsStatus(err, 404) {
		return err
	}
	if err := env.Stack.Reset(); err != nil {
		return err
	}
	return env.Tracker.AssertNoCriticalErrors()
}
