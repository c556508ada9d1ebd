package scenarios

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nginxlive/livetest/control"
	"github.com/nginxlive/livetest/kmp"
	"github.com/nginxlive/livetest/nginxconf"
	"github.com/nginxlive/livetest/resilience"
	"github.com/nginxlive/livetest/testutil"
	"github.com/nginxlive/livetest/torture"
)

// backendFault routes one persistence path to the stub server, which deletes the
// channel while the request is in flight.
type backendFault struct {
	location string
	stubURL  string
	// Settle is the pause after the stub is torn down.
	Settle time.Duration
}

func newBackendFault(location, stubURL string) backendFault {
	return backendFault{location: location, stubURL: stubURL, Settle: time.Second}
}

// UpdateConf proxies the backend location to the stub.
func (f *backendFault) UpdateConf(conf *nginxconf.Block) error {
	return proxyToStub(conf, f.location, f.stubURL)
}

func (f *backendFault) finish(ctx context.Context, env *torture.Env) error {
	if err := env.Stack.Reset(); err != nil {
		return err
	}
	return torture.Sleep(ctx, f.Settle)
}

// ChannelFreeDuringFillerWait deletes a channel while it waits for its filler to load.
type ChannelFreeDuringFillerWait struct {
	backendFault
}

// NewChannelFreeDuringFillerWait creates the scenario.
func NewChannelFreeDuringFillerWait(stubURL string) *ChannelFreeDuringFillerWait {
	return &ChannelFreeDuringFillerWait{newBackendFault("/store/channel/"+FillerChannelID+"/filler", stubURL)}
}

// Name returns the scenario name.
func (s *ChannelFreeDuringFillerWait) Name() string {
	return "channel_free_during_filler_wait"
}

// Test creates a channel with a filler and expects the creation to fail with 503.
func (s *ChannelFreeDuringFillerWait) Test(ctx context.Context, env *torture.Env) error {
	if _, err := env.StartStub(deleteOnConnect(ctx, env, ChannelID)); err != nil {
		return err
	}

	if err := testutil.ExpectHTTPError(func() error {
		_, err := env.Client.Channels().Create(ctx, control.Channel{
			ID:     control.Set(ChannelID),
			Preset: control.Set(Preset),
			Filler: control.Set(Filler()),
		})
		return err
	}, 503); err != nil {
		return err
	}

	if err := env.Tracker.AssertContains([]byte("ngx_live_filler_ready_handler: notif failed -6")); err != nil {
		return err
	}
	return s.finish(ctx, env)
}

// ChannelFreeDuringIndexWrite deletes a channel while its segment index is being written.
type ChannelFreeDuringIndexWrite struct {
	backendFault
	// Duration is how much media is pushed.
	Duration time.Duration
	// Drain bounds the wait for the cancellation to be logged after sending stops.
	Drain time.Duration
}

var indexWriteCancelled = []byte("ngx_live_persist_index_channel_free: cancelling write")

// NewChannelFreeDuringIndexWrite creates the scenario.
func NewChannelFreeDuringIndexWrite(stubURL string) *ChannelFreeDuringIndexWrite {
	return &ChannelFreeDuringIndexWrite{
		backendFault: newBackendFault("/store/channel/"+ChannelID+"/index", stubURL),
		Duration:     30 * time.Second,
		Drain:        5 * time.Second,
	}
}

// Name returns the scenario name.
func (s *ChannelFreeDuringIndexWrite) Name() string {
	return "channel_free_during_index_write"
}

// Test streams media until the first index write reaches the stub. The server
// drops the ingest connections once the channel is gone, so connection errors
// while sending are expected.
func (s *ChannelFreeDuringIndexWrite) Test(ctx context.Context, env *torture.Env) error {
	ts := kmp.NewTimestamps()

	ch, err := SetupChannelTimeline(ctx, env, ChannelID, TimelineID, Preset)
	if err != nil {
		return err
	}

	rv, ra, err := OpenAV(env, env.Config.VideoCapture, env.Config.AudioCapture)
	if err != nil {
		return err
	}

	senders, err := CreateVariant(ctx, env, ch, VariantID, AV, 0)
	if err != nil {
		return err
	}

	if _, err := env.StartStub(deleteOnConnect(ctx, env, ChannelID)); err != nil {
		return err
	}

	streams, err := Pair([]kmp.Source{rv, ra}, senders)
	if err != nil {
		return err
	}
	if err := kmp.SendStreams(ctx, streams, ts, s.Duration, kmp.SendOptions{}); err != nil && !kmp.IsConnectionError(err) {
		return err
	}

	poller := resilience.NewPoller(100*time.Millisecond, s.Drain)
	if err := poller.Until(ctx, func(context.Context) (bool, error) {
		return env.Tracker.Contains(indexWriteCancelled)
	}); err != nil && !errors.Is(err, resilience.ErrTimeout) {
		return err
	}
	if err := env.Tracker.AssertContains(indexWriteCancelled); err != nil {
		return err
	}
	return s.finish(ctx, env)
}

// ChannelFreeDuringSetupRead deletes a channel while its persisted setup is being read.
type ChannelFreeDuringSetupRead struct {
	backendFault
}

// NewChannelFreeDuringSetupRead creates the scenario.
func NewChannelFreeDuringSetupRead(stubURL string) *ChannelFreeDuringSetupRead {
	return &ChannelFreeDuringSetupRead{newBackendFault("/store/channel/"+ChannelID+"/setup", stubURL)}
}

// Name returns the scenario name.
func (s *ChannelFreeDuringSetupRead) Name() string {
	return "channel_free_during_setup_read"
}

// Test creates the channel and expects 409 once the read is cancelled.
func (s *ChannelFreeDuringSetupRead) Test(ctx context.Context, env *torture.Env) error {
	if _, err := env.StartStub(deleteOnConnect(ctx, env, ChannelID)); err != nil {
		return err
	}

	_, err := env.Client.Channels().Create(ctx, control.Channel{
		ID:     control.Set(ChannelID),
		Preset: control.Set(Preset),
	})
	if err := testutil.ExpectStatus(err, 409); err != nil {
		return err
	}

	if err := env.Tracker.AssertContains([]byte("ngx_live_persist_core_read_handler: read failed 409")); err != nil {
		return err
	}
	return s.finish(ctx, env)
}

// ChannelFreeDuringSetupWrite deletes a channel while its setup is being persisted.
type ChannelFreeDuringSetupWrite struct {
	backendFault
	// GoneTimeout bounds the wait for the channel to disappear.
	GoneTimeout time.Duration
}

// NewChannelFreeDuringSetupWrite creates the scenario.
func NewChannelFreeDuringSetupWrite(stubURL string) *ChannelFreeDuringSetupWrite {
	return &ChannelFreeDuringSetupWrite{
		backendFault: newBackendFault("/store/channel/"+ChannelID+"/setup", stubURL),
		GoneTimeout:  30 * time.Second,
	}
}

// Name returns the scenario name.
func (s *ChannelFreeDuringSetupWrite) Name() string {
	return "channel_free_during_setup_write"
}

// Test creates a channel without reading persisted state, adds a timeline to
// trigger a setup write, and waits for the stub to delete the channel.
func (s *ChannelFreeDuringSetupWrite) Test(ctx context.Context, env *torture.Env) error {
	if _, err := env.StartStub(deleteOnConnect(ctx, env, ChannelID)); err != nil {
		return err
	}

	if _, err := env.Client.Channels().Create(ctx, control.Channel{
		ID:     control.Set(ChannelID),
		Preset: control.Set(Preset),
		Read:   control.Set(false),
	}); err != nil {
		return err
	}
	if _, err := env.Channel(ChannelID).Timelines().Create(ctx, control.Timeline{
		ID:     control.Set(TimelineID),
		Active: control.Set(true),
	}); err != nil {
		return err
	}

	var unexpected error
	poller := resilience.NewPoller(100*time.Millisecond, s.GoneTimeout)
	if err := poller.Until(ctx, func(ctx context.Context) (bool, error) {
		_, err := env.Client.Channels().Get(ctx, ChannelID)
		switch {
		case err == nil:
			return false, nil
		case control.IsStatus(err, 404):
			return true, nil
		default:
			unexpected = err
			return true, nil
		}
	}); err != nil {
		return fmt.Errorf("waiting for channel %s to be deleted: %w", ChannelID, err)
	}
	if unexpected != nil {
		return unexpected
	}

	if err := env.Tracker.AssertContains([]byte("ngx_live_persist_setup_channel_free: cancelling write")); err != nil {
		return err
	}
	return s.finish(ctx, env)
}
