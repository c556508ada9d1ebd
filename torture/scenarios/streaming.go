package scenarios

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nginxlive/livetest/control"
	"github.com/nginxlive/livetest/kmp"
	"github.com/nginxlive/livetest/nginxconf"
	"github.com/nginxlive/livetest/testutil"
	"github.com/nginxlive/livetest/torture"
)

var (
	endList       = []byte("#EXT-X-ENDLIST")
	extInf        = []byte("#EXTINF:")
	discontinuity = []byte("#EXT-X-DISCONTINUITY")
)

// DefaultPrefixes are the delivery prefixes a finished timeline is checked on.
var DefaultPrefixes = []string{"hls-ts", "hls-fmp4"}

// FetchFinalIndexes fetches the master and variant playlists of a finished
// timeline on every default prefix and checks each variant playlist ends with
// an end-list tag after at least one segment. It returns the variant playlists by prefix. The prefixes are
// fetched concurrently.
func FetchFinalIndexes(ctx context.Context, env *torture.Env, channelID, timelineID string) (map[string][]byte, error) {
	type pending struct {
		master, index *testutil.AsyncResult
	}
	requests := make(map[string]pending, len(DefaultPrefixes))
	for _, prefix := range DefaultPrefixes {
		requests[prefix] = pending{
			master: testutil.Go(ctx, nil, env.StreamURL(prefix, channelID, timelineID, "")),
			index:  testutil.Go(ctx, nil, env.StreamURL(prefix, channelID, timelineID, "index-s"+VariantID+".m3u8")),
		}
	}

	indexes := make(map[string][]byte, len(DefaultPrefixes))
	var errs []error
	for _, prefix := range DefaultPrefixes {
		req := requests[prefix]
		if err := req.master.Join().OK(); err != nil {
			errs = append(errs, fmt.Errorf("%s master: %w", prefix, err))
		}
		index := req.index.Join()
		if err := index.OK(); err != nil {
			errs = append(errs, fmt.Errorf("%s index: %w", prefix, err))
			continue
		}
		body := bytes.TrimRight(index.Body, "\r\n ")
		if err := testutil.EndsWith(body, endList); err != nil {
			errs = append(errs, fmt.Errorf("%s index: %w", prefix, err))
			continue
		}
		if err := testutil.GreaterThan(bytes.Count(body, extInf), 0); err != nil {
			errs = append(errs, fmt.Errorf("%s segments: %w", prefix, err))
			continue
		}
		indexes[prefix] = body
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return indexes, nil
}

// countDiscontinuities counts discontinuity tags, ignoring the sequence tag.
func countDiscontinuities(playlist []byte) int {
	n := 0
	for _, line := range bytes.Split(playlist, []byte("\n")) {
		if bytes.Equal(bytes.TrimSpace(line), discontinuity) {
			n++
		}
	}
	return n
}

// avStream holds the channel and ingest streams of a plain audio/video scenario.
type avStream struct {
	ch      *control.ChannelHandle
	senders []*kmp.Sender
	streams []*kmp.Stream
}

func startAV(ctx context.Context, env *torture.Env, video, audio string) (*avStream, error) {
	ch, err := SetupChannelTimeline(ctx, env, ChannelID, TimelineID, Preset)
	if err != nil {
		return nil, err
	}
	return connectAV(ctx, env, ch, video, audio)
}

func connectAV(ctx context.Context, env *torture.Env, ch *control.ChannelHandle, video, audio string) (*avStream, error) {
	rv, ra, err := OpenAV(env, video, audio)
	if err != nil {
		return nil, err
	}
	senders, err := CreateVariant(ctx, env, ch, VariantID, AV, 0)
	if err != nil {
		return nil, err
	}
	streams, err := Pair([]kmp.Source{rv, ra}, senders)
	if err != nil {
		return nil, err
	}
	return &avStream{ch: ch, senders: senders, streams: streams}, nil
}

func (s *avStream) finish(ctx context.Context) error {
	if err := kmp.SendEndOfStream(s.senders...); err != nil {
		return err
	}
	return FinishTimeline(ctx, s.ch, TimelineID)
}

// VodFinalize streams a short clip, ends the timeline and checks the playlists are final.
type VodFinalize struct {
	Duration time.Duration
}

// NewVodFinalize creates the scenario.
func NewVodFinalize() *VodFinalize {
	return &VodFinalize{Duration: 10 * time.Second}
}

// Name returns the scenario name.
func (s *VodFinalize) Name() string {
	return "vod_finalize"
}

// Test runs the scenario.
func (s *VodFinalize) Test(ctx context.Context, env *torture.Env) error {
	ts := kmp.NewTimestamps()

	av, err := startAV(ctx, env, env.Config.VideoCapture, env.Config.AudioCapture)
	if err != nil {
		return err
	}
	if err := kmp.SendStreams(ctx, av.streams, ts, s.Duration, kmp.SendOptions{}); err != nil {
		return err
	}
	if err := av.finish(ctx); err != nil {
		return err
	}

	_, err = FetchFinalIndexes(ctx, env, ChannelID, TimelineID)
	return err
}

// TimelinePeriodGap sends three runs of media separated by timestamp gaps wider
// than the timeline period gap, so each run starts a new period.
type TimelinePeriodGap struct {
	Duration time.Duration
}

// NewTimelinePeriodGap creates the scenario.
func NewTimelinePeriodGap() *TimelinePeriodGap {
	return &TimelinePeriodGap{Duration: 25 * time.Second}
}

// Name returns the scenario name.
func (s *TimelinePeriodGap) Name() string {
	return "timeline_period_gap"
}

// UpdateConf disables the syncer so the gaps reach the timeline unchanged.
func (s *TimelinePeriodGap) UpdateConf(conf *nginxconf.Block) error {
	return disableSyncer(conf)
}

// Test runs the scenario.
func (s *TimelinePeriodGap) Test(ctx context.Context, env *torture.Env) error {
	const runs = 3
	ts := kmp.NewTimestamps()

	ch, err := SetupChannelTimeline(ctx, env, ChannelID, TimelineID, Preset)
	if err != nil {
		return err
	}
	if _, err := ch.Timelines().Update(ctx, control.Timeline{
		ID:        control.Set(TimelineID),
		PeriodGap: control.Set[int64](kmp.Timescale),
	}); err != nil {
		return err
	}

	av, err := connectAV(ctx, env, ch, env.Config.VideoCapture, env.Config.AudioCapture)
	if err != nil {
		return err
	}
	for i := 0; i < runs; i++ {
		if i > 0 {
			ts.DTS += 60 * kmp.Timescale
		}
		if err := kmp.SendStreams(ctx, av.streams, ts, s.Duration, kmp.SendOptions{WaitForVideoKey: true}); err != nil {
			return err
		}
	}
	if err := av.finish(ctx); err != nil {
		return err
	}

	indexes, err := FetchFinalIndexes(ctx, env, ChannelID, TimelineID)
	if err != nil {
		return err
	}
	for prefix, index := range indexes {
		if err := testutil.Equal(countDiscontinuities(index), runs-1); err != nil {
			return fmt.Errorf("%s discontinuities: %w", prefix, err)
		}
	}
	return nil
}

// PTSForwardJump moves the timestamps forward mid-stream. With the syncer off the
// jump is absorbed and playback stays continuous.
type PTSForwardJump struct {
	Duration time.Duration
}

// NewPTSForwardJump creates the scenario.
func NewPTSForwardJump() *PTSForwardJump {
	return &PTSForwardJump{Duration: 26 * time.Second}
}

// Name returns the scenario name.
func (s *PTSForwardJump) Name() string {
	return "pts_forward_jump"
}

// UpdateConf disables the syncer.
func (s *PTSForwardJump) UpdateConf(conf *nginxconf.Block) error {
	return disableSyncer(conf)
}

// Test runs the scenario.
func (s *PTSForwardJump) Test(ctx context.Context, env *torture.Env) error {
	ts := kmp.NewTimestamps()

	av, err := startAV(ctx, env, env.Config.VideoCapture, env.Config.AudioCapture)
	if err != nil {
		return err
	}
	if err := kmp.SendStreams(ctx, av.streams, ts, s.Duration, kmp.SendOptions{WaitForVideoKey: true}); err != nil {
		return err
	}

	ts.DTS += 100 * kmp.Timescale

	if err := kmp.SendStreams(ctx, av.streams, ts, s.Duration, kmp.SendOptions{}); err != nil {
		return err
	}
	if err := av.finish(ctx); err != nil {
		return err
	}

	indexes, err := FetchFinalIndexes(ctx, env, ChannelID, TimelineID)
	if err != nil {
		return err
	}
	for prefix, index := range indexes {
		if err := testutil.Equal(countDiscontinuities(index), 0); err != nil {
			return fmt.Errorf("%s discontinuities: %w", prefix, err)
		}
	}
	return nil
}

// InputDelayMemLimit pushes high-bitrate media in real time into a channel whose
// input delay cannot fit its memory limit. The segmenter has to reduce the delay.
type InputDelayMemLimit struct {
	Duration time.Duration
	// Drain is the wait between end of stream and ending the timeline.
	Drain time.Duration
	// LastSegment is the file name the final playlist must end with.
	LastSegment string
}

// NewInputDelayMemLimit creates the scenario.
func NewInputDelayMemLimit() *InputDelayMemLimit {
	return &InputDelayMemLimit{
		Duration:    30 * time.Second,
		Drain:       5 * time.Second,
		LastSegment: "seg-5-s" + VariantID + ".ts",
	}
}

// Name returns the scenario name.
func (s *InputDelayMemLimit) Name() string {
	return "input_delay_mem_limit"
}

// Test runs the scenario.
func (s *InputDelayMemLimit) Test(ctx context.Context, env *torture.Env) error {
	ts := kmp.NewTimestamps()

	ch, err := SetupChannelTimeline(ctx, env, ChannelID, TimelineID, Preset)
	if err != nil {
		return err
	}
	if _, err := env.Client.Channels().Update(ctx, control.Channel{
		ID:         control.Set(ChannelID),
		InputDelay: control.Set[int64](599999),
		MemLimit:   control.Set[int64](24 * 1024 * 1024),
	}); err != nil {
		return err
	}

	av, err := connectAV(ctx, env, ch, env.Config.HighVideoCapture, env.Config.HighAudioCapture)
	if err != nil {
		return err
	}
	if err := kmp.SendStreams(ctx, av.streams, ts, s.Duration, kmp.SendOptions{Realtime: 1}); err != nil {
		return err
	}
	if err := kmp.SendEndOfStream(av.senders...); err != nil {
		return err
	}
	if err := torture.Sleep(ctx, s.Drain); err != nil {
		return err
	}
	if err := FinishTimeline(ctx, ch, TimelineID); err != nil {
		return err
	}

	// The created timestamps are real, so only the tail of the playlist is stable.
	res := testutil.Get(ctx, nil, env.StreamURL("hls-ts", ChannelID, TimelineID, "index-s"+VariantID+".m3u8"))
	if err := res.OK(); err != nil {
		return err
	}
	want := []byte(s.LastSegment + "\n" + string(endList))
	if err := testutil.EndsWith(bytes.TrimRight(res.Body, "\r\n "), want); err != nil {
		return err
	}

	return env.Tracker.AssertContains([]byte("ngx_live_segmenter_channel_watermark: reducing input delay"))
}
