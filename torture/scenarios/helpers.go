// Package scenarios contains the live scenarios run against nginx-live.
package scenarios

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/nginxlive/livetest/control"
	"github.com/nginxlive/livetest/internal/logger"
	"github.com/nginxlive/livetest/kmp"
	"github.com/nginxlive/livetest/nginxconf"
	"github.com/nginxlive/livetest/stub"
	"github.com/nginxlive/livetest/torture"
)

// Identifiers shared by the scenarios.
const (
	ChannelID        = torture.DefaultChannelID
	TimelineID       = "main"
	VariantID        = "var1"
	Preset           = "main"
	FillerChannelID  = "__filler"
	FillerPreset     = "main"
	FillerTimelineID = "main"
)

// TrackSpec names a track and its media type.
type TrackSpec struct {
	ID        string
	MediaType string
}

// AV is the usual video plus audio pair.
var AV = []TrackSpec{{"v1", control.MediaVideo}, {"a1", control.MediaAudio}}

// SetupChannelTimeline creates a channel with preset and an active timeline.
func SetupChannelTimeline(ctx context.Context, env *torture.Env, channelID, timelineID, preset string) (*control.ChannelHandle, error) {
	if _, err := env.Client.Channels().Create(ctx, control.Channel{
		ID:     control.Set(channelID),
		Preset: control.Set(preset),
	}); err != nil {
		return nil, err
	}

	ch := env.Channel(channelID)
	if _, err := ch.Timelines().Create(ctx, control.Timeline{
		ID:                             control.Set(timelineID),
		Active:                         control.Set(true),
		ManifestTargetDurationSegments: control.Set[int64](3),
	}); err != nil {
		return nil, err
	}
	return ch, nil
}

// CreateTrack creates a track, attaches it to variantID when one is given, and
// connects an ingest sender for it.
func CreateTrack(ctx context.Context, env *torture.Env, ch *control.ChannelHandle, trackID, mediaType, variantID string, initialFrameID uint64, opts ...kmp.SenderOption) (*kmp.Sender, error) {
	if _, err := ch.Tracks().Create(ctx, control.Track{
		ID:        control.Set(trackID),
		MediaType: control.Set(mediaType),
	}); err != nil {
		return nil, err
	}
	if variantID != "" {
		if _, err := ch.Variants().AddTrack(ctx, variantID, trackID); err != nil {
			return nil, err
		}
	}
	return env.Connect(ctx, ch.ID(), trackID, initialFrameID, opts...)
}

// CreateVariant creates a variant and one attached track for each entry of tracks.
func CreateVariant(ctx context.Context, env *torture.Env, ch *control.ChannelHandle, variantID string, tracks []TrackSpec, initialFrameID uint64, opts ...kmp.SenderOption) ([]*kmp.Sender, error) {
	if _, err := ch.Variants().Create(ctx, control.Variant{ID: control.Set(variantID)}); err != nil {
		return nil, err
	}

	senders := make([]*kmp.Sender, 0, len(tracks))
	for _, t := range tracks {
		s, err := CreateTrack(ctx, env, ch, t.ID, t.MediaType, variantID, initialFrameID, opts...)
		if err != nil {
			return nil, err
		}
		senders = append(senders, s)
	}
	return senders, nil
}

// CreateSubtitleVariant creates a subtitle track and an alternate variant that carries it.
func CreateSubtitleVariant(ctx context.Context, env *torture.Env, ch *control.ChannelHandle, variantID, trackID, label, lang string, opts ...kmp.SenderOption) (*kmp.Sender, error) {
	s, err := CreateTrack(ctx, env, ch, trackID, control.MediaSubtitle, "", 0, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := ch.Variants().Create(ctx, control.Variant{
		ID:       control.Set(variantID),
		Role:     control.Set("alternate"),
		Label:    control.Set(label),
		Lang:     control.Set(lang),
		TrackIDs: control.Set(map[string]string{control.MediaSubtitle: trackID}),
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Filler points a channel at the shared filler channel.
func Filler() control.Filler {
	return control.Filler{
		ChannelID:  control.Set(FillerChannelID),
		Preset:     control.Set(FillerPreset),
		TimelineID: control.Set(FillerTimelineID),
	}
}

// SaveFiller asks the server to persist channelID as a filler source.
func SaveFiller(ctx context.Context, env *torture.Env, channelID string) error {
	_, err := env.Client.Channels().Update(ctx, control.Channel{
		ID: control.Set(channelID),
		Filler: control.Set(control.Filler{
			Save:       control.Set(true),
			TimelineID: control.Set(FillerTimelineID),
		}),
	})
	return err
}

// FinishTimeline marks the timeline as ended so manifests carry an end-list tag.
func FinishTimeline(ctx context.Context, ch *control.ChannelHandle, timelineID string) error {
	_, err := ch.Timelines().Update(ctx, control.Timeline{
		ID:      control.Set(timelineID),
		EndList: control.Set(true),
	})
	return err
}

// OpenAV opens a video and an audio capture.
func OpenAV(env *torture.Env, video, audio string) (kmp.Source, kmp.Source, error) {
	v, err := env.OpenCapture(video)
	if err != nil {
		return nil, nil, err
	}
	a, err := env.OpenCapture(audio)
	if err != nil {
		return nil, nil, err
	}
	return v, a, nil
}

// Pair builds the stream list for SendStreams from sources and senders in order.
func Pair(sources []kmp.Source, senders []*kmp.Sender) ([]*kmp.Stream, error) {
	if len(sources) != len(senders) {
		return nil, fmt.Errorf("%d sources for %d senders", len(sources), len(senders))
	}
	streams := make([]*kmp.Stream, len(sources))
	for i := range sources {
		streams[i] = kmp.NewStream(sources[i], senders[i])
	}
	return streams, nil
}

// proxyToStub routes location to the stub server.
func proxyToStub(conf *nginxconf.Block, location, stubURL string) error {
	return conf.Append([]string{"http", "server"},
		nginxconf.NewBlock("location", []string{location},
			nginxconf.NewDirective("proxy_pass", stubURL)))
}

// disableSyncer turns off the track syncer of the main preset.
func disableSyncer(conf *nginxconf.Block) error {
	return conf.Append([]string{"live", "preset " + Preset}, nginxconf.NewDirective("syncer", "off"))
}

// requestWait bounds how long a stub handler waits for the backend request line.
const requestWait = time.Second

// deleteOnConnect deletes the channel whenever the server under test calls the stub.
// The pending backend request is read and logged first but never answered.
// A channel that is already gone is not an error.
func deleteOnConnect(ctx context.Context, env *torture.Env, channelID string) stub.Handler {
	return func(conn net.Conn) error {
		logBackendRequest(conn)
		err := env.Client.Channels().Delete(ctx, channelID)
		if err != nil && !control.IsStatus(err, 404) {
			return err
		}
		return nil
	}
}

func logBackendRequest(conn net.Conn) {
	if err := conn.SetReadDeadline(time.Now().Add(requestWait)); err != nil {
		return
	}
	defer conn.SetReadDeadline(time.Time{})

	req, body, err := stub.ReadRequest(conn)
	if err != nil {
		logger.Log.Debug("Stub connection without a readable request: {error}", err)
		return
	}
	logger.Log.Info("Backend {method} {path} ({bytes} bytes) held by stub", req.Method, req.URL.Path, len(body))
}
