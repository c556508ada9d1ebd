package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type record interface {
	json.Marshaler
	key() Field[string]
}

// resource implements the calls every resource type shares.
type resource[R record] struct {
	client *Client
	prefix []string
	kind   string
}

func (r resource[R]) path(extra ...string) []string {
	segments := make([]string, 0, len(r.prefix)+len(extra))
	segments = append(segments, r.prefix...)
	return append(segments, extra...)
}

// List returns every resource of this type.
func (r resource[R]) List(ctx context.Context) (json.RawMessage, error) {
	return r.client.do(ctx, http.MethodGet, r.path(), nil)
}

// Get returns a single resource.
func (r resource[R]) Get(ctx context.Context, id string) (json.RawMessage, error) {
	return r.client.do(ctx, http.MethodGet, r.path(id), nil)
}

// Create posts a new resource.
func (r resource[R]) Create(ctx context.Context, rec R) (json.RawMessage, error) {
	return r.client.do(ctx, http.MethodPost, r.path(), rec)
}

// Update puts the set fields of rec onto the resource named by its id.
func (r resource[R]) Update(ctx context.Context, rec R) (json.RawMessage, error) {
	id, ok := rec.key().Get()
	if !ok {
		return nil, fmt.Errorf("%s update requires an id", r.kind)
	}
	return r.client.do(ctx, http.MethodPut, r.path(id), rec)
}

// Delete removes a resource.
func (r resource[R]) Delete(ctx context.Context, id string) error {
	_, err := r.client.do(ctx, http.MethodDelete, r.path(id), nil)
	return err
}

// ChannelService manages channels.
type ChannelService struct {
	resource[Channel]
}

// VariantService manages the variants of one channel.
type VariantService struct {
	resource[Variant]
}

// AddTrack attaches a track to a variant.
func (s *VariantService) AddTrack(ctx context.Context, variantID, trackID string) (json.RawMessage, error) {
	return s.client.do(ctx, http.MethodPost, s.path(variantID, "tracks"), trackRef{ID: Set(trackID)})
}

// TrackService manages the tracks of one channel.
type TrackService struct {
	resource[Track]
}

// TimelineService manages the timelines of one channel.
type TimelineService struct {
	resource[Timeline]
}

// ChannelHandle scopes calls to a single channel.
type ChannelHandle struct {
	client *Client
	id     string
}

// ID returns the channel id.
func (h *ChannelHandle) ID() string {
	return h.id
}

// Variants returns the variant service of the channel.
func (h *ChannelHandle) Variants() *VariantService {
	return &VariantService{resource[Variant]{client: h.client, prefix: []string{"channels", h.id, "variants"}, kind: "variant"}}
}

// Tracks returns the track service of the channel.
func (h *ChannelHandle) Tracks() *TrackService {
	return &TrackService{resource[Track]{client: h.client, prefix: []string{"channels", h.id, "tracks"}, kind: "track"}}
}

// Timelines returns the timeline service of the channel.
func (h *ChannelHandle) Timelines() *TimelineService {
	return &TimelineService{resource[Timeline]{client: h.client, prefix: []string{"channels", h.id, "timelines"}, kind: "timeline"}}
}
