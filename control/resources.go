package control

// Media types accepted by Track.MediaType.
const (
	MediaVideo    = "video"
	MediaAudio    = "audio"
	MediaSubtitle = "subtitle"
)

// Channel is the root resource.
type Channel struct {
	ID                  Field[string]
	Preset              Field[string]
	Opaque              Field[string]
	SegmentDuration     Field[int64]
	InputDelay          Field[int64]
	Filler              Field[Filler]
	Read                Field[bool]
	Vars                Field[map[string]string]
	InitialSegmentIndex Field[int64]
	MemLimit            Field[int64]
}

func (c Channel) key() Field[string] { return c.ID }

// MarshalJSON implements json.Marshaler.
func (c Channel) MarshalJSON() ([]byte, error) {
	return marshalFields("channel", []fieldSpec{
		{"id", alwaysInclude, c.ID},
		{"preset", omitIfUnset, c.Preset},
		{"opaque", nullable, c.Opaque},
		{"segment_duration", omitIfUnset, c.SegmentDuration},
		{"input_delay", omitIfUnset, c.InputDelay},
		{"filler", nullable, c.Filler},
		{"read", omitIfUnset, c.Read},
		{"vars", nullable, c.Vars},
		{"initial_segment_index", omitIfUnset, c.InitialSegmentIndex},
		{"mem_limit", omitIfUnset, c.MemLimit},
	})
}

// Filler configures the fallback source of a channel. It is embedded in Channel
// rather than addressed on its own.
type Filler struct {
	ChannelID  Field[string]
	Preset     Field[string]
	TimelineID Field[string]
	Save       Field[bool]
}

// MarshalJSON implements json.Marshaler.
func (f Filler) MarshalJSON() ([]byte, error) {
	return marshalFields("filler", []fieldSpec{
		{"channel_id", omitIfUnset, f.ChannelID},
		{"preset", omitIfUnset, f.Preset},
		{"timeline_id", omitIfUnset, f.TimelineID},
		{"save", omitIfUnset, f.Save},
	})
}

// Variant groups tracks into a rendition.
type Variant struct {
	ID        Field[string]
	Opaque    Field[string]
	Label     Field[string]
	Lang      Field[string]
	Role      Field[string]
	IsDefault Field[bool]
	// TrackIDs maps a media type to a track id.
	TrackIDs Field[map[string]string]
}

func (v Variant) key() Field[string] { return v.ID }

// MarshalJSON implements json.Marshaler.
func (v Variant) MarshalJSON() ([]byte, error) {
	return marshalFields("variant", []fieldSpec{
		{"id", alwaysInclude, v.ID},
		{"opaque", nullable, v.Opaque},
		{"label", nullable, v.Label},
		{"lang", nullable, v.Lang},
		{"role", omitIfUnset, v.Role},
		{"is_default", omitIfUnset, v.IsDefault},
		{"track_ids", nullable, v.TrackIDs},
	})
}

// Track is a single elementary stream.
type Track struct {
	ID        Field[string]
	Opaque    Field[string]
	MediaType Field[string]
	GroupID   Field[string]
}

func (t Track) key() Field[string] { return t.ID }

// MarshalJSON implements json.Marshaler.
func (t Track) MarshalJSON() ([]byte, error) {
	return marshalFields("track", []fieldSpec{
		{"id", alwaysInclude, t.ID},
		{"opaque", nullable, t.Opaque},
		{"media_type", omitIfUnset, t.MediaType},
		{"group_id", nullable, t.GroupID},
	})
}

// Timeline is a window over the channel segments that manifests are built from.
// Setting EndList finalizes it.
type Timeline struct {
	ID                             Field[string]
	Source                         Field[TimelineSource]
	Active                         Field[bool]
	PeriodGap                      Field[int64]
	MaxSegments                    Field[int64]
	MaxDuration                    Field[int64]
	Start                          Field[int64]
	End                            Field[int64]
	ManifestMaxSegments            Field[int64]
	ManifestMaxDuration            Field[int64]
	ManifestExpiryThreshold        Field[int64]
	ManifestTargetDurationSegments Field[int64]
	NoTruncate                     Field[bool]
	EndList                        Field[bool]
}

func (t Timeline) key() Field[string] { return t.ID }

// MarshalJSON implements json.Marshaler.
func (t Timeline) MarshalJSON() ([]byte, error) {
	return marshalFields("timeline", []fieldSpec{
		{"id", alwaysInclude, t.ID},
		{"source", nullable, t.Source},
		{"active", omitIfUnset, t.Active},
		{"period_gap", omitIfUnset, t.PeriodGap},
		{"max_segments", omitIfUnset, t.MaxSegments},
		{"max_duration", omitIfUnset, t.MaxDuration},
		{"start", nullable, t.Start},
		{"end", nullable, t.End},
		{"manifest_max_segments", omitIfUnset, t.ManifestMaxSegments},
		{"manifest_max_duration", omitIfUnset, t.ManifestMaxDuration},
		{"manifest_expiry_threshold", omitIfUnset, t.ManifestExpiryThreshold},
		{"manifest_target_duration_segments", omitIfUnset, t.ManifestTargetDurationSegments},
		{"no_truncate", omitIfUnset, t.NoTruncate},
		{"end_list", omitIfUnset, t.EndList},
	})
}

// TimelineSource copies segments from another timeline.
type TimelineSource struct {
	ID          Field[string]
	StartOffset Field[int64]
	EndOffset   Field[int64]
}

// MarshalJSON implements json.Marshaler.
func (s TimelineSource) MarshalJSON() ([]byte, error) {
	return marshalFields("timeline source", []fieldSpec{
		{"id", alwaysInclude, s.ID},
		{"start_offset", omitIfUnset, s.StartOffset},
		{"end_offset", omitIfUnset, s.EndOffset},
	})
}

type trackRef struct {
	ID Field[string]
}

func (r trackRef) MarshalJSON() ([]byte, error) {
	return marshalFields("track reference", []fieldSpec{
		{"id", alwaysInclude, r.ID},
	})
}
