package testutil

import (
	"fmt"
	"strings"
)

// StreamURL builds {base}/{prefix}/{channel}/tl/{timeline}/{suffix}. An empty suffix
// becomes master.m3u8 for HLS prefixes.
func StreamURL(base, prefix, channelID, timelineID, suffix string) string {
	if suffix == "" && strings.HasPrefix(prefix, "hls") {
		suffix = "master.m3u8"
	}
	return fmt.Sprintf("%s/%s/%s/tl/%s/%s", strings.TrimRight(base, "/"), prefix, channelID, timelineID, suffix)
}
