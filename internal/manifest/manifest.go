// Package manifest renders live HLS media playlists.
package manifest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agleyzer/hlsloop/internal/segment"
)

// Version is the EXT-X-VERSION written into every playlist.
const Version = 3

// Media describes one rendering of a live media playlist.
type Media struct {
	// TargetDuration is the declared maximum segment duration in seconds
	TargetDuration int

	// MediaSequence is the sequence number of the first segment
	MediaSequence int

	// Segments are the segments in the current window, in playback order
	Segments []segment.Segment
}

// Window turns 1-based catalog indices into segments with a uniform duration.
func Window(indices []int, duration float64, uri URITemplate) []segment.Segment {
	segments := make([]segment.Segment, 0, len(indices))
	for _, idx := range indices {
		segments = append(segments, segment.Segment{
			Index:    idx,
			URI:      uri(idx),
			Duration: duration,
		})
	}
	return segments
}

// Render creates the playlist text. The output depends only on m, so rendering
// the same window twice yields identical bytes.
func Render(m Media) string {
	var b strings.Builder

	// HLS playlist header
	b.WriteString("#EXTM3U\n")
	b.WriteString(fmt.Sprintf("#EXT-X-VERSION:%d\n", Version))
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", m.TargetDuration))
	b.WriteString(fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n", m.MediaSequence))

	for _, seg := range m.Segments {
		b.WriteString("#EXTINF:")
		b.WriteString(FormatDuration(seg.Duration))
		b.WriteString(",\n")
		b.WriteString(seg.URI)
		b.WriteString("\n")
	}

	// NOTE: no #EXT-X-ENDLIST, the stream loops forever

	return b.String()
}

// FormatDuration renders seconds in their shortest decimal form while keeping
// at least one fractional digit, so 10 becomes "10.0" and 6.006 stays "6.006".
func FormatDuration(seconds float64) string {
	s := strconv.FormatFloat(seconds, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
