// Package playlist defines the parsed representation of an HLS playlist.
package playlist

import (
	"github.com/agleyzer/hlsgrab/internal/segment"
	"github.com/agleyzer/hlsgrab/internal/variant"
)

// Playlist is the immutable result of parsing one M3U8 document.
// Exactly one of Variants (master) or Segments (media) is populated.
type Playlist struct {
	// IsMaster indicates a master playlist listing quality variants
	IsMaster bool

	// IsLive is true for media playlists without an EXT-X-ENDLIST tag,
	// meaning the server is still appending segments
	IsLive bool

	// TargetDuration is the EXT-X-TARGETDURATION value in seconds
	TargetDuration float64

	// BaseURL is the absolute URL the playlist was fetched from
	BaseURL string

	// Variants lists quality variants in source order (master only)
	Variants []variant.Variant

	// Segments lists media segments in source order (media only)
	Segments []segment.Segment

	// Keys maps each encryption key URL seen in the playlist to its key
	// bytes. Values stay nil here; fetching keys is the consumer's job.
	Keys map[string][]byte
}

// LastSequence returns the sequence number of the final segment,
// or -1 for a playlist with no segments.
func (p *Playlist) LastSequence() int {
	if len(p.Segments) == 0 {
		return -1
	}
	return p.Segments[len(p.Segments)-1].Sequence
}

// TotalDuration returns the sum of all segment durations in seconds.
func (p *Playlist) TotalDuration() float64 {
	var total float64
	for _, s := range p.Segments {
		total += s.Duration
	}
	return total
}
