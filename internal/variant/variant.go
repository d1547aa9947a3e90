// Package variant defines data structures for HLS variant streams in master playlists.
package variant

import "sort"

// Variant represents a single variant stream in an HLS master playlist.
// Each variant typically represents a different quality level (bitrate/resolution).
type Variant struct {
	// Bandwidth is the peak segment bitrate in bits per second
	Bandwidth int

	// Resolution is the video resolution (e.g., "1920x1080", "1280x720")
	// Empty string if not specified in master playlist
	Resolution string

	// Codecs is the codec string (e.g., "avc1.4d401f,mp4a.40.2")
	// Empty string if not specified in master playlist
	Codecs string

	// URL is the absolute URL of the variant's media playlist
	URL string
}

// SortByBandwidth sorts variants by bandwidth, highest first. Parsing
// preserves source order; selection code sorts its own copy.
func SortByBandwidth(variants []Variant) {
	sort.SliceStable(variants, func(i, j int) bool {
		return variants[i].Bandwidth > variants[j].Bandwidth
	})
}
