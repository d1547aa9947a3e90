// Package segment defines data structures for HLS media segments.
package segment

// Segment represents a single HLS media segment.
type Segment struct {
	// URL is the absolute segment URL, resolved against the playlist base
	URL string

	// Duration is the segment duration in seconds
	Duration float64

	// Sequence is the media sequence number of the segment.
	// Seeded from EXT-X-MEDIA-SEQUENCE (default 0) and incremented by one
	// per segment within a single parse pass.
	Sequence int

	// KeyURL is the absolute URL of the AES-128 key protecting this segment.
	// Empty when the segment is not encrypted. The key is recorded but
	// never fetched or applied here.
	KeyURL string

	// IV is the initialization vector as hex without a "0x" prefix.
	// Empty when the key tag carried no IV attribute.
	IV string
}

// Encrypted reports whether the segment carries an encryption key reference.
func (s Segment) Encrypted() bool {
	return s.KeyURL != ""
}
