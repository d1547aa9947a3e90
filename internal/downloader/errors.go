package downloader

import (
	"errors"
	"fmt"
)

// ErrMasterPlaylist is returned when a master playlist reaches the
// orchestrator; the caller must resolve it to a media playlist first.
var ErrMasterPlaylist = errors.New("cannot download a master playlist")

// ErrNoSegments is returned for a media playlist with zero segments.
var ErrNoSegments = errors.New("playlist has no segments")

// SegmentError reports a segment that exhausted its retry budget or hit a
// non-retryable failure. It aborts the whole job; a truncated artifact is
// never produced.
type SegmentError struct {
	Index    int
	Sequence int
	URL      string
	Err      error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %d (sequence %d, %s): %v", e.Index, e.Sequence, e.URL, e.Err)
}

func (e *SegmentError) Unwrap() error {
	return e.Err
}
