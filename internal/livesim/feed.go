// Package livesim replays a static segment list as a looping live HLS
// feed. It backs the hlsorigin dev server and the live recorder tests.
package livesim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/grafov/m3u8"

	"github.com/agleyzer/hlsgrab/internal/segment"
)

// Feed maintains a sliding window over a fixed segment list, advancing the
// media sequence as a live encoder would and wrapping at the end.
type Feed struct {
	mu             sync.RWMutex
	segments       []segment.Segment
	windowSize     int
	position       int
	sequence       uint64
	targetDuration float64
	ended          bool
	logger         *slog.Logger
}

// New creates a feed over segments with the given window size.
func New(segments []segment.Segment, windowSize int, targetDuration float64, logger *slog.Logger) (*Feed, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("cannot create feed with zero segments")
	}
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive")
	}
	if windowSize > len(segments) {
		windowSize = len(segments)
		logger.Warn("window size larger than segment count, using all segments", "windowSize", windowSize)
	}

	return &Feed{
		segments:       segments,
		windowSize:     windowSize,
		targetDuration: targetDuration,
		logger:         logger,
	}, nil
}

// Playlist encodes the current window as a media playlist. While the feed
// is live the playlist carries no end-list tag; after End it does.
func (f *Feed) Playlist() (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	window := f.currentWindow()
	p, err := m3u8.NewMediaPlaylist(uint(len(window)), uint(len(window)))
	if err != nil {
		return "", fmt.Errorf("create playlist: %w", err)
	}

	for _, s := range window {
		if err := p.Append(s.URL, s.Duration, ""); err != nil {
			return "", fmt.Errorf("append segment: %w", err)
		}
	}

	p.TargetDuration = f.targetDuration
	p.SeqNo = f.sequence
	if f.ended {
		p.Close()
	}

	return p.Encode().String(), nil
}

// Advance moves the window forward by one segment.
func (f *Feed) Advance() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.position = (f.position + 1) % len(f.segments)
	f.sequence++
	f.logger.Debug("advanced window", "position", f.position, "sequence", f.sequence)
}

// End marks the feed finished; subsequent playlists carry the end-list tag.
func (f *Feed) End() {
	f.mu.Lock()
	f.ended = true
	f.mu.Unlock()
}

// Sequence returns the current media sequence number.
func (f *Feed) Sequence() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sequence
}

// StartAutoAdvance advances the window every interval until ctx ends.
// A non-positive interval uses the target duration.
func (f *Feed) StartAutoAdvance(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Duration(f.targetDuration * float64(time.Second))
	}

	f.logger.Info("starting auto-advance",
		"interval", interval,
		"windowSize", f.windowSize,
		"totalSegments", len(f.segments),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("stopping auto-advance")
			return
		case <-ticker.C:
			f.Advance()
		}
	}
}

// currentWindow returns the segments in the current window. Caller must
// hold at least a read lock.
func (f *Feed) currentWindow() []segment.Segment {
	window := make([]segment.Segment, 0, f.windowSize)
	for i := 0; i < f.windowSize; i++ {
		idx := (f.position + i) % len(f.segments)
		window = append(window, f.segments[idx])
	}
	return window
}
