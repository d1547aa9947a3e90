// Package recorder continuously captures an in-progress live HLS broadcast.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agleyzer/hlsgrab/internal/downloader"
	"github.com/agleyzer/hlsgrab/internal/fetch"
	"github.com/agleyzer/hlsgrab/internal/merger"
	"github.com/agleyzer/hlsgrab/internal/playlist"
	"github.com/agleyzer/hlsgrab/internal/segment"
)

// State is the recorder lifecycle: Idle -> Recording -> one of the
// terminal states.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateStopped
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// maxRefreshFailures is how many consecutive transient playlist refresh
// failures are tolerated before the recording fails.
const maxRefreshFailures = 5

// RefreshFunc re-fetches and re-parses the live media playlist.
type RefreshFunc func(ctx context.Context) (*playlist.Playlist, error)

// Recorder polls a live media playlist and downloads only segments that
// appear after recording starts. Live playlists present overlapping
// windows across refreshes; a sequence number at or below the highest one
// seen is never downloaded again.
type Recorder struct {
	refresh RefreshFunc
	dl      *downloader.Orchestrator
	merger  merger.Merger
	logger  *slog.Logger

	mu    sync.Mutex
	state State
}

// New creates a Recorder in the Idle state.
func New(refresh RefreshFunc, dl *downloader.Orchestrator, m merger.Merger, logger *slog.Logger) *Recorder {
	return &Recorder{
		refresh: refresh,
		dl:      dl,
		merger:  m,
		logger:  logger,
		state:   StateIdle,
	}
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recorder) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	r.logger.Info("recorder state", "state", s)
}

// Record captures the broadcast described by initial into output. Segment
// files accumulate into one ordered list across poll iterations and are
// merged exactly once on graceful stop. Recording stops when maxDuration
// (if positive) elapses, when the playlist gains an end-list tag, or on
// cancellation. pollInterval <= 0 derives the interval from the playlist's
// target duration.
func (r *Recorder) Record(ctx context.Context, initial *playlist.Playlist, output string, maxDuration, pollInterval time.Duration) error {
	if initial.IsMaster {
		r.setState(StateFailed)
		r.dl.Finish(downloader.PhaseFailed)
		return downloader.ErrMasterPlaylist
	}
	if pollInterval <= 0 {
		pollInterval = derivePollInterval(initial.TargetDuration)
	}

	scratch := filepath.Join(filepath.Dir(output), "rec-"+uuid.NewString())
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		r.setState(StateFailed)
		r.dl.Finish(downloader.PhaseFailed)
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	r.setState(StateRecording)
	r.logger.Info("recording live stream",
		"poll", pollInterval,
		"maxDuration", maxDuration,
		"initialSegments", len(initial.Segments),
	)

	files, err := r.captureLoop(ctx, initial, scratch, maxDuration, pollInterval)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			r.setState(StateCancelled)
			r.dl.Finish(downloader.PhaseCancelled)
		} else {
			r.setState(StateFailed)
			r.dl.Finish(downloader.PhaseFailed)
		}
		return err
	}

	if len(files) == 0 {
		r.setState(StateFailed)
		r.dl.Finish(downloader.PhaseFailed)
		return fmt.Errorf("no segments captured")
	}

	r.dl.Publish(downloader.PhaseMerging)
	if err := r.merger.Merge(ctx, files, output); err != nil {
		os.Remove(output)
		r.setState(StateFailed)
		r.dl.Finish(downloader.PhaseFailed)
		return fmt.Errorf("merge: %w", err)
	}

	r.setState(StateStopped)
	r.dl.Finish(downloader.PhaseCompleted)
	return nil
}

// captureLoop runs the poll/download cycle and returns the accumulated
// ordered segment file list. The initial playlist only seeds the sequence
// watermark; capture covers segments appearing on later refreshes.
func (r *Recorder) captureLoop(ctx context.Context, pl *playlist.Playlist, scratch string, maxDuration, pollInterval time.Duration) ([]string, error) {
	start := time.Now()
	highest := pl.LastSequence()
	index := 0
	refreshFailures := 0
	var files []string

	for {
		fresh := newSegments(pl.Segments, highest)
		if len(fresh) > 0 {
			r.dl.AddTotal(len(fresh))
			paths, err := r.dl.FetchSegments(ctx, fresh, scratch, index)
			if err != nil {
				return nil, err
			}
			files = append(files, paths...)
			index += len(fresh)
			highest = fresh[len(fresh)-1].Sequence
			r.logger.Debug("captured new segments", "count", len(fresh), "highestSequence", highest)
		}

		if maxDuration > 0 && time.Since(start) >= maxDuration {
			r.logger.Info("duration cap reached", "elapsed", time.Since(start))
			return files, nil
		}
		if !pl.IsLive {
			r.logger.Info("stream ended")
			return files, nil
		}

		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return nil, context.Canceled
		}

		next, err := r.refresh(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, context.Canceled
			}
			refreshFailures++
			if !fetch.Transient(err) || refreshFailures >= maxRefreshFailures {
				return nil, fmt.Errorf("refresh playlist: %w", err)
			}
			r.logger.Warn("playlist refresh failed, will retry", "failures", refreshFailures, "error", err)
			continue
		}
		refreshFailures = 0
		pl = next
	}
}

// newSegments returns the segments with a sequence number above highest,
// preserving playlist order.
func newSegments(segs []segment.Segment, highest int) []segment.Segment {
	var fresh []segment.Segment
	for _, s := range segs {
		if s.Sequence > highest {
			fresh = append(fresh, s)
		}
	}
	return fresh
}

// derivePollInterval follows the HLS convention of polling at half the
// target duration, clamped to a sane range.
func derivePollInterval(targetDuration float64) time.Duration {
	interval := time.Duration(targetDuration / 2 * float64(time.Second))
	if interval < time.Second {
		interval = time.Second
	}
	if interval > 10*time.Second {
		interval = 10 * time.Second
	}
	return interval
}
