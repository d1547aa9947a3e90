// Package downloader fetches every segment of a media playlist with
// bounded concurrency, per-segment retry, and ordered reassembly.
package downloader

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
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/agleyzer/hlsgrab/internal/fetch"
	"github.com/agleyzer/hlsgrab/internal/merger"
	"github.com/agleyzer/hlsgrab/internal/playlist"
	"github.com/agleyzer/hlsgrab/internal/segment"
)

// Options configures a download job.
type Options struct {
	// Concurrency is the maximum number of segment fetches in flight.
	Concurrency int

	// MaxRetries is how many times a transient segment failure is retried
	// before the job is aborted.
	MaxRetries int

	// RetryBaseDelay is the linear backoff unit: the n-th retry waits
	// n * RetryBaseDelay.
	RetryBaseDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency < 1 {
		o.Concurrency = 5
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = 2 * time.Second
	}
	return o
}

// Orchestrator runs download jobs. One orchestrator serves one job (or one
// live recording session); the progress sink is closed when the job ends.
type Orchestrator struct {
	client *fetch.Client
	merger merger.Merger
	opts   Options
	sink   *Sink
	logger *slog.Logger

	mu         sync.Mutex
	total      int
	downloaded int
	bytes      int64

	finishOnce sync.Once
}

// New creates an Orchestrator. sink may be nil when no progress consumer
// exists.
func New(client *fetch.Client, m merger.Merger, opts Options, sink *Sink, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		client: client,
		merger: m,
		opts:   opts.withDefaults(),
		sink:   sink,
		logger: logger,
	}
}

// Download fetches every segment of a media playlist into a scratch
// directory next to output, then hands the files, in playlist order, to
// the merge collaborator. The scratch directory is removed on every exit
// path; a partial merge target is removed on failure. Exactly one terminal
// progress snapshot is emitted.
func (o *Orchestrator) Download(ctx context.Context, pl *playlist.Playlist, output string) error {
	if pl.IsMaster {
		o.Finish(PhaseFailed)
		return ErrMasterPlaylist
	}
	if len(pl.Segments) == 0 {
		o.Finish(PhaseFailed)
		return ErrNoSegments
	}

	scratch := filepath.Join(filepath.Dir(output), "seg-"+uuid.NewString())
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		o.Finish(PhaseFailed)
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	o.AddTotal(len(pl.Segments))
	o.logger.Info("starting download",
		"segments", len(pl.Segments),
		"duration", pl.TotalDuration(),
		"concurrency", o.opts.Concurrency,
	)

	paths, err := o.FetchSegments(ctx, pl.Segments, scratch, 0)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			o.Finish(PhaseCancelled)
		} else {
			o.Finish(PhaseFailed)
		}
		return err
	}

	o.Publish(PhaseMerging)
	if err := o.merger.Merge(ctx, paths, output); err != nil {
		os.Remove(output)
		if errors.Is(err, context.Canceled) {
			o.Finish(PhaseCancelled)
		} else {
			o.Finish(PhaseFailed)
		}
		return fmt.Errorf("merge: %w", err)
	}

	o.Finish(PhaseCompleted)
	return nil
}

// FetchSegments downloads segs into dir with bounded concurrency and
// returns local paths in segs order, regardless of completion order.
// startIndex offsets the on-disk numbering so a live recording can append
// across successive calls. Segments with an empty URL are skipped and
// logged rather than failing the job.
func (o *Orchestrator) FetchSegments(ctx context.Context, segs []segment.Segment, dir string, startIndex int) ([]string, error) {
	sem := semaphore.NewWeighted(int64(o.opts.Concurrency))
	g, gctx := errgroup.WithContext(ctx)

	paths := make([]string, len(segs))
	for i := range segs {
		i, seg := i, segs[i]
		if seg.URL == "" {
			o.logger.Warn("skipping segment with unresolved URL", "index", startIndex+i, "sequence", seg.Sequence)
			continue
		}

		g.Go(func() error {
			// Admission is a cancellation checkpoint.
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			dest := filepath.Join(dir, fmt.Sprintf("seg_%06d.ts", startIndex+i))
			n, err := o.fetchWithRetry(gctx, startIndex+i, seg, dest)
			if err != nil {
				return err
			}

			paths[i] = dest
			o.mu.Lock()
			o.downloaded++
			o.bytes += n
			o.publishLocked(PhaseDownloading)
			o.mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, context.Canceled
		}
		return nil, err
	}

	ordered := paths[:0]
	for _, p := range paths {
		if p != "" {
			ordered = append(ordered, p)
		}
	}
	return ordered, nil
}

// fetchWithRetry fetches one segment, retrying transient failures with
// linear backoff until the retry budget runs out.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, index int, seg segment.Segment, dest string) (int64, error) {
	for attempt := 0; ; attempt++ {
		n, err := o.client.Segment(ctx, seg.URL, dest)
		if err == nil {
			return n, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if !fetch.Transient(err) || attempt >= o.opts.MaxRetries {
			return 0, &SegmentError{Index: index, Sequence: seg.Sequence, URL: seg.URL, Err: err}
		}

		delay := o.opts.RetryBaseDelay * time.Duration(attempt+1)
		o.logger.Warn("segment fetch failed, retrying",
			"index", index,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// AddTotal grows the expected segment count. Live recordings discover
// segments incrementally.
func (o *Orchestrator) AddTotal(n int) {
	o.mu.Lock()
	o.total += n
	o.publishLocked(PhaseDownloading)
	o.mu.Unlock()
}

// Publish emits a non-terminal snapshot in the given phase.
func (o *Orchestrator) Publish(phase Phase) {
	o.mu.Lock()
	o.publishLocked(phase)
	o.mu.Unlock()
}

// Finish emits the terminal snapshot and closes the sink. Safe to call
// more than once; only the first call wins.
func (o *Orchestrator) Finish(phase Phase) {
	o.finishOnce.Do(func() {
		o.mu.Lock()
		o.publishLocked(phase)
		o.mu.Unlock()
		o.sink.close()
	})
}

func (o *Orchestrator) publishLocked(phase Phase) {
	o.sink.publish(Progress{
		Phase:         phase,
		TotalSegments: o.total,
		Downloaded:    o.downloaded,
		Bytes:         o.bytes,
	})
}
