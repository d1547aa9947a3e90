// The hlsgrab command downloads the HLS stream behind an M3U8 playlist
// into a single local media file, including continuous capture of live
// broadcasts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agleyzer/hlsgrab/internal/downloader"
	"github.com/agleyzer/hlsgrab/internal/fetch"
	"github.com/agleyzer/hlsgrab/internal/merger"
	"github.com/agleyzer/hlsgrab/internal/parser"
	"github.com/agleyzer/hlsgrab/internal/playlist"
	"github.com/agleyzer/hlsgrab/internal/recorder"
)

const (
	version = "1.0.0"
)

// headerFlags collects repeated -header 'Name: value' flags.
type headerFlags map[string]string

func (h headerFlags) String() string {
	return fmt.Sprintf("%d headers", len(h))
}

func (h headerFlags) Set(value string) error {
	name, val, found := strings.Cut(value, ":")
	if !found || strings.TrimSpace(name) == "" {
		return fmt.Errorf("header must be 'Name: value', got %q", value)
	}
	h[strings.TrimSpace(name)] = strings.TrimSpace(val)
	return nil
}

func main() {
	headers := make(headerFlags)

	var (
		output         = flag.String("o", "output.ts", "Output file path")
		concurrency    = flag.Int("concurrency", 5, "Maximum concurrent segment downloads")
		retries        = flag.Int("retries", 3, "Retries per segment on transient failures")
		retryDelay     = flag.Duration("retry-delay", 2*time.Second, "Linear backoff unit between retries")
		segmentTimeout = flag.Duration("segment-timeout", fetch.DefaultSegmentTimeout, "Deadline for a single segment fetch")
		quality        = flag.String("quality", "highest", "Variant selection for master playlists: 'highest', 'lowest', or an index")
		maxDuration    = flag.Duration("max-duration", 0, "Stop live capture after this long (0 = until the stream ends)")
		pollInterval   = flag.Duration("poll-interval", 0, "Live playlist poll interval (0 = half the target duration)")
		ffmpegPath     = flag.String("ffmpeg", "", "Path to the ffmpeg binary (default: ffmpeg on PATH)")
		verbose        = flag.Bool("verbose", false, "Enable verbose logging")
		showVersion    = flag.Bool("version", false, "Show version and exit")
	)
	flag.Var(headers, "header", "Extra HTTP header as 'Name: value' (repeatable)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "hlsgrab - HLS stream archiver v%s\n\n", version)
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <playlist-url>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Arguments:\n")
		fmt.Fprintf(os.Stderr, "  <playlist-url>    URL of the M3U8 playlist (media or master)\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -o show.ts https://example.com/master.m3u8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -quality lowest https://example.com/master.m3u8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -max-duration 1h https://example.com/live.m3u8\n", os.Args[0])
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("hlsgrab v%s\n", version)
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: playlist URL is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	playlistURL := flag.Arg(0)

	if *concurrency < 1 {
		fmt.Fprintf(os.Stderr, "Error: concurrency must be at least 1\n")
		os.Exit(1)
	}
	if *retries < 0 {
		fmt.Fprintf(os.Stderr, "Error: retries must not be negative\n")
		os.Exit(1)
	}
	if *output == "" {
		fmt.Fprintf(os.Stderr, "Error: output path must not be empty\n")
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	logger.Info("hlsgrab starting", "version", version)

	cfg := runConfig{
		playlistURL:    playlistURL,
		output:         *output,
		quality:        *quality,
		headers:        headers,
		segmentTimeout: *segmentTimeout,
		maxDuration:    *maxDuration,
		pollInterval:   *pollInterval,
		ffmpegPath:     *ffmpegPath,
		opts: downloader.Options{
			Concurrency:    *concurrency,
			MaxRetries:     *retries,
			RetryBaseDelay: *retryDelay,
		},
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("application error", "error", err)
		os.Exit(1)
	}

	logger.Info("hlsgrab finished")
}

type runConfig struct {
	playlistURL    string
	output         string
	quality        string
	headers        map[string]string
	segmentTimeout time.Duration
	maxDuration    time.Duration
	pollInterval   time.Duration
	ffmpegPath     string
	opts           downloader.Options
}

func run(cfg runConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := fetch.New(cfg.headers, cfg.segmentTimeout, logger)

	logger.Info("fetching playlist", "url", cfg.playlistURL)
	pl, err := fetchPlaylist(ctx, client, cfg.playlistURL)
	if err != nil {
		return err
	}

	mediaURL := cfg.playlistURL
	if pl.IsMaster {
		chosen, err := selectVariant(pl.Variants, cfg.quality)
		if err != nil {
			return err
		}
		logger.Info("selected variant",
			"bandwidth", chosen.Bandwidth,
			"resolution", chosen.Resolution,
			"url", chosen.URL,
		)

		mediaURL = chosen.URL
		pl, err = fetchPlaylist(ctx, client, mediaURL)
		if err != nil {
			return err
		}
		if pl.IsMaster {
			return fmt.Errorf("variant URL %s is itself a master playlist", mediaURL)
		}
	}

	sink := downloader.NewSink()
	m := &merger.FFmpeg{Path: cfg.ffmpegPath, Logger: logger}
	dl := downloader.New(client, m, cfg.opts, sink, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		reportProgress(sink, logger)
	}()

	if pl.IsLive {
		logger.Info("live playlist detected", "targetDuration", pl.TargetDuration)
		refresh := func(ctx context.Context) (*playlist.Playlist, error) {
			return fetchPlaylist(ctx, client, mediaURL)
		}
		rec := recorder.New(refresh, dl, m, logger)
		err = rec.Record(ctx, pl, cfg.output, cfg.maxDuration, cfg.pollInterval)
	} else {
		logger.Info("VOD playlist detected", "segments", len(pl.Segments))
		err = dl.Download(ctx, pl, cfg.output)
	}

	<-done
	if err != nil {
		return err
	}

	logger.Info("wrote output", "path", cfg.output)
	return nil
}

// fetchPlaylist fetches and parses one playlist document.
func fetchPlaylist(ctx context.Context, client *fetch.Client, url string) (*playlist.Playlist, error) {
	text, err := client.Text(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch playlist %s: %w", url, err)
	}
	pl, err := parser.Parse(text, url)
	if err != nil {
		return nil, fmt.Errorf("parse playlist %s: %w", url, err)
	}
	return pl, nil
}

// reportProgress drains the sink, logging phase changes and download
// progress until the terminal snapshot closes the channel.
func reportProgress(sink *downloader.Sink, logger *slog.Logger) {
	var lastPhase downloader.Phase
	for p := range sink.C() {
		if p.Phase != lastPhase {
			logger.Info("phase", "phase", p.Phase, "downloaded", p.Downloaded, "total", p.TotalSegments)
			lastPhase = p.Phase
			continue
		}
		logger.Debug("progress",
			"downloaded", p.Downloaded,
			"total", p.TotalSegments,
			"bytes", p.Bytes,
		)
	}
}
