// The hlsorigin command replays a static HLS media playlist as a looping
// live feed. It exists to exercise live capture against a local origin.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agleyzer/hlsgrab/internal/fetch"
	"github.com/agleyzer/hlsgrab/internal/livesim"
	"github.com/agleyzer/hlsgrab/internal/parser"
)

func main() {
	var (
		port       = flag.Int("port", 8080, "HTTP server port")
		windowSize = flag.Int("window-size", 6, "Number of segments in the sliding window")
		interval   = flag.Duration("advance-interval", 0, "Window advance interval (0 = target duration)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "hlsorigin - looping live HLS origin\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <playlist-url>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: playlist URL is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if *port < 1 || *port > 65535 {
		fmt.Fprintf(os.Stderr, "Error: port must be between 1 and 65535\n")
		os.Exit(1)
	}
	if *windowSize < 1 {
		fmt.Fprintf(os.Stderr, "Error: window size must be at least 1\n")
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	if err := run(flag.Arg(0), *port, *windowSize, *interval, logger); err != nil {
		logger.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run(playlistURL string, port, windowSize int, interval time.Duration, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := fetch.New(nil, 0, logger)
	text, err := client.Text(ctx, playlistURL)
	if err != nil {
		return fmt.Errorf("fetch source playlist: %w", err)
	}

	pl, err := parser.Parse(text, playlistURL)
	if err != nil {
		return fmt.Errorf("parse source playlist: %w", err)
	}
	if pl.IsMaster {
		return fmt.Errorf("source is a master playlist; pass one of its variant URLs")
	}
	if len(pl.Segments) == 0 {
		return fmt.Errorf("source playlist has no segments")
	}

	targetDuration := pl.TargetDuration
	if targetDuration == 0 {
		for _, s := range pl.Segments {
			if s.Duration > targetDuration {
				targetDuration = s.Duration
			}
		}
	}

	feed, err := livesim.New(pl.Segments, windowSize, targetDuration, logger)
	if err != nil {
		return err
	}

	logger.Info("serving live feed",
		"source", playlistURL,
		"segments", len(pl.Segments),
		"windowSize", windowSize,
		"targetDuration", targetDuration,
	)

	go feed.StartAutoAdvance(ctx, interval)

	return livesim.NewServer(feed, port, logger).Start(ctx)
}
