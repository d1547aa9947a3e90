// Package merger concatenates downloaded segment files into one media file.
package merger

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Merger joins segment files, in the given order, into output. The join is
// byte-faithful so container timing survives; any failure fails the job.
type Merger interface {
	Merge(ctx context.Context, segmentPaths []string, output string) error
}

// FFmpeg merges segments with ffmpeg's concat demuxer and stream copy.
type FFmpeg struct {
	// Path is the ffmpeg binary; empty means "ffmpeg" on PATH.
	Path string

	Logger *slog.Logger
}

// Merge writes a concat list next to the output file and runs
// "ffmpeg -f concat -safe 0 -i list -c copy output".
func (f *FFmpeg) Merge(ctx context.Context, segmentPaths []string, output string) error {
	if len(segmentPaths) == 0 {
		return fmt.Errorf("nothing to merge")
	}

	bin := f.Path
	if bin == "" {
		bin = "ffmpeg"
	}

	listPath := output + ".txt"
	if err := os.WriteFile(listPath, ConcatList(segmentPaths), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	defer os.Remove(listPath)

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		output,
	}

	f.Logger.Info("merging segments", "count", len(segmentPaths), "output", output)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, lastLine(stderr.String()))
	}

	return nil
}

// ConcatList renders segment paths in the ffmpeg concat demuxer format.
// Single quotes in paths are escaped the way the demuxer expects.
func ConcatList(segmentPaths []string) []byte {
	var b strings.Builder
	for _, p := range segmentPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		quoted := strings.ReplaceAll(abs, "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", quoted)
	}
	return []byte(b.String())
}

// lastLine extracts the final non-empty line of ffmpeg's stderr, which is
// where it reports the actual failure.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
