// Package fetch wraps HTTP retrieval of playlists and media segments.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// DefaultSegmentTimeout bounds a single segment fetch. Each fetch carries
// its own deadline independent of overall job cancellation.
const DefaultSegmentTimeout = 60 * time.Second

// StatusError reports a non-success HTTP status.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.Code, e.URL)
}

// transientStatus lists HTTP statuses that edge caches return for
// conditions worth retrying.
var transientStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Transient reports whether an error from this package is worth retrying.
// Connection and I/O failures are transient; HTTP statuses are transient
// only when listed in transientStatus; cancellation is never transient.
func Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return transientStatus[se.Code]
	}
	return true
}

// Client fetches playlist text and segment bodies.
type Client struct {
	http           *http.Client
	segmentTimeout time.Duration
	logger         *slog.Logger
}

// New creates a Client. Extra headers, when non-empty, are injected into
// every request; several HLS hosts require a matching Referer or
// User-Agent. A non-positive segmentTimeout falls back to the default.
func New(headers map[string]string, segmentTimeout time.Duration, logger *slog.Logger) *Client {
	if segmentTimeout <= 0 {
		segmentTimeout = DefaultSegmentTimeout
	}

	var rt http.RoundTripper = http.DefaultTransport
	if len(headers) > 0 {
		rt = &headerTransport{headers: headers, base: rt}
	}

	return &Client{
		http:           &http.Client{Transport: rt},
		segmentTimeout: segmentTimeout,
		logger:         logger,
	}
}

// Text fetches a playlist document as a string.
func (c *Client) Text(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch playlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read playlist: %w", err)
	}

	return string(body), nil
}

// Segment streams one media segment to dest and returns the byte count.
// The fetch runs under its own deadline so a stalled edge server cannot
// hang the job; a partially written dest is removed on failure.
func (c *Client) Segment(ctx context.Context, url, dest string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.segmentTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch segment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &StatusError{Code: resp.StatusCode, URL: url}
	}

	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create segment file: %w", err)
	}

	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return 0, fmt.Errorf("write segment file: %w", err)
	}

	c.logger.Debug("fetched segment", "url", url, "bytes", n)
	return n, nil
}
