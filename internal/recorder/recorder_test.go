package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agleyzer/hlsgrab/internal/downloader"
	"github.com/agleyzer/hlsgrab/internal/fetch"
	"github.com/agleyzer/hlsgrab/internal/parser"
	"github.com/agleyzer/hlsgrab/internal/playlist"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captureMerger concatenates segment files into output and remembers how
// often it ran.
type captureMerger struct {
	mu    sync.Mutex
	calls int
	paths []string
}

func (m *captureMerger) Merge(ctx context.Context, segmentPaths []string, output string) error {
	m.mu.Lock()
	m.calls++
	m.paths = append([]string(nil), segmentPaths...)
	m.mu.Unlock()

	var joined []byte
	for _, p := range segmentPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		joined = append(joined, data...)
	}
	return os.WriteFile(output, joined, 0o644)
}

// window renders a live playlist window starting at sequence start.
func window(start, count int, ended bool) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-TARGETDURATION:1\n")
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", start)
	for i := 0; i < count; i++ {
		fmt.Fprintf(&b, "#EXTINF:0.5,\n/seg/%d.ts\n", start+i)
	}
	if ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

// hitCountingServer serves /seg/<n>.ts and counts requests per path.
func hitCountingServer(t *testing.T) (*httptest.Server, func() map[string]int) {
	t.Helper()

	var mu sync.Mutex
	hits := make(map[string]int)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()

		name := strings.TrimSuffix(filepath.Base(r.URL.Path), ".ts")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "data-%s", name)
	}))

	snapshot := func() map[string]int {
		mu.Lock()
		defer mu.Unlock()
		out := make(map[string]int, len(hits))
		for k, v := range hits {
			out[k] = v
		}
		return out
	}
	return server, snapshot
}

func newRecorder(t *testing.T, server *httptest.Server, windows []string, m *captureMerger) (*Recorder, *downloader.Sink) {
	t.Helper()

	var step int32
	refresh := func(ctx context.Context) (*playlist.Playlist, error) {
		i := int(atomic.AddInt32(&step, 1))
		if i >= len(windows) {
			i = len(windows) - 1
		}
		return parser.Parse(windows[i], server.URL+"/live.m3u8")
	}

	sink := downloader.NewSink()
	dl := downloader.New(
		fetch.New(nil, 0, testLogger()),
		m,
		downloader.Options{Concurrency: 2, RetryBaseDelay: time.Millisecond},
		sink,
		testLogger(),
	)
	return New(refresh, dl, m, testLogger()), sink
}

func drain(sink *downloader.Sink) downloader.Progress {
	var last downloader.Progress
	for p := range sink.C() {
		last = p
	}
	return last
}

func TestRecord_OverlappingWindowsDownloadedOnce(t *testing.T) {
	server, hits := hitCountingServer(t)
	defer server.Close()

	// The initial window covers sequences 0-2; those only seed the
	// watermark. Refreshes surface 3, then 4-5, then 6 and the end tag.
	windows := []string{
		window(0, 3, false),
		window(1, 3, false), // overlaps 1,2; 3 is new
		window(3, 3, false),
		window(4, 3, true), // overlaps 4,5; 6 is new; stream ends
	}

	m := &captureMerger{}
	rec, sink := newRecorder(t, server, windows, m)
	last := make(chan downloader.Progress, 1)
	go func() { last <- drain(sink) }()

	initial, err := parser.Parse(windows[0], server.URL+"/live.m3u8")
	if err != nil {
		t.Fatalf("Failed to parse initial window: %v", err)
	}

	output := filepath.Join(t.TempDir(), "live.ts")
	if err := rec.Record(context.Background(), initial, output, 0, 5*time.Millisecond); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if got := rec.State(); got != StateStopped {
		t.Errorf("Expected state %v, got %v", StateStopped, got)
	}
	if p := <-last; p.Phase != downloader.PhaseCompleted {
		t.Errorf("Expected terminal phase %q, got %q", downloader.PhaseCompleted, p.Phase)
	}
	if m.calls != 1 {
		t.Errorf("Expected exactly one merge over the full capture, got %d", m.calls)
	}

	// Sequences 3..6 only, each downloaded exactly once despite overlap.
	got := hits()
	if len(got) != 4 {
		t.Errorf("Expected 4 distinct segment fetches, got %v", got)
	}
	for path, count := range got {
		if count != 1 {
			t.Errorf("Expected %s to be fetched once, got %d", path, count)
		}
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("Expected merged output, got %v", err)
	}
	var want strings.Builder
	for i := 3; i <= 6; i++ {
		fmt.Fprintf(&want, "data-%d", i)
	}
	if string(data) != want.String() {
		t.Errorf("Merged output out of order:\n got %q\nwant %q", data, want.String())
	}
}

func TestRecord_DurationCapStopsGracefully(t *testing.T) {
	server, _ := hitCountingServer(t)
	defer server.Close()

	// The window slides twice, then repeats forever without ending.
	windows := []string{window(0, 3, false), window(1, 3, false), window(2, 3, false)}

	m := &captureMerger{}
	rec, sink := newRecorder(t, server, windows, m)
	go drain(sink)

	initial, err := parser.Parse(windows[0], server.URL+"/live.m3u8")
	if err != nil {
		t.Fatalf("Failed to parse initial window: %v", err)
	}

	output := filepath.Join(t.TempDir(), "live.ts")
	if err := rec.Record(context.Background(), initial, output, 40*time.Millisecond, 5*time.Millisecond); err != nil {
		t.Fatalf("Expected graceful stop at duration cap, got %v", err)
	}

	if got := rec.State(); got != StateStopped {
		t.Errorf("Expected state %v, got %v", StateStopped, got)
	}
	if m.calls != 1 {
		t.Errorf("Expected one merge after the cap, got %d", m.calls)
	}
}

func TestRecord_Cancellation(t *testing.T) {
	server, _ := hitCountingServer(t)
	defer server.Close()

	// A couple of refreshes surface new segments before the cancel lands.
	windows := []string{window(0, 3, false), window(1, 3, false), window(2, 3, false)}

	dir := t.TempDir()
	m := &captureMerger{}
	rec, sink := newRecorder(t, server, windows, m)
	go drain(sink)

	initial, err := parser.Parse(windows[0], server.URL+"/live.m3u8")
	if err != nil {
		t.Fatalf("Failed to parse initial window: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err = rec.Record(ctx, initial, filepath.Join(dir, "live.ts"), 0, 5*time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if got := rec.State(); got != StateCancelled {
		t.Errorf("Expected state %v, got %v", StateCancelled, got)
	}
	if m.calls != 0 {
		t.Errorf("Expected no merge on cancellation, got %d", m.calls)
	}

	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		t.Fatalf("Failed to read dest dir: %v", readErr)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "rec-") {
			t.Errorf("Expected scratch directory to be deleted, found %s", e.Name())
		}
	}
}

func TestRecord_IrrecoverableRefreshFails(t *testing.T) {
	server, _ := hitCountingServer(t)
	defer server.Close()

	m := &captureMerger{}
	sink := downloader.NewSink()
	dl := downloader.New(
		fetch.New(nil, 0, testLogger()),
		m,
		downloader.Options{Concurrency: 2, RetryBaseDelay: time.Millisecond},
		sink,
		testLogger(),
	)
	refresh := func(ctx context.Context) (*playlist.Playlist, error) {
		return nil, &fetch.StatusError{Code: 404, URL: server.URL + "/live.m3u8"}
	}
	rec := New(refresh, dl, m, testLogger())

	last := make(chan downloader.Progress, 1)
	go func() { last <- drain(sink) }()

	initial, err := parser.Parse(window(0, 2, false), server.URL+"/live.m3u8")
	if err != nil {
		t.Fatalf("Failed to parse initial window: %v", err)
	}

	err = rec.Record(context.Background(), initial, filepath.Join(t.TempDir(), "live.ts"), 0, time.Millisecond)
	if err == nil {
		t.Fatal("Expected error from irrecoverable refresh")
	}
	if got := rec.State(); got != StateFailed {
		t.Errorf("Expected state %v, got %v", StateFailed, got)
	}
	if p := <-last; p.Phase != downloader.PhaseFailed {
		t.Errorf("Expected terminal phase %q, got %q", downloader.PhaseFailed, p.Phase)
	}
}

func TestRecord_EndedStreamWithNoNewSegments(t *testing.T) {
	server, hits := hitCountingServer(t)
	defer server.Close()

	// The stream is already over and every refresh repeats the same ended
	// window. Nothing appears after recording starts, so nothing is
	// fetched and there is nothing to merge.
	windows := []string{window(0, 3, true), window(0, 3, true)}

	m := &captureMerger{}
	rec, sink := newRecorder(t, server, windows, m)
	go drain(sink)

	initial, err := parser.Parse(windows[0], server.URL+"/live.m3u8")
	if err != nil {
		t.Fatalf("Failed to parse initial window: %v", err)
	}

	err = rec.Record(context.Background(), initial, filepath.Join(t.TempDir(), "live.ts"), 0, time.Millisecond)
	if err == nil {
		t.Fatal("Expected error when no segments were captured")
	}
	if got := rec.State(); got != StateFailed {
		t.Errorf("Expected state %v, got %v", StateFailed, got)
	}
	if got := hits(); len(got) != 0 {
		t.Errorf("Expected no segment fetches, got %v", got)
	}
	if m.calls != 0 {
		t.Errorf("Expected no merge, got %d", m.calls)
	}
}

func TestRecord_RejectsMasterPlaylist(t *testing.T) {
	m := &captureMerger{}
	sink := downloader.NewSink()
	dl := downloader.New(fetch.New(nil, 0, testLogger()), m, downloader.Options{}, sink, testLogger())
	rec := New(nil, dl, m, testLogger())
	go drain(sink)

	err := rec.Record(context.Background(), &playlist.Playlist{IsMaster: true}, "out.ts", 0, time.Second)
	if !errors.Is(err, downloader.ErrMasterPlaylist) {
		t.Errorf("Expected ErrMasterPlaylist, got %v", err)
	}
	if got := rec.State(); got != StateFailed {
		t.Errorf("Expected state %v, got %v", StateFailed, got)
	}
}
