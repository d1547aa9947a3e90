package livesim

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Server exposes the feed as a live HLS origin.
type Server struct {
	feed   *Feed
	port   int
	logger *slog.Logger
}

// NewServer creates an HTTP server for the feed.
func NewServer(feed *Feed, port int, logger *slog.Logger) *Server {
	return &Server{
		feed:   feed,
		port:   port,
		logger: logger,
	}
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/live.m3u8", s.handlePlaylist)
	mux.HandleFunc("/health", s.handleHealth)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("origin listening", "port", s.port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("origin shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// handlePlaylist serves the current live playlist window.
func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	content, err := s.feed.Playlist()
	if err != nil {
		s.logger.Error("playlist generation failed", "error", err)
		http.Error(w, "playlist generation failed", http.StatusInternalServerError)
		return
	}

	s.logger.Debug("serving playlist", "remote", r.RemoteAddr, "sequence", s.feed.Sequence())
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(content))
}

// handleHealth reports liveness and the current media sequence.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Status   string `json:"status"`
		Sequence uint64 `json:"sequence"`
	}{
		Status:   "ok",
		Sequence: s.feed.Sequence(),
	})
}
