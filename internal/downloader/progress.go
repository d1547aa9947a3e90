package downloader

// Phase identifies where a download job is in its lifecycle.
type Phase string

const (
	PhaseDownloading Phase = "downloading"
	PhaseMerging     Phase = "merging"
	PhaseCompleted   Phase = "completed"
	PhaseCancelled   Phase = "cancelled"
	PhaseFailed      Phase = "failed"
)

// Terminal reports whether the phase ends the job. Every job emits exactly
// one terminal snapshot.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled || p == PhaseFailed
}

// Progress is a snapshot of a running job.
type Progress struct {
	Phase         Phase
	TotalSegments int
	Downloaded    int
	Bytes         int64
}

// Sink delivers progress snapshots to a consumer without ever blocking the
// workers that produce them: the channel holds only the latest snapshot,
// and a stale one is dropped when a newer one arrives. The channel is
// closed after the terminal snapshot.
type Sink struct {
	ch chan Progress
}

// NewSink creates a progress sink.
func NewSink() *Sink {
	return &Sink{ch: make(chan Progress, 1)}
}

// C returns the receive side of the sink.
func (s *Sink) C() <-chan Progress {
	return s.ch
}

func (s *Sink) publish(p Progress) {
	if s == nil {
		return
	}
	for {
		select {
		case s.ch <- p:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

func (s *Sink) close() {
	if s != nil {
		close(s.ch)
	}
}
