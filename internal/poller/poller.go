package poller

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/andresmejia3/rollcall/internal/session"
	"github.com/andresmejia3/rollcall/internal/types"
)

// DefaultInterval is the period between two frame submissions.
const DefaultInterval = 3 * time.Second

// FrameSource hands out the most recent captured frame.
type FrameSource interface {
	Latest() ([]byte, bool)
}

// Marker submits a frame for recognition.
type Marker interface {
	Mark(ctx context.Context, frame []byte, subjectID string) (*types.MarkResponse, error)
}

// Poller periodically submits the latest frame for the selected subject.
// Exactly one ticker runs per selection; selecting again stops the old one first.
type Poller struct {
	interval time.Duration
	frames   FrameSource
	marker   Marker
	results  chan session.Result
	logger   *log.Logger

	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	inflight   *sync.WaitGroup // requests of the current selection
	generation uint64
}

// New creates an idle poller. Nothing fires until Select is called.
func New(interval time.Duration, frames FrameSource, marker Marker, logger *log.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Poller{
		interval: interval,
		frames:   frames,
		marker:   marker,
		results:  make(chan session.Result, 4),
		logger:   logger,
	}
}

// Results delivers mark responses tagged with their selection.
func (p *Poller) Results() <-chan session.Result {
	return p.results
}

// Select binds the poller to a subject and returns the new selection's generation.
// Any running task is stopped before this returns. An empty subject just stops.
func (p *Poller) Select(ctx context.Context, subjectID string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.generation++
	if subjectID == "" {
		return p.generation
	}

	taskCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	inflight := &sync.WaitGroup{}
	p.cancel = cancel
	p.done = done
	p.inflight = inflight
	go p.run(taskCtx, subjectID, p.generation, done, inflight)
	return p.generation
}

// Stop cancels the running task, including requests still in flight,
// and waits for all of them to exit. The poller may be selected again afterwards.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Active reports whether a ticker is currently running.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	// The ticker has exited, so nothing adds to this group any more
	p.inflight.Wait()
	p.cancel = nil
	p.done = nil
	p.inflight = nil
}

func (p *Poller) run(ctx context.Context, subjectID string, gen uint64, done chan struct{}, inflight *sync.WaitGroup) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx, subjectID, gen, inflight)
		}
	}
}

// tick fires one submission without waiting for it, so a slow backend
// can lead to overlapping requests.
func (p *Poller) tick(ctx context.Context, subjectID string, gen uint64, inflight *sync.WaitGroup) {
	frame, ok := p.frames.Latest()
	if !ok || subjectID == "" {
		return
	}

	inflight.Add(1)
	go func() {
		defer inflight.Done()

		resp, err := p.marker.Mark(ctx, frame, subjectID)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Printf("⚠️  Attendance error: %v", err)
			}
			return
		}

		select {
		case p.results <- session.Result{SubjectID: subjectID, Generation: gen, Faces: resp.Faces}:
		case <-ctx.Done():
		}
	}()
}
