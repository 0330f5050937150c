package poller

import (
	"context"
	"errors"
	"io"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andresmejia3/rollcall/internal/types"
)

type staticFrames struct {
	frame []byte
}

func (s staticFrames) Latest() ([]byte, bool) {
	return s.frame, len(s.frame) > 0
}

// MockMarker records every live submission and answers with one unknown face.
type MockMarker struct {
	mu       sync.Mutex
	subjects []string
	calls    atomic.Int32
	active   atomic.Int32 // requests that have not returned yet
	err      error
	delay    time.Duration
}

func (m *MockMarker) Mark(ctx context.Context, frame []byte, subjectID string) (*types.MarkResponse, error) {
	m.calls.Add(1)
	m.active.Add(1)
	defer m.active.Add(-1)
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return nil, ctx.Err()
	}
	m.subjects = append(m.subjects, subjectID)
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &types.MarkResponse{Faces: []types.Detection{{Status: types.StatusUnknown}}, Count: 1}, nil
}

func (m *MockMarker) seen() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.subjects...)
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestPoller_DeliversTaggedResults(t *testing.T) {
	m := &MockMarker{}
	p := New(10*time.Millisecond, staticFrames{frame: []byte{0xFF, 0xD8}}, m, quietLogger())
	defer p.Stop()

	gen := p.Select(context.Background(), "math-101")

	select {
	case r := <-p.Results():
		if r.SubjectID != "math-101" || r.Generation != gen {
			t.Errorf("result tagged %s/%d, want math-101/%d", r.SubjectID, r.Generation, gen)
		}
		if len(r.Faces) != 1 {
			t.Errorf("expected 1 face, got %d", len(r.Faces))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no result delivered")
	}
}

func TestPoller_NoFrameIsNoop(t *testing.T) {
	m := &MockMarker{}
	p := New(5*time.Millisecond, staticFrames{}, m, quietLogger())

	p.Select(context.Background(), "math-101")
	time.Sleep(60 * time.Millisecond)
	p.Stop()

	if n := m.calls.Load(); n != 0 {
		t.Errorf("backend called %d times without a frame", n)
	}
}

func TestPoller_NoSubjectDoesNotRun(t *testing.T) {
	m := &MockMarker{}
	p := New(5*time.Millisecond, staticFrames{frame: []byte{1}}, m, quietLogger())

	p.Select(context.Background(), "")
	if p.Active() {
		t.Error("poller active without a subject")
	}
	time.Sleep(40 * time.Millisecond)
	if n := m.calls.Load(); n != 0 {
		t.Errorf("backend called %d times without a subject", n)
	}
}

func TestPoller_ErrorsAreSwallowed(t *testing.T) {
	m := &MockMarker{err: errors.New("connection refused")}
	p := New(5*time.Millisecond, staticFrames{frame: []byte{1}}, m, quietLogger())

	p.Select(context.Background(), "math-101")
	time.Sleep(60 * time.Millisecond)
	p.Stop()

	if m.calls.Load() == 0 {
		t.Fatal("expected at least one attempt")
	}
	select {
	case r := <-p.Results():
		t.Errorf("failed ticks must not publish results, got %+v", r)
	default:
	}
}

func TestPoller_SwitchStopsOldTask(t *testing.T) {
	m := &MockMarker{}
	p := New(5*time.Millisecond, staticFrames{frame: []byte{1}}, m, quietLogger())
	defer p.Stop()

	// Drain results so sends never block.
	stopDrain := make(chan struct{})
	defer close(stopDrain)
	go func() {
		for {
			select {
			case <-p.Results():
			case <-stopDrain:
				return
			}
		}
	}()

	first := p.Select(context.Background(), "math-101")
	time.Sleep(30 * time.Millisecond)
	second := p.Select(context.Background(), "physics-201")
	if second <= first {
		t.Errorf("generation did not advance: %d -> %d", first, second)
	}

	before := len(m.seen())
	time.Sleep(40 * time.Millisecond)
	for _, s := range m.seen()[before:] {
		if s != "physics-201" {
			t.Fatalf("old selection still firing: got a submission for %q", s)
		}
	}
}

func TestPoller_RapidSwitchingLeavesNoTickers(t *testing.T) {
	m := &MockMarker{}
	p := New(time.Millisecond, staticFrames{}, m, quietLogger())

	base := runtime.NumGoroutine()
	for i := 0; i < 100; i++ {
		p.Select(context.Background(), []string{"a", "b", "c"}[i%3])
	}
	p.Stop()

	if p.Active() {
		t.Error("poller still active after Stop")
	}
	// Give the runtime a moment to reap exited goroutines.
	time.Sleep(20 * time.Millisecond)
	if n := runtime.NumGoroutine(); n > base {
		t.Errorf("goroutines leaked: %d before, %d after", base, n)
	}
}

func TestPoller_OverlappingRequests(t *testing.T) {
	m := &MockMarker{delay: 50 * time.Millisecond}
	p := New(5*time.Millisecond, staticFrames{frame: []byte{1}}, m, quietLogger())

	p.Select(context.Background(), "math-101")
	time.Sleep(30 * time.Millisecond)

	// Several ticks fired while the first request was still pending.
	if n := m.calls.Load(); n < 2 {
		t.Errorf("expected overlapping requests, got %d calls", n)
	}
	p.Stop()
}

func TestPoller_ParentCancel(t *testing.T) {
	m := &MockMarker{}
	p := New(5*time.Millisecond, staticFrames{frame: []byte{1}}, m, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	p.Select(ctx, "math-101")
	cancel()
	p.Stop()

	n := m.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if m.calls.Load() != n {
		t.Error("ticks continued after the parent context was cancelled")
	}
}

func TestPoller_SelectWaitsForPreviousRequests(t *testing.T) {
	m := &MockMarker{delay: time.Second}
	p := New(5*time.Millisecond, staticFrames{frame: []byte{1}}, m, quietLogger())
	defer p.Stop()

	p.Select(context.Background(), "math-101")
	time.Sleep(30 * time.Millisecond)
	if m.active.Load() == 0 {
		t.Fatal("expected requests in flight")
	}

	// Clearing the selection returns only once the old requests have exited
	p.Select(context.Background(), "")
	if n := m.active.Load(); n != 0 {
		t.Errorf("%d requests of the previous selection still running", n)
	}
}

func TestPoller_ConcurrentStopAndSelect(t *testing.T) {
	m := &MockMarker{delay: 20 * time.Millisecond}
	p := New(time.Millisecond, staticFrames{frame: []byte{1}}, m, quietLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.Stop()
		}()
		go func(i int) {
			defer wg.Done()
			p.Select(context.Background(), []string{"a", "b"}[i%2])
		}(i)
	}
	wg.Wait()

	// Still usable after racing Stop against Select
	gen := p.Select(context.Background(), "math-101")
	deadline := time.After(2 * time.Second)
	for {
		select {
		case r := <-p.Results():
			if r.Generation == gen {
				p.Stop()
				if n := m.active.Load(); n != 0 {
					t.Errorf("%d requests still running after Stop", n)
				}
				return
			}
		case <-deadline:
			t.Fatal("no result for the final selection")
		}
	}
}
