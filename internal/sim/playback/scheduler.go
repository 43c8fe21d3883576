package playback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gridpush.dev/internal/sim/board"
)

// Frame is one interpolated position of an entity in flight.
type Frame struct {
	ID       board.EntityID
	X, Y, Z  float64
	Progress float64
	Final    bool
}

// Handle tracks one playback task.
type Handle struct {
	ID     board.EntityID
	Target board.Cell

	cancel    context.CancelFunc
	done      chan struct{}
	completed atomic.Bool
}

// Done is closed when the task finishes or is cancelled.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Cancel() { h.cancel() }

// Completed reports whether the task reached its target.
func (h *Handle) Completed() bool { return h.completed.Load() }

// Scheduler runs one cancellable interpolation per entity. A newer move for the
// same entity cancels the one in flight and starts from its own start cell.
// onFrame is called from the per-entity goroutines and must be safe for
// concurrent use.
type Scheduler struct {
	ctx      context.Context
	interval time.Duration
	onFrame  func(Frame)

	mu     sync.Mutex
	active map[board.EntityID]*Handle
	wg     sync.WaitGroup
}

func NewScheduler(ctx context.Context, interval time.Duration, onFrame func(Frame)) *Scheduler {
	if interval <= 0 {
		interval = time.Second / 60
	}
	if onFrame == nil {
		onFrame = func(Frame) {}
	}
	return &Scheduler{
		ctx:      ctx,
		interval: interval,
		onFrame:  onFrame,
		active:   map[board.EntityID]*Handle{},
	}
}

// PlayMove satisfies world.PlaybackSink.
func (s *Scheduler) PlayMove(id board.EntityID, start, target board.Cell, durationSeconds float64) {
	s.Play(id, start, target, durationSeconds)
}

func (s *Scheduler) Play(id board.EntityID, start, target board.Cell, durationSeconds float64) *Handle {
	ctx, cancel := context.WithCancel(s.ctx)
	h := &Handle{ID: id, Target: target, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if prev := s.active[id]; prev != nil {
		prev.cancel()
	}
	s.active[id] = h
	s.mu.Unlock()

	dur := time.Duration(durationSeconds * float64(time.Second))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(h.done)
		defer s.release(h)
		s.run(ctx, h, start, target, dur)
	}()
	return h
}

func (s *Scheduler) run(ctx context.Context, h *Handle, start, target board.Cell, dur time.Duration) {
	if dur <= 0 {
		s.finish(ctx, h, start, target)
		return
	}
	begin := time.Now()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p := float64(now.Sub(begin)) / float64(dur)
			if p >= 1 {
				s.finish(ctx, h, start, target)
				return
			}
			s.onFrame(lerp(h.ID, start, target, p))
		}
	}
}

func (s *Scheduler) finish(ctx context.Context, h *Handle, start, target board.Cell) {
	if ctx.Err() != nil {
		return
	}
	f := lerp(h.ID, start, target, 1)
	f.Final = true
	h.completed.Store(true)
	s.onFrame(f)
}

func (s *Scheduler) release(h *Handle) {
	h.cancel()
	s.mu.Lock()
	if s.active[h.ID] == h {
		delete(s.active, h.ID)
	}
	s.mu.Unlock()
}

// Cancel stops the task in flight for id, if any.
func (s *Scheduler) Cancel(id board.EntityID) bool {
	s.mu.Lock()
	h := s.active[id]
	delete(s.active, id)
	s.mu.Unlock()
	if h == nil {
		return false
	}
	h.cancel()
	return true
}

func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Wait blocks until every task has exited.
func (s *Scheduler) Wait() { s.wg.Wait() }

func lerp(id board.EntityID, a, b board.Cell, p float64) Frame {
	if p > 1 {
		p = 1
	}
	return Frame{
		ID:       id,
		X:        float64(a.X) + float64(b.X-a.X)*p,
		Y:        float64(a.Y) + float64(b.Y-a.Y)*p,
		Z:        float64(a.Z) + float64(b.Z-a.Z)*p,
		Progress: p,
	}
}
