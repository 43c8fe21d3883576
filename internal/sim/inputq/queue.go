package inputq

import "gridpush.dev/internal/sim/board"

// Gate reports whether the owning actor may start its next move.
type Gate interface {
	Idle() bool
}

// Queue buffers directional intents for one actor, decoupling how fast intents
// arrive from how fast moves execute. It has no capacity limit.
// Not safe for concurrent use; the world serializes access.
type Queue struct {
	gate  Gate
	items []board.Direction
}

func New(gate Gate) *Queue { return &Queue{gate: gate} }

// Enqueue always succeeds.
func (q *Queue) Enqueue(d board.Direction) { q.items = append(q.items, d) }

// DequeueIfIdle pops the head only while the gate is idle. Otherwise the queue
// is left as is.
func (q *Queue) DequeueIfIdle() (board.Direction, bool) {
	if len(q.items) == 0 || (q.gate != nil && !q.gate.Idle()) {
		return 0, false
	}
	d := q.items[0]
	q.items[0] = 0
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return d, true
}

func (q *Queue) Peek() (board.Direction, bool) {
	if len(q.items) == 0 {
		return 0, false
	}
	return q.items[0], true
}

func (q *Queue) Len() int { return len(q.items) }

func (q *Queue) Clear() { q.items = nil }
