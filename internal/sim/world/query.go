package world

import (
	"gridpush.dev/internal/sim/board"
	"gridpush.dev/internal/sim/rules"
)

func (w *World) OccupantsAt(c board.Cell) []board.Entity {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.idx.OccupantsAt(c)
}

func (w *World) FindMatching(c board.Cell, mask board.TypeMask) (board.Entity, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.idx.FindMatching(c, mask)
}

func (w *World) IsOccupied(c board.Cell) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.idx.IsOccupied(c)
}

func (w *World) IsOccupiedBy(c board.Cell, mask board.TypeMask) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.idx.IsOccupiedBy(c, mask)
}

func (w *World) EmptyNeighbors(c board.Cell) []board.Cell {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.idx.EmptyNeighbors(c)
}

// Validate runs the move rules against the current board without applying anything.
func (w *World) Validate(from, to board.Cell) rules.Decision {
	w.mu.Lock()
	defer w.mu.Unlock()
	return rules.Validate(w.idx, from, to)
}

func (w *World) CellOf(id board.EntityID) (board.Cell, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.idx.CellOf(id)
}

func (w *World) Digest() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.idx.Digest()
}

// Snapshot returns every entity ordered by id.
func (w *World) Snapshot() []board.Entity {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.idx.Entities()
}

// ActorState reports the movement state of an actor and how many intents it
// still has buffered.
func (w *World) ActorState(id board.EntityID) (state ActorState, queued int, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	a := w.actors[id]
	if a == nil {
		return Idle, 0, false
	}
	return a.state, a.queue.Len(), true
}

// CheckInvariants verifies the board index. Used by tests and the debug endpoint.
func (w *World) CheckInvariants() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.idx.CheckInvariants()
}
