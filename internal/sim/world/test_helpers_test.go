package world

import (
	"sync"
	"testing"
	"time"

	"gridpush.dev/internal/sim/board"
)

var (
	playerMask = board.MaskOf(board.Solid, board.Player)
	crateMask  = board.MaskOf(board.Solid, board.Interactable)
	t0         = time.Unix(1_700_000_000, 0)
)

func newTestWorld(t *testing.T, cfg WorldConfig) *World {
	t.Helper()
	if cfg.MoveDuration == 0 {
		cfg.MoveDuration = 120 * time.Millisecond
	}
	return New(cfg)
}

func place(t *testing.T, w *World, mask board.TypeMask, c board.Cell) board.Entity {
	t.Helper()
	e := board.NewEntity(mask)
	if err := w.Register(e, c); err != nil {
		t.Fatalf("register %v at %v: %v", mask, c, err)
	}
	return e
}

// floorRect lays solid floor at y=-1 under x in [x0,x1], z in [z0,z1].
func floorRect(t *testing.T, w *World, x0, x1, z0, z1 int) {
	t.Helper()
	for x := x0; x <= x1; x++ {
		for z := z0; z <= z1; z++ {
			place(t, w, board.Solid, board.Cell{X: x, Y: -1, Z: z})
		}
	}
}

func intent(id board.EntityID, d board.Direction) IntentEnvelope {
	return IntentEnvelope{ActorID: id, Dir: d}
}

type recordingSink struct {
	mu    sync.Mutex
	moves []PendingMove
}

func (r *recordingSink) PlayMove(id board.EntityID, start, target board.Cell, durationSeconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moves = append(r.moves, PendingMove{ActorID: id, Start: start, Target: target, DurationSeconds: durationSeconds})
}

type recordingLifecycle struct {
	created   []board.EntityID
	destroyed []board.EntityID
}

func (r *recordingLifecycle) OnCreated(e board.Entity, _ board.Cell) { r.created = append(r.created, e.ID) }
func (r *recordingLifecycle) OnDestroyRequested(e board.Entity) {
	r.destroyed = append(r.destroyed, e.ID)
}

type recordingTickLogger struct {
	entries []TickLogEntry
}

func (r *recordingTickLogger) WriteTick(e TickLogEntry) error {
	r.entries = append(r.entries, e)
	return nil
}
