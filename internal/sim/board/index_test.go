package board

import (
	"errors"
	"math/rand"
	"testing"
)

func TestAddRemoveAndLookups(t *testing.T) {
	idx := NewIndex()
	ground := NewEntity(Solid)
	player := NewEntity(MaskOf(Solid, Player))
	at := Cell{X: 1, Y: 0, Z: 2}

	if err := idx.Add(ground, at); err != nil {
		t.Fatalf("add ground: %v", err)
	}
	if err := idx.Add(player, at); err != nil {
		t.Fatalf("add player: %v", err)
	}
	if err := idx.Add(player, Cell{}); !errors.Is(err, ErrDuplicateEntity) {
		t.Fatalf("expected ErrDuplicateEntity, got %v", err)
	}

	occ := idx.OccupantsAt(at)
	if len(occ) != 2 || occ[0].ID != ground.ID || occ[1].ID != player.ID {
		t.Fatalf("occupants not in insertion order: %+v", occ)
	}
	if got, ok := idx.FindMatching(at, Solid); !ok || got.ID != ground.ID {
		t.Fatalf("FindMatching(Solid) = %+v %v, want ground", got, ok)
	}
	if got, ok := idx.FindMatching(at, Player); !ok || got.ID != player.ID {
		t.Fatalf("FindMatching(Player) = %+v %v, want player", got, ok)
	}
	if _, ok := idx.FindMatching(at, Interactable); ok {
		t.Fatalf("FindMatching(Interactable) should miss")
	}
	if !idx.IsOccupied(at) || idx.IsOccupied(Cell{}) {
		t.Fatalf("IsOccupied mismatch")
	}
	if len(idx.OccupantsAt(Cell{X: 9})) != 0 {
		t.Fatalf("expected empty occupants")
	}

	if err := idx.RemoveAt(player.ID, Cell{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RemoveAt wrong cell: expected ErrNotFound, got %v", err)
	}
	if err := idx.Remove(player.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := idx.Remove(player.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second remove: expected ErrNotFound, got %v", err)
	}
	if err := idx.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestEntityCellComesFromIndex(t *testing.T) {
	idx := NewIndex()
	e := NewEntity(Solid)
	e.Cell = Cell{X: 100}
	if err := idx.Add(e, Cell{X: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, ok := idx.Entity(e.ID)
	if !ok || got.Cell != (Cell{X: 1}) {
		t.Fatalf("Entity() = %+v, want cell (1,0,0)", got)
	}
}

func TestMoveEntityRollsBackOnFailedAdd(t *testing.T) {
	idx := NewIndex(WithBounds(Bounds{Min: Cell{X: -2, Y: -2, Z: -2}, Max: Cell{X: 2, Y: 2, Z: 2}}))
	e := NewEntity(Solid)
	start := Cell{X: 2}
	if err := idx.Add(e, start); err != nil {
		t.Fatalf("add: %v", err)
	}
	err := idx.MoveEntity(e.ID, start, Cell{X: 3})
	if !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
	if c, ok := idx.CellOf(e.ID); !ok || c != start {
		t.Fatalf("entity not restored: %v %v", c, ok)
	}
	if occ := idx.OccupantsAt(start); len(occ) != 1 || occ[0].ID != e.ID {
		t.Fatalf("occupants after rollback: %+v", occ)
	}
	if err := idx.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestMoveEntityFromWrongCell(t *testing.T) {
	idx := NewIndex()
	e := NewEntity(Solid)
	_ = idx.Add(e, Cell{})
	if err := idx.MoveEntity(e.ID, Cell{X: 5}, Cell{X: 6}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := idx.MoveEntity(EntityID(1<<60), Cell{}, Cell{X: 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
	if c, _ := idx.CellOf(e.ID); c != (Cell{}) {
		t.Fatalf("entity moved unexpectedly to %v", c)
	}
}

func TestInvariantsUnderRandomOperations(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	idx := NewIndex()
	var live []EntityID
	randCell := func() Cell { return Cell{X: r.Intn(4), Y: r.Intn(2), Z: r.Intn(4)} }

	for i := 0; i < 5000; i++ {
		switch op := r.Intn(4); {
		case op == 0 || len(live) == 0:
			e := NewEntity(TypeMask(1 + r.Intn(7)))
			if err := idx.Add(e, randCell()); err != nil {
				t.Fatalf("step %d add: %v", i, err)
			}
			live = append(live, e.ID)
		case op == 1:
			j := r.Intn(len(live))
			if err := idx.Remove(live[j]); err != nil {
				t.Fatalf("step %d remove: %v", i, err)
			}
			live = append(live[:j], live[j+1:]...)
		case op == 2:
			id := live[r.Intn(len(live))]
			from, _ := idx.CellOf(id)
			if err := idx.MoveEntity(id, from, randCell()); err != nil {
				t.Fatalf("step %d move: %v", i, err)
			}
		default:
			id := live[r.Intn(len(live))]
			if err := idx.Add(Entity{ID: id, Mask: Solid}, randCell()); !errors.Is(err, ErrDuplicateEntity) {
				t.Fatalf("step %d duplicate add: %v", i, err)
			}
		}
		if err := idx.CheckInvariants(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if idx.Len() != len(live) {
		t.Fatalf("Len()=%d want %d", idx.Len(), len(live))
	}
}

func TestEmptyNeighborsOrderAndIdempotence(t *testing.T) {
	idx := NewIndex()
	_ = idx.Add(NewEntity(Solid), Cell{X: 1})
	first := idx.EmptyNeighbors(Cell{})
	second := idx.EmptyNeighbors(Cell{})
	want := []Cell{{X: -1}, {Z: 1}, {Z: -1}}
	if len(first) != len(want) {
		t.Fatalf("EmptyNeighbors=%v want %v", first, want)
	}
	for i := range want {
		if first[i] != want[i] || second[i] != want[i] {
			t.Fatalf("EmptyNeighbors mismatch at %d: %v / %v want %v", i, first, second, want)
		}
	}
}

func TestClearCallsDestroyForEveryEntity(t *testing.T) {
	idx := NewIndex()
	for i := 0; i < 5; i++ {
		_ = idx.Add(NewEntity(Solid), Cell{X: i % 2})
	}
	destroyed := map[EntityID]bool{}
	idx.Clear(func(e Entity) { destroyed[e.ID] = true })
	if len(destroyed) != 5 {
		t.Fatalf("destroyed %d entities, want 5", len(destroyed))
	}
	if idx.Len() != 0 || len(idx.Cells()) != 0 {
		t.Fatalf("index not empty after Clear")
	}
}

func TestDigestIndependentOfHistory(t *testing.T) {
	a, b := NewIndex(), NewIndex()
	e1, e2 := NewEntity(Solid), NewEntity(MaskOf(Solid, Interactable))

	_ = a.Add(e1, Cell{})
	_ = a.Add(e2, Cell{X: 1})
	_ = a.MoveEntity(e2.ID, Cell{X: 1}, Cell{X: 2})

	_ = b.Add(e2, Cell{X: 2})
	_ = b.Add(e1, Cell{})

	if a.Digest() != b.Digest() {
		t.Fatalf("digest depends on history")
	}
	_ = b.MoveEntity(e1.ID, Cell{}, Cell{Z: 1})
	if a.Digest() == b.Digest() {
		t.Fatalf("digest should change after a move")
	}
}
