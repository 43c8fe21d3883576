package board

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
)

// Bounds is an inclusive axis-aligned box.
type Bounds struct {
	Min Cell
	Max Cell
}

func (b Bounds) Contains(c Cell) bool {
	return c.X >= b.Min.X && c.X <= b.Max.X &&
		c.Y >= b.Min.Y && c.Y <= b.Max.Y &&
		c.Z >= b.Min.Z && c.Z <= b.Max.Z
}

type Option func(*Index)

// WithBounds rejects any Add (and therefore MoveEntity) outside b.
func WithBounds(b Bounds) Option {
	return func(idx *Index) {
		bb := b
		idx.bounds = &bb
	}
}

// Index maps cells to occupants and entity ids to cells.
//
// Occupant lists keep insertion order; lookups by mask scan them linearly since
// a cell rarely holds more than a few entities. Index is not safe for concurrent
// use: the owner (authority or replica) serializes access.
type Index struct {
	cells  map[Cell][]EntityID
	where  map[EntityID]Cell
	masks  map[EntityID]TypeMask
	bounds *Bounds
}

func NewIndex(opts ...Option) *Index {
	idx := &Index{
		cells: map[Cell][]EntityID{},
		where: map[EntityID]Cell{},
		masks: map[EntityID]TypeMask{},
	}
	for _, o := range opts {
		o(idx)
	}
	return idx
}

func (idx *Index) Len() int { return len(idx.where) }

func (idx *Index) Add(e Entity, c Cell) error {
	if prev, ok := idx.where[e.ID]; ok {
		return fmt.Errorf("add %d at %s (indexed at %s): %w", e.ID, c, prev, ErrDuplicateEntity)
	}
	if idx.bounds != nil && !idx.bounds.Contains(c) {
		return fmt.Errorf("add %d at %s: %w", e.ID, c, ErrOutOfBounds)
	}
	idx.cells[c] = append(idx.cells[c], e.ID)
	idx.where[e.ID] = c
	idx.masks[e.ID] = e.Mask
	return nil
}

// Remove removes id from its last-known cell.
func (idx *Index) Remove(id EntityID) error {
	c, ok := idx.where[id]
	if !ok {
		return fmt.Errorf("remove %d: %w", id, ErrNotFound)
	}
	return idx.RemoveAt(id, c)
}

// RemoveAt removes id from c; it fails if id is not indexed at exactly c.
func (idx *Index) RemoveAt(id EntityID, c Cell) error {
	cur, ok := idx.where[id]
	if !ok || cur != c {
		return fmt.Errorf("remove %d at %s: %w", id, c, ErrNotFound)
	}
	occ := idx.cells[c]
	pos := -1
	for i, o := range occ {
		if o == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		return fmt.Errorf("remove %d at %s: occupant list out of sync: %w", id, c, ErrNotFound)
	}
	occ = append(occ[:pos:pos], occ[pos+1:]...)
	if len(occ) == 0 {
		delete(idx.cells, c)
	} else {
		idx.cells[c] = occ
	}
	delete(idx.where, id)
	delete(idx.masks, id)
	return nil
}

// MoveEntity relocates id from one cell to another. On failure the index is unchanged.
func (idx *Index) MoveEntity(id EntityID, from, to Cell) error {
	mask, ok := idx.masks[id]
	if !ok {
		return fmt.Errorf("move %d: %w", id, ErrNotFound)
	}
	if err := idx.RemoveAt(id, from); err != nil {
		return err
	}
	if err := idx.Add(Entity{ID: id, Mask: mask}, to); err != nil {
		if rerr := idx.Add(Entity{ID: id, Mask: mask}, from); rerr != nil {
			// Only reachable if the index was already inconsistent.
			panic(fmt.Sprintf("board: rollback of %d to %s failed: %v", id, from, rerr))
		}
		return err
	}
	return nil
}

func (idx *Index) CellOf(id EntityID) (Cell, bool) {
	c, ok := idx.where[id]
	return c, ok
}

// Entity returns the indexed entity with its authoritative cell.
func (idx *Index) Entity(id EntityID) (Entity, bool) {
	c, ok := idx.where[id]
	if !ok {
		return Entity{}, false
	}
	return Entity{ID: id, Mask: idx.masks[id], Cell: c}, true
}

// OccupantsAt returns a snapshot of the occupants of c in insertion order.
func (idx *Index) OccupantsAt(c Cell) []Entity {
	occ := idx.cells[c]
	out := make([]Entity, 0, len(occ))
	for _, id := range occ {
		out = append(out, Entity{ID: id, Mask: idx.masks[id], Cell: c})
	}
	return out
}

// FindMatching returns the first occupant of c (insertion order) whose mask overlaps mask.
func (idx *Index) FindMatching(c Cell, mask TypeMask) (Entity, bool) {
	for _, id := range idx.cells[c] {
		m := idx.masks[id]
		if m.Overlaps(mask) {
			return Entity{ID: id, Mask: m, Cell: c}, true
		}
	}
	return Entity{}, false
}

func (idx *Index) IsOccupied(c Cell) bool { return len(idx.cells[c]) > 0 }

func (idx *Index) IsOccupiedBy(c Cell, mask TypeMask) bool {
	_, ok := idx.FindMatching(c, mask)
	return ok
}

// EmptyNeighbors returns the cardinal neighbours of c that have no occupants,
// in Cardinal order.
func (idx *Index) EmptyNeighbors(c Cell) []Cell {
	out := make([]Cell, 0, len(Cardinal))
	for _, d := range Cardinal {
		n := c.Add(d.Offset())
		if !idx.IsOccupied(n) {
			out = append(out, n)
		}
	}
	return out
}

// Cells returns every occupied cell in deterministic order.
func (idx *Index) Cells() []Cell {
	out := make([]Cell, 0, len(idx.cells))
	for c := range idx.cells {
		out = append(out, c)
	}
	SortCells(out)
	return out
}

// Entities returns every indexed entity ordered by id.
func (idx *Index) Entities() []Entity {
	ids := make([]EntityID, 0, len(idx.where))
	for id := range idx.where {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, Entity{ID: id, Mask: idx.masks[id], Cell: idx.where[id]})
	}
	return out
}

// Clear empties the index, handing every entity to onDestroy first (may be nil).
func (idx *Index) Clear(onDestroy func(Entity)) {
	if onDestroy != nil {
		for _, c := range idx.Cells() {
			for _, e := range idx.OccupantsAt(c) {
				onDestroy(e)
			}
		}
	}
	idx.cells = map[Cell][]EntityID{}
	idx.where = map[EntityID]Cell{}
	idx.masks = map[EntityID]TypeMask{}
}

// Digest hashes the full board state. Two indexes with the same entities at the
// same cells produce the same digest regardless of operation history.
func (idx *Index) Digest() string {
	h := sha256.New()
	var buf [8]byte
	w64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	for _, e := range idx.Entities() {
		w64(uint64(e.ID))
		w64(uint64(e.Mask))
		w64(uint64(int64(e.Cell.X)))
		w64(uint64(int64(e.Cell.Y)))
		w64(uint64(int64(e.Cell.Z)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CheckInvariants verifies that both maps agree: every occupied cell is non-empty,
// every occupant is recorded at the cell it is stored under, and no id appears twice.
func (idx *Index) CheckInvariants() error {
	seen := make(map[EntityID]Cell, len(idx.where))
	for c, occ := range idx.cells {
		if len(occ) == 0 {
			return fmt.Errorf("cell %s indexed with no occupants", c)
		}
		for _, id := range occ {
			if prev, dup := seen[id]; dup {
				return fmt.Errorf("entity %d stored at %s and %s", id, prev, c)
			}
			seen[id] = c
			w, ok := idx.where[id]
			if !ok {
				return fmt.Errorf("entity %d at %s has no recorded cell", id, c)
			}
			if w != c {
				return fmt.Errorf("entity %d stored at %s but recorded at %s", id, c, w)
			}
			if _, ok := idx.masks[id]; !ok {
				return fmt.Errorf("entity %d at %s has no mask", id, c)
			}
		}
	}
	if len(seen) != len(idx.where) {
		return fmt.Errorf("orphaned ids: %d recorded, %d stored", len(idx.where), len(seen))
	}
	if len(idx.masks) != len(idx.where) {
		return fmt.Errorf("mask table size %d != %d", len(idx.masks), len(idx.where))
	}
	return nil
}

// SortCells orders cells by Y, then X, then Z.
func SortCells(cells []Cell) {
	sort.Slice(cells, func(i, j int) bool {
		a, b := cells[i], cells[j]
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Z < b.Z
	})
}
