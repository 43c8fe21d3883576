package rules

import "gridpush.dev/internal/sim/board"

// Outcome is the result of validating a single step. Outcomes are ordinary
// control flow, not errors.
type Outcome uint8

const (
	Allowed Outcome = iota
	Blocked
	NoSupport
	InteractionRequired
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "ALLOWED"
	case Blocked:
		return "BLOCKED"
	case NoSupport:
		return "NO_SUPPORT"
	case InteractionRequired:
		return "INTERACTION_REQUIRED"
	}
	return "UNKNOWN"
}

// Decision carries the outcome and, for InteractionRequired, the occupant to push.
type Decision struct {
	Outcome  Outcome
	Occupant board.EntityID
	Dir      board.Direction
}

// Reader is the read side of the spatial index needed by the validator.
type Reader interface {
	OccupantsAt(c board.Cell) []board.Entity
	IsOccupiedBy(c board.Cell, mask board.TypeMask) bool
	CellOf(id board.EntityID) (board.Cell, bool)
}

// Validate decides whether an entity standing at from may occupy to.
//
//  1. to must have a solid occupant directly below it, else NoSupport.
//  2. a solid occupant at to blocks, unless every solid occupant there is also
//     interactable; then the first one must be pushed (InteractionRequired).
//  3. otherwise Allowed.
func Validate(r Reader, from, to board.Cell) Decision {
	dir, _ := board.DirectionBetween(from, to)
	if !r.IsOccupiedBy(to.Below(), board.Solid) {
		return Decision{Outcome: NoSupport, Dir: dir}
	}
	var (
		push  board.EntityID
		found bool
	)
	for _, occ := range r.OccupantsAt(to) {
		if !occ.Mask.Overlaps(board.Solid) {
			continue
		}
		if !occ.Mask.Has(pushable) {
			return Decision{Outcome: Blocked, Occupant: occ.ID, Dir: dir}
		}
		if !found {
			push, found = occ.ID, true
		}
	}
	if found {
		return Decision{Outcome: InteractionRequired, Occupant: push, Dir: dir}
	}
	return Decision{Outcome: Allowed, Dir: dir}
}

var pushable = board.MaskOf(board.Solid, board.Interactable)

// otherSolid reports a solid occupant of c other than id.
func otherSolid(r Reader, c board.Cell, id board.EntityID) (board.EntityID, bool) {
	for _, occ := range r.OccupantsAt(c) {
		if occ.ID != id && occ.Mask.Overlaps(board.Solid) {
			return occ.ID, true
		}
	}
	return 0, false
}
