package rules

import (
	"fmt"

	"gridpush.dev/internal/sim/board"
)

// Step is one entity relocation.
type Step struct {
	ID   board.EntityID
	From board.Cell
	To   board.Cell
}

// Plan lists the relocations of a push chain, farthest link first, so applying
// them in order never moves an entity into a cell that is still occupied by the
// next link.
type Plan struct {
	Steps []Step
}

type options struct {
	busy func(board.EntityID) bool
}

type Option func(*options)

// WithBusy marks entities that refuse to be pushed (for example, still
// travelling from a previous push). A busy link fails the chain as Blocked.
func WithBusy(busy func(board.EntityID) bool) Option {
	return func(o *options) { o.busy = busy }
}

// PlanPush works out how the occupant can be pushed one cell in dir. Each link
// is validated with the same rules as a regular move. A link sharing its cell
// with another solid is Blocked, since moving it alone would leave the pusher
// facing that solid. If any link is Blocked or NoSupport the returned decision
// carries that outcome and the plan is empty. PlanPush never mutates the index.
func PlanPush(r Reader, occupant board.EntityID, dir board.Direction, opts ...Option) (Plan, Decision) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	cur, ok := r.CellOf(occupant)
	if !ok {
		return Plan{}, Decision{Outcome: Blocked, Occupant: occupant, Dir: dir}
	}

	id := occupant
	seen := map[board.EntityID]bool{}
	var steps []Step
	for {
		if seen[id] {
			// Unreachable with unit cardinal steps; guards a corrupted index.
			return Plan{}, Decision{Outcome: Blocked, Occupant: id, Dir: dir}
		}
		seen[id] = true
		if o.busy != nil && o.busy(id) {
			return Plan{}, Decision{Outcome: Blocked, Occupant: id, Dir: dir}
		}
		if other, ok := otherSolid(r, cur, id); ok {
			return Plan{}, Decision{Outcome: Blocked, Occupant: other, Dir: dir}
		}
		next := cur.Add(dir.Offset())
		d := Validate(r, cur, next)
		switch d.Outcome {
		case Allowed:
			steps = append(steps, Step{ID: id, From: cur, To: next})
			reverseSteps(steps)
			return Plan{Steps: steps}, Decision{Outcome: Allowed, Dir: dir}
		case InteractionRequired:
			steps = append(steps, Step{ID: id, From: cur, To: next})
			id = d.Occupant
			cur = next
		default:
			return Plan{}, d
		}
	}
}

// Mutator is the index surface needed to apply a resolution.
type Mutator interface {
	Reader
	MoveEntity(id board.EntityID, from, to board.Cell) error
}

// Resolution is the result of Resolve. Steps is empty unless the move was accepted;
// when accepted, the mover's own step is last.
type Resolution struct {
	Decision Decision
	Steps    []Step
}

func (r Resolution) Accepted() bool { return r.Decision.Outcome == Allowed && len(r.Steps) > 0 }

// Resolve validates and applies a single step for mover, pushing any chain of
// interactables in front of it. It is all-or-nothing: either every link and
// the mover are relocated, or the index is left untouched. The returned error
// is only non-nil for index desynchronization (for example, an unknown mover).
func Resolve(m Mutator, mover board.EntityID, dir board.Direction, opts ...Option) (Resolution, error) {
	if !dir.Valid() {
		return Resolution{}, fmt.Errorf("resolve %d: invalid direction %d", mover, dir)
	}
	from, ok := m.CellOf(mover)
	if !ok {
		return Resolution{}, fmt.Errorf("resolve %d: %w", mover, board.ErrNotFound)
	}
	to := from.Add(dir.Offset())

	d := Validate(m, from, to)
	var applied []Step
	if d.Outcome == InteractionRequired {
		plan, pd := PlanPush(m, d.Occupant, dir, opts...)
		if pd.Outcome != Allowed {
			return Resolution{Decision: pd}, nil
		}
		for _, s := range plan.Steps {
			if err := m.MoveEntity(s.ID, s.From, s.To); err != nil {
				if rerr := rollback(m, applied); rerr != nil {
					return Resolution{}, rerr
				}
				return Resolution{}, fmt.Errorf("push %d: %w", s.ID, err)
			}
			applied = append(applied, s)
		}
		d = Validate(m, from, to)
	}
	if d.Outcome != Allowed {
		if err := rollback(m, applied); err != nil {
			return Resolution{}, err
		}
		return Resolution{Decision: d}, nil
	}
	if err := m.MoveEntity(mover, from, to); err != nil {
		if rerr := rollback(m, applied); rerr != nil {
			return Resolution{}, rerr
		}
		return Resolution{}, fmt.Errorf("move %d: %w", mover, err)
	}
	applied = append(applied, Step{ID: mover, From: from, To: to})
	return Resolution{Decision: d, Steps: applied}, nil
}

func rollback(m Mutator, applied []Step) error {
	for i := len(applied) - 1; i >= 0; i-- {
		s := applied[i]
		if err := m.MoveEntity(s.ID, s.To, s.From); err != nil {
			return fmt.Errorf("rollback %d %s->%s: %w", s.ID, s.To, s.From, err)
		}
	}
	return nil
}

func reverseSteps(s []Step) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
