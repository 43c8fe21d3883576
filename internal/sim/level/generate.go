package level

import (
	"fmt"
	"math/rand"

	"gridpush.dev/internal/sim/board"
)

// Generate grows a floor from the origin. Each iteration collects one random
// empty in-bounds neighbour per floor cell, then lays floor on one of them at
// random. The spawn sits on top of a random floor cell; crates go on other
// floor cells. The same params always produce the same layout.
func Generate(p GenerateParams) Layout {
	rng := rand.New(rand.NewSource(p.Seed))
	half := p.MaxSize / 2
	if p.MaxSize <= 1 {
		half = 1
	}
	inBounds := func(c board.Cell) bool { return abs(c.X) <= half && abs(c.Z) <= half }

	floor := board.NewIndex()
	add := func(c board.Cell) { _ = floor.Add(board.NewEntity(board.Solid), c) }
	add(board.Cell{})

	for i := 0; i < p.Iterations; i++ {
		var candidates []board.Cell
		for _, c := range floor.Cells() {
			var free []board.Cell
			for _, n := range floor.EmptyNeighbors(c) {
				if inBounds(n) {
					free = append(free, n)
				}
			}
			if len(free) > 0 {
				candidates = append(candidates, free[rng.Intn(len(free))])
			}
		}
		if len(candidates) == 0 {
			break
		}
		add(candidates[rng.Intn(len(candidates))])
	}

	cells := floor.Cells()
	l := Layout{Name: fmt.Sprintf("generated-%d", p.Seed)}
	for _, c := range cells {
		l.Placements = append(l.Placements, Placement{Mask: board.Solid, Cell: c})
	}

	rng.Shuffle(len(cells), func(i, j int) { cells[i], cells[j] = cells[j], cells[i] })
	l.Spawn = cells[0].Add(board.Up)
	for i := 1; i < len(cells) && i <= p.Crates; i++ {
		l.Placements = append(l.Placements, Placement{
			Mask: board.MaskOf(board.Solid, board.Interactable),
			Cell: cells[i].Add(board.Up),
		})
	}
	return l
}
