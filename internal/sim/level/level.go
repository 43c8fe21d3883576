package level

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"gridpush.dev/internal/sim/board"
)

// Definition is the on-disk level format.
type Definition struct {
	Name     string          `yaml:"name"`
	Spawn    [3]int          `yaml:"spawn"`
	Bounds   *BoundsDef      `yaml:"bounds,omitempty"`
	Floors   []Rect          `yaml:"floors,omitempty"`
	Entities []PlacementDef  `yaml:"entities,omitempty"`
	Generate *GenerateParams `yaml:"generate,omitempty"`
}

type BoundsDef struct {
	Min [3]int `yaml:"min"`
	Max [3]int `yaml:"max"`
}

// Rect fills every cell between From and To inclusive with floor.
type Rect struct {
	From [3]int `yaml:"from"`
	To   [3]int `yaml:"to"`
}

// PlacementDef places one entity. Kind is a shorthand; Mask, when set, wins.
type PlacementDef struct {
	Kind string   `yaml:"kind,omitempty"`
	Mask []string `yaml:"mask,omitempty"`
	Cell [3]int   `yaml:"cell"`
}

type GenerateParams struct {
	Seed       int64 `yaml:"seed"`
	Iterations int   `yaml:"iterations"`
	MaxSize    int   `yaml:"max_size"`
	Crates     int   `yaml:"crates"`
}

var kinds = map[string]board.TypeMask{
	"floor":  board.Solid,
	"wall":   board.Solid,
	"crate":  board.MaskOf(board.Solid, board.Interactable),
	"marker": board.Interactable,
}

// Placement is a resolved entity position.
type Placement struct {
	Mask board.TypeMask
	Cell board.Cell
}

// Layout is a level ready to be built onto a board.
type Layout struct {
	Name       string
	Spawn      board.Cell
	Bounds     *board.Bounds
	Placements []Placement
}

func Load(path string) (Definition, error) {
	var d Definition
	raw, err := os.ReadFile(path)
	if err != nil {
		return d, err
	}
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("level %s: %w", path, err)
	}
	if d.Name == "" {
		d.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return d, nil
}

// Compile resolves a definition into placements. A generate block is expanded
// first; floors and explicit entities are added on top of it.
func Compile(d Definition) (Layout, error) {
	var l Layout
	if d.Generate != nil {
		l = Generate(*d.Generate)
	} else {
		l.Spawn = board.CellFromArray(d.Spawn)
	}
	if d.Name != "" {
		l.Name = d.Name
	}
	if d.Bounds != nil {
		l.Bounds = &board.Bounds{Min: board.CellFromArray(d.Bounds.Min), Max: board.CellFromArray(d.Bounds.Max)}
	}
	for i, r := range d.Floors {
		lo, hi := board.CellFromArray(r.From), board.CellFromArray(r.To)
		if lo.X > hi.X || lo.Y > hi.Y || lo.Z > hi.Z {
			return Layout{}, fmt.Errorf("floors[%d]: from %s is not below to %s", i, lo, hi)
		}
		for y := lo.Y; y <= hi.Y; y++ {
			for x := lo.X; x <= hi.X; x++ {
				for z := lo.Z; z <= hi.Z; z++ {
					l.Placements = append(l.Placements, Placement{Mask: board.Solid, Cell: board.Cell{X: x, Y: y, Z: z}})
				}
			}
		}
	}
	for i, p := range d.Entities {
		mask, err := p.mask()
		if err != nil {
			return Layout{}, fmt.Errorf("entities[%d]: %w", i, err)
		}
		l.Placements = append(l.Placements, Placement{Mask: mask, Cell: board.CellFromArray(p.Cell)})
	}
	if l.Bounds != nil {
		for _, p := range l.Placements {
			if !l.Bounds.Contains(p.Cell) {
				return Layout{}, fmt.Errorf("placement at %s: %w", p.Cell, board.ErrOutOfBounds)
			}
		}
	}
	return l, nil
}

var errNoMask = errors.New("placement needs a kind or a mask")

func (p PlacementDef) mask() (board.TypeMask, error) {
	if len(p.Mask) > 0 {
		m, ok := board.ParseMask(p.Mask)
		if !ok {
			return 0, fmt.Errorf("unknown mask %v", p.Mask)
		}
		return m, nil
	}
	if p.Kind == "" {
		return 0, errNoMask
	}
	m, ok := kinds[strings.ToLower(p.Kind)]
	if !ok {
		return 0, fmt.Errorf("unknown kind %q", p.Kind)
	}
	return m, nil
}

// Build creates a fresh entity per placement and hands it to register, stopping
// at the first error.
func Build(l Layout, register func(board.Entity, board.Cell) error) error {
	for _, p := range l.Placements {
		e := board.NewEntity(p.Mask)
		if err := register(e, p.Cell); err != nil {
			return fmt.Errorf("build %s: %w", l.Name, err)
		}
	}
	return nil
}

// Tint is the checkerboard colour index of a cell: 0 when |x| and |z| share
// parity, else 1.
func Tint(c board.Cell) int {
	x, z := abs(c.X)%2, abs(c.Z)%2
	if x == z {
		return 0
	}
	return 1
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
