package board

import "fmt"

// Cell is an integer grid coordinate. Y is the vertical axis.
type Cell struct {
	X int
	Y int
	Z int
}

func (c Cell) Add(o Cell) Cell { return Cell{X: c.X + o.X, Y: c.Y + o.Y, Z: c.Z + o.Z} }
func (c Cell) Sub(o Cell) Cell { return Cell{X: c.X - o.X, Y: c.Y - o.Y, Z: c.Z - o.Z} }

func (c Cell) ToArray() [3]int { return [3]int{c.X, c.Y, c.Z} }

func CellFromArray(a [3]int) Cell { return Cell{X: a[0], Y: a[1], Z: a[2]} }

func (c Cell) String() string { return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z) }

// Below returns the supporting cell directly under c.
func (c Cell) Below() Cell { return c.Sub(Up) }

var Up = Cell{Y: 1}

// Direction is a single horizontal step. The zero value is not a valid direction.
type Direction uint8

const (
	West  Direction = iota + 1 // -x
	East                       // +x
	North                      // +z
	South                      // -z
)

// Cardinal is the fixed neighbour ordering used wherever iteration order is observable.
var Cardinal = [4]Direction{West, East, North, South}

func (d Direction) Valid() bool { return d >= West && d <= South }

func (d Direction) Offset() Cell {
	switch d {
	case West:
		return Cell{X: -1}
	case East:
		return Cell{X: 1}
	case North:
		return Cell{Z: 1}
	case South:
		return Cell{Z: -1}
	}
	return Cell{}
}

func (d Direction) String() string {
	switch d {
	case West:
		return "WEST"
	case East:
		return "EAST"
	case North:
		return "NORTH"
	case South:
		return "SOUTH"
	}
	return "NONE"
}

// ParseDirection accepts the wire names plus the usual key aliases.
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "WEST", "LEFT", "west", "left", "A", "a":
		return West, true
	case "EAST", "RIGHT", "east", "right", "D", "d":
		return East, true
	case "NORTH", "FORWARD", "UP", "north", "forward", "up", "W", "w":
		return North, true
	case "SOUTH", "BACK", "DOWN", "south", "back", "down", "S", "s":
		return South, true
	}
	return 0, false
}

// DirectionBetween returns the direction of a unit horizontal step from a to b.
func DirectionBetween(a, b Cell) (Direction, bool) {
	d := b.Sub(a)
	for _, dir := range Cardinal {
		if dir.Offset() == d {
			return dir, true
		}
	}
	return 0, false
}
