package board

import "testing"

func TestOverlapSemantics(t *testing.T) {
	cases := []struct {
		query, entity TypeMask
		want          bool
	}{
		{Solid, MaskOf(Solid, Player), true},
		{Interactable, Solid, false},
		{MaskOf(Player, Interactable), MaskOf(Solid, Interactable), true},
		{0, Solid, false},
	}
	for _, c := range cases {
		if got := c.query.Overlaps(c.entity); got != c.want {
			t.Fatalf("%v.Overlaps(%v)=%v want %v", c.query, c.entity, got, c.want)
		}
	}
	if MaskOf(Solid, Player).Has(MaskOf(Solid, Interactable)) {
		t.Fatalf("Has must require every flag")
	}
}

func TestMaskNamesRoundTrip(t *testing.T) {
	m := MaskOf(Solid, Interactable)
	if m.String() != "SOLID|INTERACTABLE" {
		t.Fatalf("String()=%q", m.String())
	}
	got, ok := ParseMask(m.Names())
	if !ok || got != m {
		t.Fatalf("ParseMask(%v)=%v %v", m.Names(), got, ok)
	}
	if _, ok := ParseMask([]string{"GHOST"}); ok {
		t.Fatalf("unknown flag accepted")
	}
}

func TestDirections(t *testing.T) {
	var sum Cell
	for _, d := range Cardinal {
		sum = sum.Add(d.Offset())
		got, ok := DirectionBetween(Cell{}, d.Offset())
		if !ok || got != d {
			t.Fatalf("DirectionBetween for %v = %v %v", d, got, ok)
		}
		if d.Offset().Y != 0 {
			t.Fatalf("%v has a vertical component", d)
		}
	}
	if sum != (Cell{}) {
		t.Fatalf("cardinal offsets do not cancel: %v", sum)
	}
	if Direction(0).Valid() {
		t.Fatalf("zero direction must be invalid")
	}
	if d, ok := ParseDirection("left"); !ok || d != West {
		t.Fatalf("ParseDirection(left)=%v %v", d, ok)
	}
}
