package board

import "strings"

// TypeMask classifies an entity. Matching between masks is an overlap test
// (any shared bit), so it is exposed as Overlaps and never as equality.
type TypeMask uint32

const (
	Solid        TypeMask = 1 << 0
	Player       TypeMask = 1 << 1
	Interactable TypeMask = 1 << 2
)

func MaskOf(flags ...TypeMask) TypeMask {
	var m TypeMask
	for _, f := range flags {
		m |= f
	}
	return m
}

// Overlaps reports whether m and o share at least one flag.
func (m TypeMask) Overlaps(o TypeMask) bool { return m&o != 0 }

// Has reports whether every flag of o is set in m.
func (m TypeMask) Has(o TypeMask) bool { return o != 0 && m&o == o }

var maskNames = []struct {
	flag TypeMask
	name string
}{
	{Solid, "SOLID"},
	{Player, "PLAYER"},
	{Interactable, "INTERACTABLE"},
}

func (m TypeMask) String() string {
	if m == 0 {
		return "NONE"
	}
	parts := make([]string, 0, len(maskNames))
	for _, n := range maskNames {
		if m&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "UNKNOWN"
	}
	return strings.Join(parts, "|")
}

// Names lists the known flag names set in m.
func (m TypeMask) Names() []string {
	out := make([]string, 0, len(maskNames))
	for _, n := range maskNames {
		if m&n.flag != 0 {
			out = append(out, n.name)
		}
	}
	return out
}

// ParseMask parses flag names as produced by Names.
func ParseMask(names []string) (TypeMask, bool) {
	var m TypeMask
	for _, raw := range names {
		found := false
		for _, n := range maskNames {
			if strings.EqualFold(strings.TrimSpace(raw), n.name) {
				m |= n.flag
				found = true
				break
			}
		}
		if !found {
			return 0, false
		}
	}
	return m, true
}
