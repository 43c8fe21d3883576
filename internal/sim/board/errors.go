package board

import "errors"

var (
	// ErrDuplicateEntity is returned when adding an id that is already indexed.
	ErrDuplicateEntity = errors.New("entity already indexed")
	// ErrNotFound is returned when an id is not indexed (or not at the given cell).
	ErrNotFound = errors.New("entity not indexed")
	// ErrOutOfBounds is returned when a cell lies outside the index bounds.
	ErrOutOfBounds = errors.New("cell out of bounds")
)
