package board

import "sync/atomic"

// EntityID is stable for the lifetime of an entity and independent of its position.
type EntityID uint64

var nextEntityID atomic.Uint64

// NewEntityID allocates a process-unique id. Ids are never reused.
func NewEntityID() EntityID { return EntityID(nextEntityID.Add(1)) }

// Entity is a board occupant. Cell is only a hint when passed in; once the entity
// is indexed, Index.CellOf is the source of truth.
type Entity struct {
	ID   EntityID
	Mask TypeMask
	Cell Cell
}

func NewEntity(mask TypeMask) Entity {
	return Entity{ID: NewEntityID(), Mask: mask}
}
