package world

import (
	"time"

	"gridpush.dev/internal/sim/board"
	"gridpush.dev/internal/sim/inputq"
)

type ActorState uint8

const (
	Idle ActorState = iota
	Moving
)

func (s ActorState) String() string {
	if s == Moving {
		return "MOVING"
	}
	return "IDLE"
}

// actor is a board entity that accepts intents. It gates its own queue.
type actor struct {
	id      board.EntityID
	state   ActorState
	until   time.Time
	queue   *inputq.Queue
	session string
}

func newActor(id board.EntityID) *actor {
	a := &actor{id: id}
	a.queue = inputq.New(a)
	return a
}

func (a *actor) Idle() bool { return a.state == Idle }

func (a *actor) settle(now time.Time) {
	if a.state == Moving && !now.Before(a.until) {
		a.state = Idle
		a.until = time.Time{}
	}
}
