package world

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"gridpush.dev/internal/protocol"
	"gridpush.dev/internal/sim/board"
)

var ErrNoUpstream = errors.New("replica has no upstream")

// Participant is what callers need from either role: submit intents, compare
// state, and read the board.
type Participant interface {
	Submit(in IntentEnvelope) error
	Digest() string
	Snapshot() []board.Entity
}

var (
	_ Participant = (*World)(nil)
	_ Participant = (*Replica)(nil)
)

// Replica mirrors an authority's board. It applies whatever it is told, never
// validates, and forwards intents upstream.
type Replica struct {
	mu       sync.Mutex
	idx      *board.Index
	actorID  board.EntityID
	lastSeq  uint64
	desyncs  int
	upstream func(IntentEnvelope) error
	playback PlaybackSink
	log      *zap.Logger
}

func NewReplica(upstream func(IntentEnvelope) error) *Replica {
	return &Replica{
		idx:      board.NewIndex(),
		upstream: upstream,
		log:      zap.NewNop(),
	}
}

func (r *Replica) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	r.log = l.With(zap.String("component", "replica"))
}

func (r *Replica) SetPlaybackSink(p PlaybackSink) { r.playback = p }

func (r *Replica) Submit(in IntentEnvelope) error {
	if r.upstream == nil {
		return ErrNoUpstream
	}
	if in.ActorID == 0 {
		in.ActorID = r.ActorID()
	}
	return r.upstream(in)
}

// ActorID is the local actor assigned by the last WELCOME or RESET.
func (r *Replica) ActorID() board.EntityID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.actorID
}

// ApplyMove relocates the entity from wherever this replica has it. A start
// that disagrees with the local board is counted, not refused.
func (r *Replica) ApplyMove(m PendingMove) error {
	r.mu.Lock()
	from, ok := r.idx.CellOf(m.ActorID)
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("replica move %d: %w", m.ActorID, board.ErrNotFound)
	}
	if from != m.Start {
		r.desyncs++
		r.log.Warn("move start disagrees with local board",
			zap.Uint64("id", uint64(m.ActorID)),
			zap.Stringer("local", from),
			zap.Stringer("start", m.Start),
		)
	}
	err := r.idx.MoveEntity(m.ActorID, from, m.Target)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("replica move: %w", err)
	}
	if r.playback != nil {
		r.playback.PlayMove(m.ActorID, from, m.Target, m.DurationSeconds)
	}
	return nil
}

func (r *Replica) ApplySpawn(e board.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.idx.Add(e, e.Cell); err != nil {
		return fmt.Errorf("replica spawn: %w", err)
	}
	return nil
}

func (r *Replica) ApplyDespawn(id board.EntityID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.idx.Remove(id); err != nil {
		return fmt.Errorf("replica despawn: %w", err)
	}
	return nil
}

// ApplyReset replaces the whole board.
func (r *Replica) ApplyReset(entities []board.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idx.Clear(nil)
	for _, e := range entities {
		if err := r.idx.Add(e, e.Cell); err != nil {
			return fmt.Errorf("replica reset: %w", err)
		}
	}
	return nil
}

// ApplyTick replays one journal entry: board events in order, then moves.
func (r *Replica) ApplyTick(entry TickLogEntry) error {
	for _, ev := range entry.Events {
		var err error
		switch ev.Kind {
		case "SPAWN":
			if ev.Entity == nil {
				return fmt.Errorf("tick %d: spawn without entity", entry.Tick)
			}
			err = r.ApplySpawn(ev.Entity.Entity())
		case "DESPAWN":
			err = r.ApplyDespawn(ev.ID)
		case "RESET":
			ents := make([]board.Entity, 0, len(ev.Entities))
			for _, rec := range ev.Entities {
				ents = append(ents, rec.Entity())
			}
			err = r.ApplyReset(ents)
		default:
			err = fmt.Errorf("unknown board event %q", ev.Kind)
		}
		if err != nil {
			return fmt.Errorf("tick %d: %w", entry.Tick, err)
		}
	}
	for _, m := range entry.Moves {
		pm := PendingMove{
			ActorID:         m.ActorID,
			Start:           board.CellFromArray(m.Start),
			Target:          board.CellFromArray(m.Target),
			DurationSeconds: m.DurationS,
		}
		if err := r.ApplyMove(pm); err != nil {
			return fmt.Errorf("tick %d seq %d: %w", entry.Tick, m.Seq, err)
		}
	}
	return nil
}

// HandleMessage decodes one frame from the authority and applies it.
// Messages that carry no board state are ignored.
func (r *Replica) HandleMessage(enc protocol.Encoding, frame []byte) error {
	base, err := protocol.DecodeBaseAs(enc, frame)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var m protocol.WelcomeMsg
		if err := protocol.Decode(enc, frame, &m); err != nil {
			return err
		}
		ents, err := entitiesFromWire(m.Entities)
		if err != nil {
			return err
		}
		r.setActor(board.EntityID(m.ActorID))
		return r.ApplyReset(ents)
	case protocol.TypeReset:
		var m protocol.ResetMsg
		if err := protocol.Decode(enc, frame, &m); err != nil {
			return err
		}
		ents, err := entitiesFromWire(m.Entities)
		if err != nil {
			return err
		}
		r.setActor(board.EntityID(m.ActorID))
		return r.ApplyReset(ents)
	case protocol.TypeMoved:
		var m protocol.MovedMsg
		if err := protocol.Decode(enc, frame, &m); err != nil {
			return err
		}
		r.mu.Lock()
		if m.Seq > r.lastSeq {
			r.lastSeq = m.Seq
		}
		r.mu.Unlock()
		return r.ApplyMove(PendingMove{
			ActorID:         board.EntityID(m.ActorID),
			Start:           board.CellFromArray(m.Start),
			Target:          board.CellFromArray(m.Target),
			DurationSeconds: m.DurationS,
		})
	case protocol.TypeSpawn:
		var m protocol.SpawnMsg
		if err := protocol.Decode(enc, frame, &m); err != nil {
			return err
		}
		e, err := entityFromWire(m.Entity)
		if err != nil {
			return err
		}
		return r.ApplySpawn(e)
	case protocol.TypeDespawn:
		var m protocol.DespawnMsg
		if err := protocol.Decode(enc, frame, &m); err != nil {
			return err
		}
		return r.ApplyDespawn(board.EntityID(m.ID))
	}
	return nil
}

func (r *Replica) setActor(id board.EntityID) {
	r.mu.Lock()
	r.actorID = id
	r.mu.Unlock()
}

func (r *Replica) Digest() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idx.Digest()
}

func (r *Replica) Snapshot() []board.Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idx.Entities()
}

func (r *Replica) OccupantsAt(c board.Cell) []board.Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idx.OccupantsAt(c)
}

func (r *Replica) CellOf(id board.EntityID) (board.Cell, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idx.CellOf(id)
}

// Desyncs counts moves whose start did not match the local board.
func (r *Replica) Desyncs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.desyncs
}

func (r *Replica) LastSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeq
}

func entityFromWire(s protocol.EntityState) (board.Entity, error) {
	mask, ok := board.ParseMask(s.Mask)
	if !ok {
		return board.Entity{}, fmt.Errorf("entity %d: unknown mask %v", s.ID, s.Mask)
	}
	return board.Entity{ID: board.EntityID(s.ID), Mask: mask, Cell: board.CellFromArray(s.Cell)}, nil
}

func entitiesFromWire(states []protocol.EntityState) ([]board.Entity, error) {
	out := make([]board.Entity, 0, len(states))
	for _, s := range states {
		e, err := entityFromWire(s)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
