package world

import (
	"go.uber.org/zap"

	"gridpush.dev/internal/protocol"
	"gridpush.dev/internal/sim/board"
	"gridpush.dev/internal/sim/level"
)

// broadcast encodes v at most once per encoding and sends it to every client.
func (w *World) broadcast(v any) {
	if len(w.clients) == 0 {
		return
	}
	frames := map[protocol.Encoding][]byte{}
	for sid, cl := range w.clients {
		b, ok := frames[cl.Encoding]
		if !ok {
			var err error
			b, err = protocol.Encode(cl.Encoding, v)
			if err != nil {
				w.log.Error("encode failed", zap.String("session", sid), zap.Error(err))
				continue
			}
			frames[cl.Encoding] = b
		}
		if sendLatest(cl.Out, b) {
			cl.resync = true
		}
	}
}

func (w *World) sendTo(cl *clientState, v any) {
	b, err := protocol.Encode(cl.Encoding, v)
	if err != nil {
		w.log.Error("encode failed", zap.Error(err))
		return
	}
	if sendLatest(cl.Out, b) {
		cl.resync = true
	}
}

// flushResync sends a full RESET to every client that lost a frame, so replicas
// never keep applying moves on top of a gap.
func (w *World) flushResync(nowTick uint64) {
	for sid, cl := range w.clients {
		if !cl.resync {
			continue
		}
		cl.resync = false
		w.counters.resyncs.Add(1)
		w.log.Debug("resync", zap.String("session", sid))
		w.sendTo(cl, w.resetMsg(nowTick, cl))
	}
}

func (w *World) sendResets() {
	nowTick := w.tick.Load()
	for _, cl := range w.clients {
		cl.resync = false
		w.sendTo(cl, w.resetMsg(nowTick, cl))
	}
}

func (w *World) resetMsg(nowTick uint64, cl *clientState) protocol.ResetMsg {
	return protocol.ResetMsg{
		Type:     protocol.TypeReset,
		Tick:     nowTick,
		ActorID:  uint64(cl.ActorID),
		Entities: w.entityStates(),
		Digest:   w.idx.Digest(),
	}
}

func (w *World) entityStates() []protocol.EntityState {
	ents := w.idx.Entities()
	out := make([]protocol.EntityState, 0, len(ents))
	for _, e := range ents {
		out = append(out, entityState(e))
	}
	return out
}

// entityState converts e for the wire. Only static solids carry a tint.
func entityState(e board.Entity) protocol.EntityState {
	st := protocol.EntityState{ID: uint64(e.ID), Mask: e.Mask.Names(), Cell: e.Cell.ToArray()}
	if e.Mask == board.Solid {
		st.Tint = level.Tint(e.Cell)
	}
	return st
}
