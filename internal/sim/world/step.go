package world

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"gridpush.dev/internal/protocol"
	"gridpush.dev/internal/sim/board"
	"gridpush.dev/internal/sim/rules"
)

// StepResult summarizes one tick.
type StepResult struct {
	Tick     uint64
	Moves    []PendingMove
	Rejected []Rejection
	Digest   string
}

// Rejection is a discarded intent. It is never retried.
type Rejection struct {
	ActorID   board.EntityID
	SessionID string
	Dir       board.Direction
	Outcome   rules.Outcome
	Code      string
}

func (w *World) step(now time.Time, joins []JoinRequest, leaves []string, intents []IntentEnvelope) StepResult {
	stepStart := time.Now()
	nowTick := w.tick.Load()

	// Leaves and joins apply at the tick boundary before any intent.
	recordedLeaves := make([]string, 0, len(leaves))
	for _, sid := range leaves {
		if w.handleLeave(sid, nowTick) {
			recordedLeaves = append(recordedLeaves, sid)
		}
	}
	recordedJoins := make([]RecordedJoin, 0, len(joins))
	for _, req := range joins {
		resp := w.handleJoin(req, nowTick)
		if req.Resp != nil {
			req.Resp <- resp
		}
		recordedJoins = append(recordedJoins, RecordedJoin{
			SessionID: req.SessionID,
			Name:      req.Name,
			ActorID:   board.EntityID(resp.Welcome.ActorID),
		})
	}

	// Buffer intents in receive order.
	var rejected []Rejection
	for _, in := range intents {
		if in.ActorID == 0 && in.SessionID != "" {
			if cl := w.clients[in.SessionID]; cl != nil {
				in.ActorID = cl.ActorID
			}
		}
		reject := func(code string) {
			rejected = append(rejected, Rejection{ActorID: in.ActorID, SessionID: in.SessionID, Dir: in.Dir, Outcome: rules.Blocked, Code: code})
		}
		a := w.actors[in.ActorID]
		switch {
		case a == nil:
			reject(protocol.ErrUnknownActor)
		case !in.Dir.Valid():
			reject(protocol.ErrBadDirection)
		case w.cfg.MaxQueuedInputs > 0 && a.queue.Len() >= w.cfg.MaxQueuedInputs:
			reject(protocol.ErrQueueFull)
		default:
			a.queue.Enqueue(in.Dir)
		}
	}

	for id, until := range w.busy {
		if !now.Before(until) {
			delete(w.busy, id)
		}
	}
	for _, a := range w.actors {
		a.settle(now)
	}

	moves, recordedMoves, rej := w.advanceActors(now)
	rejected = append(rejected, rej...)

	w.publish(nowTick, moves, rejected)

	digest := w.idx.Digest()
	if w.tickLogger != nil && (len(recordedMoves) > 0 || len(w.events) > 0 || len(recordedJoins) > 0 || len(recordedLeaves) > 0) {
		entry := TickLogEntry{
			Tick:     nowTick,
			Joins:    recordedJoins,
			Leaves:   recordedLeaves,
			Events:   w.events,
			Moves:    recordedMoves,
			Rejected: len(rejected),
			Digest:   digest,
		}
		if err := w.tickLogger.WriteTick(entry); err != nil {
			w.log.Warn("tick log write failed", zap.Uint64("tick", nowTick), zap.Error(err))
		}
	}
	w.events = nil

	w.counters.rejected(rejected)
	stepMS := float64(time.Since(stepStart).Microseconds()) / 1000.0
	nextTick := w.tick.Add(1)
	w.storeMetrics(nextTick, stepMS)

	return StepResult{Tick: nowTick, Moves: moves, Rejected: rejected, Digest: digest}
}

// advanceActors gives every idle actor with a buffered intent one move attempt,
// in entity id order.
func (w *World) advanceActors(now time.Time) ([]PendingMove, []RecordedMove, []Rejection) {
	ids := make([]board.EntityID, 0, len(w.actors))
	for id := range w.actors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var opts []rules.Option
	if w.cfg.PushCooldown {
		opts = append(opts, rules.WithBusy(func(id board.EntityID) bool {
			if until, ok := w.busy[id]; ok && now.Before(until) {
				return true
			}
			a := w.actors[id]
			return a != nil && !a.Idle()
		}))
	}

	var moves []PendingMove
	var recorded []RecordedMove
	var rejected []Rejection
	for _, id := range ids {
		a := w.actors[id]
		dir, ok := a.queue.DequeueIfIdle()
		if !ok {
			continue
		}
		// Scale by what is still buffered after the dequeue.
		seconds := w.cfg.MoveDuration.Seconds() / float64(a.queue.Len()+1)

		res, err := rules.Resolve(w.idx, id, dir, opts...)
		if err != nil {
			w.log.Error("resolve failed", zap.Uint64("actor", uint64(id)), zap.Stringer("dir", dir), zap.Error(err))
			rejected = append(rejected, Rejection{ActorID: id, Dir: dir, Outcome: rules.Blocked, Code: protocol.ErrInternal})
			continue
		}
		if !res.Accepted() {
			rejected = append(rejected, Rejection{ActorID: id, Dir: dir, Outcome: res.Decision.Outcome, Code: outcomeCode(res.Decision.Outcome)})
			continue
		}

		until := now.Add(time.Duration(seconds * float64(time.Second)))
		a.state = Moving
		a.until = until
		last := len(res.Steps) - 1
		for i, s := range res.Steps {
			if i < last && w.cfg.PushCooldown {
				w.busy[s.ID] = until
			}
			w.moveSeq++
			moves = append(moves, PendingMove{ActorID: s.ID, Start: s.From, Target: s.To, DurationSeconds: seconds})
			recorded = append(recorded, RecordedMove{
				Seq:       w.moveSeq,
				Mover:     id,
				ActorID:   s.ID,
				Start:     s.From.ToArray(),
				Target:    s.To.ToArray(),
				DurationS: seconds,
			})
		}
		w.counters.accepted.Add(1)
		w.counters.pushed.Add(uint64(last))
	}
	return moves, recorded, rejected
}

func outcomeCode(o rules.Outcome) string {
	switch o {
	case rules.NoSupport:
		return protocol.ErrNoSupport
	case rules.Blocked, rules.InteractionRequired:
		return protocol.ErrBlocked
	}
	return protocol.ErrInternal
}

// publish hands accepted moves to playback and every client, and reports
// rejections to the submitting actor's client.
func (w *World) publish(nowTick uint64, moves []PendingMove, rejected []Rejection) {
	seq := w.moveSeq - uint64(len(moves))
	for _, m := range moves {
		seq++
		if w.playback != nil {
			w.playback.PlayMove(m.ActorID, m.Start, m.Target, m.DurationSeconds)
		}
		w.broadcast(protocol.MovedMsg{
			Type:      protocol.TypeMoved,
			Seq:       seq,
			Tick:      nowTick,
			ActorID:   uint64(m.ActorID),
			Start:     m.Start.ToArray(),
			Target:    m.Target.ToArray(),
			DurationS: m.DurationSeconds,
		})
	}
	for _, r := range rejected {
		sid := r.SessionID
		if a := w.actors[r.ActorID]; sid == "" && a != nil {
			sid = a.session
		}
		cl := w.clients[sid]
		if sid == "" || cl == nil {
			continue
		}
		w.sendTo(cl, protocol.RejectedMsg{
			Type:    protocol.TypeRejected,
			Tick:    nowTick,
			Dir:     r.Dir.String(),
			Code:    r.Code,
			Outcome: r.Outcome.String(),
		})
	}
	w.flushResync(nowTick)
}
