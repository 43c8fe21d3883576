package world

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"gridpush.dev/internal/protocol"
	"gridpush.dev/internal/sim/board"
)

// RegisterFunc adds one entity to the board.
type RegisterFunc func(e board.Entity, c board.Cell) error

// Register indexes e at c and announces it. Entities carrying the Player flag
// become actors that accept intents.
func (w *World) Register(e board.Entity, c board.Cell) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.register(e, c, true)
}

func (w *World) register(e board.Entity, c board.Cell, announce bool) error {
	if err := w.idx.Add(e, c); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	e.Cell = c
	if e.Mask.Overlaps(board.Player) {
		w.actors[e.ID] = newActor(e.ID)
	}
	if w.lifecycle != nil {
		w.lifecycle.OnCreated(e, c)
	}
	rec := entityRecord(e)
	w.events = append(w.events, BoardEvent{Kind: "SPAWN", Entity: &rec})
	if announce {
		w.broadcast(protocol.SpawnMsg{Type: protocol.TypeSpawn, Tick: w.tick.Load(), Entity: entityState(e)})
	}
	return nil
}

// Unregister removes id from the board, then hands it to the lifecycle for destruction.
func (w *World) Unregister(id board.EntityID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.unregister(id)
}

func (w *World) unregister(id board.EntityID) error {
	e, ok := w.idx.Entity(id)
	if !ok {
		return fmt.Errorf("unregister %d: %w", id, board.ErrNotFound)
	}
	if err := w.idx.Remove(id); err != nil {
		return fmt.Errorf("unregister: %w", err)
	}
	if a := w.actors[id]; a != nil {
		if cl := w.clients[a.session]; cl != nil {
			cl.ActorID = 0
		}
		delete(w.actors, id)
	}
	delete(w.busy, id)
	if w.lifecycle != nil {
		w.lifecycle.OnDestroyRequested(e)
	}
	w.events = append(w.events, BoardEvent{Kind: "DESPAWN", ID: id})
	w.broadcast(protocol.DespawnMsg{Type: protocol.TypeDespawn, Tick: w.tick.Load(), ID: uint64(id)})
	return nil
}

// ClearBoard destroys every entity. Connected players lose their actor until
// the next Rebuild.
func (w *World) ClearBoard() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clearBoard()
	w.sendResets()
}

func (w *World) clearBoard() {
	w.idx.Clear(func(e board.Entity) {
		if w.lifecycle != nil {
			w.lifecycle.OnDestroyRequested(e)
		}
	})
	w.actors = map[board.EntityID]*actor{}
	w.busy = map[board.EntityID]time.Time{}
	for _, cl := range w.clients {
		cl.ActorID = 0
	}
	w.events = append(w.events, BoardEvent{Kind: "RESET"})
}

// Rebuild runs build against a fresh board confined to bounds (nil for none).
// Only when build succeeds is the old board cleared and the new one swapped
// in; the spawn point moves and every connected player gets a fresh actor.
// Clients receive one RESET each. On error the current board is untouched.
func (w *World) Rebuild(spawn board.Cell, bounds *board.Bounds, build func(RegisterFunc) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	staged := newBoardIndex(bounds)
	var placed []board.Entity
	if build != nil {
		err := build(func(e board.Entity, c board.Cell) error {
			if err := staged.Add(e, c); err != nil {
				return err
			}
			e.Cell = c
			placed = append(placed, e)
			return nil
		})
		if err != nil {
			w.log.Error("rebuild failed; board kept", zap.Error(err))
			return fmt.Errorf("rebuild: %w", err)
		}
	}

	w.clearBoard()
	w.idx = newBoardIndex(bounds)
	w.cfg.Bounds = bounds
	w.cfg.Spawn = spawn
	for _, e := range placed {
		if err := w.register(e, e.Cell, false); err != nil {
			// Same entities, same bounds: only a corrupted index gets here.
			w.log.Error("rebuild register", zap.Uint64("id", uint64(e.ID)), zap.Error(err))
		}
	}
	for sid, cl := range w.clients {
		if cl.role != protocol.RolePlayer {
			continue
		}
		if id, err := w.spawnActor(sid, false); err != nil {
			w.log.Warn("respawn failed", zap.String("session", sid), zap.Error(err))
		} else {
			cl.ActorID = id
		}
	}
	w.sendResets()
	return nil
}

// SetLevelName changes the level name reported in WELCOME.
func (w *World) SetLevelName(name string) {
	w.mu.Lock()
	w.cfg.LevelName = name
	w.mu.Unlock()
}

// spawnCell prefers the configured spawn; if a solid occupant holds it, the
// nearest supported empty cell reachable through empty neighbours is used.
func (w *World) spawnCell() board.Cell {
	start := w.cfg.Spawn
	if !w.idx.IsOccupiedBy(start, board.Solid) {
		return start
	}
	seen := map[board.Cell]bool{start: true}
	queue := []board.Cell{start}
	for len(queue) > 0 && len(seen) < 1024 {
		c := queue[0]
		queue = queue[1:]
		for _, n := range w.idx.EmptyNeighbors(c) {
			if seen[n] {
				continue
			}
			seen[n] = true
			if w.idx.IsOccupiedBy(n.Below(), board.Solid) {
				return n
			}
			queue = append(queue, n)
		}
	}
	return start
}

func (w *World) spawnActor(session string, announce bool) (board.EntityID, error) {
	e := board.NewEntity(board.MaskOf(board.Solid, board.Player))
	if err := w.register(e, w.spawnCell(), announce); err != nil {
		return 0, err
	}
	w.actors[e.ID].session = session
	return e.ID, nil
}

func (w *World) handleJoin(req JoinRequest, nowTick uint64) JoinResponse {
	role := req.Role
	if role != protocol.RoleReplica {
		role = protocol.RolePlayer
	}
	cl := &clientState{Out: req.Out, Encoding: req.Encoding, Name: req.Name, role: role}
	if role == protocol.RolePlayer {
		id, err := w.spawnActor(req.SessionID, true)
		if err != nil {
			w.log.Warn("spawn failed", zap.String("session", req.SessionID), zap.Error(err))
		}
		cl.ActorID = id
	}
	if req.Out != nil {
		w.clients[req.SessionID] = cl
	}
	w.log.Info("join",
		zap.String("session", req.SessionID),
		zap.String("name", req.Name),
		zap.String("role", role),
		zap.Uint64("actor", uint64(cl.ActorID)),
	)
	return JoinResponse{Welcome: protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       req.SessionID,
		ActorID:         uint64(cl.ActorID),
		Tick:            nowTick,
		Params: protocol.WorldParams{
			TickRateHz:      w.cfg.TickRateHz,
			MoveDurationS:   w.cfg.MoveDuration.Seconds(),
			LevelName:       w.cfg.LevelName,
			MaxQueuedInputs: w.cfg.MaxQueuedInputs,
		},
		Entities: w.entityStates(),
		Digest:   w.idx.Digest(),
	}}
}

// handleLeave drops the session and destroys its actor, if any.
func (w *World) handleLeave(sid string, nowTick uint64) bool {
	cl, ok := w.clients[sid]
	if !ok {
		return false
	}
	delete(w.clients, sid)
	if cl.ActorID != 0 {
		if err := w.unregister(cl.ActorID); err != nil {
			w.log.Warn("leave: actor already gone", zap.String("session", sid), zap.Error(err))
		}
	}
	w.log.Info("leave", zap.String("session", sid), zap.Uint64("tick", nowTick))
	return true
}

func entityRecord(e board.Entity) EntityRecord {
	return EntityRecord{ID: e.ID, Mask: e.Mask, Cell: e.Cell.ToArray()}
}

// Entity returns the board entity a journal record describes.
func (r EntityRecord) Entity() board.Entity {
	return board.Entity{ID: r.ID, Mask: r.Mask, Cell: board.CellFromArray(r.Cell)}
}
