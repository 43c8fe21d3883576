package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/pprof"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"gridpush.dev/internal/persistence/indexdb"
	"gridpush.dev/internal/persistence/r2s3"
	"gridpush.dev/internal/sim/board"
	"gridpush.dev/internal/sim/level"
	"gridpush.dev/internal/sim/tuning"
	"gridpush.dev/internal/sim/world"
)

type app struct {
	worldID   string
	w         *world.World
	idx       *indexdb.SQLiteIndex
	mirror    *r2s3.Mirror
	log       *zap.Logger
	configDir string

	mu    sync.Mutex
	level tuning.LevelTuning
}

func (a *app) routes(admin, pprofOn bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", a.handleMetrics)

	if admin {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", a.loopbackOnly(a.handleState))
		mux.HandleFunc("/admin/v1/regenerate", a.loopbackOnly(a.handleRegenerate))
		mux.HandleFunc("/admin/v1/moves", a.loopbackOnly(a.handleMoves))
	} else {
		a.log.Info("admin endpoints disabled (GRIDPUSH_ENABLE_ADMIN_HTTP=false)")
	}
	if pprofOn {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func (a *app) loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func (a *app) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	m := a.w.Metrics()
	tick := a.w.CurrentTick()
	if m.Tick != 0 {
		tick = m.Tick
	}
	id := a.worldID

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP gridpush_world_tick Current world tick.\n")
	fmt.Fprintf(rw, "# TYPE gridpush_world_tick gauge\n")
	fmt.Fprintf(rw, "gridpush_world_tick{world=%q} %d\n", id, tick)

	fmt.Fprintf(rw, "# HELP gridpush_world_actors Actors on the board.\n")
	fmt.Fprintf(rw, "# TYPE gridpush_world_actors gauge\n")
	fmt.Fprintf(rw, "gridpush_world_actors{world=%q} %d\n", id, m.Actors)

	fmt.Fprintf(rw, "# HELP gridpush_world_clients Connected clients.\n")
	fmt.Fprintf(rw, "# TYPE gridpush_world_clients gauge\n")
	fmt.Fprintf(rw, "gridpush_world_clients{world=%q} %d\n", id, m.Clients)

	fmt.Fprintf(rw, "# HELP gridpush_world_entities Indexed entities.\n")
	fmt.Fprintf(rw, "# TYPE gridpush_world_entities gauge\n")
	fmt.Fprintf(rw, "gridpush_world_entities{world=%q} %d\n", id, m.Entities)

	fmt.Fprintf(rw, "# HELP gridpush_world_queued_intents Buffered intents across actors.\n")
	fmt.Fprintf(rw, "# TYPE gridpush_world_queued_intents gauge\n")
	fmt.Fprintf(rw, "gridpush_world_queued_intents{world=%q} %d\n", id, m.QueuedIntents)

	fmt.Fprintf(rw, "# HELP gridpush_world_busy_entities Entities still travelling from a push.\n")
	fmt.Fprintf(rw, "# TYPE gridpush_world_busy_entities gauge\n")
	fmt.Fprintf(rw, "gridpush_world_busy_entities{world=%q} %d\n", id, m.BusyEntities)

	fmt.Fprintf(rw, "# HELP gridpush_moves_accepted_total Accepted moves.\n")
	fmt.Fprintf(rw, "# TYPE gridpush_moves_accepted_total counter\n")
	fmt.Fprintf(rw, "gridpush_moves_accepted_total{world=%q} %d\n", id, m.MovesAccepted)

	fmt.Fprintf(rw, "# HELP gridpush_entities_pushed_total Entities relocated by push chains.\n")
	fmt.Fprintf(rw, "# TYPE gridpush_entities_pushed_total counter\n")
	fmt.Fprintf(rw, "gridpush_entities_pushed_total{world=%q} %d\n", id, m.EntitiesPushed)

	fmt.Fprintf(rw, "# HELP gridpush_intents_rejected_total Discarded intents by reason.\n")
	fmt.Fprintf(rw, "# TYPE gridpush_intents_rejected_total counter\n")
	for _, kv := range []struct {
		reason string
		n      uint64
	}{
		{"blocked", m.Rejected.Blocked},
		{"no_support", m.Rejected.NoSupport},
		{"unknown_actor", m.Rejected.UnknownActor},
		{"bad_direction", m.Rejected.BadDirection},
		{"queue_full", m.Rejected.QueueFull},
		{"internal", m.Rejected.Internal},
	} {
		fmt.Fprintf(rw, "gridpush_intents_rejected_total{world=%q,reason=%q} %d\n", id, kv.reason, kv.n)
	}

	fmt.Fprintf(rw, "# HELP gridpush_inbox_dropped_total Intents dropped on a full inbox.\n")
	fmt.Fprintf(rw, "# TYPE gridpush_inbox_dropped_total counter\n")
	fmt.Fprintf(rw, "gridpush_inbox_dropped_total{world=%q} %d\n", id, m.InboxDropped)

	fmt.Fprintf(rw, "# HELP gridpush_resyncs_total RESET frames sent after dropped output.\n")
	fmt.Fprintf(rw, "# TYPE gridpush_resyncs_total counter\n")
	fmt.Fprintf(rw, "gridpush_resyncs_total{world=%q} %d\n", id, m.Resyncs)

	fmt.Fprintf(rw, "# HELP gridpush_world_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE gridpush_world_queue_depth gauge\n")
	fmt.Fprintf(rw, "gridpush_world_queue_depth{world=%q,queue=%q} %d\n", id, "inbox", m.QueueDepths.Inbox)
	fmt.Fprintf(rw, "gridpush_world_queue_depth{world=%q,queue=%q} %d\n", id, "join", m.QueueDepths.Join)
	fmt.Fprintf(rw, "gridpush_world_queue_depth{world=%q,queue=%q} %d\n", id, "leave", m.QueueDepths.Leave)

	fmt.Fprintf(rw, "# HELP gridpush_world_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE gridpush_world_step_ms gauge\n")
	fmt.Fprintf(rw, "gridpush_world_step_ms{world=%q} %.3f\n", id, m.StepMS)

	if a.idx != nil {
		s := a.idx.Stats()
		fmt.Fprintf(rw, "# HELP gridpush_index_queue_depth Move index write queue depth.\n")
		fmt.Fprintf(rw, "# TYPE gridpush_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "gridpush_index_queue_depth{world=%q} %d\n", id, s.QueueDepth)

		fmt.Fprintf(rw, "# HELP gridpush_index_dropped_total Journal entries the index dropped.\n")
		fmt.Fprintf(rw, "# TYPE gridpush_index_dropped_total counter\n")
		fmt.Fprintf(rw, "gridpush_index_dropped_total{world=%q} %d\n", id, s.DropTickTotal)
	}
	if a.mirror != nil {
		s := a.mirror.Stats()
		fmt.Fprintf(rw, "# HELP gridpush_mirror_queue_depth Journal segments waiting for upload.\n")
		fmt.Fprintf(rw, "# TYPE gridpush_mirror_queue_depth gauge\n")
		fmt.Fprintf(rw, "gridpush_mirror_queue_depth %d\n", s.QueueDepth)

		fmt.Fprintf(rw, "# HELP gridpush_mirror_uploads_total Segment uploads by result.\n")
		fmt.Fprintf(rw, "# TYPE gridpush_mirror_uploads_total counter\n")
		fmt.Fprintf(rw, "gridpush_mirror_uploads_total{result=%q} %d\n", "ok", s.UploadSuccessTotal)
		fmt.Fprintf(rw, "gridpush_mirror_uploads_total{result=%q} %d\n", "fail", s.UploadFailTotal)
		fmt.Fprintf(rw, "gridpush_mirror_uploads_total{result=%q} %d\n", "dropped", s.DroppedTotal)

		fmt.Fprintf(rw, "# HELP gridpush_mirror_last_success_unix Unix time of the last successful upload.\n")
		fmt.Fprintf(rw, "# TYPE gridpush_mirror_last_success_unix gauge\n")
		fmt.Fprintf(rw, "gridpush_mirror_last_success_unix %d\n", s.LastSuccessUnix)
	}
}

func (a *app) handleState(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	resp := struct {
		WorldID string             `json:"world_id"`
		Tick    uint64             `json:"tick"`
		Digest  string             `json:"digest"`
		Metrics world.WorldMetrics `json:"metrics"`
	}{
		WorldID: a.worldID,
		Tick:    a.w.CurrentTick(),
		Digest:  a.w.Digest(),
		Metrics: a.w.Metrics(),
	}
	_ = json.NewEncoder(rw).Encode(resp)
}

// handleRegenerate rebuilds the board from ?level=<name> under configs/levels,
// or grows a fresh level from ?seed= (default: next seed). Connected players
// are respawned on the new board.
func (a *app) handleRegenerate(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	q := r.URL.Query()
	seed := a.level.Seed
	var l level.Layout
	if name := q.Get("level"); name != "" {
		lt := a.level
		lt.Path = filepath.Join("levels", filepath.Base(name)+".yaml")
		var err error
		if l, err = loadLayout(a.configDir, lt); err != nil {
			http.Error(rw, err.Error(), http.StatusNotFound)
			return
		}
	} else {
		seed++
		if v := q.Get("seed"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				http.Error(rw, "bad seed", http.StatusBadRequest)
				return
			}
			seed = n
		}
		a.level.Seed = seed
		l = generatedLayout(a.level, seed)
	}

	rw.Header().Set("Content-Type", "application/json")
	if err := rebuildFromLayout(a.w, l); err != nil {
		a.log.Error("regenerate", zap.String("level", l.Name), zap.Error(err))
		rw.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "level": l.Name, "error": err.Error()})
		return
	}
	recordLevelMeta(a.idx, l.Name, seed, a.log)
	a.log.Info("level rebuilt", zap.String("level", l.Name), zap.Int("entities", len(l.Placements)))
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "level": l.Name, "digest": a.w.Digest()})
}

func (a *app) handleMoves(rw http.ResponseWriter, r *http.Request) {
	if a.idx == nil {
		http.Error(rw, "index disabled", http.StatusNotFound)
		return
	}
	id, err := strconv.ParseUint(r.URL.Query().Get("entity"), 10, 64)
	if err != nil {
		http.Error(rw, "bad entity", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := a.idx.MovesForEntity(r.Context(), board.EntityID(id), limit)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(map[string]any{"entity": id, "moves": rows})
}
