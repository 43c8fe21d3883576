package world

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"gridpush.dev/internal/protocol"
	"gridpush.dev/internal/sim/board"
)

var ErrInboxFull = errors.New("world inbox full")

type WorldConfig struct {
	ID           string
	TickRateHz   int
	MoveDuration time.Duration
	LevelName    string
	Spawn        board.Cell
	// Bounds, when set, confines every entity to the box.
	Bounds *board.Bounds
	// MaxQueuedInputs caps buffered intents per actor; 0 leaves the queue unbounded.
	MaxQueuedInputs int
	// PushCooldown keeps pushed entities busy for the duration of their move.
	PushCooldown bool
}

func (c WorldConfig) withDefaults() WorldConfig {
	if c.TickRateHz <= 0 {
		c.TickRateHz = 60
	}
	if c.MoveDuration <= 0 {
		c.MoveDuration = 120 * time.Millisecond
	}
	return c
}

// IntentEnvelope is a directional intent submitted for an actor. Network
// sessions set SessionID instead, so intents follow the session's current
// actor across board rebuilds.
type IntentEnvelope struct {
	ActorID   board.EntityID
	SessionID string
	Dir       board.Direction
	Seq       int64
}

// PendingMove is a validated relocation, published once per moved entity.
type PendingMove struct {
	ActorID         board.EntityID `json:"actor_id"`
	Start           board.Cell     `json:"start"`
	Target          board.Cell     `json:"target"`
	DurationSeconds float64        `json:"duration_s"`
}

type JoinRequest struct {
	SessionID string
	Name      string
	Role      string
	Encoding  protocol.Encoding
	Out       chan []byte
	Resp      chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
}

// Lifecycle is told about every entity the world starts or stops tracking.
type Lifecycle interface {
	OnCreated(e board.Entity, c board.Cell)
	OnDestroyRequested(e board.Entity)
}

// PlaybackSink animates accepted moves. Calls are fire-and-forget.
type PlaybackSink interface {
	PlayMove(id board.EntityID, start, target board.Cell, durationSeconds float64)
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// BoardEvent is a registration change recorded in the tick journal.
type BoardEvent struct {
	Kind     string         `json:"kind"` // SPAWN | DESPAWN | RESET
	Entity   *EntityRecord  `json:"entity,omitempty"`
	ID       board.EntityID `json:"id,omitempty"`
	Entities []EntityRecord `json:"entities,omitempty"`
}

type EntityRecord struct {
	ID   board.EntityID `json:"id"`
	Mask board.TypeMask `json:"mask"`
	Cell [3]int         `json:"cell"`
}

type TickLogEntry struct {
	Tick     uint64         `json:"tick"`
	Joins    []RecordedJoin `json:"joins,omitempty"`
	Leaves   []string       `json:"leaves,omitempty"`
	Events   []BoardEvent   `json:"events,omitempty"`
	Moves    []RecordedMove `json:"moves,omitempty"`
	Rejected int            `json:"rejected,omitempty"`
	Digest   string         `json:"digest"`
}

type RecordedJoin struct {
	SessionID string         `json:"session_id"`
	Name      string         `json:"name"`
	ActorID   board.EntityID `json:"actor_id,omitempty"`
}

type RecordedMove struct {
	Seq       uint64         `json:"seq"`
	Mover     board.EntityID `json:"mover"`
	ActorID   board.EntityID `json:"actor_id"`
	Start     [3]int         `json:"start"`
	Target    [3]int         `json:"target"`
	DurationS float64        `json:"duration_s"`
}

type clientState struct {
	Out      chan []byte
	Encoding protocol.Encoding
	ActorID  board.EntityID
	Name     string
	role     string
	resync   bool
}

// World is the authority. It owns the board index and every actor's movement
// state. The tick loop and the public methods serialize on mu.
type World struct {
	cfg WorldConfig
	log *zap.Logger

	mu      sync.Mutex
	idx     *board.Index
	actors  map[board.EntityID]*actor
	busy    map[board.EntityID]time.Time
	clients map[string]*clientState
	events  []BoardEvent

	tick    atomic.Uint64
	moveSeq uint64

	inbox chan IntentEnvelope
	join  chan JoinRequest
	leave chan string
	stop  chan struct{}
	once  sync.Once

	lifecycle  Lifecycle
	playback   PlaybackSink
	tickLogger TickLogger

	counters counters
	metrics  atomic.Value
}

func New(cfg WorldConfig) *World {
	cfg = cfg.withDefaults()
	return &World{
		cfg:     cfg,
		log:     zap.NewNop(),
		idx:     newBoardIndex(cfg.Bounds),
		actors:  map[board.EntityID]*actor{},
		busy:    map[board.EntityID]time.Time{},
		clients: map[string]*clientState{},
		inbox:   make(chan IntentEnvelope, 1024),
		join:    make(chan JoinRequest, 64),
		leave:   make(chan string, 64),
		stop:    make(chan struct{}),
	}
}

func newBoardIndex(b *board.Bounds) *board.Index {
	if b == nil {
		return board.NewIndex()
	}
	return board.NewIndex(board.WithBounds(*b))
}

func (w *World) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	w.log = l.With(zap.String("component", "world"), zap.String("world", w.cfg.ID))
}

func (w *World) SetLifecycle(l Lifecycle)       { w.lifecycle = l }
func (w *World) SetPlaybackSink(p PlaybackSink) { w.playback = p }
func (w *World) SetTickLogger(l TickLogger)     { w.tickLogger = l }

func (w *World) Inbox() chan<- IntentEnvelope { return w.inbox }
func (w *World) Join() chan<- JoinRequest     { return w.join }
func (w *World) Leave() chan<- string         { return w.leave }

func (w *World) ID() string          { return w.cfg.ID }
func (w *World) Config() WorldConfig { return w.cfg }
func (w *World) CurrentTick() uint64 { return w.tick.Load() }
func (w *World) TickRateHz() int     { return w.cfg.TickRateHz }

// Submit queues an intent for the next tick without blocking.
func (w *World) Submit(in IntentEnvelope) error {
	select {
	case w.inbox <- in:
		return nil
	default:
		w.counters.inboxDropped.Add(1)
		return ErrInboxFull
	}
}

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingIntents []IntentEnvelope
	var pendingJoins []JoinRequest
	var pendingLeaves []string

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case in := <-w.inbox:
			pendingIntents = append(pendingIntents, in)
		case now := <-ticker.C:
			w.mu.Lock()
			w.step(now, pendingJoins, pendingLeaves, pendingIntents)
			w.mu.Unlock()
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingIntents = pendingIntents[:0]
		}
	}
}

func (w *World) Stop() { w.once.Do(func() { close(w.stop) }) }

// StepOnce advances the world by a single tick at the given time using the same
// ordering as Run. It is meant for tests and deterministic drivers.
func (w *World) StepOnce(now time.Time, joins []JoinRequest, leaves []string, intents []IntentEnvelope) StepResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step(now, joins, leaves, intents)
}

func sendLatest(ch chan []byte, b []byte) (dropped bool) {
	select {
	case ch <- b:
		return false
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
	return true
}
