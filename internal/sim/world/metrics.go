package world

import (
	"sync/atomic"

	"gridpush.dev/internal/protocol"
)

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick uint64 `json:"tick"`

	Actors        int `json:"actors"`
	Clients       int `json:"clients"`
	Entities      int `json:"entities"`
	QueuedIntents int `json:"queued_intents"`
	BusyEntities  int `json:"busy_entities"`

	MovesAccepted  uint64       `json:"moves_accepted"`
	EntitiesPushed uint64       `json:"entities_pushed"`
	Rejected       RejectCounts `json:"rejected"`
	InboxDropped   uint64       `json:"inbox_dropped"`
	Resyncs        uint64       `json:"resyncs"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`
}

type RejectCounts struct {
	Blocked      uint64 `json:"blocked"`
	NoSupport    uint64 `json:"no_support"`
	UnknownActor uint64 `json:"unknown_actor"`
	BadDirection uint64 `json:"bad_direction"`
	QueueFull    uint64 `json:"queue_full"`
	Internal     uint64 `json:"internal"`
}

type QueueDepths struct {
	Inbox int `json:"inbox"`
	Join  int `json:"join"`
	Leave int `json:"leave"`
}

type counters struct {
	accepted     atomic.Uint64
	pushed       atomic.Uint64
	inboxDropped atomic.Uint64
	resyncs      atomic.Uint64

	blocked      atomic.Uint64
	noSupport    atomic.Uint64
	unknownActor atomic.Uint64
	badDirection atomic.Uint64
	queueFull    atomic.Uint64
	internal     atomic.Uint64
}

func (c *counters) rejected(rs []Rejection) {
	for _, r := range rs {
		switch r.Code {
		case protocol.ErrBlocked:
			c.blocked.Add(1)
		case protocol.ErrNoSupport:
			c.noSupport.Add(1)
		case protocol.ErrUnknownActor:
			c.unknownActor.Add(1)
		case protocol.ErrBadDirection:
			c.badDirection.Add(1)
		case protocol.ErrQueueFull:
			c.queueFull.Add(1)
		default:
			c.internal.Add(1)
		}
	}
}

func (w *World) storeMetrics(tick uint64, stepMS float64) {
	queued := 0
	for _, a := range w.actors {
		queued += a.queue.Len()
	}
	c := &w.counters
	w.metrics.Store(WorldMetrics{
		Tick:           tick,
		Actors:         len(w.actors),
		Clients:        len(w.clients),
		Entities:       w.idx.Len(),
		QueuedIntents:  queued,
		BusyEntities:   len(w.busy),
		MovesAccepted:  c.accepted.Load(),
		EntitiesPushed: c.pushed.Load(),
		Rejected: RejectCounts{
			Blocked:      c.blocked.Load(),
			NoSupport:    c.noSupport.Load(),
			UnknownActor: c.unknownActor.Load(),
			BadDirection: c.badDirection.Load(),
			QueueFull:    c.queueFull.Load(),
			Internal:     c.internal.Load(),
		},
		InboxDropped: c.inboxDropped.Load(),
		Resyncs:      c.resyncs.Load(),
		QueueDepths: QueueDepths{
			Inbox: len(w.inbox),
			Join:  len(w.join),
			Leave: len(w.leave),
		},
		StepMS: stepMS,
	})
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}
