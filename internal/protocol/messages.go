package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Name            string `json:"name"`
	Role            string `json:"role,omitempty"`
	Encoding        string `json:"encoding,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	SessionID       string        `json:"session_id"`
	ActorID         uint64        `json:"actor_id,omitempty"`
	Tick            uint64        `json:"tick"`
	Params          WorldParams   `json:"params"`
	Entities        []EntityState `json:"entities"`
	Digest          string        `json:"digest"`
}

type WorldParams struct {
	TickRateHz      int     `json:"tick_rate_hz"`
	MoveDurationS   float64 `json:"move_duration_s"`
	LevelName       string  `json:"level_name,omitempty"`
	MaxQueuedInputs int     `json:"max_queued_inputs,omitempty"`
}

// EntityState is the replicated view of one board entity.
type EntityState struct {
	ID   uint64   `json:"id"`
	Mask []string `json:"mask"`
	Cell [3]int   `json:"cell"`
	Tint int      `json:"tint,omitempty"`
}

// MOVE (client -> server): one directional intent.
type MoveMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Dir             string `json:"dir"`
	Seq             int64  `json:"seq,omitempty"`
}

// MOVED (server -> all): an accepted move, applied verbatim by replicas.
type MovedMsg struct {
	Type      string  `json:"type"`
	Seq       uint64  `json:"seq"`
	Tick      uint64  `json:"tick"`
	ActorID   uint64  `json:"actor_id"`
	Start     [3]int  `json:"start"`
	Target    [3]int  `json:"target"`
	DurationS float64 `json:"duration_s"`
}

// REJECTED (server -> submitter): the intent was discarded.
type RejectedMsg struct {
	Type    string `json:"type"`
	Tick    uint64 `json:"tick"`
	Dir     string `json:"dir"`
	Code    string `json:"code"`
	Outcome string `json:"outcome"`
}

// SPAWN / DESPAWN (server -> all): board lifecycle outside of moves.
type SpawnMsg struct {
	Type   string      `json:"type"`
	Tick   uint64      `json:"tick"`
	Entity EntityState `json:"entity"`
}

type DespawnMsg struct {
	Type string `json:"type"`
	Tick uint64 `json:"tick"`
	ID   uint64 `json:"id"`
}

// RESET (server -> all): the board was cleared and rebuilt.
// ActorID is the recipient's actor after the rebuild (0 for replicas).
type ResetMsg struct {
	Type     string        `json:"type"`
	Tick     uint64        `json:"tick"`
	ActorID  uint64        `json:"actor_id,omitempty"`
	Entities []EntityState `json:"entities"`
	Digest   string        `json:"digest"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
