package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"gridpush.dev/internal/sim/board"
	"gridpush.dev/internal/sim/world"
)

// SQLiteIndex is a queryable secondary index of the tick journal. Writes are
// queued and applied by one goroutine in batched transactions.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTickTotal atomic.Uint64
	writeErrTotal atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
)

type req struct {
	kind reqKind
	tick world.TickLogEntry
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	DropTickTotal uint64 `json:"drop_tick_total"`
	WriteErrTotal uint64 `json:"write_err_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-only workload; NORMAL is enough for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			joins INTEGER NOT NULL,
			leaves INTEGER NOT NULL,
			events INTEGER NOT NULL,
			moves INTEGER NOT NULL,
			rejected INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS joins (
			tick INTEGER NOT NULL,
			session_id TEXT NOT NULL,
			name TEXT NOT NULL,
			actor_id INTEGER NOT NULL,
			PRIMARY KEY (tick, session_id)
		);`,
		`CREATE TABLE IF NOT EXISTS leaves (
			tick INTEGER NOT NULL,
			session_id TEXT NOT NULL,
			PRIMARY KEY (tick, session_id)
		);`,
		`CREATE TABLE IF NOT EXISTS moves (
			seq INTEGER PRIMARY KEY,
			tick INTEGER NOT NULL,
			mover INTEGER NOT NULL,
			entity_id INTEGER NOT NULL,
			from_x INTEGER NOT NULL,
			from_y INTEGER NOT NULL,
			from_z INTEGER NOT NULL,
			to_x INTEGER NOT NULL,
			to_y INTEGER NOT NULL,
			to_z INTEGER NOT NULL,
			duration_s REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_moves_entity_tick ON moves(entity_id, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_moves_target ON moves(to_x, to_z, to_y, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue, commits and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// Drop if the indexer falls behind; the JSONL journal remains the source of truth.
		s.dropTickTotal.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropTickTotal: s.dropTickTotal.Load(),
		WriteErrTotal: s.writeErrTotal.Load(),
	}
}

// UpsertMeta writes a key synchronously.
func (s *SQLiteIndex) UpsertMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta(key,value,updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *SQLiteIndex) Meta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// MoveRow is one indexed relocation.
type MoveRow struct {
	Seq       uint64         `json:"seq"`
	Tick      uint64         `json:"tick"`
	Mover     board.EntityID `json:"mover"`
	EntityID  board.EntityID `json:"entity_id"`
	From      [3]int         `json:"from"`
	To        [3]int         `json:"to"`
	DurationS float64        `json:"duration_s"`
}

// MovesForEntity returns the latest moves of one entity, newest first.
func (s *SQLiteIndex) MovesForEntity(ctx context.Context, id board.EntityID, limit int) ([]MoveRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq,tick,mover,entity_id,from_x,from_y,from_z,to_x,to_y,to_z,duration_s
		FROM moves WHERE entity_id=? ORDER BY seq DESC LIMIT ?`, int64(id), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MoveRow
	for rows.Next() {
		var (
			m                  MoveRow
			seq, tick, mv, eid int64
		)
		if err := rows.Scan(&seq, &tick, &mv, &eid,
			&m.From[0], &m.From[1], &m.From[2],
			&m.To[0], &m.To[1], &m.To[2],
			&m.DurationS); err != nil {
			return nil, err
		}
		m.Seq, m.Tick = uint64(seq), uint64(tick)
		m.Mover, m.EntityID = board.EntityID(mv), board.EntityID(eid)
		out = append(out, m)
	}
	return out, rows.Err()
}

// TickDigest returns the digest recorded for tick.
func (s *SQLiteIndex) TickDigest(ctx context.Context, tick uint64) (string, bool, error) {
	var d string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM ticks WHERE tick=?`, int64(tick)).Scan(&d)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return d, true, nil
}

func (s *SQLiteIndex) CountMoves(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM moves`).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,digest,joins,leaves,events,moves,rejected,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	insertJoin, _ := s.db.Prepare(`INSERT OR REPLACE INTO joins(tick,session_id,name,actor_id) VALUES(?,?,?,?)`)
	insertLeave, _ := s.db.Prepare(`INSERT OR REPLACE INTO leaves(tick,session_id) VALUES(?,?)`)
	insertMove, _ := s.db.Prepare(`INSERT OR REPLACE INTO moves(seq,tick,mover,entity_id,from_x,from_y,from_z,to_x,to_y,to_z,duration_s) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertJoin, insertLeave, insertMove} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrTotal.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.writeErrTotal.Add(1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			t := r.tick
			tick := int64(t.Tick)
			raw, _ := json.Marshal(t)
			if !exec(insertTick, tick, t.Digest, len(t.Joins), len(t.Leaves), len(t.Events), len(t.Moves), t.Rejected, string(raw)) {
				continue
			}
			ok := true
			for _, j := range t.Joins {
				if ok = exec(insertJoin, tick, j.SessionID, j.Name, int64(j.ActorID)); !ok {
					break
				}
			}
			for _, sid := range t.Leaves {
				if !ok {
					break
				}
				ok = exec(insertLeave, tick, sid)
			}
			for _, m := range t.Moves {
				if !ok {
					break
				}
				ok = exec(insertMove, int64(m.Seq), tick, int64(m.Mover), int64(m.ActorID),
					m.Start[0], m.Start[1], m.Start[2],
					m.Target[0], m.Target[1], m.Target[2],
					m.DurationS)
			}
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
