// Package indexdb maintains a queryable SQLite index over the action stream
// and snapshot history. Secondary data: the JSONL audit files and snapshots
// stay the source of truth.
package indexdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"fioworld.ai/internal/protocol"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// mu spans the closed check and the channel send; Close takes the write
	// side before closing ch, so no enqueue can race the close.
	mu     sync.RWMutex
	closed bool
}

type reqKind int

const (
	reqAction reqKind = iota + 1
	reqSnapshot
	reqQuery
)

type req struct {
	kind reqKind

	action   protocol.WorldAction
	snapshot SnapshotRow
	query    func(*sql.DB)
}

// SnapshotRow records one written snapshot file.
type SnapshotRow struct {
	Path    string
	SavedAt time.Time
	Worlds  int
	Chunks  int
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
		// High buffer: a burst of fills from several agents must not stall
		// the world locks.
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
	// WAL is much faster for append-style workloads; NORMAL is a reasonable
	// durability tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
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
		`CREATE TABLE IF NOT EXISTS actions (
			id TEXT PRIMARY KEY,
			world_id TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			actor_type TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			ts TEXT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_world_ts ON actions(world_id, ts);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_actor_ts ON actions(actor_id, ts);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			path TEXT PRIMARY KEY,
			saved_at TEXT NOT NULL,
			worlds INTEGER NOT NULL,
			chunks INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) loop() {
	for r := range s.ch {
		switch r.kind {
		case reqAction:
			s.insertAction(r.action)
		case reqSnapshot:
			s.insertSnapshot(r.snapshot)
		case reqQuery:
			r.query(s.db)
		}
	}
}

func (s *SQLiteIndex) insertAction(a protocol.WorldAction) {
	raw, err := json.Marshal(a)
	if err != nil {
		return
	}
	_, _ = s.db.Exec(
		`INSERT OR REPLACE INTO actions (id, world_id, actor_id, actor_type, type, status, ts, raw_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.WorldID, a.ActorID, a.ActorType, a.Type, a.Status,
		a.Timestamp.UTC().Format(time.RFC3339Nano), string(raw),
	)
}

func (s *SQLiteIndex) insertSnapshot(row SnapshotRow) {
	_, _ = s.db.Exec(
		`INSERT OR REPLACE INTO snapshots (path, saved_at, worlds, chunks) VALUES (?, ?, ?, ?)`,
		row.Path, row.SavedAt.UTC().Format(time.RFC3339Nano), row.Worlds, row.Chunks,
	)
}

// enqueue hands a request to the writer goroutine. Record requests never
// block: on overflow they drop rather than stall a world lock. Query requests
// wait for a slot, since the caller is blocked on the reply anyway.
func (s *SQLiteIndex) enqueue(r req, wait bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	if wait {
		s.ch <- r
		return true
	}
	select {
	case s.ch <- r:
		return true
	default:
		return false
	}
}

// RecordAction enqueues an action row. Implements the audit sink contract:
// non-blocking, drops on overflow rather than stalling a world lock.
func (s *SQLiteIndex) RecordAction(a protocol.WorldAction) {
	s.enqueue(req{kind: reqAction, action: a}, false)
}

// RecordSnapshot enqueues a snapshot row.
func (s *SQLiteIndex) RecordSnapshot(row SnapshotRow) {
	s.enqueue(req{kind: reqSnapshot, snapshot: row}, false)
}

// RecentActions returns up to limit actions for a world, newest first. The
// query runs on the writer goroutine after everything queued before it, so a
// caller sees its own writes.
func (s *SQLiteIndex) RecentActions(worldID string, limit int) ([]protocol.WorldAction, error) {
	if limit <= 0 {
		limit = 50
	}
	type result struct {
		actions []protocol.WorldAction
		err     error
	}
	done := make(chan result, 1)
	q := req{kind: reqQuery, query: func(db *sql.DB) {
		rows, err := db.Query(
			`SELECT raw_json FROM actions WHERE world_id = ? ORDER BY ts DESC LIMIT ?`,
			worldID, limit,
		)
		if err != nil {
			done <- result{err: err}
			return
		}
		defer rows.Close()
		var out []protocol.WorldAction
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				done <- result{err: err}
				return
			}
			var a protocol.WorldAction
			if err := json.Unmarshal([]byte(raw), &a); err != nil {
				continue
			}
			out = append(out, a)
		}
		done <- result{actions: out, err: rows.Err()}
	}}
	if !s.enqueue(q, true) {
		return nil, fmt.Errorf("index closed")
	}
	r := <-done
	return r.actions, r.err
}

// ActionCount reports the total indexed actions for a world.
func (s *SQLiteIndex) ActionCount(worldID string) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	q := req{kind: reqQuery, query: func(db *sql.DB) {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM actions WHERE world_id = ?`, worldID).Scan(&n)
		done <- result{n: n, err: err}
	}}
	if !s.enqueue(q, true) {
		return 0, fmt.Errorf("index closed")
	}
	r := <-done
	return r.n, r.err
}

// Close drains the queue and closes the database. Safe to call more than
// once.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}
