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

	"holotag.dev/internal/overlay"
	"holotag.dev/internal/sim/tuning"
)

// SQLiteIndex is a queryable secondary index of overlay events and viewer
// sessions. Writes are queued and applied by one writer goroutine; the JSONL
// event log stays the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEvent   atomic.Uint64
	dropSession atomic.Uint64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqSession
)

type req struct {
	kind reqKind

	event   overlay.Event
	session sessionRow
}

type sessionRow struct {
	SessionID string
	ViewerID  string
	Name      string
	Event     string
	At        string
}

type IndexStats struct {
	QueueDepth       int    `json:"queue_depth"`
	QueueCapacity    int    `json:"queue_capacity"`
	DropEventTotal   uint64 `json:"drop_event_total"`
	DropSessionTotal uint64 `json:"drop_session_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
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
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
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
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS overlay_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tick INTEGER NOT NULL,
			kind TEXT NOT NULL,
			host_id TEXT NOT NULL,
			viewer_id TEXT NOT NULL,
			decoy_id INTEGER NOT NULL,
			line INTEGER NOT NULL,
			text TEXT,
			reason TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_overlay_events_host_tick ON overlay_events(host_id, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_overlay_events_viewer_tick ON overlay_events(viewer_id, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_overlay_events_decoy ON overlay_events(decoy_id);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT NOT NULL,
			event TEXT NOT NULL,
			viewer_id TEXT NOT NULL,
			name TEXT NOT NULL,
			at TEXT NOT NULL,
			PRIMARY KEY (session_id, event)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

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

// WriteEvent implements overlay.EventSink. It never blocks the loop: when
// the writer falls behind, the event is dropped and counted.
func (s *SQLiteIndex) WriteEvent(e overlay.Event) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqEvent, event: e}:
	default:
		s.dropEvent.Add(1)
	}
	return nil
}

// RecordSession indexes a viewer session open/close ("open" or "close").
func (s *SQLiteIndex) RecordSession(sessionID, viewerID, name, event string) {
	if s == nil || s.closed.Load() {
		return
	}
	r := sessionRow{
		SessionID: sessionID,
		ViewerID:  viewerID,
		Name:      name,
		Event:     event,
		At:        time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqSession, session: r}:
	default:
		s.dropSession.Add(1)
	}
}

func (s *SQLiteIndex) Stats() IndexStats {
	if s == nil {
		return IndexStats{}
	}
	return IndexStats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropEventTotal:   s.dropEvent.Load(),
		DropSessionTotal: s.dropSession.Load(),
	}
}

// UpsertTuning stores the effective tuning as JSON in the meta table.
func (s *SQLiteIndex) UpsertTuning(t tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, "tuning", string(b))
	return err
}

// EventsForHost returns the most recent events recorded for host, newest
// last. Only rows already committed by the writer are visible.
func (s *SQLiteIndex) EventsForHost(ctx context.Context, host overlay.HostID, limit int) ([]overlay.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT tick,kind,host_id,viewer_id,decoy_id,line,text,reason FROM (
		SELECT * FROM overlay_events WHERE host_id = ? ORDER BY id DESC LIMIT ?
	) ORDER BY id ASC`, string(host), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []overlay.Event
	for rows.Next() {
		var (
			e            overlay.Event
			tick         int64
			h, v         string
			decoy        int64
			text, reason sql.NullString
		)
		if err := rows.Scan(&tick, &e.Kind, &h, &v, &decoy, &e.Line, &text, &reason); err != nil {
			return nil, err
		}
		e.Tick = uint64(tick)
		e.Host = overlay.HostID(h)
		e.Viewer = overlay.ViewerID(v)
		e.Decoy = overlay.DecoyID(decoy)
		e.Text = text.String
		e.Reason = reason.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) CountEvents(ctx context.Context, kind string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM overlay_events WHERE kind = ?`, kind).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEvent, _ := s.db.Prepare(`INSERT INTO overlay_events(tick,kind,host_id,viewer_id,decoy_id,line,text,reason) VALUES(?,?,?,?,?,?,?,?)`)
	insertSession, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(session_id,event,viewer_id,name,at) VALUES(?,?,?,?,?)`)
	defer func() {
		if insertEvent != nil {
			_ = insertEvent.Close()
		}
		if insertSession != nil {
			_ = insertSession.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 500 * time.Millisecond
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
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
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	// Commit idle transactions too, so readers sharing the single connection
	// are not starved while the queue is quiet.
	idle := time.NewTicker(commitMaxWait / 4)
	defer idle.Stop()

	for {
		var r req
		select {
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		case <-idle.C:
			flushIfNeeded()
			continue
		}

		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqEvent:
			e := r.event
			if insertEvent != nil {
				if _, err := tx.Stmt(insertEvent).Exec(
					int64(e.Tick),
					e.Kind,
					string(e.Host),
					string(e.Viewer),
					int64(e.Decoy),
					e.Line,
					e.Text,
					e.Reason,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSession:
			se := r.session
			if insertSession != nil {
				if _, err := tx.Stmt(insertSession).Exec(se.SessionID, se.Event, se.ViewerID, se.Name, se.At); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}
}
