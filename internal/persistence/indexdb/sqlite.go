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

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"voxelportals.ai/internal/sim/portal/engine"
	"voxelportals.ai/internal/sim/portaldefs"
	"voxelportals.ai/internal/sim/tuning"
	"voxelportals.ai/internal/sim/voxel"
)

// SQLiteIndex keeps queryable refresh and pass statistics. Records are queued
// and written by one goroutine; when the queue is full they are dropped.
type SQLiteIndex struct {
	db  *sql.DB
	log *zap.Logger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed      atomic.Bool
	dropRefresh atomic.Uint64
	dropPass    atomic.Uint64
}

type reqKind int

const (
	reqRefresh reqKind = iota + 1
	reqPass
)

type req struct {
	kind    reqKind
	refresh engine.RefreshRecord
	pass    engine.PassRecord
}

type Stats struct {
	QueueDepth       int
	QueueCapacity    int
	DropRefreshTotal uint64
	DropPassTotal    uint64
}

func OpenSQLite(path string, log *zap.Logger) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if log == nil {
		log = zap.NewNop()
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
	s := newIndex(db, log, 65536)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func newIndex(db *sql.DB, log *zap.Logger, capacity int) *SQLiteIndex {
	return &SQLiteIndex{db: db, log: log, ch: make(chan req, capacity)}
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
		`CREATE TABLE IF NOT EXISTS portals (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			origin_world TEXT NOT NULL,
			dest_world TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			frame TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS portal_refresh (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			portal TEXT NOT NULL,
			tick INTEGER NOT NULL,
			mode TEXT NOT NULL,
			non_obscured INTEGER NOT NULL,
			viewable INTEGER NOT NULL,
			dest_changes INTEGER NOT NULL,
			removed INTEGER NOT NULL,
			duration_us INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS portal_refresh_portal ON portal_refresh(portal, id);`,
		`CREATE TABLE IF NOT EXISTS viewer_pass (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			viewer TEXT NOT NULL,
			portal TEXT NOT NULL,
			refresh INTEGER NOT NULL,
			changes INTEGER NOT NULL,
			visible INTEGER NOT NULL,
			reverted INTEGER NOT NULL,
			duration_us INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS viewer_pass_viewer ON viewer_pass(viewer, portal);`,
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

func (s *SQLiteIndex) RecordRefresh(r engine.RefreshRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqRefresh, refresh: r}:
	default:
		s.dropRefresh.Add(1)
	}
}

func (s *SQLiteIndex) RecordPass(r engine.PassRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqPass, pass: r}:
	default:
		s.dropPass.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropRefreshTotal: s.dropRefresh.Load(),
		DropPassTotal:    s.dropPass.Load(),
	}
}

// UpsertPortals stores the registered portal layout.
func (s *SQLiteIndex) UpsertPortals(ps []portaldefs.Portal) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, p := range ps {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO portals(id,name,origin_world,dest_world,width,height,frame) VALUES(?,?,?,?,?,?,?)`,
			p.ID.String(), p.Name, p.Frame.Origin.World, p.Frame.Dest.World, p.Frame.Width, p.Frame.Height, p.Frame.String()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpsertMeta records the catalog digest and the tuning in effect.
func (s *SQLiteIndex) UpsertMeta(cat *voxel.Catalog, tune tuning.Tuning) error {
	tj, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	rows := [][2]string{
		{"palette_digest", cat.PaletteDigest},
		{"defs_digest", cat.DefsDigest},
		{"tuning", string(tj)},
	}
	for _, r := range rows {
		if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, r[0], r[1]); err != nil {
			return err
		}
	}
	return nil
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()
	insertRefresh, err := s.db.Prepare(`INSERT INTO portal_refresh(at,portal,tick,mode,non_obscured,viewable,dest_changes,removed,duration_us) VALUES(?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		s.log.Error("prepare portal_refresh", zap.Error(err))
	}
	insertPass, err := s.db.Prepare(`INSERT INTO viewer_pass(at,viewer,portal,refresh,changes,visible,reverted,duration_us) VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		s.log.Error("prepare viewer_pass", zap.Error(err))
	}
	defer func() {
		if insertRefresh != nil {
			_ = insertRefresh.Close()
		}
		if insertPass != nil {
			_ = insertPass.Close()
		}
	}()

	var (
		tx          *sql.Tx
		ops         int
		commitEvery = 500
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.log.Warn("index begin", zap.Error(err))
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx, ops = txx, 0
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.log.Warn("index commit", zap.Error(err))
		}
		tx = nil
	}
	apply := func(r req) {
		if tx == nil {
			return
		}
		var err error
		switch r.kind {
		case reqRefresh:
			if insertRefresh == nil {
				return
			}
			x := r.refresh
			_, err = tx.Stmt(insertRefresh).Exec(stamp(x.At), x.Portal.String(), x.Tick, x.Mode,
				x.NonObscured, x.Viewable, x.DestChanges, x.Removed, x.Duration.Microseconds())
		case reqPass:
			if insertPass == nil {
				return
			}
			x := r.pass
			_, err = tx.Stmt(insertPass).Exec(stamp(x.At), x.Viewer.String(), x.Portal.String(), boolInt(x.Refresh),
				x.Changes, x.Visible, x.Reverted, x.Duration.Microseconds())
		}
		if err != nil {
			s.log.Warn("index write", zap.Error(err))
		}
		ops++
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			apply(r)
			if ops >= commitEvery {
				commit()
			}
		case <-ticker.C:
			commit()
		}
	}
}
