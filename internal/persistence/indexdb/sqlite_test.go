package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"voxelportals.ai/internal/sim/portal/engine"
	"voxelportals.ai/internal/sim/portal/geom"
	"voxelportals.ai/internal/sim/portaldefs"
	"voxelportals.ai/internal/sim/tuning"
	"voxelportals.ai/internal/sim/voxel"
)

func TestSQLiteIndex_RecordsRefreshAndPass(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	idx, err := OpenSQLite(path, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	portal, viewer := uuid.New(), uuid.New()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	idx.RecordRefresh(engine.RefreshRecord{At: at, Portal: portal, Tick: 8, Mode: "incremental", NonObscured: 120, Viewable: 40, DestChanges: 2, Removed: 7, Duration: 3 * time.Millisecond})
	idx.RecordPass(engine.PassRecord{At: at, Viewer: viewer, Portal: portal, Refresh: true, Changes: 12, Visible: 30, Reverted: 1})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var (
		mode                  string
		tick, viewable, rem   int
		durUS                 int64
		refresh, changes, vis int
	)
	row := db.QueryRow(`SELECT mode,tick,viewable,removed,duration_us FROM portal_refresh WHERE portal=?`, portal.String())
	if err := row.Scan(&mode, &tick, &viewable, &rem, &durUS); err != nil {
		t.Fatalf("scan refresh: %v", err)
	}
	if mode != "incremental" || tick != 8 || viewable != 40 || rem != 7 || durUS != 3000 {
		t.Fatalf("refresh row: %s %d %d %d %d", mode, tick, viewable, rem, durUS)
	}
	row = db.QueryRow(`SELECT refresh,changes,visible FROM viewer_pass WHERE viewer=?`, viewer.String())
	if err := row.Scan(&refresh, &changes, &vis); err != nil {
		t.Fatalf("scan pass: %v", err)
	}
	if refresh != 1 || changes != 12 || vis != 30 {
		t.Fatalf("pass row: %d %d %d", refresh, changes, vis)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := newIndex(nil, zap.NewNop(), 1)
	s.RecordRefresh(engine.RefreshRecord{Tick: 1})
	s.RecordRefresh(engine.RefreshRecord{Tick: 2})
	s.RecordPass(engine.PassRecord{Changes: 1})

	st := s.Stats()
	if st.DropRefreshTotal != 1 || st.DropPassTotal != 1 {
		t.Fatalf("drops: %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_UpsertPortalsAndMeta(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	idx, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	frame, err := geom.NewFrame(
		geom.End{World: "a", Center: mgl64.Vec3{0, 65.5, 0.5}, Direction: cube.FaceNorth},
		geom.End{World: "b", Center: mgl64.Vec3{10, 65.5, 0.5}, Direction: cube.FaceNorth},
		2, 3)
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	id := uuid.New()
	if err := idx.UpsertPortals([]portaldefs.Portal{{ID: id, Name: "gate", Frame: frame}}); err != nil {
		t.Fatalf("UpsertPortals: %v", err)
	}
	cat, err := voxel.NewCatalog([]voxel.BlockDef{{ID: voxel.Air}, {ID: "STONE", Occluding: true}}, "test")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if err := idx.UpsertMeta(cat, tuning.Defaults()); err != nil {
		t.Fatalf("UpsertMeta: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	var name, world string
	var w, h int
	if err := db.QueryRow(`SELECT name,dest_world,width,height FROM portals WHERE id=?`, id.String()).Scan(&name, &world, &w, &h); err != nil {
		t.Fatalf("scan portal: %v", err)
	}
	if name != "gate" || world != "b" || w != 2 || h != 3 {
		t.Fatalf("portal row: %s %s %d %d", name, world, w, h)
	}
	var digest string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key='palette_digest'`).Scan(&digest); err != nil {
		t.Fatalf("scan meta: %v", err)
	}
	if digest != cat.PaletteDigest {
		t.Fatalf("digest %q want %q", digest, cat.PaletteDigest)
	}
}
