package batch

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"voxelportals.ai/internal/protocol"
	"voxelportals.ai/internal/sim/portal/engine"
	"voxelportals.ai/internal/sim/portal/geom"
	"voxelportals.ai/internal/sim/portal/viewcache"
	"voxelportals.ai/internal/sim/voxel"
	"voxelportals.ai/internal/sim/worldstore"
)

// screen applies delivered batches the way a client would.
type screen struct {
	mu     sync.Mutex
	shown  map[[3]int]string
	fail   bool
	blocks int
}

func (s *screen) sink(m protocol.BlockBatchMsg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errQueueFull
	}
	for _, b := range m.Blocks {
		s.shown[b.Pos] = b.Block
		s.blocks++
	}
	return nil
}

func (s *screen) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func (s *screen) get(p cube.Pos) (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shown[[3]int{p[0], p[1], p[2]}], s.blocks
}

var errQueueFull = errors.New("send queue full")

type wired struct {
	eng    *engine.Engine
	portal uuid.UUID
	viewer uuid.UUID
	b      *Batcher
	lim    *rate.Limiter
	scr    *screen
	tick   int
}

var (
	steadyEye = mgl64.Vec3{0, 65.5, 3.5}
	glassCell = cube.Pos{0, 65, -2}
)

func newWired(t *testing.T) *wired {
	t.Helper()
	cat, err := voxel.LoadCatalog("../../../configs/blocks.json")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	store := worldstore.New()
	store.Add("a", worldstore.Empty())
	store.Add("b", worldstore.Empty())
	frame, err := geom.NewFrame(
		geom.End{World: "a", Center: mgl64.Vec3{0, 65.5, 0.5}, Direction: cube.FaceNorth},
		geom.End{World: "b", Center: mgl64.Vec3{100, 70.5, 20.5}, Direction: cube.FaceNorth},
		2, 3)
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	store.World("b").Set(frame.Transform().ToDestination(glassCell), voxel.Plain("GLASS"))

	w := &wired{portal: uuid.New(), viewer: uuid.New(), scr: &screen{shown: map[[3]int]string{}}}
	w.lim = rate.NewLimiter(rate.Limit(0.0001), 1)
	w.b = New(w.scr.sink, w.lim, zap.NewNop())
	hub := NewHub()
	hub.Add(w.viewer, w.b)
	w.eng = engine.New(engine.Config{
		Cache:   viewcache.Config{RefreshIntervalTicks: 1, ViewDistanceXZ: 5, ViewDistanceY: 5, EdgeMarker: voxel.Plain("BLACK_CONCRETE")},
		Workers: 2,
	}, engine.Deps{Blocks: store, Catalog: cat, Transmitters: hub, Log: zap.NewNop()})
	t.Cleanup(w.eng.Close)
	if err := w.eng.Register(w.portal, frame); err != nil {
		t.Fatalf("register: %v", err)
	}
	return w
}

// passes runs n steady ticks: refresh, schedule and wait for the pass.
func (w *wired) passes(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		w.eng.Refresh(w.portal, w.tick)
		w.tick++
		w.eng.ScheduleObserverUpdate(w.viewer, w.portal, steadyEye, false)
		done := make(chan struct{})
		go func() {
			w.eng.Flush()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("engine did not go idle")
		}
	}
}

func TestEngineBatcher_HeldBackSectionsFlushOnSteadyPasses(t *testing.T) {
	w := newWired(t)
	w.passes(t, 3)
	if w.b.Pending() == 0 {
		t.Fatalf("budget should have held sections back")
	}

	// The view is settled now; later passes have nothing new to diff.
	w.lim.SetLimit(rate.Inf)
	w.passes(t, 1)
	if p := w.b.Pending(); p != 0 {
		t.Fatalf("sections still queued after a steady pass: %d", p)
	}
	if got, _ := w.scr.get(glassCell); got != "GLASS" {
		t.Fatalf("glass never delivered: %q", got)
	}
}

func TestEngineBatcher_RefusedSectionsAreRetried(t *testing.T) {
	w := newWired(t)
	w.lim.SetLimit(rate.Inf)
	w.scr.setFail(true)
	w.passes(t, 2)
	if w.b.Pending() == 0 || w.b.Sent() != 0 {
		t.Fatalf("pending=%d sent=%d while the sink refuses", w.b.Pending(), w.b.Sent())
	}

	w.scr.setFail(false)
	w.passes(t, 1)
	if w.b.Pending() != 0 {
		t.Fatalf("pending=%d after the sink recovered", w.b.Pending())
	}
	got, blocks := w.scr.get(glassCell)
	if got != "GLASS" || blocks == 0 {
		t.Fatalf("glass=%q blocks=%d", got, blocks)
	}
}
