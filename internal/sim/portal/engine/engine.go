// Package engine owns the portal registry and drives the viewable-block caches
// and per-viewer passes.
package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"voxelportals.ai/internal/sim/portal/geom"
	"voxelportals.ai/internal/sim/portal/observer"
	"voxelportals.ai/internal/sim/portal/orient"
	"voxelportals.ai/internal/sim/portal/scheduler"
	"voxelportals.ai/internal/sim/portal/viewcache"
	"voxelportals.ai/internal/sim/voxel"
)

type Config struct {
	Cache   viewcache.Config
	Workers int
}

type Deps struct {
	Blocks       BlockSource
	Catalog      *voxel.Catalog
	Transmitters Transmitters
	Recorder     Recorder
	Log          *zap.Logger
}

type portal struct {
	id    uuid.UUID
	frame *geom.Frame
	win   observer.Window
	cache *viewcache.Cache
}

type Engine struct {
	cfg    Config
	blocks BlockSource
	occ    viewcache.Occluder
	rot    *orient.Rotator
	tx     Transmitters
	rec    Recorder
	log    *zap.Logger
	sched  *scheduler.Scheduler

	mu      sync.RWMutex
	portals map[uuid.UUID]*portal
	viewers map[scheduler.Key]*observer.ViewerState
}

type PortalStats struct {
	Registered  bool
	Populated   bool
	NonObscured int
	Viewable    int
	Viewers     int
	Generation  uint64
}

func New(cfg Config, deps Deps) *Engine {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	rec := deps.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	e := &Engine{
		cfg:     cfg,
		blocks:  deps.Blocks,
		occ:     deps.Catalog,
		rot:     orient.NewRotator(deps.Catalog),
		tx:      deps.Transmitters,
		rec:     rec,
		log:     log,
		portals: map[uuid.UUID]*portal{},
		viewers: map[scheduler.Key]*observer.ViewerState{},
	}
	e.sched = scheduler.New(cfg.Workers, e.runPass, log.Named("scheduler"))
	return e
}

func (e *Engine) Register(id uuid.UUID, frame *geom.Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.portals[id]; ok {
		return fmt.Errorf("portal %s already registered", id)
	}
	e.portals[id] = &portal{id: id, frame: frame, win: observer.NewWindow(frame)}
	e.log.Info("portal registered", zap.Stringer("portal", id), zap.Stringer("frame", frame))
	return nil
}

// Unregister reverts every viewer of the portal and forgets it.
func (e *Engine) Unregister(id uuid.UUID) {
	for _, v := range e.ActiveViewers(id) {
		e.Deactivate(v, id, true)
	}
	e.mu.Lock()
	delete(e.portals, id)
	e.mu.Unlock()
	e.log.Info("portal unregistered", zap.Stringer("portal", id))
}

func (e *Engine) lookup(id uuid.UUID) *portal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.portals[id]
}

// cacheFor creates the portal's cache on first use.
func (e *Engine) cacheFor(p *portal) *viewcache.Cache {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p.cache == nil {
		p.cache = viewcache.New(p.frame, e.cfg.Cache, e.blocks, e.occ, e.rot)
	}
	return p.cache
}

// Refresh is called once per tick for every active portal, from the
// simulation goroutine.
func (e *Engine) Refresh(id uuid.UUID, ticksSinceActivated int) {
	p := e.lookup(id)
	if p == nil {
		e.log.Debug("refresh for unknown portal", zap.Stringer("portal", id))
		return
	}
	c := e.cacheFor(p)
	if !c.Refresh(ticksSinceActivated) {
		if ticksSinceActivated%max(e.cfg.Cache.RefreshIntervalTicks, 1) == 0 {
			e.log.Debug("destination not ready", zap.Stringer("portal", id), zap.String("world", p.frame.Dest.World))
		}
		return
	}
	r := c.LastResult()
	e.rec.RecordRefresh(RefreshRecord{
		At:          time.Now(),
		Portal:      id,
		Tick:        ticksSinceActivated,
		Mode:        string(r.Mode),
		NonObscured: r.NonObscured,
		Viewable:    r.Viewable,
		DestChanges: r.DestChanges,
		Removed:     r.Removed,
		Duration:    r.Duration,
	})
}

// ScheduleObserverUpdate queues a visibility pass for viewer, whose eye is at
// eye in the origin world. The viewer starts viewing the portal if it was not
// already.
func (e *Engine) ScheduleObserverUpdate(viewer, id uuid.UUID, eye mgl64.Vec3, forceRefresh bool) {
	p := e.lookup(id)
	if p == nil {
		e.log.Debug("update for unknown portal", zap.Stringer("portal", id), zap.Stringer("viewer", viewer))
		return
	}
	key := scheduler.Key{Viewer: viewer, Portal: id}
	e.mu.Lock()
	if _, ok := e.viewers[key]; !ok {
		e.viewers[key] = observer.NewViewerState()
	}
	e.mu.Unlock()
	c := e.cacheFor(p)
	e.sched.Submit(scheduler.Job{Key: key, Snapshot: c.Snapshot(), Eye: eye, Refresh: forceRefresh})
}

func (e *Engine) truth(p *portal) observer.Truth {
	world := p.frame.Origin.World
	return func(pos cube.Pos) voxel.State {
		return e.blocks.BlockState(world, pos)
	}
}

func (e *Engine) runPass(j scheduler.Job) {
	e.mu.RLock()
	st := e.viewers[j.Key]
	p := e.portals[j.Key.Portal]
	e.mu.RUnlock()
	if st == nil || p == nil {
		return
	}
	start := time.Now()

	st.Lock()
	defer st.Unlock()
	if st.Deactivated() {
		return
	}
	res := observer.Pass(st, p.win, j.Snapshot, j.Eye, j.Refresh, e.truth(p))
	e.transmit(j.Key.Viewer, res.Changes)
	e.rec.RecordPass(PassRecord{
		At:       start,
		Viewer:   j.Key.Viewer,
		Portal:   j.Key.Portal,
		Refresh:  j.Refresh,
		Changes:  len(res.Changes),
		Visible:  res.Visible,
		Reverted: res.Reverted,
		Duration: time.Since(start),
	})
}

// transmit always ends with SendChanges, even for an empty diff, so a
// transmitter can flush what it held back on an earlier pass.
func (e *Engine) transmit(viewer uuid.UUID, d observer.Diff) {
	tx := e.tx.For(viewer)
	if tx == nil {
		return
	}
	for _, c := range d {
		tx.AddChange(c.Pos, c.State)
	}
	tx.SendChanges()
}

// Deactivate stops viewer from viewing the portal. It waits for a pass in
// flight to finish; with shouldRevert set every cell the viewer was sent is
// put back to its real origin state.
func (e *Engine) Deactivate(viewer, id uuid.UUID, shouldRevert bool) {
	key := scheduler.Key{Viewer: viewer, Portal: id}
	e.mu.Lock()
	st := e.viewers[key]
	delete(e.viewers, key)
	p := e.portals[id]
	e.mu.Unlock()
	e.sched.Drop(key)
	if st == nil {
		return
	}

	st.Lock()
	defer st.Unlock()
	st.MarkDeactivated()
	if shouldRevert && p != nil {
		e.transmit(viewer, observer.Reset(st, e.truth(p)))
	}
	e.log.Debug("viewer deactivated", zap.Stringer("viewer", viewer), zap.Stringer("portal", id), zap.Bool("revert", shouldRevert))
}

// Reset drops the portal's cache. The next refresh floods from scratch.
func (e *Engine) Reset(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.portals[id]
	if p == nil || p.cache == nil {
		return
	}
	p.cache.Reset()
	p.cache = nil
}

func (e *Engine) ActiveViewers(id uuid.UUID) []uuid.UUID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []uuid.UUID
	for k := range e.viewers {
		if k.Portal == id {
			out = append(out, k.Viewer)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (e *Engine) Portals() []uuid.UUID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(e.portals))
	for id := range e.portals {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (e *Engine) Frame(id uuid.UUID) *geom.Frame {
	if p := e.lookup(id); p != nil {
		return p.frame
	}
	return nil
}

func (e *Engine) Stats(id uuid.UUID) PortalStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p := e.portals[id]
	if p == nil {
		return PortalStats{}
	}
	st := PortalStats{Registered: true}
	for k := range e.viewers {
		if k.Portal == id {
			st.Viewers++
		}
	}
	if p.cache == nil {
		return st
	}
	snap := p.cache.Snapshot()
	st.Populated = snap.Populated
	st.NonObscured = snap.NonObscured
	st.Viewable = snap.Len()
	st.Generation = snap.Generation
	return st
}

// Flush waits until no pass is queued or running.
func (e *Engine) Flush() { e.sched.Wait() }

func (e *Engine) SchedulerStats() scheduler.Stats { return e.sched.Stats() }

func (e *Engine) Close() {
	e.sched.Close()
}
