// Package viewcache tracks which destination cells of a portal can be seen
// from the origin side, and what they should look like there.
package viewcache

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/gammazero/deque"

	"voxelportals.ai/internal/sim/portal/geom"
	"voxelportals.ai/internal/sim/voxel"
)

type Source interface {
	Ready(world string) bool
	BlockState(world string, p cube.Pos) voxel.State
}

type Occluder interface {
	Occluding(s voxel.State) bool
}

type Rotator interface {
	Rotate(r geom.Rotation, s voxel.State) voxel.State
}

type Config struct {
	RefreshIntervalTicks int
	ViewDistanceXZ       int
	ViewDistanceY        int
	EdgeMarker           voxel.State
}

// Record is one cell of the cache, keyed by its origin position.
type Record struct {
	Origin   voxel.State
	Dest     voxel.State
	Rendered voxel.State
}

type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// Result summarises one refresh that actually ran.
type Result struct {
	Mode        Mode
	NonObscured int
	Viewable    int
	DestChanges int
	Removed     int
	Duration    time.Duration
}

type Cache struct {
	frame *geom.Frame
	tr    geom.Transform
	cfg   Config
	src   Source
	occ   Occluder
	rot   Rotator

	centre cube.Pos
	volume int

	// Owned by the refreshing goroutine.
	populated   bool
	nonObscured map[cube.Pos]*Record
	viewable    map[cube.Pos]struct{}
	dirty       bool
	generation  uint64

	snap atomic.Pointer[Snapshot]
	last Result
}

func New(frame *geom.Frame, cfg Config, src Source, occ Occluder, rot Rotator) *Cache {
	if cfg.RefreshIntervalTicks <= 0 {
		cfg.RefreshIntervalTicks = 1
	}
	if cfg.ViewDistanceXZ < 1 {
		cfg.ViewDistanceXZ = 1
	}
	if cfg.ViewDistanceY < 1 {
		cfg.ViewDistanceY = 1
	}
	c := &Cache{
		frame:       frame,
		tr:          frame.Transform(),
		cfg:         cfg,
		src:         src,
		occ:         occ,
		rot:         rot,
		centre:      frame.OriginCenterCell(),
		nonObscured: map[cube.Pos]*Record{},
		viewable:    map[cube.Pos]struct{}{},
	}
	c.volume = (2*cfg.ViewDistanceXZ + 1) * (2*cfg.ViewDistanceXZ + 1) * (2*cfg.ViewDistanceY + 1)
	c.snap.Store(emptySnapshot)
	return c
}

func (c *Cache) Frame() *geom.Frame { return c.frame }

func (c *Cache) Populated() bool { return c.populated }

// Snapshot returns the latest published view. Safe from any goroutine.
func (c *Cache) Snapshot() *Snapshot { return c.snap.Load() }

func (c *Cache) LastResult() Result { return c.last }

// Refresh runs on every RefreshIntervalTicks-th tick. It reports whether any
// work was done; a destination world that is not ready yet skips the tick.
func (c *Cache) Refresh(ticksSinceActivated int) bool {
	if ticksSinceActivated%c.cfg.RefreshIntervalTicks != 0 {
		return false
	}
	if !c.src.Ready(c.frame.Dest.World) || !c.src.Ready(c.frame.Origin.World) {
		return false
	}
	start := time.Now()
	res := Result{}
	if !c.populated {
		res.Mode = ModeFull
		c.floodFill(c.tr.ToDestination(c.centre), true)
		c.populated = true
		c.dirty = true
	} else {
		res.Mode = ModeIncremental
		res.DestChanges, res.Removed = c.detectChanges()
	}
	if c.dirty {
		c.publish()
	}
	res.NonObscured = len(c.nonObscured)
	res.Viewable = len(c.viewable)
	res.Duration = time.Since(start)
	c.last = res
	return true
}

// Reset drops everything and returns the cache to its empty state. The next
// refresh is a full flood fill.
func (c *Cache) Reset() {
	c.populated = false
	c.nonObscured = map[cube.Pos]*Record{}
	c.viewable = map[cube.Pos]struct{}{}
	c.dirty = false
	c.last = Result{}
	c.generation++
	c.snap.Store(&Snapshot{Generation: c.generation})
}

func (c *Cache) inVolume(o cube.Pos) bool {
	d := o.Sub(c.centre)
	return abs(d[0]) <= c.cfg.ViewDistanceXZ &&
		abs(d[2]) <= c.cfg.ViewDistanceXZ &&
		abs(d[1]) <= c.cfg.ViewDistanceY
}

func (c *Cache) isEdge(o cube.Pos) bool {
	d := o.Sub(c.centre)
	return abs(d[0]) == c.cfg.ViewDistanceXZ ||
		abs(d[2]) == c.cfg.ViewDistanceXZ ||
		abs(d[1]) == c.cfg.ViewDistanceY
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (c *Cache) render(o cube.Pos, dest voxel.State) voxel.State {
	if c.isEdge(o) && !c.occ.Occluding(dest) {
		return c.cfg.EdgeMarker
	}
	return c.rot.Rotate(c.tr.Inverse(), dest)
}

func (c *Cache) blocksView(o cube.Pos, rec *Record) bool {
	return c.occ.Occluding(rec.Dest) || c.isEdge(o)
}

// floodFill walks destination cells outwards from start until it meets
// occluding blocks or the edge of the view volume. During an incremental
// refresh it does not re-enter cells that were already known, their changes
// are picked up by detectChanges.
func (c *Cache) floodFill(start cube.Pos, firstUpdate bool) {
	var stack deque.Deque[cube.Pos]
	visited := map[cube.Pos]struct{}{}

	startOrigin := c.tr.ToOrigin(start)
	if !c.inVolume(startOrigin) {
		return
	}
	stack.PushBack(start)
	visited[startOrigin] = struct{}{}

	iterations := 0
	for stack.Len() > 0 {
		iterations++
		if iterations > c.volume {
			panic(fmt.Sprintf("viewcache: flood fill of %s exceeded %d cells", c.frame, c.volume))
		}
		d := stack.PopBack()
		o := c.tr.ToOrigin(d)

		destState := c.src.BlockState(c.frame.Dest.World, d)
		rec := &Record{
			Origin:   c.src.BlockState(c.frame.Origin.World, o),
			Dest:     destState,
			Rendered: c.render(o, destState),
		}
		if prev, ok := c.nonObscured[o]; !ok || *prev != *rec {
			c.dirty = true
		}
		c.nonObscured[o] = rec

		// The first-update skip compares against the rendered state, so a
		// rotated or edge-marked cell stays viewable.
		inLine := c.frame.InLine(o)
		if inLine || (firstUpdate && rec.Origin == rec.Rendered) {
			if _, ok := c.viewable[o]; ok {
				delete(c.viewable, o)
				c.dirty = true
			}
		} else if _, ok := c.viewable[o]; !ok {
			c.viewable[o] = struct{}{}
			c.dirty = true
		}

		if c.blocksView(o, rec) {
			continue
		}
		for _, f := range cube.Faces() {
			n := d.Side(f)
			no := c.tr.ToOrigin(n)
			if _, seen := visited[no]; seen {
				continue
			}
			if !c.inVolume(no) {
				continue
			}
			visited[no] = struct{}{}
			if !firstUpdate {
				if _, known := c.nonObscured[no]; known {
					continue
				}
			}
			stack.PushBack(n)
		}
	}
}

// detectChanges re-reads both sides of every known cell. It returns the
// number of destination changes seen and the number of cells dropped as
// obscured.
func (c *Cache) detectChanges() (destChanges, removed int) {
	cells := make([]cube.Pos, 0, len(c.nonObscured))
	for o := range c.nonObscured {
		cells = append(cells, o)
	}
	newlyOccluding := false
	for _, o := range cells {
		rec, ok := c.nonObscured[o]
		if !ok {
			continue
		}
		d := c.tr.ToDestination(o)
		if dest := c.src.BlockState(c.frame.Dest.World, d); dest != rec.Dest {
			destChanges++
			if c.occ.Occluding(dest) && !c.occ.Occluding(rec.Dest) {
				newlyOccluding = true
			}
			c.floodFill(d, false)
			rec = c.nonObscured[o]
		}
		if origin := c.src.BlockState(c.frame.Origin.World, o); origin != rec.Origin {
			rec.Origin = origin
			c.dirty = true
			if !(rec.Origin == rec.Dest && c.frame.InLine(o)) {
				c.viewable[o] = struct{}{}
			} else {
				delete(c.viewable, o)
			}
		}
	}
	if newlyOccluding {
		removed = c.dropObscured()
	}
	return destChanges, removed
}

// dropObscured removes every known cell that can no longer be reached from
// the portal centre without passing an occluding or edge cell. It only looks
// at cached records.
func (c *Cache) dropObscured() int {
	var stack deque.Deque[cube.Pos]
	reached := map[cube.Pos]struct{}{}
	if _, ok := c.nonObscured[c.centre]; ok {
		stack.PushBack(c.centre)
		reached[c.centre] = struct{}{}
	}
	for stack.Len() > 0 {
		o := stack.PopBack()
		if c.blocksView(o, c.nonObscured[o]) {
			continue
		}
		for _, f := range cube.Faces() {
			n := o.Side(f)
			if _, seen := reached[n]; seen {
				continue
			}
			if _, ok := c.nonObscured[n]; !ok {
				continue
			}
			reached[n] = struct{}{}
			stack.PushBack(n)
		}
	}
	removed := 0
	for o := range c.nonObscured {
		if _, ok := reached[o]; ok {
			continue
		}
		delete(c.nonObscured, o)
		delete(c.viewable, o)
		removed++
	}
	if removed > 0 {
		c.dirty = true
	}
	return removed
}

func (c *Cache) publish() {
	c.generation++
	cells := make(map[cube.Pos]Record, len(c.viewable))
	for o := range c.viewable {
		cells[o] = *c.nonObscured[o]
	}
	c.snap.Store(&Snapshot{
		Generation:  c.generation,
		Populated:   c.populated,
		NonObscured: len(c.nonObscured),
		cells:       cells,
	})
	c.dirty = false
}
