package main

import (
	"context"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"voxelportals.ai/internal/protocol"
	"voxelportals.ai/internal/sim/portal/engine"
	"voxelportals.ai/internal/sim/portaldefs"
	"voxelportals.ai/internal/sim/voxel"
	"voxelportals.ai/internal/sim/worldstore"
)

type eventKind int

const (
	evJoin eventKind = iota
	evMove
	evLeave
)

type event struct {
	kind    eventKind
	viewer  uuid.UUID
	world   string
	eye     mgl64.Vec3
	refresh bool
}

type viewer struct {
	world   string
	eye     mgl64.Vec3
	hasEye  bool
	refresh bool
}

type activePortal struct {
	since   int
	viewers map[uuid.UUID]bool
}

type remoteWorld struct {
	w     *worldstore.World
	after int
}

// director is the demo simulation loop. It activates a portal for a viewer
// standing within range of its origin and drives the engine once per tick.
// Only the tick goroutine touches its maps. Connections talk to it through
// ctl (joins and leaves, never dropped) and inbox (moves, dropped when full).
type director struct {
	eng        *engine.Engine
	portals    []portaldefs.Portal
	activation float64
	cat        *voxel.Catalog
	log        *zap.Logger

	inbox   chan event
	ctlMu   sync.Mutex
	ctl     []event
	remotes []remoteWorld

	tick    int
	viewers map[uuid.UUID]*viewer
	active  map[uuid.UUID]*activePortal
}

func newDirector(eng *engine.Engine, portals []portaldefs.Portal, activation float64, cat *voxel.Catalog, log *zap.Logger) *director {
	return &director{
		eng:        eng,
		portals:    portals,
		activation: activation,
		cat:        cat,
		log:        log,
		inbox:      make(chan event, 1024),
		viewers:    map[uuid.UUID]*viewer{},
		active:     map[uuid.UUID]*activePortal{},
	}
}

// readyAfter marks w ready once the loop has run for ticks ticks.
func (d *director) readyAfter(w *worldstore.World, ticks int) {
	d.remotes = append(d.remotes, remoteWorld{w: w, after: ticks})
}

func (d *director) welcome(id uuid.UUID, world string) (protocol.WelcomeMsg, bool) {
	known := false
	refs := []protocol.PortalRef{}
	for _, p := range d.portals {
		f := p.Frame
		if f.Origin.World == world || f.Dest.World == world {
			known = true
		}
		if f.Origin.World != world {
			continue
		}
		refs = append(refs, protocol.PortalRef{
			ID:        p.ID.String(),
			Name:      p.Name,
			World:     world,
			Center:    [3]float64{f.Origin.Center[0], f.Origin.Center[1], f.Origin.Center[2]},
			Direction: voxel.FaceName(f.Origin.Direction),
			Width:     f.Width,
			Height:    f.Height,
		})
	}
	if !known {
		return protocol.WelcomeMsg{}, false
	}
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ViewerID:        id.String(),
		World:           world,
		PaletteDigest:   d.cat.PaletteDigest,
		Portals:         refs,
	}, true
}

func (d *director) control(ev event) {
	d.ctlMu.Lock()
	d.ctl = append(d.ctl, ev)
	d.ctlMu.Unlock()
}

func (d *director) join(id uuid.UUID, world string) {
	d.control(event{kind: evJoin, viewer: id, world: world})
}

func (d *director) leave(id uuid.UUID) {
	d.control(event{kind: evLeave, viewer: id})
}

func (d *director) move(id uuid.UUID, eye mgl64.Vec3, refresh bool) {
	select {
	case d.inbox <- event{kind: evMove, viewer: id, eye: eye, refresh: refresh}:
	default:
		d.log.Warn("inbox full; move dropped", zap.Stringer("viewer", id))
	}
}

func (d *director) Run(ctx context.Context, tickRateHz int) error {
	t := time.NewTicker(time.Second / time.Duration(max(tickRateHz, 1)))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			d.step()
		}
	}
}

// Start runs the loop on its own goroutine. The returned channel is closed
// once the loop has stopped.
func (d *director) Start(ctx context.Context, tickRateHz int) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := d.Run(ctx, tickRateHz); err != nil && err != context.Canceled {
			d.log.Error("director stopped", zap.Error(err))
		}
	}()
	return done
}

// drain applies joins and leaves before moves, so a move never precedes its
// viewer's join and moves after a leave find no viewer.
func (d *director) drain() {
	d.ctlMu.Lock()
	ctl := d.ctl
	d.ctl = nil
	d.ctlMu.Unlock()
	for _, ev := range ctl {
		d.apply(ev)
	}
	for {
		select {
		case ev := <-d.inbox:
			d.apply(ev)
		default:
			return
		}
	}
}

func (d *director) apply(ev event) {
	switch ev.kind {
	case evJoin:
		d.viewers[ev.viewer] = &viewer{world: ev.world}
	case evMove:
		v := d.viewers[ev.viewer]
		if v == nil {
			return
		}
		v.eye, v.hasEye = ev.eye, true
		v.refresh = v.refresh || ev.refresh
	case evLeave:
		// The connection is gone, so there is nobody to revert for.
		for pid, ap := range d.active {
			if ap.viewers[ev.viewer] {
				d.eng.Deactivate(ev.viewer, pid, false)
				delete(ap.viewers, ev.viewer)
			}
		}
		delete(d.viewers, ev.viewer)
	}
}

func (d *director) inRange(v *viewer, p portaldefs.Portal) bool {
	if !v.hasEye || v.world != p.Frame.Origin.World {
		return false
	}
	return v.eye.Sub(p.Frame.OriginCenter()).Len() <= d.activation
}

func (d *director) step() {
	d.drain()
	for i := range d.remotes {
		r := &d.remotes[i]
		if r.w != nil && d.tick >= r.after {
			r.w.MarkReady()
			d.log.Info("remote world ready", zap.Int("tick", d.tick))
			r.w = nil
		}
	}

	for _, p := range d.portals {
		ap := d.active[p.ID]
		for id, v := range d.viewers {
			in := d.inRange(v, p)
			switch {
			case in && (ap == nil || !ap.viewers[id]):
				if ap == nil {
					ap = &activePortal{since: d.tick, viewers: map[uuid.UUID]bool{}}
					d.active[p.ID] = ap
					d.log.Info("portal activated", zap.Stringer("portal", p.ID))
				}
				ap.viewers[id] = true
				v.refresh = true
			case !in && ap != nil && ap.viewers[id]:
				d.eng.Deactivate(id, p.ID, true)
				delete(ap.viewers, id)
			}
		}
		if ap == nil {
			continue
		}
		if len(ap.viewers) == 0 {
			d.eng.Reset(p.ID)
			delete(d.active, p.ID)
			d.log.Info("portal deactivated", zap.Stringer("portal", p.ID))
			continue
		}
		d.eng.Refresh(p.ID, d.tick-ap.since)
		for id := range ap.viewers {
			v := d.viewers[id]
			d.eng.ScheduleObserverUpdate(id, p.ID, v.eye, v.refresh)
		}
	}
	for _, v := range d.viewers {
		v.refresh = false
	}
	d.tick++
}
