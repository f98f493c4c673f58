// Package observer decides, per viewer, which cached portal cells to show and
// which to put back.
package observer

import (
	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"

	"voxelportals.ai/internal/sim/portal/viewcache"
	"voxelportals.ai/internal/sim/voxel"
)

type Change struct {
	Pos   cube.Pos
	State voxel.State
}

type Diff []Change

// Truth returns the real origin block at p.
type Truth func(p cube.Pos) voxel.State

type Result struct {
	Changes  Diff
	Visible  int
	Reverted int
}

// Pass compares what the viewer at eye should see through the window with
// what it was sent, records the outcome in st and returns the changes. With
// refresh set every visible cell is sent again.
func Pass(st *ViewerState, w Window, snap *viewcache.Snapshot, eye mgl64.Vec3, refresh bool, truth Truth) Result {
	var res Result
	for _, p := range snap.Positions() {
		rec, _ := snap.Get(p)
		prev, sent := st.sent[p]
		if w.Visible(eye, p) {
			res.Visible++
			if refresh || !sent || prev != rec.Rendered {
				res.Changes = append(res.Changes, Change{Pos: p, State: rec.Rendered})
				st.sent[p] = rec.Rendered
			}
			continue
		}
		if sent {
			res.Changes = append(res.Changes, Change{Pos: p, State: rec.Origin})
			delete(st.sent, p)
			res.Reverted++
		}
	}

	var stale []cube.Pos
	for p := range st.sent {
		if _, ok := snap.Get(p); !ok {
			stale = append(stale, p)
		}
	}
	viewcache.SortPositions(stale)
	for _, p := range stale {
		res.Changes = append(res.Changes, Change{Pos: p, State: truth(p)})
		delete(st.sent, p)
		res.Reverted++
	}
	return res
}

// Reset puts every sent cell back to the origin truth and forgets it.
func Reset(st *ViewerState, truth Truth) Diff {
	if len(st.sent) == 0 {
		return nil
	}
	ps := make([]cube.Pos, 0, len(st.sent))
	for p := range st.sent {
		ps = append(ps, p)
	}
	viewcache.SortPositions(ps)
	out := make(Diff, 0, len(ps))
	for _, p := range ps {
		out = append(out, Change{Pos: p, State: truth(p)})
		delete(st.sent, p)
	}
	return out
}
