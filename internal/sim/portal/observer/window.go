package observer

import (
	"math"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"

	"voxelportals.ai/internal/sim/portal/geom"
)

const eps = 1e-9

// Window is the portal rectangle on the origin side.
type Window struct {
	Centre mgl64.Vec3
	Normal mgl64.Vec3
	U, V   mgl64.Vec3
	HalfU  float64
	HalfV  float64
}

func unit(a cube.Axis) mgl64.Vec3 {
	v := geom.AxisVector(a)
	return mgl64.Vec3{float64(v[0]), float64(v[1]), float64(v[2])}
}

func NewWindow(f *geom.Frame) Window {
	n := geom.FaceVector(f.Origin.Direction)
	return Window{
		Centre: f.OriginCenter(),
		Normal: mgl64.Vec3{float64(n[0]), float64(n[1]), float64(n[2])},
		U:      unit(f.WidthAxis()),
		V:      unit(f.HeightAxis()),
		HalfU:  float64(f.Width) / 2,
		HalfV:  float64(f.Height) / 2,
	}
}

// Side is the signed distance of p from the portal plane, positive on the
// side a viewer looks into.
func (w Window) Side(p mgl64.Vec3) float64 {
	return p.Sub(w.Centre).Dot(w.Normal)
}

// Visible reports whether the segment from eye to the centre of cell passes
// through the window. Eye and cell must lie strictly on opposite sides of the
// plane.
func (w Window) Visible(eye mgl64.Vec3, cell cube.Pos) bool {
	c := cell.Vec3Centre()
	se, sc := w.Side(eye), w.Side(c)
	if math.Abs(se) <= eps || math.Abs(sc) <= eps || (se < 0) == (sc < 0) {
		return false
	}
	t := se / (se - sc)
	hit := eye.Add(c.Sub(eye).Mul(t)).Sub(w.Centre)
	return math.Abs(hit.Dot(w.U)) <= w.HalfU+eps && math.Abs(hit.Dot(w.V)) <= w.HalfV+eps
}
