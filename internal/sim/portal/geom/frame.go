package geom

import (
	"fmt"
	"math"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
)

// End is one side of a portal. Direction is the way a viewer faces when
// looking into the portal at the origin, and when stepping out of it at the
// destination.
type End struct {
	World     string
	Center    mgl64.Vec3
	Direction cube.Face
}

// Frame is the immutable geometry of a linked portal pair. Both ends share
// Width x Height; depth is always zero.
type Frame struct {
	Origin End
	Dest   End
	Width  int
	Height int

	origin2 [3]int
	dest2   [3]int
	tr      Transform

	normal, widthAxis, heightAxis cube.Axis
}

// PlaneAxes returns the axes of a portal plane facing dir: the normal, the
// width axis and the height axis.
func PlaneAxes(dir cube.Face) (normal, width, height cube.Axis) {
	switch dir {
	case cube.FaceUp, cube.FaceDown:
		return cube.Y, cube.X, cube.Z
	case cube.FaceNorth, cube.FaceSouth:
		return cube.Z, cube.X, cube.Y
	default:
		return cube.X, cube.Z, cube.Y
	}
}

func double(v mgl64.Vec3) ([3]int, error) {
	var out [3]int
	for i := range v {
		d := v[i] * 2
		if d != math.Trunc(d) {
			return out, fmt.Errorf("coordinate %v is not a multiple of 0.5", v[i])
		}
		out[i] = int(d)
	}
	return out, nil
}

func NewFrame(origin, dest End, width, height int) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid portal size %dx%d", width, height)
	}
	o2, err := double(origin.Center)
	if err != nil {
		return nil, fmt.Errorf("origin centre: %w", err)
	}
	d2, err := double(dest.Center)
	if err != nil {
		return nil, fmt.Errorf("destination centre: %w", err)
	}
	f := &Frame{
		Origin:  origin,
		Dest:    dest,
		Width:   width,
		Height:  height,
		origin2: o2,
		dest2:   d2,
	}
	f.normal, f.widthAxis, f.heightAxis = PlaneAxes(origin.Direction)

	if o2[AxisIndex(f.normal)]%2 == 0 {
		return nil, fmt.Errorf("origin centre must sit on a block centre along the portal normal")
	}
	if mod2(o2[AxisIndex(f.widthAxis)]) != mod2(width) {
		return nil, fmt.Errorf("origin centre does not align with width %d", width)
	}
	if mod2(o2[AxisIndex(f.heightAxis)]) != mod2(height) {
		return nil, fmt.Errorf("origin centre does not align with height %d", height)
	}

	tr, err := NewTransform(o2, origin.Direction, d2, dest.Direction)
	if err != nil {
		return nil, err
	}
	f.tr = tr
	return f, nil
}

func mod2(v int) int {
	if v%2 == 0 {
		return 0
	}
	return 1
}

func (f *Frame) Transform() Transform { return f.tr }

// NormalAxis is the origin portal's normal axis.
func (f *Frame) NormalAxis() cube.Axis { return f.normal }
func (f *Frame) WidthAxis() cube.Axis  { return f.widthAxis }
func (f *Frame) HeightAxis() cube.Axis { return f.heightAxis }

// OriginCenterCell is the origin cell containing the frame centre (rounded
// down on half-block components).
func (f *Frame) OriginCenterCell() cube.Pos {
	return cube.Pos{floorHalf(f.origin2[0]), floorHalf(f.origin2[1]), floorHalf(f.origin2[2])}
}

func (f *Frame) DestCenterCell() cube.Pos {
	return f.tr.ToDestination(f.OriginCenterCell())
}

func floorHalf(v int) int {
	if v >= 0 {
		return v / 2
	}
	return -((-v + 1) / 2)
}

// PlaneLayer is the origin coordinate, along the normal axis, of the layer
// holding the portal blocks.
func (f *Frame) PlaneLayer() int {
	return f.OriginCenterCell()[AxisIndex(f.normal)]
}

// InLine reports whether an origin cell lies in the portal plane.
func (f *Frame) InLine(p cube.Pos) bool {
	return p[AxisIndex(f.normal)] == f.PlaneLayer()
}

// OriginCenter returns the exact origin centre.
func (f *Frame) OriginCenter() mgl64.Vec3 { return halve(f.origin2) }

func (f *Frame) String() string {
	return fmt.Sprintf("%s%v->%s%v %dx%d", f.Origin.World, f.Origin.Center, f.Dest.World, f.Dest.Center, f.Width, f.Height)
}
