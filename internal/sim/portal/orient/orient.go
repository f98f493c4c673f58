// Package orient rotates block orientations through a portal rotation.
//
// Rotation is best effort: a rotated orientation the material cannot take is
// dropped and the original state is kept.
package orient

import (
	"github.com/df-mc/dragonfly/server/block/cube"

	"voxelportals.ai/internal/sim/portal/geom"
	"voxelportals.ai/internal/sim/voxel"
)

// Rules answers which orientations a material accepts. *voxel.Catalog
// implements it.
type Rules interface {
	AllowsFace(material string, f cube.Face) bool
	AllowsAxis(material string, a cube.Axis) bool
	AllowsRail(material string, r voxel.RailShape) bool
}

type family func(r geom.Rotation, s voxel.State) (voxel.State, bool)

type Rotator struct {
	rules    Rules
	families []family
}

func NewRotator(rules Rules) *Rotator {
	rt := &Rotator{rules: rules}
	rt.families = []family{rt.facing, rt.axis, rt.rail}
	return rt
}

// Rotate returns s with its orientation rotated by r, or s unchanged when no
// orientation family can rotate it.
func (rt *Rotator) Rotate(r geom.Rotation, s voxel.State) voxel.State {
	if s.Orientation.Kind == voxel.KindNone || r.IsIdentity() {
		return s
	}
	for _, fam := range rt.families {
		if out, ok := fam(r, s); ok {
			return out
		}
	}
	return s
}

func (rt *Rotator) facing(r geom.Rotation, s voxel.State) (voxel.State, bool) {
	if s.Orientation.Kind != voxel.KindFacing {
		return s, false
	}
	f := r.Face(s.Orientation.Face)
	if rt.rules != nil && !rt.rules.AllowsFace(s.Material, f) {
		return s, false
	}
	return s.WithFace(f), true
}

func (rt *Rotator) axis(r geom.Rotation, s voxel.State) (voxel.State, bool) {
	if s.Orientation.Kind != voxel.KindAxis {
		return s, false
	}
	a := r.Axis(s.Orientation.Axis)
	if rt.rules != nil && !rt.rules.AllowsAxis(s.Material, a) {
		return s, false
	}
	return s.WithAxis(a), true
}

func (rt *Rotator) rail(r geom.Rotation, s voxel.State) (voxel.State, bool) {
	if s.Orientation.Kind != voxel.KindRail {
		return s, false
	}
	ends, ok := railEnds[s.Orientation.Rail]
	if !ok {
		return s, false
	}
	shape, ok := railByEnds(r.Face(ends[0]), r.Face(ends[1]))
	if !ok {
		return s, false
	}
	if rt.rules != nil && !rt.rules.AllowsRail(s.Material, shape) {
		return s, false
	}
	return s.WithRail(shape), true
}

// railEnds describes each rail shape as the two directions it connects.
// Ascending shapes connect the raised side with up.
var railEnds = map[voxel.RailShape][2]cube.Face{
	voxel.RailNorthSouth:     {cube.FaceNorth, cube.FaceSouth},
	voxel.RailEastWest:       {cube.FaceEast, cube.FaceWest},
	voxel.RailAscendingEast:  {cube.FaceEast, cube.FaceUp},
	voxel.RailAscendingWest:  {cube.FaceWest, cube.FaceUp},
	voxel.RailAscendingNorth: {cube.FaceNorth, cube.FaceUp},
	voxel.RailAscendingSouth: {cube.FaceSouth, cube.FaceUp},
	voxel.RailSouthEast:      {cube.FaceSouth, cube.FaceEast},
	voxel.RailSouthWest:      {cube.FaceSouth, cube.FaceWest},
	voxel.RailNorthWest:      {cube.FaceNorth, cube.FaceWest},
	voxel.RailNorthEast:      {cube.FaceNorth, cube.FaceEast},
}

func railByEnds(a, b cube.Face) (voxel.RailShape, bool) {
	for shape, ends := range railEnds {
		if (ends[0] == a && ends[1] == b) || (ends[0] == b && ends[1] == a) {
			return shape, true
		}
	}
	return 0, false
}
