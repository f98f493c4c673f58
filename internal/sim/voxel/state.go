package voxel

import (
	"fmt"

	"github.com/df-mc/dragonfly/server/block/cube"
)

// Kind tags which orientation family a State carries.
type Kind uint8

const (
	KindNone Kind = iota
	KindFacing
	KindAxis
	KindRail
)

func (k Kind) String() string {
	switch k {
	case KindFacing:
		return "facing"
	case KindAxis:
		return "axis"
	case KindRail:
		return "rail"
	default:
		return "none"
	}
}

// RailShape is the shape of a rail block. Ascending shapes rise towards the
// named side.
type RailShape uint8

const (
	RailNorthSouth RailShape = iota
	RailEastWest
	RailAscendingEast
	RailAscendingWest
	RailAscendingNorth
	RailAscendingSouth
	RailSouthEast
	RailSouthWest
	RailNorthWest
	RailNorthEast
)

var railNames = [...]string{
	RailNorthSouth:     "north_south",
	RailEastWest:       "east_west",
	RailAscendingEast:  "ascending_east",
	RailAscendingWest:  "ascending_west",
	RailAscendingNorth: "ascending_north",
	RailAscendingSouth: "ascending_south",
	RailSouthEast:      "south_east",
	RailSouthWest:      "south_west",
	RailNorthWest:      "north_west",
	RailNorthEast:      "north_east",
}

func (r RailShape) String() string {
	if int(r) < len(railNames) {
		return railNames[r]
	}
	return fmt.Sprintf("rail(%d)", uint8(r))
}

func RailShapes() []RailShape {
	out := make([]RailShape, len(railNames))
	for i := range railNames {
		out[i] = RailShape(i)
	}
	return out
}

func ParseRailShape(s string) (RailShape, bool) {
	for i, n := range railNames {
		if n == s {
			return RailShape(i), true
		}
	}
	return 0, false
}

var faceNames = map[cube.Face]string{
	cube.FaceDown:  "down",
	cube.FaceUp:    "up",
	cube.FaceNorth: "north",
	cube.FaceSouth: "south",
	cube.FaceWest:  "west",
	cube.FaceEast:  "east",
}

func FaceName(f cube.Face) string {
	if n, ok := faceNames[f]; ok {
		return n
	}
	return fmt.Sprintf("face(%d)", int(f))
}

func ParseFace(s string) (cube.Face, bool) {
	for f, n := range faceNames {
		if n == s {
			return f, true
		}
	}
	return 0, false
}

var axisNames = map[cube.Axis]string{
	cube.X: "x",
	cube.Y: "y",
	cube.Z: "z",
}

func AxisName(a cube.Axis) string {
	if n, ok := axisNames[a]; ok {
		return n
	}
	return fmt.Sprintf("axis(%d)", int(a))
}

func ParseAxis(s string) (cube.Axis, bool) {
	for a, n := range axisNames {
		if n == s {
			return a, true
		}
	}
	return 0, false
}

// Orientation is a closed tagged variant: only the field selected by Kind is
// meaningful, the others stay zero so that == compares orientations.
type Orientation struct {
	Kind Kind
	Face cube.Face
	Axis cube.Axis
	Rail RailShape
}

// State is a world-independent block state. It is a plain value; every
// transformation returns a new State.
type State struct {
	Material    string
	Orientation Orientation
}

func Plain(material string) State {
	return State{Material: material}
}

func Facing(material string, f cube.Face) State {
	return State{Material: material, Orientation: Orientation{Kind: KindFacing, Face: f}}
}

func Axial(material string, a cube.Axis) State {
	return State{Material: material, Orientation: Orientation{Kind: KindAxis, Axis: a}}
}

func Rail(material string, shape RailShape) State {
	return State{Material: material, Orientation: Orientation{Kind: KindRail, Rail: shape}}
}

func (s State) WithFace(f cube.Face) State   { return Facing(s.Material, f) }
func (s State) WithAxis(a cube.Axis) State   { return Axial(s.Material, a) }
func (s State) WithRail(r RailShape) State   { return Rail(s.Material, r) }
func (s State) IsZero() bool                 { return s == State{} }
func (s State) Equal(o State) bool           { return s == o }

func (s State) String() string {
	switch s.Orientation.Kind {
	case KindFacing:
		return fmt.Sprintf("%s[facing=%s]", s.Material, FaceName(s.Orientation.Face))
	case KindAxis:
		return fmt.Sprintf("%s[axis=%s]", s.Material, AxisName(s.Orientation.Axis))
	case KindRail:
		return fmt.Sprintf("%s[shape=%s]", s.Material, s.Orientation.Rail)
	default:
		return s.Material
	}
}
