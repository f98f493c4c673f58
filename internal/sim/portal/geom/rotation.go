package geom

import (
	"fmt"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
)

// Rotation is one of the 24 axis-aligned rotations of a cube, stored as an
// integer 3x3 matrix acting on (x,y,z) column vectors.
type Rotation struct {
	m [3][3]int
}

func Identity() Rotation {
	return Rotation{m: [3][3]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}}
}

func (r Rotation) IsIdentity() bool { return r == Identity() }

func (r Rotation) Apply(v [3]int) [3]int {
	var out [3]int
	for i := 0; i < 3; i++ {
		out[i] = r.m[i][0]*v[0] + r.m[i][1]*v[1] + r.m[i][2]*v[2]
	}
	return out
}

func (r Rotation) Vec3(v mgl64.Vec3) mgl64.Vec3 {
	var out mgl64.Vec3
	for i := 0; i < 3; i++ {
		out[i] = float64(r.m[i][0])*v[0] + float64(r.m[i][1])*v[1] + float64(r.m[i][2])*v[2]
	}
	return out
}

// Inverse returns the transpose, which is the inverse of any rotation.
func (r Rotation) Inverse() Rotation {
	var out Rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.m[i][j] = r.m[j][i]
		}
	}
	return out
}

// Then returns the rotation that applies r first and o second.
func (r Rotation) Then(o Rotation) Rotation {
	var out Rotation
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out.m[i][j] += o.m[i][k] * r.m[k][j]
			}
		}
	}
	return out
}

// Face rotates a face direction. A result off the axes means the matrix is
// not a cube rotation, which is a programming error.
func (r Rotation) Face(f cube.Face) cube.Face {
	return FaceFromVector(r.Apply(FaceVector(f)))
}

func (r Rotation) Axis(a cube.Axis) cube.Axis {
	v := r.Apply(AxisVector(a))
	for i := range v {
		if v[i] < 0 {
			v[i] = -v[i]
		}
	}
	switch v {
	case [3]int{1, 0, 0}:
		return cube.X
	case [3]int{0, 1, 0}:
		return cube.Y
	case [3]int{0, 0, 1}:
		return cube.Z
	}
	panic(fmt.Sprintf("geom: rotation %v maps axis %v off the cube axes", r.m, a))
}

func (r Rotation) String() string {
	return fmt.Sprintf("%v", r.m)
}

// FaceVector returns the unit vector a face points along.
func FaceVector(f cube.Face) [3]int {
	switch f {
	case cube.FaceDown:
		return [3]int{0, -1, 0}
	case cube.FaceUp:
		return [3]int{0, 1, 0}
	case cube.FaceNorth:
		return [3]int{0, 0, -1}
	case cube.FaceSouth:
		return [3]int{0, 0, 1}
	case cube.FaceWest:
		return [3]int{-1, 0, 0}
	case cube.FaceEast:
		return [3]int{1, 0, 0}
	}
	panic(fmt.Sprintf("geom: unknown face %d", int(f)))
}

func FaceFromVector(v [3]int) cube.Face {
	switch v {
	case [3]int{0, -1, 0}:
		return cube.FaceDown
	case [3]int{0, 1, 0}:
		return cube.FaceUp
	case [3]int{0, 0, -1}:
		return cube.FaceNorth
	case [3]int{0, 0, 1}:
		return cube.FaceSouth
	case [3]int{-1, 0, 0}:
		return cube.FaceWest
	case [3]int{1, 0, 0}:
		return cube.FaceEast
	}
	panic(fmt.Sprintf("geom: vector %v is not an axis direction", v))
}

func AxisVector(a cube.Axis) [3]int {
	switch a {
	case cube.X:
		return [3]int{1, 0, 0}
	case cube.Y:
		return [3]int{0, 1, 0}
	case cube.Z:
		return [3]int{0, 0, 1}
	}
	panic(fmt.Sprintf("geom: unknown axis %d", int(a)))
}

// AxisIndex maps an axis to its component index in a position.
func AxisIndex(a cube.Axis) int {
	switch a {
	case cube.X:
		return 0
	case cube.Y:
		return 1
	default:
		return 2
	}
}

func FaceAxis(f cube.Face) cube.Axis {
	switch f {
	case cube.FaceDown, cube.FaceUp:
		return cube.Y
	case cube.FaceNorth, cube.FaceSouth:
		return cube.Z
	default:
		return cube.X
	}
}

func Horizontal(f cube.Face) bool {
	return f != cube.FaceUp && f != cube.FaceDown
}

func cross(a, b [3]int) [3]int {
	return [3]int{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func neg(a [3]int) [3]int { return [3]int{-a[0], -a[1], -a[2]} }

// about builds the rotation about unit axis k by quarter turns in {1,2}
// (Rodrigues: I + sin*K + (1-cos)*K^2).
func about(k [3]int, quarter int) Rotation {
	K := [3][3]int{
		{0, -k[2], k[1]},
		{k[2], 0, -k[0]},
		{-k[1], k[0], 0},
	}
	var K2 [3][3]int
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for n := 0; n < 3; n++ {
				K2[i][j] += K[i][n] * K[n][j]
			}
		}
	}
	r := Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			switch quarter {
			case 1:
				r.m[i][j] += K[i][j] + K2[i][j]
			case 2:
				r.m[i][j] += 2 * K2[i][j]
			}
		}
	}
	return r
}

// QuarterTurn returns a rotation of turns*90 degrees about axis, counter
// clockwise when looking down the positive axis.
func QuarterTurn(axis cube.Axis, turns int) Rotation {
	turns %= 4
	if turns < 0 {
		turns += 4
	}
	r := Identity()
	step := about(AxisVector(axis), 1)
	for i := 0; i < turns; i++ {
		r = r.Then(step)
	}
	return r
}

// Between returns the minimal rotation mapping direction from onto to.
// Opposite horizontal directions turn about Y, opposite vertical ones about X.
func Between(from, to cube.Face) Rotation {
	u, v := FaceVector(from), FaceVector(to)
	switch {
	case u == v:
		return Identity()
	case u == neg(v):
		if Horizontal(from) {
			return about([3]int{0, 1, 0}, 2)
		}
		return about([3]int{1, 0, 0}, 2)
	default:
		return about(cross(u, v), 1)
	}
}

// All enumerates the 24 cube rotations.
func All() []Rotation {
	gens := []Rotation{QuarterTurn(cube.X, 1), QuarterTurn(cube.Y, 1), QuarterTurn(cube.Z, 1)}
	seen := map[Rotation]bool{Identity(): true}
	out := []Rotation{Identity()}
	for i := 0; i < len(out); i++ {
		for _, g := range gens {
			n := out[i].Then(g)
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}
