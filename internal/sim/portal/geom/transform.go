package geom

import (
	"fmt"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
)

// Transform maps block positions between the origin and destination frames
// of a portal. Positions are handled in doubled coordinates (cell centres
// are odd) so every mapping is exact integer arithmetic.
type Transform struct {
	rot     Rotation
	inv     Rotation
	origin2 [3]int
	dest2   [3]int
}

// NewTransform builds the transform that rotates originDir onto destDir and
// makes the two doubled centres coincide. It fails when cell centres at the
// origin would not land on cell centres at the destination.
func NewTransform(origin2 [3]int, originDir cube.Face, dest2 [3]int, destDir cube.Face) (Transform, error) {
	rot := Between(originDir, destDir)
	t := Transform{
		rot:     rot,
		inv:     rot.Inverse(),
		origin2: origin2,
		dest2:   dest2,
	}
	// Parity of the mapped centre does not depend on the position, so one
	// probe covers every cell.
	q := t.forward2(cellCentre2(cube.Pos{}))
	for i, c := range q {
		if c%2 == 0 {
			return Transform{}, fmt.Errorf("destination centre %v misaligned on axis %d for rotation %v", halve(dest2), i, rot)
		}
	}
	return t, nil
}

func cellCentre2(p cube.Pos) [3]int {
	return [3]int{2*p[0] + 1, 2*p[1] + 1, 2*p[2] + 1}
}

func fromCentre2(q [3]int) cube.Pos {
	return cube.Pos{(q[0] - 1) / 2, (q[1] - 1) / 2, (q[2] - 1) / 2}
}

func halve(v [3]int) mgl64.Vec3 {
	return mgl64.Vec3{float64(v[0]) / 2, float64(v[1]) / 2, float64(v[2]) / 2}
}

func (t Transform) forward2(q [3]int) [3]int {
	r := t.rot.Apply([3]int{q[0] - t.origin2[0], q[1] - t.origin2[1], q[2] - t.origin2[2]})
	return [3]int{r[0] + t.dest2[0], r[1] + t.dest2[1], r[2] + t.dest2[2]}
}

func (t Transform) backward2(q [3]int) [3]int {
	r := t.inv.Apply([3]int{q[0] - t.dest2[0], q[1] - t.dest2[1], q[2] - t.dest2[2]})
	return [3]int{r[0] + t.origin2[0], r[1] + t.origin2[1], r[2] + t.origin2[2]}
}

func (t Transform) ToDestination(p cube.Pos) cube.Pos {
	return fromCentre2(t.forward2(cellCentre2(p)))
}

func (t Transform) ToOrigin(p cube.Pos) cube.Pos {
	return fromCentre2(t.backward2(cellCentre2(p)))
}

func (t Transform) RotateToDestination(f cube.Face) cube.Face { return t.rot.Face(f) }
func (t Transform) RotateToOrigin(f cube.Face) cube.Face      { return t.inv.Face(f) }

// Rotation is the rotation-only part, origin to destination.
func (t Transform) Rotation() Rotation { return t.rot }

// Inverse is the rotation-only part, destination to origin. It is the
// rotation applied to destination block orientations before rendering.
func (t Transform) Inverse() Rotation { return t.inv }

func (t Transform) ToDestinationVec(v mgl64.Vec3) mgl64.Vec3 {
	d := t.rot.Vec3(v.Mul(2).Sub(toVec(t.origin2)))
	return d.Add(toVec(t.dest2)).Mul(0.5)
}

func (t Transform) ToOriginVec(v mgl64.Vec3) mgl64.Vec3 {
	d := t.inv.Vec3(v.Mul(2).Sub(toVec(t.dest2)))
	return d.Add(toVec(t.origin2)).Mul(0.5)
}

func toVec(v [3]int) mgl64.Vec3 {
	return mgl64.Vec3{float64(v[0]), float64(v[1]), float64(v[2])}
}
