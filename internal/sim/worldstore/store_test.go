package worldstore

import (
	"testing"

	"github.com/df-mc/dragonfly/server/block/cube"

	"voxelportals.ai/internal/sim/voxel"
)

func TestWorld_GetSetNegativeCoords(t *testing.T) {
	s := New()
	w := s.Add("a", Flat(0, "STONE", "GRASS"))
	if got := w.Get(cube.Pos{-5, 0, -17}); got != voxel.Plain("GRASS") {
		t.Fatalf("surface: %v", got)
	}
	if got := w.Get(cube.Pos{3, -4, 9}); got != voxel.Plain("STONE") {
		t.Fatalf("below: %v", got)
	}
	p := cube.Pos{-1, -1, -1}
	w.Set(p, voxel.Plain("GLASS"))
	if got := s.BlockState("a", p); got != voxel.Plain("GLASS") {
		t.Fatalf("after set: %v", got)
	}
	if got := w.Get(cube.Pos{15, -1, -1}); got != voxel.Plain("STONE") {
		t.Fatalf("neighbour section cell leaked: %v", got)
	}
	if keys := w.SectionKeys(); len(keys) != 1 || keys[0] != (SectionKey{X: -1, Y: -1, Z: -1}) {
		t.Fatalf("section keys: %+v", keys)
	}
}

func TestWorld_VersionOnlyOnEffectiveWrites(t *testing.T) {
	w := New().Add("a", Empty())
	w.Set(cube.Pos{1, 2, 3}, voxel.Plain("STONE"))
	v := w.Version()
	w.Set(cube.Pos{1, 2, 3}, voxel.Plain("STONE"))
	if w.Version() != v {
		t.Fatalf("rewriting the same state bumped version")
	}
	w.Fill(cube.Pos{0, 0, 0}, cube.Pos{1, 1, 1}, voxel.Plain("DIRT"))
	if w.Version() != v+8 {
		t.Fatalf("fill of 8 cells: version %d want %d", w.Version(), v+8)
	}
}

func TestStore_Readiness(t *testing.T) {
	s := New()
	s.Add("local", nil)
	remote := s.AddRemote("remote", nil)
	if !s.Ready("local") {
		t.Fatalf("local world should be ready")
	}
	if s.Ready("remote") || s.Ready("missing") {
		t.Fatalf("remote/missing worlds should not be ready")
	}
	remote.MarkReady()
	if !s.Ready("remote") {
		t.Fatalf("remote should be ready after MarkReady")
	}
	if got := s.BlockState("missing", cube.Pos{}); got != voxel.Plain(voxel.Air) {
		t.Fatalf("missing world: %v", got)
	}
}
