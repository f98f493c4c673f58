package voxel

import (
	"testing"

	"github.com/df-mc/dragonfly/server/block/cube"
)

func TestLoadCatalog_ConfigsBlocksJSON(t *testing.T) {
	c, err := LoadCatalog("../../../configs/blocks.json")
	if err != nil {
		t.Fatalf("load blocks.json: %v", err)
	}
	if c.Palette[0] != Air || c.Index[Air] != 0 {
		t.Fatalf("AIR must be palette id 0, got %v", c.Palette[:1])
	}
	if !c.Occluding(Plain("STONE")) {
		t.Fatalf("STONE should occlude")
	}
	if c.Occluding(Plain("GLASS")) {
		t.Fatalf("GLASS should not occlude")
	}
	if !c.Occluding(Plain("NOT_A_BLOCK")) {
		t.Fatalf("unknown materials should be treated as occluding")
	}
	if c.AllowsFace("FURNACE", cube.FaceUp) {
		t.Fatalf("FURNACE must not face up")
	}
	if !c.AllowsFace("OBSERVER", cube.FaceUp) {
		t.Fatalf("OBSERVER has no face restriction")
	}
	if c.AllowsRail("POWERED_RAIL", RailNorthEast) {
		t.Fatalf("POWERED_RAIL cannot curve")
	}
	if c.AllowsAxis("PORTAL", cube.Y) {
		t.Fatalf("PORTAL axis y should be rejected")
	}
	if c.PaletteDigest == "" || c.DefsDigest == "" {
		t.Fatalf("expected digests")
	}
}

func TestParseCatalog_Errors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{name: "missing air", raw: `[{"id":"STONE","occluding":true}]`},
		{name: "empty id", raw: `[{"id":"AIR"},{"id":""}]`},
		{name: "duplicate", raw: `[{"id":"AIR"},{"id":"AIR"}]`},
		{name: "bad face", raw: `[{"id":"AIR"},{"id":"X","family":"facing","faces":["sideways"]}]`},
		{name: "bad family", raw: `[{"id":"AIR"},{"id":"X","family":"spin"}]`},
		{name: "bad json", raw: `{`},
	}
	for _, tc := range cases {
		if _, err := ParseCatalog([]byte(tc.raw)); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestStateEquality(t *testing.T) {
	a := Facing("FURNACE", cube.FaceNorth)
	b := Plain("FURNACE").WithFace(cube.FaceNorth)
	if a != b {
		t.Fatalf("expected equal states: %v vs %v", a, b)
	}
	if a == Facing("FURNACE", cube.FaceSouth) {
		t.Fatalf("different facings must differ")
	}
	if got := Rail("RAIL", RailAscendingEast).String(); got != "RAIL[shape=ascending_east]" {
		t.Fatalf("String: %q", got)
	}
	if r, ok := ParseRailShape("north_west"); !ok || r != RailNorthWest {
		t.Fatalf("ParseRailShape north_west: %v %v", r, ok)
	}
}
