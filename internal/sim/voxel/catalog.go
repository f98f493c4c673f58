package voxel

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/df-mc/dragonfly/server/block/cube"
)

const Air = "AIR"

// BlockDef describes one material. Faces, Axes and Rails list the
// orientations the material can take; an empty list means no restriction.
type BlockDef struct {
	ID        string   `json:"id"`
	Occluding bool     `json:"occluding"`
	Family    string   `json:"family,omitempty"` // "facing","axis","rail"
	Faces     []string `json:"faces,omitempty"`
	Axes      []string `json:"axes,omitempty"`
	Rails     []string `json:"rails,omitempty"`
}

type material struct {
	def   BlockDef
	faces map[cube.Face]bool
	axes  map[cube.Axis]bool
	rails map[RailShape]bool
}

// Catalog is the block table of one world-engine version. It is loaded once
// at startup and read-only afterwards.
type Catalog struct {
	Palette       []string
	Index         map[string]uint16
	PaletteDigest string
	DefsDigest    string

	byID map[string]*material
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := ParseCatalog(raw)
	if err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	return c, nil
}

func ParseCatalog(raw []byte) (*Catalog, error) {
	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, err
	}
	return NewCatalog(defs, sha256Hex(raw))
}

func NewCatalog(defs []BlockDef, digest string) (*Catalog, error) {
	c := &Catalog{
		DefsDigest: digest,
		byID:       make(map[string]*material, len(defs)),
	}
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("empty id")
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate id %s", d.ID)
		}
		m, err := compile(d)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.ID, err)
		}
		c.byID[d.ID] = m
	}
	if _, ok := c.byID[Air]; !ok {
		return nil, fmt.Errorf("missing %s", Air)
	}

	ids := make([]string, 0, len(c.byID))
	for id := range c.byID {
		if id != Air {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	// AIR is always palette id 0.
	ids = append([]string{Air}, ids...)

	c.Palette = ids
	c.Index = make(map[string]uint16, len(ids))
	for i, id := range ids {
		c.Index[id] = uint16(i)
	}
	palJSON, _ := json.Marshal(ids)
	c.PaletteDigest = sha256Hex(palJSON)
	return c, nil
}

func compile(d BlockDef) (*material, error) {
	m := &material{def: d}
	switch d.Family {
	case "", "facing", "axis", "rail":
	default:
		return nil, fmt.Errorf("unknown family %q", d.Family)
	}
	if len(d.Faces) > 0 {
		m.faces = make(map[cube.Face]bool, len(d.Faces))
		for _, s := range d.Faces {
			f, ok := ParseFace(s)
			if !ok {
				return nil, fmt.Errorf("bad face %q", s)
			}
			m.faces[f] = true
		}
	}
	if len(d.Axes) > 0 {
		m.axes = make(map[cube.Axis]bool, len(d.Axes))
		for _, s := range d.Axes {
			a, ok := ParseAxis(s)
			if !ok {
				return nil, fmt.Errorf("bad axis %q", s)
			}
			m.axes[a] = true
		}
	}
	if len(d.Rails) > 0 {
		m.rails = make(map[RailShape]bool, len(d.Rails))
		for _, s := range d.Rails {
			r, ok := ParseRailShape(s)
			if !ok {
				return nil, fmt.Errorf("bad rail shape %q", s)
			}
			m.rails[r] = true
		}
	}
	return m, nil
}

func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

func (c *Catalog) Def(id string) (BlockDef, bool) {
	m, ok := c.byID[id]
	if !ok {
		return BlockDef{}, false
	}
	return m.def, true
}

// Occluding reports whether s fully blocks sight. Unknown materials are
// treated as occluding so that a flood fill never leaks through them.
func (c *Catalog) Occluding(s State) bool {
	m, ok := c.byID[s.Material]
	if !ok {
		return true
	}
	return m.def.Occluding
}

func (c *Catalog) AllowsFace(material string, f cube.Face) bool {
	m, ok := c.byID[material]
	if !ok || m.faces == nil {
		return true
	}
	return m.faces[f]
}

func (c *Catalog) AllowsAxis(material string, a cube.Axis) bool {
	m, ok := c.byID[material]
	if !ok || m.axes == nil {
		return true
	}
	return m.axes[a]
}

func (c *Catalog) AllowsRail(material string, r RailShape) bool {
	m, ok := c.byID[material]
	if !ok || m.rails == nil {
		return true
	}
	return m.rails[r]
}

// PaletteID returns the palette index of s's material; unknown materials map
// to AIR.
func (c *Catalog) PaletteID(s State) uint16 {
	return c.Index[s.Material]
}
