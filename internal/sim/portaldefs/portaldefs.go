// Package portaldefs loads the static world and portal layout used by the
// demo server.
package portaldefs

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"voxelportals.ai/internal/sim/portal/geom"
	"voxelportals.ai/internal/sim/voxel"
)

//go:embed portals.schema.json
var schemaJSON []byte

type Config struct {
	Worlds  []WorldSpec  `yaml:"worlds"`
	Portals []PortalSpec `yaml:"portals"`
}

type WorldSpec struct {
	ID        string `yaml:"id"`
	Generator string `yaml:"generator"`
	GroundY   int    `yaml:"ground_y"`
	Below     string `yaml:"below"`
	Surface   string `yaml:"surface"`
	// Remote worlds start not ready, as if their blocks were still being
	// fetched from another server.
	Remote          bool `yaml:"remote"`
	ReadyAfterTicks int  `yaml:"ready_after_ticks"`
}

type EndSpec struct {
	World     string    `yaml:"world"`
	Center    []float64 `yaml:"center"`
	Direction string    `yaml:"direction"`
}

type PortalSpec struct {
	ID     string  `yaml:"id"`
	Name   string  `yaml:"name"`
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
	Origin EndSpec `yaml:"origin"`
	Dest   EndSpec `yaml:"dest"`
	// ReverseID, when set, also registers the portal seen from the
	// destination side.
	ReverseID string `yaml:"reverse_id"`
}

// Portal is a validated portal ready to register.
type Portal struct {
	ID    uuid.UUID
	Name  string
	Frame *geom.Frame
}

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("portals.schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile("portals.schema.json")
}

func Load(path string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	cfg, err = Parse(raw)
	if err != nil {
		return cfg, fmt.Errorf("portals.yaml: %w", err)
	}
	return cfg, nil
}

func Parse(raw []byte) (Config, error) {
	var cfg Config
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return cfg, err
	}
	// Round trip through JSON so the validator sees JSON value types.
	js, err := json.Marshal(doc)
	if err != nil {
		return cfg, err
	}
	var v any
	if err := json.Unmarshal(js, &v); err != nil {
		return cfg, err
	}
	sch, err := compileSchema()
	if err != nil {
		return cfg, fmt.Errorf("schema: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	for i := range c.Worlds {
		w := &c.Worlds[i]
		w.ID = strings.TrimSpace(w.ID)
		w.Generator = strings.ToLower(strings.TrimSpace(w.Generator))
		if w.Generator == "" {
			w.Generator = "empty"
		}
		if w.Generator == "flat" {
			if w.Below == "" {
				w.Below = "STONE"
			}
			if w.Surface == "" {
				w.Surface = "GRASS"
			}
		}
		if !w.Remote {
			w.ReadyAfterTicks = 0
		}
	}
	for i := range c.Portals {
		p := &c.Portals[i]
		p.Name = strings.TrimSpace(p.Name)
		p.Origin.Direction = strings.ToLower(p.Origin.Direction)
		p.Dest.Direction = strings.ToLower(p.Dest.Direction)
	}
}

func (c Config) Validate() error {
	worlds := map[string]bool{}
	for _, w := range c.Worlds {
		if worlds[w.ID] {
			return fmt.Errorf("duplicate world id %q", w.ID)
		}
		worlds[w.ID] = true
	}
	ids := map[string]bool{}
	for _, p := range c.Portals {
		for _, id := range []string{p.ID, p.ReverseID} {
			if id == "" {
				continue
			}
			if _, err := uuid.Parse(id); err != nil {
				return fmt.Errorf("portal %q: %w", id, err)
			}
			if ids[id] {
				return fmt.Errorf("duplicate portal id %q", id)
			}
			ids[id] = true
		}
		for _, w := range []string{p.Origin.World, p.Dest.World} {
			if !worlds[w] {
				return fmt.Errorf("portal %s: unknown world %q", p.ID, w)
			}
		}
	}
	return nil
}

func (e EndSpec) end() (geom.End, error) {
	f, ok := voxel.ParseFace(e.Direction)
	if !ok {
		return geom.End{}, fmt.Errorf("bad direction %q", e.Direction)
	}
	return geom.End{
		World:     e.World,
		Center:    mgl64.Vec3{e.Center[0], e.Center[1], e.Center[2]},
		Direction: f,
	}, nil
}

// reverse is the same link viewed from the other side: viewers there look
// into the destination opposite to the way they would step out of it.
func reverse(origin, dest geom.End) (geom.End, geom.End) {
	o := dest
	o.Direction = dest.Direction.Opposite()
	d := origin
	d.Direction = origin.Direction.Opposite()
	return o, d
}

// Frames builds every portal, including reverse portals.
func (c Config) Frames() ([]Portal, error) {
	var out []Portal
	for _, p := range c.Portals {
		origin, err := p.Origin.end()
		if err != nil {
			return nil, fmt.Errorf("portal %s origin: %w", p.ID, err)
		}
		dest, err := p.Dest.end()
		if err != nil {
			return nil, fmt.Errorf("portal %s dest: %w", p.ID, err)
		}
		f, err := geom.NewFrame(origin, dest, p.Width, p.Height)
		if err != nil {
			return nil, fmt.Errorf("portal %s: %w", p.ID, err)
		}
		out = append(out, Portal{ID: uuid.MustParse(p.ID), Name: p.Name, Frame: f})
		if p.ReverseID == "" {
			continue
		}
		ro, rd := reverse(origin, dest)
		rf, err := geom.NewFrame(ro, rd, p.Width, p.Height)
		if err != nil {
			return nil, fmt.Errorf("portal %s reverse: %w", p.ID, err)
		}
		out = append(out, Portal{ID: uuid.MustParse(p.ReverseID), Name: p.Name + " (reverse)", Frame: rf})
	}
	return out, nil
}
