package tuning

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz           int     `yaml:"tick_rate_hz" toml:"tick_rate_hz"`
	RefreshIntervalTicks int     `yaml:"refresh_interval_ticks" toml:"refresh_interval_ticks"`
	ViewDistanceXZ       int     `yaml:"view_distance_xz" toml:"view_distance_xz"`
	ViewDistanceY        int     `yaml:"view_distance_y" toml:"view_distance_y"`
	EdgeMarker           string  `yaml:"edge_marker" toml:"edge_marker"`
	Workers              int     `yaml:"workers" toml:"workers"`
	ActivationDistance   float64 `yaml:"activation_distance" toml:"activation_distance"`
	DeadlockDetection    bool    `yaml:"deadlock_detection" toml:"deadlock_detection"`

	Transmit Transmit `yaml:"transmit" toml:"transmit"`
	Logging  Logging  `yaml:"logging" toml:"logging"`
	Trace    Trace    `yaml:"trace" toml:"trace"`
	Index    Index    `yaml:"index" toml:"index"`
}

type Transmit struct {
	SectionsPerSecond float64 `yaml:"sections_per_second" toml:"sections_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

type Logging struct {
	Level       string `yaml:"level" toml:"level"`
	Development bool   `yaml:"development" toml:"development"`
}

type Trace struct {
	Dir string `yaml:"dir" toml:"dir"`
}

type Index struct {
	Path string `yaml:"path" toml:"path"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:           20,
		RefreshIntervalTicks: 1,
		ViewDistanceXZ:       12,
		ViewDistanceY:        8,
		EdgeMarker:           "BLACK_CONCRETE",
		Workers:              1,
		ActivationDistance:   16,
		Transmit:             Transmit{SectionsPerSecond: 200, Burst: 64},
		Logging:              Logging{Level: "info"},
	}
}

// Load reads a YAML or TOML file (by extension) over Defaults and normalizes
// the result.
func Load(path string) (Tuning, error) {
	t := Defaults()
	name := filepath.Base(path)
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(raw, &t); err != nil {
			return t, fmt.Errorf("%s: %w", name, err)
		}
	default:
		if err := yaml.Unmarshal(raw, &t); err != nil {
			return t, fmt.Errorf("%s: %w", name, err)
		}
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("%s: %w", name, err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	def := Defaults()
	t.TickRateHz = clampWithDefault(t.TickRateHz, 1, 200, def.TickRateHz)
	t.RefreshIntervalTicks = clampWithDefault(t.RefreshIntervalTicks, 1, 1200, def.RefreshIntervalTicks)
	t.ViewDistanceXZ = clampWithDefault(t.ViewDistanceXZ, 1, 64, def.ViewDistanceXZ)
	t.ViewDistanceY = clampWithDefault(t.ViewDistanceY, 1, 64, def.ViewDistanceY)
	t.Workers = clampWithDefault(t.Workers, 1, 64, def.Workers)
	t.EdgeMarker = strings.ToUpper(strings.TrimSpace(t.EdgeMarker))
	if t.EdgeMarker == "" {
		t.EdgeMarker = def.EdgeMarker
	}
	if t.ActivationDistance <= 0 {
		t.ActivationDistance = def.ActivationDistance
	}
	if t.Transmit.SectionsPerSecond <= 0 {
		t.Transmit.SectionsPerSecond = def.Transmit.SectionsPerSecond
	}
	t.Transmit.Burst = clampWithDefault(t.Transmit.Burst, 1, 4096, def.Transmit.Burst)
	t.Logging.Level = strings.ToLower(strings.TrimSpace(t.Logging.Level))
	if t.Logging.Level == "" {
		t.Logging.Level = def.Logging.Level
	}
	t.Trace.Dir = strings.TrimSpace(t.Trace.Dir)
	t.Index.Path = strings.TrimSpace(t.Index.Path)
}

func (t Tuning) Validate() error {
	switch t.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", t.Logging.Level)
	}
	return nil
}

func clampWithDefault(v, min, max, def int) int {
	if v < min || v > max {
		return def
	}
	return v
}
