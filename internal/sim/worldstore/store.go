package worldstore

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/df-mc/dragonfly/server/block/cube"

	"voxelportals.ai/internal/sim/voxel"
)

const sectionSize = 16

type SectionKey struct {
	X, Y, Z int
}

// Section holds the explicitly written blocks of one 16^3 region. Cells never
// written fall back to the world's generator.
type Section struct {
	Key    SectionKey
	blocks []voxel.State
	set    []bool
	dirty  bool
}

func newSection(k SectionKey) *Section {
	return &Section{
		Key:    k,
		blocks: make([]voxel.State, sectionSize*sectionSize*sectionSize),
		set:    make([]bool, sectionSize*sectionSize*sectionSize),
	}
}

func (s *Section) index(lx, ly, lz int) int {
	return lx + lz*sectionSize + ly*sectionSize*sectionSize
}

// Generator produces the block at a position nobody has written yet.
type Generator func(p cube.Pos) voxel.State

func Empty() Generator {
	return func(cube.Pos) voxel.State { return voxel.Plain(voxel.Air) }
}

// Flat fills everything at or below groundY with below, except the top layer
// which is surface.
func Flat(groundY int, below, surface string) Generator {
	return func(p cube.Pos) voxel.State {
		switch {
		case p[1] < groundY:
			return voxel.Plain(below)
		case p[1] == groundY:
			return voxel.Plain(surface)
		default:
			return voxel.Plain(voxel.Air)
		}
	}
}

type World struct {
	ID string

	mu       sync.RWMutex
	gen      Generator
	sections map[SectionKey]*Section
	ready    atomic.Bool
	version  atomic.Uint64
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func keyOf(p cube.Pos) SectionKey {
	return SectionKey{X: floorDiv(p[0], sectionSize), Y: floorDiv(p[1], sectionSize), Z: floorDiv(p[2], sectionSize)}
}

func (w *World) Get(p cube.Pos) voxel.State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if sec, ok := w.sections[keyOf(p)]; ok {
		i := sec.index(mod(p[0], sectionSize), mod(p[1], sectionSize), mod(p[2], sectionSize))
		if sec.set[i] {
			return sec.blocks[i]
		}
	}
	return w.gen(p)
}

func (w *World) Set(p cube.Pos, s voxel.State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.setLocked(p, s)
}

func (w *World) setLocked(p cube.Pos, s voxel.State) {
	k := keyOf(p)
	sec, ok := w.sections[k]
	if !ok {
		sec = newSection(k)
		w.sections[k] = sec
	}
	i := sec.index(mod(p[0], sectionSize), mod(p[1], sectionSize), mod(p[2], sectionSize))
	if sec.set[i] && sec.blocks[i] == s {
		return
	}
	sec.blocks[i] = s
	sec.set[i] = true
	sec.dirty = true
	w.version.Add(1)
}

// Fill sets every block in the inclusive box [min,max].
func (w *World) Fill(min, max cube.Pos, s voxel.State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for x := min[0]; x <= max[0]; x++ {
		for y := min[1]; y <= max[1]; y++ {
			for z := min[2]; z <= max[2]; z++ {
				w.setLocked(cube.Pos{x, y, z}, s)
			}
		}
	}
}

func (w *World) Ready() bool { return w.ready.Load() }
func (w *World) MarkReady()  { w.ready.Store(true) }

// Version increases on every effective block write.
func (w *World) Version() uint64 { return w.version.Load() }

func (w *World) SectionKeys() []SectionKey {
	w.mu.RLock()
	defer w.mu.RUnlock()
	keys := make([]SectionKey, 0, len(w.sections))
	for k := range w.sections {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Y != keys[j].Y {
			return keys[i].Y < keys[j].Y
		}
		if keys[i].Z != keys[j].Z {
			return keys[i].Z < keys[j].Z
		}
		return keys[i].X < keys[j].X
	})
	return keys
}

// Store is a set of worlds addressed by id. It implements the engine's block
// source: a world added as remote stays not ready until its data has been
// fetched and MarkReady is called.
type Store struct {
	mu     sync.RWMutex
	worlds map[string]*World
}

func New() *Store {
	return &Store{worlds: map[string]*World{}}
}

func (s *Store) Add(id string, gen Generator) *World {
	return s.add(id, gen, true)
}

func (s *Store) AddRemote(id string, gen Generator) *World {
	return s.add(id, gen, false)
}

func (s *Store) add(id string, gen Generator, ready bool) *World {
	if gen == nil {
		gen = Empty()
	}
	w := &World{ID: id, gen: gen, sections: map[SectionKey]*Section{}}
	w.ready.Store(ready)
	s.mu.Lock()
	s.worlds[id] = w
	s.mu.Unlock()
	return w
}

func (s *Store) World(id string) *World {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.worlds[id]
}

func (s *Store) Ready(world string) bool {
	w := s.World(world)
	return w != nil && w.Ready()
}

// BlockState returns AIR for unknown worlds.
func (s *Store) BlockState(world string, p cube.Pos) voxel.State {
	w := s.World(world)
	if w == nil {
		return voxel.Plain(voxel.Air)
	}
	return w.Get(p)
}
