// Package batch groups block changes by chunk section before they go on the
// wire.
package batch

import (
	"sort"
	"sync"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"voxelportals.ai/internal/protocol"
	"voxelportals.ai/internal/sim/portal/engine"
	"voxelportals.ai/internal/sim/voxel"
)

const sectionSize = 16

type Section [3]int

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func SectionOf(p cube.Pos) Section {
	return Section{floorDiv(p[0], sectionSize), floorDiv(p[1], sectionSize), floorDiv(p[2], sectionSize)}
}

// Entry encodes one block for the wire.
func Entry(p cube.Pos, s voxel.State) protocol.BlockEntry {
	e := protocol.BlockEntry{Pos: [3]int{p[0], p[1], p[2]}, Block: s.Material}
	switch s.Orientation.Kind {
	case voxel.KindFacing:
		e.Props = map[string]string{"facing": voxel.FaceName(s.Orientation.Face)}
	case voxel.KindAxis:
		e.Props = map[string]string{"axis": voxel.AxisName(s.Orientation.Axis)}
	case voxel.KindRail:
		e.Props = map[string]string{"shape": s.Orientation.Rail.String()}
	}
	return e
}

type Sink func(protocol.BlockBatchMsg) error

// Batcher collects changes for one viewer. The last change to a cell wins.
// SendChanges flushes whole sections in a fixed order; sections over the
// limiter's budget, or refused by the sink, stay queued for the next call.
type Batcher struct {
	sink    Sink
	limiter *rate.Limiter
	log     *zap.Logger

	mu      sync.Mutex
	pending map[Section]map[cube.Pos]voxel.State
	sent    uint64
}

func New(sink Sink, limiter *rate.Limiter, log *zap.Logger) *Batcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Batcher{sink: sink, limiter: limiter, log: log, pending: map[Section]map[cube.Pos]voxel.State{}}
}

func (b *Batcher) AddChange(p cube.Pos, s voxel.State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := SectionOf(p)
	cells := b.pending[k]
	if cells == nil {
		cells = map[cube.Pos]voxel.State{}
		b.pending[k] = cells
	}
	cells[p] = s
}

func sortSections(ks []Section) {
	sort.Slice(ks, func(i, j int) bool {
		a, c := ks[i], ks[j]
		if a[1] != c[1] {
			return a[1] < c[1]
		}
		if a[2] != c[2] {
			return a[2] < c[2]
		}
		return a[0] < c[0]
	})
}

func sortCells(ps []cube.Pos) {
	sort.Slice(ps, func(i, j int) bool {
		a, c := ps[i], ps[j]
		if a[1] != c[1] {
			return a[1] < c[1]
		}
		if a[2] != c[2] {
			return a[2] < c[2]
		}
		return a[0] < c[0]
	})
}

func (b *Batcher) SendChanges() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return
	}
	keys := make([]Section, 0, len(b.pending))
	for k := range b.pending {
		keys = append(keys, k)
	}
	sortSections(keys)
	for _, k := range keys {
		if b.limiter != nil && !b.limiter.Allow() {
			b.log.Debug("section budget exhausted", zap.Int("queued_sections", len(b.pending)))
			return
		}
		cells := b.pending[k]
		ps := make([]cube.Pos, 0, len(cells))
		for p := range cells {
			ps = append(ps, p)
		}
		sortCells(ps)
		msg := protocol.BlockBatchMsg{
			Type:            protocol.TypeBlockBatch,
			ProtocolVersion: protocol.Version,
			Section:         [3]int(k),
			Blocks:          make([]protocol.BlockEntry, 0, len(ps)),
		}
		for _, p := range ps {
			msg.Blocks = append(msg.Blocks, Entry(p, cells[p]))
		}
		delete(b.pending, k)
		if err := b.sink(msg); err != nil {
			b.requeueLocked(k, cells)
			b.log.Warn("block batch deferred", zap.Error(err), zap.Int("queued_sections", len(b.pending)))
			return
		}
		b.sent++
	}
}

// requeueLocked puts cells back, keeping any change queued for a cell since.
func (b *Batcher) requeueLocked(k Section, cells map[cube.Pos]voxel.State) {
	cur := b.pending[k]
	if cur == nil {
		b.pending[k] = cells
		return
	}
	for p, s := range cells {
		if _, newer := cur[p]; !newer {
			cur[p] = s
		}
	}
}

// Pending is the number of queued sections.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Batcher) Sent() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent
}

// Hub hands out the batcher of each connected viewer.
type Hub struct {
	mu       sync.RWMutex
	batchers map[uuid.UUID]*Batcher
}

func NewHub() *Hub {
	return &Hub{batchers: map[uuid.UUID]*Batcher{}}
}

func (h *Hub) Add(viewer uuid.UUID, b *Batcher) {
	h.mu.Lock()
	h.batchers[viewer] = b
	h.mu.Unlock()
}

func (h *Hub) Remove(viewer uuid.UUID) {
	h.mu.Lock()
	delete(h.batchers, viewer)
	h.mu.Unlock()
}

func (h *Hub) For(viewer uuid.UUID) engine.Transmitter {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, ok := h.batchers[viewer]
	if !ok {
		return nil
	}
	return b
}
