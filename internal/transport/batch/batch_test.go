package batch

import (
	"errors"
	"testing"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"voxelportals.ai/internal/protocol"
	"voxelportals.ai/internal/sim/voxel"
)

type capture struct {
	msgs []protocol.BlockBatchMsg
	err  error
}

func (c *capture) sink(m protocol.BlockBatchMsg) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, m)
	return nil
}

func TestSectionOf_Negative(t *testing.T) {
	cases := map[cube.Pos]Section{
		{0, 0, 0}:      {0, 0, 0},
		{15, 31, -1}:   {0, 1, -1},
		{-16, -17, 16}: {-1, -2, 1},
	}
	for p, want := range cases {
		if got := SectionOf(p); got != want {
			t.Fatalf("SectionOf(%v)=%v want %v", p, got, want)
		}
	}
}

func TestBatcher_GroupsSortsAndLastWriteWins(t *testing.T) {
	c := &capture{}
	b := New(c.sink, nil, zap.NewNop())
	b.AddChange(cube.Pos{1, 65, -2}, voxel.Plain("STONE"))
	b.AddChange(cube.Pos{0, 65, -2}, voxel.Plain("GLASS"))
	b.AddChange(cube.Pos{1, 65, -2}, voxel.Facing("FURNACE", cube.FaceNorth))
	b.AddChange(cube.Pos{0, 10, 0}, voxel.Axial("OAK_LOG", cube.Y))
	b.SendChanges()

	if len(c.msgs) != 2 {
		t.Fatalf("messages: %d", len(c.msgs))
	}
	if c.msgs[0].Section != [3]int{0, 0, 0} || c.msgs[1].Section != [3]int{0, 4, -1} {
		t.Fatalf("section order: %v %v", c.msgs[0].Section, c.msgs[1].Section)
	}
	blocks := c.msgs[1].Blocks
	if len(blocks) != 2 || blocks[0].Block != "GLASS" || blocks[1].Block != "FURNACE" {
		t.Fatalf("blocks: %+v", blocks)
	}
	if blocks[1].Props["facing"] != "north" || c.msgs[0].Blocks[0].Props["axis"] != "y" {
		t.Fatalf("props: %+v / %+v", blocks[1].Props, c.msgs[0].Blocks[0].Props)
	}
	if b.Pending() != 0 || b.Sent() != 2 {
		t.Fatalf("pending=%d sent=%d", b.Pending(), b.Sent())
	}
}

func TestBatcher_BudgetKeepsSectionsQueued(t *testing.T) {
	c := &capture{}
	b := New(c.sink, rate.NewLimiter(rate.Limit(0.001), 2), zap.NewNop())
	for i := 0; i < 4; i++ {
		b.AddChange(cube.Pos{i * 16, 0, 0}, voxel.Plain("STONE"))
	}
	b.SendChanges()
	if len(c.msgs) != 2 || b.Pending() != 2 {
		t.Fatalf("sent %d, pending %d", len(c.msgs), b.Pending())
	}
}

func TestBatcher_BudgetRefillDeliversQueued(t *testing.T) {
	c := &capture{}
	lim := rate.NewLimiter(rate.Limit(0.001), 1)
	b := New(c.sink, lim, zap.NewNop())
	for i := 0; i < 3; i++ {
		b.AddChange(cube.Pos{i * 16, 0, 0}, voxel.Plain("STONE"))
	}
	b.SendChanges()
	if len(c.msgs) != 1 || b.Pending() != 2 {
		t.Fatalf("sent %d, pending %d", len(c.msgs), b.Pending())
	}

	lim.SetLimit(rate.Inf)
	b.SendChanges()
	if len(c.msgs) != 3 || b.Pending() != 0 || b.Sent() != 3 {
		t.Fatalf("after refill: sent %d, pending %d, counted %d", len(c.msgs), b.Pending(), b.Sent())
	}
}

func TestBatcher_SinkErrorKeepsSectionQueued(t *testing.T) {
	c := &capture{err: errors.New("send queue full")}
	b := New(c.sink, nil, nil)
	b.AddChange(cube.Pos{}, voxel.Rail("RAIL", voxel.RailAscendingEast))
	b.AddChange(cube.Pos{1, 0, 0}, voxel.Plain("STONE"))
	b.AddChange(cube.Pos{32, 0, 0}, voxel.Plain("STONE"))
	b.SendChanges()
	if b.Pending() != 2 || b.Sent() != 0 {
		t.Fatalf("pending=%d sent=%d", b.Pending(), b.Sent())
	}

	// A newer change for a queued cell wins over the deferred one.
	b.AddChange(cube.Pos{1, 0, 0}, voxel.Plain("GLASS"))
	c.err = nil
	b.SendChanges()
	if b.Pending() != 0 || b.Sent() != 2 || len(c.msgs) != 2 {
		t.Fatalf("pending=%d sent=%d msgs=%d", b.Pending(), b.Sent(), len(c.msgs))
	}
	blocks := c.msgs[0].Blocks
	if len(blocks) != 2 || blocks[0].Block != "RAIL" || blocks[1].Block != "GLASS" {
		t.Fatalf("blocks: %+v", blocks)
	}
	if blocks[0].Props["shape"] != "ascending_east" {
		t.Fatalf("rail props: %+v", blocks[0].Props)
	}
}

func TestBatcher_SendChangesWithNothingQueued(t *testing.T) {
	calls := 0
	b := New(func(protocol.BlockBatchMsg) error { calls++; return nil }, rate.NewLimiter(rate.Limit(0.001), 1), nil)
	b.SendChanges()
	b.AddChange(cube.Pos{}, voxel.Plain("STONE"))
	b.SendChanges()
	if calls != 1 {
		t.Fatalf("sink calls: %d", calls)
	}
}

func TestHub_UnknownViewer(t *testing.T) {
	h := NewHub()
	v := uuid.New()
	if h.For(v) != nil {
		t.Fatalf("unknown viewer should have no transmitter")
	}
	h.Add(v, New(func(protocol.BlockBatchMsg) error { return nil }, nil, nil))
	if h.For(v) == nil {
		t.Fatalf("registered viewer missing")
	}
	h.Remove(v)
	if h.For(v) != nil {
		t.Fatalf("removed viewer still present")
	}
}
