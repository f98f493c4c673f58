package engine

import (
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/google/uuid"

	"voxelportals.ai/internal/sim/voxel"
)

// BlockSource serves live block states. Worlds whose data is fetched from
// elsewhere report Ready false until they can be read.
type BlockSource interface {
	Ready(world string) bool
	BlockState(world string, p cube.Pos) voxel.State
}

// Transmitter batches block changes for one viewer.
type Transmitter interface {
	AddChange(p cube.Pos, s voxel.State)
	SendChanges()
}

type Transmitters interface {
	For(viewer uuid.UUID) Transmitter
}

type RefreshRecord struct {
	At          time.Time
	Portal      uuid.UUID
	Tick        int
	Mode        string
	NonObscured int
	Viewable    int
	DestChanges int
	Removed     int
	Duration    time.Duration
}

type PassRecord struct {
	At       time.Time
	Viewer   uuid.UUID
	Portal   uuid.UUID
	Refresh  bool
	Changes  int
	Visible  int
	Reverted int
	Duration time.Duration
}

type Recorder interface {
	RecordRefresh(r RefreshRecord)
	RecordPass(r PassRecord)
}

// Recorders fans records out to several recorders.
type Recorders []Recorder

func (rs Recorders) RecordRefresh(r RefreshRecord) {
	for _, x := range rs {
		x.RecordRefresh(r)
	}
}

func (rs Recorders) RecordPass(r PassRecord) {
	for _, x := range rs {
		x.RecordPass(r)
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordRefresh(RefreshRecord) {}
func (nopRecorder) RecordPass(PassRecord)       {}
