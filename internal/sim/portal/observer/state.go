package observer

import (
	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/sasha-s/go-deadlock"

	"voxelportals.ai/internal/sim/voxel"
)

// ViewerState is what one viewer has been sent for one portal. All methods
// except Lock and Unlock require the lock to be held.
type ViewerState struct {
	mu          deadlock.Mutex
	sent        map[cube.Pos]voxel.State
	deactivated bool
}

func NewViewerState() *ViewerState {
	return &ViewerState{sent: map[cube.Pos]voxel.State{}}
}

func (v *ViewerState) Lock()   { v.mu.Lock() }
func (v *ViewerState) Unlock() { v.mu.Unlock() }

func (v *ViewerState) Deactivated() bool { return v.deactivated }
func (v *ViewerState) MarkDeactivated()  { v.deactivated = true }

func (v *ViewerState) Sent(p cube.Pos) (voxel.State, bool) {
	s, ok := v.sent[p]
	return s, ok
}

func (v *ViewerState) Len() int { return len(v.sent) }
