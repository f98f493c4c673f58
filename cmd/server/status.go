package main

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"voxelportals.ai/internal/sim/portal/engine"
	"voxelportals.ai/internal/sim/portal/geom"
	"voxelportals.ai/internal/sim/portal/scheduler"
)

type portalSource interface {
	Portals() []uuid.UUID
	Frame(id uuid.UUID) *geom.Frame
	Stats(id uuid.UUID) engine.PortalStats
	SchedulerStats() scheduler.Stats
}

type portalEntry struct {
	ID    string             `json:"id"`
	Frame string             `json:"frame"`
	Stats engine.PortalStats `json:"stats"`
}

type portalStatus struct {
	Portals   []portalEntry   `json:"portals"`
	Scheduler scheduler.Stats `json:"scheduler"`
}

// Portals unregistered between listing and lookup are left out.
func collectStatus(src portalSource) portalStatus {
	out := portalStatus{Portals: []portalEntry{}, Scheduler: src.SchedulerStats()}
	for _, id := range src.Portals() {
		f := src.Frame(id)
		if f == nil {
			continue
		}
		out.Portals = append(out.Portals, portalEntry{ID: id.String(), Frame: f.String(), Stats: src.Stats(id)})
	}
	return out
}

func portalsHandler(src portalSource) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(collectStatus(src))
	}
}
