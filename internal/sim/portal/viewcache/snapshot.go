package viewcache

import (
	"sort"

	"github.com/df-mc/dragonfly/server/block/cube"
)

// Snapshot is an immutable copy of a cache's viewable cells. Workers read it
// while the next refresh builds its successor.
type Snapshot struct {
	Generation  uint64
	Populated   bool
	NonObscured int

	cells map[cube.Pos]Record
}

var emptySnapshot = &Snapshot{}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.cells)
}

func (s *Snapshot) Get(o cube.Pos) (Record, bool) {
	if s == nil {
		return Record{}, false
	}
	r, ok := s.cells[o]
	return r, ok
}

// Positions returns the viewable origin positions ordered by y, z, x.
func (s *Snapshot) Positions() []cube.Pos {
	if s == nil {
		return nil
	}
	out := make([]cube.Pos, 0, len(s.cells))
	for p := range s.cells {
		out = append(out, p)
	}
	SortPositions(out)
	return out
}

func SortPositions(ps []cube.Pos) {
	sort.Slice(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a[1] != b[1] {
			return a[1] < b[1]
		}
		if a[2] != b[2] {
			return a[2] < b[2]
		}
		return a[0] < b[0]
	})
}
