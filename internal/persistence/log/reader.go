package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// TraceFiles lists the trace files under dir in chronological order.
func TraceFiles(dir string) ([]string, error) {
	base := filepath.Join(dir, "trace")
	ents, err := os.ReadDir(base)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "portal-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(base, name))
	}
	return out, nil
}

// TraceVisitor receives decoded entries. Exactly one of r and p is non-nil.
type TraceVisitor func(r *RefreshEntry, p *PassEntry) error

func ReadTrace(path string, fn TraceVisitor) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		var head struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(line, &head); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		switch head.Kind {
		case "refresh":
			var r RefreshEntry
			if err := json.Unmarshal(line, &r); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
			}
			err = fn(&r, nil)
		case "pass":
			var p PassEntry
			if err := json.Unmarshal(line, &p); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
			}
			err = fn(nil, &p)
		default:
			continue
		}
		if err != nil {
			return err
		}
	}
	return sc.Err()
}

// TraceSummary aggregates one portal's trace entries.
type TraceSummary struct {
	Portal         string `json:"portal"`
	Refreshes      int    `json:"refreshes"`
	Full           int    `json:"full"`
	MaxNonObscured int    `json:"max_non_obscured"`
	MaxViewable    int    `json:"max_viewable"`
	DestChanges    int    `json:"dest_changes"`
	Passes         int    `json:"passes"`
	Changes        int    `json:"changes"`
	Reverted       int    `json:"reverted"`
	Viewers        int    `json:"viewers"`
}

// Summarize folds every trace file under dir into per-portal summaries,
// sorted by portal id.
func Summarize(dir string) ([]TraceSummary, error) {
	files, err := TraceFiles(dir)
	if err != nil {
		return nil, err
	}
	by := map[string]*TraceSummary{}
	viewers := map[string]map[string]bool{}
	get := func(id string) *TraceSummary {
		s, ok := by[id]
		if !ok {
			s = &TraceSummary{Portal: id}
			by[id] = s
			viewers[id] = map[string]bool{}
		}
		return s
	}
	for _, path := range files {
		err := ReadTrace(path, func(r *RefreshEntry, p *PassEntry) error {
			if r != nil {
				s := get(r.Portal)
				s.Refreshes++
				if r.Mode == "full" {
					s.Full++
				}
				s.MaxNonObscured = max(s.MaxNonObscured, r.NonObscured)
				s.MaxViewable = max(s.MaxViewable, r.Viewable)
				s.DestChanges += r.DestChanges
				return nil
			}
			s := get(p.Portal)
			s.Passes++
			s.Changes += p.Changes
			s.Reverted += p.Reverted
			viewers[p.Portal][p.Viewer] = true
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	out := make([]TraceSummary, 0, len(by))
	for id, s := range by {
		s.Viewers = len(viewers[id])
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Portal < out[j].Portal })
	return out, nil
}
