package log

import (
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"voxelportals.ai/internal/sim/portal/engine"
)

type RefreshEntry struct {
	Kind        string `json:"kind"`
	At          string `json:"at"`
	Portal      string `json:"portal"`
	Tick        int    `json:"tick"`
	Mode        string `json:"mode"`
	NonObscured int    `json:"non_obscured"`
	Viewable    int    `json:"viewable"`
	DestChanges int    `json:"dest_changes"`
	Removed     int    `json:"removed"`
	DurationUS  int64  `json:"duration_us"`
}

type PassEntry struct {
	Kind       string `json:"kind"`
	At         string `json:"at"`
	Viewer     string `json:"viewer"`
	Portal     string `json:"portal"`
	Refresh    bool   `json:"refresh"`
	Changes    int    `json:"changes"`
	Visible    int    `json:"visible"`
	Reverted   int    `json:"reverted"`
	DurationUS int64  `json:"duration_us"`
}

// TraceLogger records refreshes and passes as compressed JSON lines. Passes
// that changed nothing are skipped.
type TraceLogger struct {
	w   *HourlyWriter
	log *zap.Logger
}

func NewTraceLogger(dir string, log *zap.Logger) *TraceLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &TraceLogger{w: NewHourlyWriter(filepath.Join(dir, "trace"), "portal"), log: log}
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func (l *TraceLogger) RecordRefresh(r engine.RefreshRecord) {
	l.write(RefreshEntry{
		Kind:        "refresh",
		At:          stamp(r.At),
		Portal:      r.Portal.String(),
		Tick:        r.Tick,
		Mode:        r.Mode,
		NonObscured: r.NonObscured,
		Viewable:    r.Viewable,
		DestChanges: r.DestChanges,
		Removed:     r.Removed,
		DurationUS:  r.Duration.Microseconds(),
	})
}

func (l *TraceLogger) RecordPass(r engine.PassRecord) {
	if r.Changes == 0 {
		return
	}
	l.write(PassEntry{
		Kind:       "pass",
		At:         stamp(r.At),
		Viewer:     r.Viewer.String(),
		Portal:     r.Portal.String(),
		Refresh:    r.Refresh,
		Changes:    r.Changes,
		Visible:    r.Visible,
		Reverted:   r.Reverted,
		DurationUS: r.Duration.Microseconds(),
	})
}

func (l *TraceLogger) write(v any) {
	if err := l.w.Write(v); err != nil {
		l.log.Warn("trace write failed", zap.Error(err))
	}
}

func (l *TraceLogger) Flush() error { return l.w.Flush() }
func (l *TraceLogger) Close() error { return l.w.Close() }
