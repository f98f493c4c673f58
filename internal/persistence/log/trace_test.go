package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"voxelportals.ai/internal/sim/portal/engine"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()
	var out []map[string]any
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestTraceLogger_WritesRefreshAndPass(t *testing.T) {
	dir := t.TempDir()
	l := NewTraceLogger(dir, zap.NewNop())
	at := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	l.w.now = func() time.Time { return at }
	portal := uuid.New()

	l.RecordRefresh(engine.RefreshRecord{At: at, Portal: portal, Tick: 4, Mode: "full", NonObscured: 10, Viewable: 3, Duration: 2 * time.Millisecond})
	l.RecordPass(engine.PassRecord{At: at, Viewer: uuid.New(), Portal: portal, Changes: 0})
	l.RecordPass(engine.PassRecord{At: at, Viewer: uuid.New(), Portal: portal, Changes: 5, Visible: 5})
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "trace", "portal-2026-03-01-10.jsonl.zst"))
	if len(lines) != 2 {
		t.Fatalf("lines: %d (empty passes should be skipped)", len(lines))
	}
	if lines[0]["kind"] != "refresh" || lines[0]["mode"] != "full" || lines[0]["duration_us"].(float64) != 2000 {
		t.Fatalf("refresh line: %v", lines[0])
	}
	if lines[1]["kind"] != "pass" || lines[1]["changes"].(float64) != 5 {
		t.Fatalf("pass line: %v", lines[1])
	}
}

func TestHourlyWriter_RotatesByHour(t *testing.T) {
	dir := t.TempDir()
	w := NewHourlyWriter(dir, "x")
	at := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return at }
	if err := w.Write(map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}
	at = at.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"n": 2}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	for _, hour := range []string{"2026-03-01-23", "2026-03-02-00"} {
		if got := readLines(t, w.Path(hour)); len(got) != 1 {
			t.Fatalf("%s: %d lines", hour, len(got))
		}
	}
}
