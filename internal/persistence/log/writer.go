package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// HourlyWriter appends JSON lines to zstd files, one file per UTC hour.
type HourlyWriter struct {
	dir    string
	prefix string
	now    func() time.Time

	mu    sync.Mutex
	hour  string
	f     *os.File
	enc   *zstd.Encoder
	buf   *bufio.Writer
	lines int
}

func NewHourlyWriter(dir, prefix string) *HourlyWriter {
	return &HourlyWriter{dir: dir, prefix: prefix, now: time.Now}
}

func (w *HourlyWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.hour || w.buf == nil {
		if err := w.openLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.buf.Write(b); err != nil {
		return err
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return err
	}
	w.lines++
	return nil
}

// Flush pushes buffered lines into the current zstd frame.
func (w *HourlyWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return nil
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *HourlyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *HourlyWriter) Path(hour string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

func (w *HourlyWriter) openLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.Path(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.enc, w.hour = f, enc, hour
	w.buf = bufio.NewWriterSize(enc, 64*1024)
	return nil
}

func (w *HourlyWriter) closeLocked() error {
	var err error
	if w.buf != nil {
		err = w.buf.Flush()
		w.buf = nil
	}
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
		w.enc = nil
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
		w.f = nil
	}
	return err
}
