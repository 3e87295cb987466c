// Package eventlog archives engine events as hourly-rotated,
// zstd-compressed JSON lines.
package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/blockberries/lootbox"
	"github.com/blockberries/lootbox/types"
)

// Compile-time interface check.
var _ lootbox.Notifier = (*Writer)(nil)

const (
	hourLayout = "2006-01-02-15"
	suffix     = ".jsonl.zst"
)

// Writer appends events to <dir>/<prefix>-<hour>.jsonl.zst. The hour is
// taken from the event timestamp, so replaying old events lands them in
// the file of the hour they happened in.
type Writer struct {
	dir    string
	prefix string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

// NewWriter creates a writer rooted at dir. Files are opened lazily.
func NewWriter(dir, prefix string) *Writer {
	return &Writer{dir: dir, prefix: prefix}
}

// Notify writes ev as one JSON line.
func (w *Writer) Notify(_ context.Context, ev types.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := ev.Time.ToTime().Format(hourLayout)
	if hour != w.curHour || w.w == nil {
		if err := w.rotateLocked(hour); err != nil {
			return fmt.Errorf("eventlog: rotate: %w", err)
		}
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventlog: encode %s: %w", ev.Kind, err)
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

// Close flushes and closes the current file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *Writer) closeLocked() error {
	var err error
	if w.w != nil {
		err = w.w.Flush()
	}
	if w.enc != nil {
		err = errors.Join(err, w.enc.Close())
		w.enc = nil
	}
	if w.f != nil {
		err = errors.Join(err, w.f.Close())
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err
}

func (w *Writer) pathForHour(hour string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s%s", w.prefix, hour, suffix))
}

// Files lists the archive files of prefix under dir, oldest first.
func Files(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, suffix) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	// The hour layout sorts lexically.
	sort.Strings(out)
	return out, nil
}

// ReadFile decodes every event of one archive file and calls fn for
// each. Returning an error from fn stops the scan.
func ReadFile(path string, fn func(types.Event) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("eventlog: %s: %w", path, err)
	}
	defer dec.Close()

	return decodeLines(dec, path, fn)
}

func decodeLines(r io.Reader, path string, fn func(types.Event) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var ev types.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return fmt.Errorf("eventlog: %s:%d: %w", path, line, err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("eventlog: %s: %w", path, err)
	}
	return nil
}

// ReadAll replays every archived event of prefix under dir in order.
func ReadAll(dir, prefix string, fn func(types.Event) error) error {
	files, err := Files(dir, prefix)
	if err != nil {
		return err
	}
	for _, p := range files {
		if err := ReadFile(p, fn); err != nil {
			return err
		}
	}
	return nil
}
