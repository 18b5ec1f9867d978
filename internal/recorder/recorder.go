// Package recorder persists raw {counter, frame_index} samples to rotating
// binary files on its own non-realtime thread, so neither audio callback
// ever blocks on file I/O (§4.8, §5). There is no corpus library for
// fixed-width binary record rotation with sweep-on-rotation retention
// (lumberjack, the nearest candidate, rotates a single size-triggered text
// stream); this stays on buffered os/bufio, justified in DESIGN.md.
package recorder

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// RecordSize is the fixed on-disk record layout: u16 counter, u64
	// frame_index, little-endian.
	RecordSize = 10

	// RotateInterval is how often a new file is opened.
	RotateInterval = 10 * time.Minute

	// Retention is how long rotated files are kept before being swept.
	Retention = 1 * time.Hour

	timestampLayout = "20060102-150405.000"
)

// Record is one {counter, frame_index} sample pair.
type Record struct {
	Counter    uint16
	FrameIndex uint64
}

// Encode writes r into a fixed 10-byte little-endian buffer.
func (r Record) Encode() [RecordSize]byte {
	var buf [RecordSize]byte
	binary.LittleEndian.PutUint16(buf[0:2], r.Counter)
	binary.LittleEndian.PutUint64(buf[2:10], r.FrameIndex)
	return buf
}

// Decode reads a Record from a fixed 10-byte little-endian buffer.
func Decode(buf [RecordSize]byte) Record {
	return Record{
		Counter:    binary.LittleEndian.Uint16(buf[0:2]),
		FrameIndex: binary.LittleEndian.Uint64(buf[2:10]),
	}
}

// stream manages one rotating file (either the "sent" or "recv" side).
type stream struct {
	dir    string
	prefix string

	file     *os.File
	writer   *bufio.Writer
	openedAt time.Time
	nowFn    func() time.Time
}

func newStream(dir, prefix string, nowFn func() time.Time) *stream {
	return &stream{dir: dir, prefix: prefix, nowFn: nowFn}
}

func (s *stream) filename(ts time.Time) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.bin", s.prefix, ts.Format(timestampLayout)))
}

func (s *stream) rotateIfNeeded() error {
	now := s.nowFn()
	if s.file != nil && now.Sub(s.openedAt) < RotateInterval {
		return nil
	}
	if err := s.closeCurrent(); err != nil {
		return err
	}
	f, err := os.Create(s.filename(now))
	if err != nil {
		return err
	}
	s.file = f
	s.writer = bufio.NewWriter(f)
	s.openedAt = now
	return sweep(s.dir, s.prefix, now)
}

func (s *stream) write(rec Record) error {
	if err := s.rotateIfNeeded(); err != nil {
		return err
	}
	buf := rec.Encode()
	_, err := s.writer.Write(buf[:])
	return err
}

func (s *stream) flush() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Flush()
}

func (s *stream) closeCurrent() error {
	if s.file == nil {
		return nil
	}
	if err := s.writer.Flush(); err != nil {
		s.file.Close()
		return err
	}
	err := s.file.Close()
	s.file = nil
	s.writer = nil
	return err
}

// sweep removes files under dir matching prefix_*.bin older than Retention,
// relative to now. Called on every rotation (§4.8: "sweeping on every
// rotation").
func sweep(dir, prefix string, now time.Time) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	cutoff := now.Add(-Retention)
	want := prefix + "_"
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, want) || !strings.HasSuffix(name, ".bin") {
			continue
		}
		tsPart := strings.TrimSuffix(strings.TrimPrefix(name, want), ".bin")
		ts, err := time.Parse(timestampLayout, tsPart)
		if err != nil {
			continue
		}
		if ts.Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, name))
		}
	}
	return nil
}

// Recorder writes two parallel streams of Records — "sent" (emitted on the
// output side) and "recv" (observed on the input side) — to the given
// directory, rotating and sweeping on its own schedule. Not safe for
// concurrent Write calls from more than one goroutine per side; callers
// typically drain a dedicated channel from a single recorder goroutine.
type Recorder struct {
	sent *stream
	recv *stream
}

// New returns a Recorder rooted at dir, creating it if necessary.
func New(dir string) (*Recorder, error) {
	return NewWithClock(dir, time.Now)
}

// NewWithClock is New with an injectable clock, for deterministic tests.
func NewWithClock(dir string, nowFn func() time.Time) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{
		sent: newStream(dir, "sent", nowFn),
		recv: newStream(dir, "recv", nowFn),
	}, nil
}

// WriteSent appends one emitted-side record.
func (r *Recorder) WriteSent(rec Record) error { return r.sent.write(rec) }

// WriteRecv appends one received-side record.
func (r *Recorder) WriteRecv(rec Record) error { return r.recv.write(rec) }

// Flush flushes both streams' buffered writers without closing the
// underlying files.
func (r *Recorder) Flush() error {
	if err := r.sent.flush(); err != nil {
		return err
	}
	return r.recv.flush()
}

// Close flushes and closes both streams' current files.
func (r *Recorder) Close() error {
	if err := r.sent.closeCurrent(); err != nil {
		r.recv.closeCurrent()
		return err
	}
	return r.recv.closeCurrent()
}

// Run drains sent/recv record channels onto its own goroutine until done
// is closed, never blocking the audio callbacks that feed the channels.
// Writes stay buffered while it runs; both streams are flushed and closed
// on exit.
func (r *Recorder) Run(done <-chan struct{}, sent, recv <-chan Record) {
	defer r.Close()
	for {
		select {
		case <-done:
			return
		case rec := <-sent:
			r.WriteSent(rec)
		case rec := <-recv:
			r.WriteRecv(rec)
		}
	}
}

// sortedBinFiles lists the .bin files under dir with the given prefix in
// ascending timestamp order. Unexported; used by this package's tests.
func sortedBinFiles(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	want := prefix + "_"
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), want) && strings.HasSuffix(e.Name(), ".bin") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
