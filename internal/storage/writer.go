// internal/storage/writer.go
package storage

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/openwearable/badgecore/internal/clock"
	"github.com/openwearable/badgecore/internal/sanitize"
)

const (
	// BatchRecords is the in-memory buffer depth; a full buffer is
	// written to storage in a single 5120-byte operation.
	BatchRecords = 512
)

var (
	// ErrNotStarted indicates Append was called outside a session.
	ErrNotStarted = errors.New("recording writer not started")
	// ErrAlreadyStarted indicates Start was called twice without a stop.
	ErrAlreadyStarted = errors.New("recording writer already started")
	// ErrOpenFailed indicates the filesystem refused to create the file.
	ErrOpenFailed = errors.New("recording open failed")
	// ErrWriteFailed indicates a batch write did not complete.
	ErrWriteFailed = errors.New("recording write failed")
)

// Writer persists sanitized samples as a header-prefixed record stream.
// It is single-owner: only the audio pipeline's writer task may call
// Append while a session is open.
//
// The header goes to disk with zero TotalSamples and EndMs; Stop rewrites
// it with the final counts. A power loss mid-session therefore leaves a
// file whose true sample count is (filesize - 32) / 10.
type Writer struct {
	mu       sync.Mutex
	clk      clock.Clock
	counters *sanitize.Counters
	logger   *log.Logger

	f       *os.File
	path    string
	buf     []byte
	bufRecs int
	written uint32
	seq     uint32
	startMs uint32
	started bool
}

// NewWriter creates a writer. The sequence counter runs across sessions
// for the life of the process.
func NewWriter(clk clock.Clock, counters *sanitize.Counters, logger *log.Logger) *Writer {
	return &Writer{
		clk:      clk,
		counters: counters,
		logger:   logger.With("task", "storage"),
		buf:      make([]byte, 0, BatchRecords*RecordSize),
	}
}

// Start opens path for write-create-truncate and writes a fresh header.
func (w *Writer) Start(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return ErrAlreadyStarted
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}

	w.startMs = w.clk.NowMs()
	var hdr [HeaderSize]byte
	NewHeader(w.startMs).Encode(hdr[:])
	if _, err := f.Write(hdr[:]); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: header: %v", ErrOpenFailed, err)
	}

	w.f = f
	w.path = path
	w.buf = w.buf[:0]
	w.bufRecs = 0
	w.written = 0
	w.started = true
	w.logger.Info("recording started", "path", path)
	return nil
}

// Append sanitizes one sample and buffers its record, flushing a full
// batch in a single write. Fails with ErrNotStarted outside a session.
func (w *Writer) Append(value uint16, tsMs uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return ErrNotStarted
	}

	rec := Record{
		Value:       w.counters.Sample(value),
		TimestampMs: tsMs,
		SequenceNo:  w.seq,
	}
	var packed [RecordSize]byte
	rec.Encode(packed[:])
	w.buf = append(w.buf, packed[:]...)
	w.bufRecs++
	w.seq++
	w.written++

	if w.bufRecs == BatchRecords {
		return w.flushLocked()
	}
	return nil
}

// Stop flushes the partial batch, rewrites the header with the final
// counts, and closes the file. The pipeline must clear its recording flag
// and let the consumer drain before calling. Stopping an already-stopped
// writer is a no-op that returns success. Finalization failures are
// logged, not returned: the file stays interpretable up to the last
// completed batch.
func (w *Writer) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return nil
	}
	w.started = false

	if err := w.flushLocked(); err != nil {
		w.logger.Error("flush on stop", "err", err)
	}

	hdr := NewHeader(w.startMs)
	hdr.TotalSamples = w.written
	hdr.EndMs = w.clk.NowMs()
	var packed [HeaderSize]byte
	hdr.Encode(packed[:])
	if _, err := w.f.WriteAt(packed[:], 0); err != nil {
		w.logger.Error("finalize header", "err", err)
	}

	if err := w.f.Close(); err != nil {
		w.logger.Error("close recording", "err", err)
	}
	w.f = nil
	w.logger.Info("recording stopped", "path", w.path, "samples", w.written)
	return nil
}

// flushLocked writes the buffered records in one operation. On failure the
// buffer contents are discarded; the file remains valid up to the last
// successful batch.
func (w *Writer) flushLocked() error {
	if w.bufRecs == 0 {
		return nil
	}
	want := len(w.buf)
	n, err := w.f.Write(w.buf)
	w.buf = w.buf[:0]
	w.bufRecs = 0
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if n < want {
		return fmt.Errorf("%w: short write (%d of %d)", ErrWriteFailed, n, want)
	}
	return nil
}

// SamplesWritten reports how many samples this session has accepted.
func (w *Writer) SamplesWritten() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Started reports whether a session is open.
func (w *Writer) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// Path returns the file path of the current (or last) session.
func (w *Writer) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}
