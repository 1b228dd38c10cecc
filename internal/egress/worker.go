// internal/egress/worker.go
package egress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/openwearable/badgecore/internal/ble"
	"github.com/openwearable/badgecore/internal/catalog"
	"github.com/openwearable/badgecore/internal/gatt"
	"github.com/openwearable/badgecore/internal/session"
)

const (
	// MaxInFlight is the credit pool: outstanding unacknowledged DATA
	// notifications.
	MaxInFlight = 3
	// MaxRetries bounds both transient-send and buffer-allocation retry
	// loops.
	MaxRetries = 8

	creditWait        = 200 * time.Millisecond
	allocBackoffStart = 10 * time.Millisecond
	allocBackoffCap   = 100 * time.Millisecond
	transientBackoff  = 8 * time.Millisecond
	chunkPacing       = 4 * time.Millisecond
	pausePoll         = 20 * time.Millisecond
)

// ErrAllocExhausted indicates transport buffer allocation kept failing
// through the whole retry schedule.
var ErrAllocExhausted = errors.New("transport buffer allocation exhausted")

type command int

const (
	cmdStart command = iota
	cmdStop
)

// Worker is the single long-lived consumer of egress commands. One
// transfer runs at a time; the worker owns the file handle from START to
// the terminal status and closes it on every exit path.
type Worker struct {
	stack   ble.Stack
	machine *session.Machine
	cat     *catalog.Catalog
	logger  *log.Logger

	cmds    chan command
	credits chan struct{}
	active  atomic.Bool
	paused  atomic.Bool
}

// NewWorker creates an egress worker.
func NewWorker(stack ble.Stack, machine *session.Machine, cat *catalog.Catalog, logger *log.Logger) *Worker {
	return &Worker{
		stack:   stack,
		machine: machine,
		cat:     cat,
		logger:  logger.With("task", "egress"),
		cmds:    make(chan command, 8),
		credits: make(chan struct{}, MaxInFlight),
	}
}

// Run consumes commands until the context ends.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-w.cmds:
			switch cmd {
			case cmdStart:
				w.transfer(ctx)
			case cmdStop:
				// Stop with nothing active still answers the host.
				w.emit(gatt.StatusStoppedByHost)
			}
		}
	}
}

// EnqueueStart queues a transfer start.
func (w *Worker) EnqueueStart() {
	select {
	case w.cmds <- cmdStart:
	default:
		w.logger.Warn("command queue full, dropping start")
	}
}

// EnqueueStop requests the running transfer to stop and answers the host.
func (w *Worker) EnqueueStop() {
	w.paused.Store(false)
	if w.active.Swap(false) {
		// The running transfer's exit path reports StoppedByHost.
		return
	}
	select {
	case w.cmds <- cmdStop:
	default:
	}
}

// Pause suspends chunk sending without closing the file.
func (w *Worker) Pause() {
	if w.active.Load() {
		w.paused.Store(true)
	}
}

// Resume clears the pause flag.
func (w *Worker) Resume() {
	w.paused.Store(false)
}

// Abort force-stops the transfer (disconnect path). The loop observes the
// cleared flag between chunks and exits.
func (w *Worker) Abort() {
	w.active.Store(false)
	w.paused.Store(false)
}

// ReturnCredit gives back one in-flight credit. Driven by the transport's
// asynchronous notify-transmitted event; a stale return after a transfer
// finished is harmless.
func (w *Worker) ReturnCredit() {
	select {
	case w.credits <- struct{}{}:
	default:
	}
}

// transfer runs one complete egress operation.
func (w *Worker) transfer(ctx context.Context) {
	if err := w.machine.RequestTransfer(); err != nil {
		switch {
		case errors.Is(err, session.ErrBusy):
			w.emit(gatt.StatusBusy)
		case errors.Is(err, session.ErrAlreadyRunning):
			w.emit(gatt.StatusAlreadyRunning)
		default:
			w.emit(gatt.StatusBusy)
		}
		return
	}
	defer w.machine.TransferDone()

	if w.machine.SubscriptionMask() != session.SubAll {
		w.emit(gatt.StatusSubscriptionRequired)
		return
	}
	if w.machine.Conn() == 0 {
		w.emit(gatt.StatusNoConn)
		return
	}

	path := w.machine.Selected()
	if path == "" {
		latest, err := w.cat.FindLatest()
		if err != nil {
			w.emit(gatt.StatusNoFile)
			return
		}
		path = latest
	}

	f, err := os.Open(path)
	if err != nil {
		w.logger.Error("open transfer file", "path", path, "err", err)
		w.emit(gatt.StatusFileOpenFailed)
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil || fi.Size() == 0 {
		w.emit(gatt.StatusNoFile)
		return
	}
	total := fi.Size()

	w.resetCredits()
	w.active.Store(true)
	w.paused.Store(false)
	defer w.active.Store(false)

	w.logger.Info("transfer started", "path", path, "size", total)
	w.emit(gatt.StatusStarted)

	var (
		offset         int64
		seq            uint16
		pausedNotified bool
	)
	for w.active.Load() {
		if ctx.Err() != nil {
			return
		}
		if w.machine.Conn() == 0 {
			w.emit(gatt.StatusNoConn)
			return
		}
		if w.paused.Load() {
			if !pausedNotified {
				w.emit(gatt.StatusPaused)
				pausedNotified = true
			}
			time.Sleep(pausePoll)
			continue
		}
		pausedNotified = false

		if offset == total {
			w.logger.Info("transfer complete", "chunks", seq, "bytes", total)
			w.emit(gatt.StatusComplete)
			return
		}

		if !w.acquireCredit(ctx) {
			// Back-pressure: loop so a stop or disconnect is seen even
			// when the peer has stalled.
			continue
		}

		budget := PayloadBudget(w.machine.MTU())
		buf := make([]byte, budget)
		n, err := f.ReadAt(buf, offset)
		if err != nil && err != io.EOF {
			w.ReturnCredit()
			w.logger.Error("transfer read", "offset", offset, "err", err)
			w.emit(gatt.StatusFileReadFailed)
			return
		}
		if n == 0 {
			w.ReturnCredit()
			w.emit(gatt.StatusFileReadFailed)
			return
		}

		chunk := Chunk{
			Seq:     seq,
			EOF:     offset+int64(n) == total,
			Payload: buf[:n],
		}
		if err := w.sendWithRetry(ctx, chunk.Encode()); err != nil {
			w.ReturnCredit()
			if errors.Is(err, ble.ErrNoConnection) {
				w.emit(gatt.StatusNoConn)
			} else {
				w.logger.Error("transfer send", "seq", seq, "err", err)
				w.emit(gatt.StatusNotifyFailed)
			}
			return
		}
		offset += int64(n)
		seq++
		time.Sleep(chunkPacing)
	}

	// Loop exited via a cleared active flag: a host stop or a
	// disconnect-driven abort.
	if w.machine.Conn() == 0 {
		w.emit(gatt.StatusNoConn)
		return
	}
	w.emit(gatt.StatusStoppedByHost)
}

// acquireCredit takes one in-flight credit, giving up after creditWait so
// the caller can re-check liveness.
func (w *Worker) acquireCredit(ctx context.Context) bool {
	t := time.NewTimer(creditWait)
	defer t.Stop()
	select {
	case <-w.credits:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// resetCredits refills the pool for a new transfer.
func (w *Worker) resetCredits() {
drain:
	for {
		select {
		case <-w.credits:
		default:
			break drain
		}
	}
	for i := 0; i < MaxInFlight; i++ {
		w.credits <- struct{}{}
	}
}

// sendWithRetry submits one DATA notification, retrying transient
// transport failures: allocation pressure backs off exponentially from
// allocBackoffStart up to allocBackoffCap, controller congestion waits a
// flat transientBackoff, both bounded by MaxRetries.
func (w *Worker) sendWithRetry(ctx context.Context, frame []byte) error {
	var allocTries, busyTries int
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := w.stack.Notify(w.machine.Conn(), ble.ChrEgressData, frame)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ble.ErrNoBuffers):
			allocTries++
			if allocTries >= MaxRetries {
				return fmt.Errorf("%w: %v", ErrAllocExhausted, err)
			}
			time.Sleep(allocBackoff(allocTries))
		case errors.Is(err, ble.ErrControllerBusy):
			busyTries++
			if busyTries >= MaxRetries {
				return err
			}
			time.Sleep(transientBackoff)
		default:
			return err
		}
	}
}

// allocBackoff computes the delay before allocation attempt n (1-based):
// 10, 20, 40, 80 ms, then capped at 100 ms.
func allocBackoff(attempt int) time.Duration {
	d := allocBackoffStart << (attempt - 1)
	if d > allocBackoffCap || d <= 0 {
		d = allocBackoffCap
	}
	return d
}

// emit notifies a single status byte on the STATUS characteristic.
// Failures are logged only; status delivery is best-effort.
func (w *Worker) emit(s gatt.Status) {
	w.logger.Info("status", "code", s.String())
	conn := w.machine.Conn()
	if conn == 0 {
		return
	}
	if err := w.stack.Notify(conn, ble.ChrEgressStatus, []byte{byte(s)}); err != nil {
		w.logger.Debug("status notify", "code", s.String(), "err", err)
	}
}
