// internal/pipeline/pipeline.go
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/openwearable/badgecore/internal/analog"
	"github.com/openwearable/badgecore/internal/ble"
	"github.com/openwearable/badgecore/internal/catalog"
	"github.com/openwearable/badgecore/internal/clock"
	"github.com/openwearable/badgecore/internal/dsp"
	"github.com/openwearable/badgecore/internal/queue"
	"github.com/openwearable/badgecore/internal/sanitize"
	"github.com/openwearable/badgecore/internal/storage"
	"github.com/openwearable/badgecore/internal/ui"
)

const (
	// advQuiesceTimeout bounds the wait for the advertiser to confirm it
	// is off before the analog path powers up. The radio and the analog
	// front end share a noise-coupling budget and never run together.
	advQuiesceTimeout = 200 * time.Millisecond
	advQuiescePoll    = 5 * time.Millisecond
)

// Controller composes the sampler, the bounded queue and the storage
// writer into one recording pipeline, started and stopped as a unit by
// the session state machine.
type Controller struct {
	source   analog.Source
	q        *queue.Queue
	writer   *storage.Writer
	counters *sanitize.Counters
	cond     *dsp.Conditioner
	clk      clock.Clock
	led      ui.LED
	adv      ble.Advertiser
	cat      *catalog.Catalog
	logger   *log.Logger

	recording  atomic.Bool
	writerDone chan struct{}
	livePeak   atomic.Int32
}

// NewController wires the pipeline. The sanitizer counters are shared
// with the storage writer so substitutions are counted exactly once.
func NewController(
	source analog.Source,
	q *queue.Queue,
	writer *storage.Writer,
	counters *sanitize.Counters,
	clk clock.Clock,
	led ui.LED,
	adv ble.Advertiser,
	cat *catalog.Catalog,
	logger *log.Logger,
) *Controller {
	return &Controller{
		source:   source,
		q:        q,
		writer:   writer,
		counters: counters,
		cond:     dsp.NewConditioner(),
		clk:      clk,
		led:      led,
		adv:      adv,
		cat:      cat,
		logger:   logger.With("task", "pipeline"),
	}
}

// Start runs the capture start protocol: silence the advertiser, open the
// storage session, then bring the sampler up. Any failure rolls back and
// re-enables advertising. The caller (state machine) has already checked
// the session is idle.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.adv.StopAdvertising(); err != nil {
		c.logger.Error("stop advertising", "err", err)
	}
	c.waitAdvQuiesce()

	path, err := c.cat.NextRecordingPath()
	if err != nil {
		c.readvertise()
		return fmt.Errorf("allocate recording: %w", err)
	}
	if err := c.writer.Start(path); err != nil {
		c.readvertise()
		return err
	}

	c.cond.Reset()
	c.writerDone = make(chan struct{})
	go c.writerLoop(c.writerDone)

	c.recording.Store(true)
	if err := c.source.Start(ctx, c.emit); err != nil {
		c.recording.Store(false)
		<-c.writerDone
		_ = c.writer.Stop()
		c.readvertise()
		return fmt.Errorf("start sampler: %w", err)
	}

	if err := c.led.Set(true); err != nil {
		c.logger.Warn("led on", "err", err)
	}
	return nil
}

// Stop runs the capture stop protocol. The recording flag drops first so
// the producer stops enqueuing, the sampler halts, and the writer task
// drains the residual queue before storage finalizes.
func (c *Controller) Stop() {
	if !c.recording.CompareAndSwap(true, false) {
		return
	}
	if err := c.source.Stop(); err != nil {
		c.logger.Error("stop sampler", "err", err)
	}
	<-c.writerDone
	if err := c.writer.Stop(); err != nil {
		c.logger.Error("stop writer", "err", err)
	}
	if err := c.led.Set(false); err != nil {
		c.logger.Warn("led off", "err", err)
	}
	c.readvertise()
}

// Recording reports whether the pipeline is active.
func (c *Controller) Recording() bool {
	return c.recording.Load()
}

// LivePeak returns and clears the peak conditioned sample magnitude since
// the last call. Diagnostics only; the persisted stream stays raw.
func (c *Controller) LivePeak() int16 {
	return int16(c.livePeak.Swap(0))
}

// emit is the producer side, called from the capture thread: sanitize and
// offer without blocking. A full queue drops the sample.
func (c *Controller) emit(raw uint16) {
	if !c.recording.Load() {
		return
	}
	v := c.counters.Sample(raw)
	c.q.Offer(queue.Sample{Value: v, TimestampMs: c.clk.NowMs()})
}

// writerLoop is the consumer task: drain the queue into the storage
// writer, feeding the conditioner tap for level diagnostics. It exits
// once the recording flag is down and the queue has stayed empty for a
// full poll interval, which gives the producer's stragglers time to land.
func (c *Controller) writerLoop(done chan struct{}) {
	defer close(done)
	for {
		s, ok := c.q.Poll(queue.MaxPollWait)
		if !ok {
			if !c.recording.Load() {
				return
			}
			continue
		}
		if err := c.writer.Append(s.Value, s.TimestampMs); err != nil {
			c.logger.Error("append sample", "err", err)
			continue
		}
		lv := c.cond.Process(s.Value)
		if lv < 0 {
			lv = -lv
		}
		if int32(lv) > c.livePeak.Load() {
			c.livePeak.Store(int32(lv))
		}
	}
}

func (c *Controller) waitAdvQuiesce() {
	deadline := time.Now().Add(advQuiesceTimeout)
	for c.adv.Advertising() && time.Now().Before(deadline) {
		time.Sleep(advQuiescePoll)
	}
}

func (c *Controller) readvertise() {
	if err := c.adv.StartAdvertising(); err != nil {
		c.logger.Error("start advertising", "err", err)
	}
}
