// cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/openwearable/badgecore/internal/analog"
	"github.com/openwearable/badgecore/internal/ble"
	"github.com/openwearable/badgecore/internal/catalog"
	"github.com/openwearable/badgecore/internal/clock"
	"github.com/openwearable/badgecore/internal/config"
	"github.com/openwearable/badgecore/internal/egress"
	"github.com/openwearable/badgecore/internal/nvstore"
	"github.com/openwearable/badgecore/internal/peer"
	"github.com/openwearable/badgecore/internal/pipeline"
	"github.com/openwearable/badgecore/internal/queue"
	"github.com/openwearable/badgecore/internal/recovery"
	"github.com/openwearable/badgecore/internal/sanitize"
	"github.com/openwearable/badgecore/internal/session"
	"github.com/openwearable/badgecore/internal/storage"
	"github.com/openwearable/badgecore/internal/ui"
)

const heartbeatPeriod = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:   "badgecore",
	Short: "Wearable audio-capture badge firmware core",
	Long: `Runs the badge firmware core: a button-toggled audio recording
pipeline writing raw sample streams to storage, and a wireless file
egress service for fetching recordings off the device.`,
	RunE: runFirmware,
}

// runFirmware is the main entry point that wires all subsystems together.
func runFirmware(_ *cobra.Command, _ []string) error {
	settings, err := config.Get()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "badge",
	})
	if settings.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutting down", "signal", sig)
		cancel()
	}()

	// Non-volatile bootstrap: a corrupt partition is erased and
	// reinitialized inside Open, so boot always proceeds.
	nv, err := nvstore.Open(settings.NVStorePath)
	if err != nil {
		return fmt.Errorf("open nvstore: %w", err)
	}
	bootCount, err := nv.BumpCounter("boot_count")
	if err != nil {
		logger.Warn("bump boot counter", "err", err)
	}
	logger.Info("boot", "count", bootCount, "sim", settings.Sim)

	cat, err := catalog.New(settings.RecordingsDir)
	if err != nil {
		return fmt.Errorf("open recordings dir: %w", err)
	}
	logger.Info("recordings", "summary", cat.Summary())

	clk := clock.NewMonotonic()
	counters := &sanitize.Counters{}
	q := queue.New(queue.DefaultCapacity)
	writer := storage.NewWriter(clk, counters, logger)

	// The peripheral stack binding is integration-specific; the badge
	// bench build runs on the in-memory loopback so the full capture
	// and egress paths are exercised end to end.
	stack := ble.NewLoopback(settings.DeviceName)

	var source analog.Source
	if settings.Sim {
		source = analog.NewSynth()
	} else {
		mic := analog.NewMic(analog.MicConfig{DeviceIndex: settings.DeviceIndex})
		if err := mic.Init(); err != nil {
			return fmt.Errorf("init audio: %w", err)
		}
		defer func() {
			if err := mic.Close(); err != nil {
				logger.Error("close audio", "err", err)
			}
		}()
		source = mic
	}

	var (
		button ui.Button
		led    ui.LED
	)
	if settings.Sim {
		button = ui.NewStubButton()
		led = ui.NewStubLED()
	} else {
		gb, err := ui.NewGPIOButton(settings.GPIOChip, settings.ButtonLine)
		if err != nil {
			return fmt.Errorf("init button: %w", err)
		}
		defer gb.Close()
		gl, err := ui.NewGPIOLED(settings.GPIOChip, settings.LEDLine)
		if err != nil {
			return fmt.Errorf("init led: %w", err)
		}
		defer gl.Close()
		button, led = gb, gl
	}

	machine := session.New(stack, logger)
	pipe := pipeline.NewController(source, q, writer, counters, clk, led, stack, cat, logger)
	worker := egress.NewWorker(stack, machine, cat, logger)
	machine.Bind(pipe, worker)
	server := peer.NewServer(stack, machine, worker, cat, pipe, logger)

	machine.Boot()
	logger.Info("ready", "name", settings.DeviceName, "mtu", settings.PreferredMTU)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer recovery.HandlePanic()
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		defer recovery.HandlePanic()
		server.Run(gctx)
		return nil
	})
	g.Go(func() error {
		defer recovery.HandlePanic()
		buttonLoop(gctx, button, machine, logger)
		return nil
	})
	g.Go(func() error {
		heartbeat(gctx, machine, q, counters, writer, pipe, logger)
		return nil
	})

	<-gctx.Done()

	// A capture still running at shutdown gets a clean stop so the
	// header is finalized.
	if pipe.Recording() {
		pipe.Stop()
	}
	return g.Wait()
}

// buttonLoop forwards debounced presses to the state machine. Long press
// is reserved: storage reinit must never happen in a button context.
func buttonLoop(ctx context.Context, button ui.Button, machine *session.Machine, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-button.Events():
			if !ok {
				return
			}
			switch evt {
			case ui.ShortPress:
				machine.HandleButton(ctx)
			case ui.LongPress:
				logger.Debug("long press reserved")
			}
		}
	}
}

// heartbeat logs periodic diagnostics from the main task.
func heartbeat(ctx context.Context, machine *session.Machine, q *queue.Queue,
	counters *sanitize.Counters, writer *storage.Writer, pipe *pipeline.Controller,
	logger *log.Logger) {
	t := time.NewTicker(heartbeatPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			logger.Info("heartbeat",
				"state", machine.State().String(),
				"queue", q.Depth(),
				"dropped", q.Dropped(),
				"ffff", counters.FFFF(),
				"oob", counters.OOB(),
				"written", writer.SamplesWritten(),
				"peak", pipe.LivePeak())
		}
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "execution error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags (override config file)
	rootCmd.PersistentFlags().StringP("dir", "r", "/mnt/rec", "recordings directory")
	rootCmd.PersistentFlags().IntP("device", "d", -1, "audio device index (-1 for default)")
	rootCmd.PersistentFlags().BoolP("sim", "s", false, "simulation mode (synthetic source, stub UI)")
	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug output")

	cobra.CheckErr(viper.BindPFlag("recordings_dir", rootCmd.PersistentFlags().Lookup("dir")))
	cobra.CheckErr(viper.BindPFlag("device_index", rootCmd.PersistentFlags().Lookup("device")))
	cobra.CheckErr(viper.BindPFlag("sim", rootCmd.PersistentFlags().Lookup("sim")))
	cobra.CheckErr(viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")))
}

func initConfig() {
	if err := config.Init(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
}
