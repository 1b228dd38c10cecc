// internal/analog/mic.go
package analog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/openwearable/badgecore/internal/dsp"
)

const bytesPerFloat32 = 4

var (
	ErrNotInitialized = errors.New("analog source not initialized")
	ErrAlreadyRunning = errors.New("analog source already running")
	ErrNotRunning     = errors.New("analog source not running")
)

// MicConfig selects the capture device.
type MicConfig struct {
	DeviceIndex int // -1 for the default device
}

// Mic adapts a real microphone to the raw analog contract: the capture
// backend delivers normalized float32 frames, which are mapped back onto
// 12-bit converter counts around the preamp midpoint so the rest of the
// pipeline sees exactly what the badge's analog front end would produce.
type Mic struct {
	cfg     MicConfig
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	running atomic.Bool
	mu      sync.Mutex

	emitPtr atomic.Pointer[EmitFunc]
}

// NewMic creates an uninitialized microphone source.
func NewMic(cfg MicConfig) *Mic {
	return &Mic{cfg: cfg}
}

// Init initializes the audio backend.
func (m *Mic) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx != nil {
		return errors.New("already initialized")
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	m.ctx = ctx
	return nil
}

// Start begins capture at the fixed sample rate.
func (m *Mic) Start(ctx context.Context, emit EmitFunc) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	m.mu.Lock()
	if m.ctx == nil {
		m.mu.Unlock()
		m.running.Store(false)
		return ErrNotInitialized
	}
	audioCtx := m.ctx.Context

	var deviceID unsafe.Pointer
	if m.cfg.DeviceIndex >= 0 {
		devices, err := m.ctx.Devices(malgo.Capture)
		if err != nil {
			m.mu.Unlock()
			m.running.Store(false)
			return fmt.Errorf("enumerate devices: %w", err)
		}
		if m.cfg.DeviceIndex >= len(devices) {
			m.mu.Unlock()
			m.running.Store(false)
			return fmt.Errorf("device index %d out of range (have %d devices)",
				m.cfg.DeviceIndex, len(devices))
		}
		deviceID = devices[m.cfg.DeviceIndex].ID.Pointer()
	}
	m.mu.Unlock()

	m.emitPtr.Store(&emit)

	deviceConfig := malgo.DeviceConfig{
		DeviceType:         malgo.Capture,
		SampleRate:         SampleRate,
		PeriodSizeInFrames: 256,
		Capture: malgo.SubConfig{
			Format:   malgo.FormatF32,
			Channels: 1,
		},
	}
	if deviceID != nil {
		deviceConfig.Capture.DeviceID = deviceID
	}

	onRecvFrames := func(outputSamples, inputSamples []byte, frameCount uint32) {
		if len(inputSamples) == 0 {
			return
		}
		samples := bytesAsFloat32(inputSamples)
		emitPtr := m.emitPtr.Load()
		if emitPtr == nil {
			return
		}
		for _, s := range samples {
			(*emitPtr)(floatToCounts(s))
		}
	}

	device, err := malgo.InitDevice(audioCtx, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		m.running.Store(false)
		return fmt.Errorf("init device: %w", err)
	}

	m.mu.Lock()
	m.device = device
	m.mu.Unlock()

	if err := device.Start(); err != nil {
		m.mu.Lock()
		m.device.Uninit()
		m.device = nil
		m.mu.Unlock()
		m.running.Store(false)
		return fmt.Errorf("start device: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = m.Stop()
	}()

	return nil
}

// Stop halts capture.
func (m *Mic) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.emitPtr.Store(nil)
	if m.device != nil {
		_ = m.device.Stop()
		m.device.Uninit()
		m.device = nil
	}
	return nil
}

// Close releases the audio backend.
func (m *Mic) Close() error {
	_ = m.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx != nil {
		if err := m.ctx.Uninit(); err != nil {
			return fmt.Errorf("uninit context: %w", err)
		}
		m.ctx.Free()
		m.ctx = nil
	}
	return nil
}

// floatToCounts maps a normalized sample onto converter counts around the
// preamp midpoint.
func floatToCounts(s float32) uint16 {
	v := dsp.BiasVolts * (1 + float64(s))
	c := math.Round(v * dsp.ADCFullScale / dsp.VRef)
	if c < 0 {
		c = 0
	}
	if c > 4095 {
		c = 4095
	}
	return uint16(c)
}

// bytesAsFloat32 reinterprets the capture buffer without copying. The
// result is only valid for the duration of the callback.
func bytesAsFloat32(data []byte) []float32 {
	if len(data) < bytesPerFloat32 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), len(data)/bytesPerFloat32)
}

var _ Source = (*Mic)(nil)
