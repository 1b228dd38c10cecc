// internal/session/session.go
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/openwearable/badgecore/internal/ble"
)

// State is the session's arbitration state. The audio path, the wireless
// advertiser and the storage writer are shared resources; the state
// machine guarantees capture and file egress never run at once.
type State int32

const (
	Idle State = iota
	Recording
	Transferring
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Transferring:
		return "transferring"
	}
	return "invalid"
}

// Subscription mask bits.
const (
	SubData   uint8 = 1 << 0
	SubStatus uint8 = 1 << 1
	SubAll          = SubData | SubStatus
)

var (
	// ErrBusy indicates a transfer was requested while recording.
	ErrBusy = errors.New("session busy recording")
	// ErrAlreadyRunning indicates a transfer was requested mid-transfer.
	ErrAlreadyRunning = errors.New("transfer already running")
)

// Pipeline is the audio capture path the machine starts and stops.
type Pipeline interface {
	Start(ctx context.Context) error
	Stop()
}

// Egress is the worker the machine force-aborts on disconnect.
type Egress interface {
	Abort()
}

// Machine owns the session state and every piece of per-peer context:
// connection handle, negotiated MTU, subscription mask and the selected
// file slot. Peer-command handlers never mutate state directly; they call
// in here or enqueue worker commands.
//
// Invariant: advertising is enabled if and only if the state is Idle.
type Machine struct {
	mu     sync.Mutex
	state  atomic.Int32
	adv    ble.Advertiser
	logger *log.Logger

	pipeline Pipeline
	egress   Egress

	conn     ble.ConnHandle
	mtu      int
	subMask  uint8
	selected string
}

// New creates a machine in the Idle state. Call Bind before Run-time use
// and Boot once wiring is complete.
func New(adv ble.Advertiser, logger *log.Logger) *Machine {
	return &Machine{
		adv:    adv,
		logger: logger.With("task", "session"),
		mtu:    ble.DefaultMTU,
	}
}

// Bind attaches the pipeline and egress collaborators (late binding
// breaks the construction cycle between machine, pipeline and worker).
func (m *Machine) Bind(p Pipeline, e Egress) {
	m.pipeline = p
	m.egress = e
}

// Boot starts advertising for the initial Idle state.
func (m *Machine) Boot() {
	if err := m.adv.StartAdvertising(); err != nil {
		m.logger.Error("start advertising", "err", err)
	}
}

// State returns the current state without blocking on transitions.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// HandleButton processes one debounced short press: Idle toggles into
// Recording, Recording back to Idle, and a press mid-transfer is ignored
// (the peer ends the transfer, or it completes on its own).
func (m *Machine) HandleButton(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.State() {
	case Idle:
		if err := m.pipeline.Start(ctx); err != nil {
			m.logger.Error("pipeline start", "err", err)
			return
		}
		m.state.Store(int32(Recording))
		m.logger.Info("state", "from", Idle, "to", Recording)
	case Recording:
		// Publish Idle before tearing the pipeline down so the
		// producer observes the session is over.
		m.state.Store(int32(Idle))
		m.pipeline.Stop()
		m.logger.Info("state", "from", Recording, "to", Idle)
	case Transferring:
		m.logger.Debug("button ignored during transfer")
	}
}

// RequestTransfer claims the Transferring state for the egress worker.
// Recording yields ErrBusy, an active transfer ErrAlreadyRunning. On
// success advertising is stopped to uphold the Idle-only invariant.
func (m *Machine) RequestTransfer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.State() {
	case Recording:
		return ErrBusy
	case Transferring:
		return ErrAlreadyRunning
	}
	if err := m.adv.StopAdvertising(); err != nil {
		m.logger.Error("stop advertising", "err", err)
	}
	m.state.Store(int32(Transferring))
	m.logger.Info("state", "from", Idle, "to", Transferring)
	return nil
}

// TransferDone returns to Idle after a transfer exits for any reason and
// re-enables advertising.
func (m *Machine) TransferDone() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() != Transferring {
		return
	}
	m.state.Store(int32(Idle))
	if err := m.adv.StartAdvertising(); err != nil {
		m.logger.Error("start advertising", "err", err)
	}
	m.logger.Info("state", "from", Transferring, "to", Idle)
}

// OnConnect records the new peer connection.
func (m *Machine) OnConnect(conn ble.ConnHandle, mtu int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conn = conn
	if mtu >= ble.DefaultMTU {
		m.mtu = mtu
	}
	m.subMask = 0
}

// OnDisconnect clears peer context and force-aborts a running transfer.
func (m *Machine) OnDisconnect() {
	m.mu.Lock()
	m.conn = 0
	m.subMask = 0
	m.mtu = ble.DefaultMTU
	transferring := m.State() == Transferring
	m.mu.Unlock()

	if transferring {
		m.egress.Abort()
	}
}

// SetMTU records a renegotiated MTU.
func (m *Machine) SetMTU(mtu int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mtu >= ble.DefaultMTU {
		m.mtu = mtu
	}
}

// MTU returns the effective MTU for the current connection.
func (m *Machine) MTU() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mtu
}

// Conn returns the current connection handle (zero when disconnected).
func (m *Machine) Conn() ble.ConnHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// SetSubscription updates the mask bit for the DATA or STATUS attribute.
func (m *Machine) SetSubscription(attr ble.AttrHandle, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var bit uint8
	switch attr {
	case ble.ChrEgressData:
		bit = SubData
	case ble.ChrEgressStatus:
		bit = SubStatus
	default:
		return
	}
	if enabled {
		m.subMask |= bit
	} else {
		m.subMask &^= bit
	}
}

// SubscriptionMask returns the current DATA/STATUS mask.
func (m *Machine) SubscriptionMask() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subMask
}

// SetSelected stores the peer's file selection for the next transfer.
func (m *Machine) SetSelected(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = path
}

// Selected returns the last-selected file path, or empty.
func (m *Machine) Selected() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}
