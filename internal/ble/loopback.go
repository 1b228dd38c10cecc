// internal/ble/loopback.go
package ble

import (
	"sync"
)

// Loopback is an in-memory wireless stack with a built-in central. It
// backs simulation mode and tests: the central side connects, subscribes,
// writes the control characteristic and collects notifications, while
// the peripheral side behaves per the Stack contract, including
// scriptable transient notify failures and manual transmit acks.
type Loopback struct {
	mu   sync.Mutex
	name string

	advertising bool
	events      chan Event
	readH       ReadHandler

	nextConn  ConnHandle
	conn      ConnHandle
	mtu       int
	subs      map[AttrHandle]bool
	notifs    map[AttrHandle][][]byte
	failQueue []error
	manualAck bool
	pendingTx []AttrHandle
}

// NewLoopback creates a loopback stack advertising under name.
func NewLoopback(name string) *Loopback {
	return &Loopback{
		name:     name,
		events:   make(chan Event, 256),
		nextConn: 1,
		mtu:      DefaultMTU,
		subs:     make(map[AttrHandle]bool),
		notifs:   make(map[AttrHandle][][]byte),
	}
}

// --- peripheral side (Stack) ---

func (l *Loopback) StartAdvertising() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advertising = true
	return nil
}

func (l *Loopback) StopAdvertising() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advertising = false
	return nil
}

func (l *Loopback) Advertising() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.advertising
}

func (l *Loopback) Notify(conn ConnHandle, attr AttrHandle, payload []byte) error {
	l.mu.Lock()
	if len(l.failQueue) > 0 {
		err := l.failQueue[0]
		l.failQueue = l.failQueue[1:]
		l.mu.Unlock()
		return err
	}
	if l.conn == 0 || conn != l.conn {
		l.mu.Unlock()
		return ErrNoConnection
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	l.notifs[attr] = append(l.notifs[attr], cp)
	manual := l.manualAck
	if manual {
		l.pendingTx = append(l.pendingTx, attr)
	}
	c := l.conn
	l.mu.Unlock()

	if !manual {
		l.emit(Event{Type: EvtNotifySent, Conn: c, Attr: attr})
	}
	return nil
}

func (l *Loopback) MTU(conn ConnHandle) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if conn == 0 || conn != l.conn {
		return DefaultMTU
	}
	return l.mtu
}

func (l *Loopback) Events() <-chan Event {
	return l.events
}

func (l *Loopback) SetReadHandler(h ReadHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readH = h
}

func (l *Loopback) emit(e Event) {
	// Bounded like a real host task's event mailbox; an overrun drops
	// the event rather than deadlocking the transport.
	select {
	case l.events <- e:
	default:
	}
}

// --- central side (test and simulation driver) ---

// Connect attaches the central at the default MTU.
func (l *Loopback) Connect() ConnHandle {
	l.mu.Lock()
	c := l.nextConn
	l.nextConn++
	l.conn = c
	l.mtu = DefaultMTU
	l.subs = make(map[AttrHandle]bool)
	l.notifs = make(map[AttrHandle][][]byte)
	l.mu.Unlock()
	l.emit(Event{Type: EvtConnected, Conn: c, MTU: DefaultMTU})
	return c
}

// Disconnect drops the link.
func (l *Loopback) Disconnect() {
	l.mu.Lock()
	c := l.conn
	l.conn = 0
	l.mu.Unlock()
	if c != 0 {
		l.emit(Event{Type: EvtDisconnected, Conn: c})
	}
}

// Connected reports whether the central is attached.
func (l *Loopback) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != 0
}

// ExchangeMTU negotiates a new MTU.
func (l *Loopback) ExchangeMTU(mtu int) {
	l.mu.Lock()
	if mtu < DefaultMTU {
		mtu = DefaultMTU
	}
	l.mtu = mtu
	c := l.conn
	l.mu.Unlock()
	if c != 0 {
		l.emit(Event{Type: EvtMTUChanged, Conn: c, MTU: mtu})
	}
}

// Subscribe toggles notifications on attr.
func (l *Loopback) Subscribe(attr AttrHandle, enabled bool) {
	l.mu.Lock()
	l.subs[attr] = enabled
	c := l.conn
	l.mu.Unlock()
	if c != 0 {
		l.emit(Event{Type: EvtSubscription, Conn: c, Attr: attr, Enabled: enabled})
	}
}

// Write performs a central write. Only the egress control characteristic
// accepts writes; the record-control characteristic rejects them by
// policy so a paired host can never start a capture remotely.
func (l *Loopback) Write(attr AttrHandle, data []byte) error {
	l.mu.Lock()
	c := l.conn
	l.mu.Unlock()
	if c == 0 {
		return ErrNoConnection
	}
	if attr != ChrEgressControl {
		return ErrNotPermitted
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	l.emit(Event{Type: EvtWrite, Conn: c, Attr: attr, Data: cp})
	return nil
}

// Read performs a central read through the registered read handler.
func (l *Loopback) Read(attr AttrHandle) ([]byte, error) {
	l.mu.Lock()
	h := l.readH
	c := l.conn
	l.mu.Unlock()
	if c == 0 {
		return nil, ErrNoConnection
	}
	if h == nil {
		return nil, ErrNotPermitted
	}
	return h(c, attr)
}

// Notifications returns the payloads received on attr so far.
func (l *Loopback) Notifications(attr AttrHandle) [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.notifs[attr]))
	copy(out, l.notifs[attr])
	return out
}

// FailNotifies scripts the next len(errs) Notify calls to fail in order.
func (l *Loopback) FailNotifies(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failQueue = append(l.failQueue, errs...)
}

// SetManualAck disables automatic transmit acks; pair with AckOne to
// exercise credit backpressure.
func (l *Loopback) SetManualAck(manual bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.manualAck = manual
}

// AckOne releases the oldest pending transmit ack, returning false when
// none are pending.
func (l *Loopback) AckOne() bool {
	l.mu.Lock()
	if len(l.pendingTx) == 0 {
		l.mu.Unlock()
		return false
	}
	attr := l.pendingTx[0]
	l.pendingTx = l.pendingTx[1:]
	c := l.conn
	l.mu.Unlock()
	l.emit(Event{Type: EvtNotifySent, Conn: c, Attr: attr})
	return true
}

var _ Stack = (*Loopback)(nil)
