// internal/ui/stub.go
package ui

import "sync"

// StubButton is a software button for simulation mode and tests.
type StubButton struct {
	events chan ButtonEvent
	once   sync.Once
}

// NewStubButton creates a stub button.
func NewStubButton() *StubButton {
	return &StubButton{events: make(chan ButtonEvent, 4)}
}

// Press injects a short press.
func (b *StubButton) Press() {
	b.events <- ShortPress
}

// PressLong injects the reserved long press.
func (b *StubButton) PressLong() {
	b.events <- LongPress
}

func (b *StubButton) Events() <-chan ButtonEvent {
	return b.events
}

func (b *StubButton) Close() error {
	b.once.Do(func() { close(b.events) })
	return nil
}

// StubLED records the last state set, for simulation mode and tests.
type StubLED struct {
	mu sync.Mutex
	on bool
}

// NewStubLED creates a stub LED.
func NewStubLED() *StubLED {
	return &StubLED{}
}

func (l *StubLED) Set(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.on = on
	return nil
}

// On reports the current LED state.
func (l *StubLED) On() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

func (l *StubLED) Close() error {
	return nil
}

var (
	_ Button = (*StubButton)(nil)
	_ LED    = (*StubLED)(nil)
)
