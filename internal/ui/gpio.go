// internal/ui/gpio.go
package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOButton reads a momentary switch wired active-low on a GPIO line.
// Edge timing distinguishes a toggle press from the reserved long press.
type GPIOButton struct {
	line   *gpiocdev.Line
	events chan ButtonEvent

	mu        sync.Mutex
	pressedAt time.Duration
	pressed   bool
}

// NewGPIOButton requests the line with debounce and both-edge reporting.
func NewGPIOButton(chip string, offset int) (*GPIOButton, error) {
	b := &GPIOButton{events: make(chan ButtonEvent, 4)}
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithDebounce(DebouncePeriod),
		gpiocdev.WithEventHandler(b.onEdge))
	if err != nil {
		return nil, fmt.Errorf("request button line %s:%d: %w", chip, offset, err)
	}
	b.line = line
	return b, nil
}

// onEdge runs on the gpiocdev event goroutine. Active-low: a falling edge
// is a press, a rising edge a release.
func (b *GPIOButton) onEdge(evt gpiocdev.LineEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case gpiocdev.LineEventFallingEdge:
		b.pressed = true
		b.pressedAt = evt.Timestamp
	case gpiocdev.LineEventRisingEdge:
		if !b.pressed {
			return
		}
		b.pressed = false
		held := evt.Timestamp - b.pressedAt
		ev := ShortPress
		if held >= LongPressMin {
			ev = LongPress
		}
		select {
		case b.events <- ev:
		default:
			// UI poller is behind; drop rather than stall the handler.
		}
	}
}

func (b *GPIOButton) Events() <-chan ButtonEvent {
	return b.events
}

func (b *GPIOButton) Close() error {
	return b.line.Close()
}

// GPIOLED drives the status LED on a GPIO output line.
type GPIOLED struct {
	line *gpiocdev.Line
}

// NewGPIOLED requests the line as an output, initially off.
func NewGPIOLED(chip string, offset int) (*GPIOLED, error) {
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("request led line %s:%d: %w", chip, offset, err)
	}
	return &GPIOLED{line: line}, nil
}

func (l *GPIOLED) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return l.line.SetValue(v)
}

func (l *GPIOLED) Close() error {
	_ = l.line.SetValue(0)
	return l.line.Close()
}

var (
	_ Button = (*GPIOButton)(nil)
	_ LED    = (*GPIOLED)(nil)
)
