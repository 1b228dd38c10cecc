// internal/ui/stub_test.go
package ui

import (
	"testing"
	"time"
)

func TestStubButton_DeliversPresses(t *testing.T) {
	b := NewStubButton()
	defer b.Close()

	b.Press()
	b.PressLong()

	select {
	case evt := <-b.Events():
		if evt != ShortPress {
			t.Errorf("first event = %v, want short press", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	select {
	case evt := <-b.Events():
		if evt != LongPress {
			t.Errorf("second event = %v, want long press", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}

func TestStubLED_TracksState(t *testing.T) {
	l := NewStubLED()
	if l.On() {
		t.Error("new led is on")
	}
	if err := l.Set(true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !l.On() {
		t.Error("led not on after Set(true)")
	}
	if err := l.Set(false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if l.On() {
		t.Error("led on after Set(false)")
	}
}
