// internal/sanitize/sanitize_test.go
package sanitize

import (
	"testing"

	"pgregory.net/rapid"
)

func TestSample_Passthrough(t *testing.T) {
	var c Counters
	for _, v := range []uint16{0, 1, 2048, 4094, 4095} {
		if got := c.Sample(v); got != v {
			t.Errorf("Sample(%d) = %d, want unchanged", v, got)
		}
	}
	if c.FFFF() != 0 || c.OOB() != 0 {
		t.Errorf("counters moved on valid input: ffff=%d oob=%d", c.FFFF(), c.OOB())
	}
}

func TestSample_Sentinel(t *testing.T) {
	var c Counters
	for i := 0; i < 10; i++ {
		if got := c.Sample(Sentinel); got != Neutral {
			t.Fatalf("Sample(sentinel) = %d, want %d", got, Neutral)
		}
	}
	if c.FFFF() != 10 {
		t.Errorf("ffff count = %d, want 10", c.FFFF())
	}
	if c.OOB() != 0 {
		t.Errorf("oob count = %d, want 0", c.OOB())
	}
}

func TestSample_OutOfBand(t *testing.T) {
	var c Counters
	for _, v := range []uint16{4096, 5000, 0xFFFE} {
		if got := c.Sample(v); got != MaxValue {
			t.Errorf("Sample(%d) = %d, want %d", v, got, MaxValue)
		}
	}
	if c.OOB() != 3 {
		t.Errorf("oob count = %d, want 3", c.OOB())
	}
}

func TestReset_ClearsBoth(t *testing.T) {
	var c Counters
	c.Sample(Sentinel)
	c.Sample(5000)
	c.Reset()
	if c.FFFF() != 0 || c.OOB() != 0 {
		t.Errorf("after reset: ffff=%d oob=%d, want 0/0", c.FFFF(), c.OOB())
	}
}

func TestSample_Idempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.Uint16().Draw(t, "raw")
		var c Counters
		once := c.Sample(raw)
		twice := c.Sample(once)
		if once != twice {
			t.Fatalf("sanitize not idempotent: %d -> %d -> %d", raw, once, twice)
		}
		if once > MaxValue {
			t.Fatalf("sanitized value %d out of range", once)
		}
	})
}
