// internal/sanitize/sanitize.go
package sanitize

import "sync/atomic"

const (
	// Sentinel is the value an analog bus glitch reads back as.
	Sentinel = 0xFFFF
	// Neutral is the midpoint substitute written in place of a sentinel.
	Neutral = 2048
	// MaxValue is the largest valid 12-bit analog reading.
	MaxValue = 4095
)

// Counters accumulates corruption statistics for one analog front end.
// The sampler task increments them; diagnostics read them concurrently.
type Counters struct {
	ffff atomic.Uint64
	oob  atomic.Uint64
}

// Sample maps a raw 16-bit reading into the valid [0, MaxValue] range.
// A sentinel reading is replaced by the neutral midpoint, any other
// out-of-range reading is clamped to MaxValue, and each substitution is
// counted. Valid readings pass through unchanged, so the function is
// idempotent: Sample(Sample(x)) == Sample(x).
func (c *Counters) Sample(raw uint16) uint16 {
	switch {
	case raw == Sentinel:
		c.ffff.Add(1)
		return Neutral
	case raw > MaxValue:
		c.oob.Add(1)
		return MaxValue
	default:
		return raw
	}
}

// FFFF returns the number of sentinel readings substituted so far.
func (c *Counters) FFFF() uint64 {
	return c.ffff.Load()
}

// OOB returns the number of out-of-range readings clamped so far.
func (c *Counters) OOB() uint64 {
	return c.oob.Load()
}

// Reset clears both counters in one operation.
func (c *Counters) Reset() {
	c.ffff.Store(0)
	c.oob.Store(0)
}
