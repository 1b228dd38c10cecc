// internal/analog/analog.go
package analog

import "context"

const (
	// SampleRate is the nominal capture rate in samples per second.
	SampleRate = 16000
	// MidpointCounts is the preamp bias (1.25 V) expressed in converter
	// counts.
	MidpointCounts = 1551
)

// EmitFunc receives one raw 12-bit-range reading. It is called from the
// capture thread and must be non-blocking and fast: the sampler wrapper
// sanitizes the reading and offers it to the bounded queue, dropping on
// overflow instead of stalling the audio path.
type EmitFunc func(raw uint16)

// Source produces raw analog readings at the fixed sample rate.
type Source interface {
	// Start begins emitting samples until Stop or context cancellation.
	Start(ctx context.Context, emit EmitFunc) error
	// Stop halts emission. Safe to call when not running.
	Stop() error
}
