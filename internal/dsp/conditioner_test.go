// internal/dsp/conditioner_test.go
package dsp

import (
	"math"
	"testing"

	"pgregory.net/rapid"
)

// midpointRaw is the converter count just below the 1.25 V bias, which
// falls at 1551.5 counts.
const midpointRaw = 1551

func TestProcess_CalibrationBoundary(t *testing.T) {
	c := NewConditioner()

	for i := 0; i < CalibrationSamples-1; i++ {
		c.Process(midpointRaw)
		if c.Calibrated() {
			t.Fatalf("calibrated early at sample %d", i)
		}
	}
	c.Process(midpointRaw)
	if !c.Calibrated() {
		t.Fatal("not calibrated after full window")
	}
	// A near-silent calibration window means a tiny noise floor, so the
	// gain clamps at its maximum.
	if got := c.Gain(); got != 3.0 {
		t.Errorf("gain after quiet calibration = %v, want 3.0", got)
	}
}

func TestProcess_NoisyCalibrationLowersGain(t *testing.T) {
	c := NewConditioner()
	// Alternate far from the midpoint: mean deviation well above the
	// 0.1 V floor drives 1/floor below the upper clamp.
	for i := 0; i < CalibrationSamples; i++ {
		if i%2 == 0 {
			c.Process(400)
		} else {
			c.Process(2700)
		}
	}
	if !c.Calibrated() {
		t.Fatal("not calibrated")
	}
	if c.Gain() >= 3.0 {
		t.Errorf("gain = %v, want below the upper clamp", c.Gain())
	}
	if c.NoiseFloor() <= 0 {
		t.Errorf("noise floor = %v, want positive", c.NoiseFloor())
	}
}

func TestProcess_SteadyInputDecaysToGate(t *testing.T) {
	c := NewConditioner()
	// A constant input has no AC content once the high-pass settles;
	// outputs must sink inside the gated region near zero.
	var last int16
	for i := 0; i < 4000; i++ {
		last = c.Process(2000)
	}
	if abs := math.Abs(float64(last)); abs >= NoiseGateThreshold {
		t.Errorf("steady input output = %d, want within the gate", last)
	}
}

func TestProcess_OutputBounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := NewConditioner()
		n := rapid.IntRange(1, 512).Draw(t, "n")
		for i := 0; i < n; i++ {
			raw := rapid.Uint16Range(0, 4095).Draw(t, "raw")
			s := c.Process(raw)
			if s > SoftClipLimit || s < -SoftClipLimit {
				t.Fatalf("sample %d outside soft clip bounds", s)
			}
		}
	})
}

func TestReset_ClearsState(t *testing.T) {
	c := NewConditioner()
	for i := 0; i < CalibrationSamples; i++ {
		c.Process(3000)
	}
	if !c.Calibrated() {
		t.Fatal("not calibrated before reset")
	}
	c.Reset()
	if c.Calibrated() {
		t.Error("still calibrated after reset")
	}
	if c.Gain() != 1.0 {
		t.Errorf("gain after reset = %v, want 1.0", c.Gain())
	}
	if c.NoiseFloor() != 0 {
		t.Errorf("noise floor after reset = %v, want 0", c.NoiseFloor())
	}
}
