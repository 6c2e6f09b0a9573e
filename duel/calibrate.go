package duel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"
)

// CalibrationMargin is added to the resting baseline to get the punch threshold.
const CalibrationMargin = 1.5

// MotionSource delivers samples to fn at a fixed interval until Stop.
type MotionSource interface {
	Start(ctx context.Context, fn func(Sample)) error
	Stop()
}

// Calibrator accumulates resting samples for a fixed window.
type Calibrator struct {
	clock  clock.Clock
	window time.Duration
	start  time.Time
	sum    Sample
	n      int
}

func NewCalibrator(clk clock.Clock, window time.Duration) *Calibrator {
	return &Calibrator{clock: clk, window: window, start: clk.Now()}
}

// Add records s and reports whether the window has elapsed.
func (c *Calibrator) Add(s Sample) bool {
	if s.finite() {
		c.sum.X += s.X
		c.sum.Y += s.Y
		c.sum.Z += s.Z
		c.n++
	}
	return c.clock.Since(c.start) >= c.window
}

// Baseline is the magnitude of the mean vector.
func (c *Calibrator) Baseline() (float64, bool) {
	if c.n == 0 {
		return 0, false
	}
	n := float64(c.n)
	return math.Sqrt(math.Pow(c.sum.X/n, 2) + math.Pow(c.sum.Y/n, 2) + math.Pow(c.sum.Z/n, 2)), true
}

// Threshold returns baseline + CalibrationMargin, clamped.
func (c *Calibrator) Threshold() (float64, error) {
	b, ok := c.Baseline()
	if !ok {
		return 0, errors.New("calibration: no samples collected")
	}
	// clamping is expected on noisy devices, the value is still usable
	t, _ := ClampThreshold(b + CalibrationMargin)
	return t, nil
}

// Calibrate runs src for the calibration window and returns the derived threshold.
func Calibrate(ctx context.Context, src MotionSource, clk clock.Clock, window time.Duration) (float64, error) {
	cal := NewCalibrator(clk, window)
	samples := make(chan Sample, 64)
	if err := src.Start(ctx, func(s Sample) {
		select {
		case samples <- s:
		default:
		}
	}); err != nil {
		return 0, fmt.Errorf("calibration: start motion source: %w", err)
	}
	defer src.Stop()

	for {
		select {
		case s := <-samples:
			if cal.Add(s) {
				return cal.Threshold()
			}
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}
