// Package motion provides sample sources for the duel engine: scripted
// sequences, recorded replays and a keyboard stand-in for a real sensor.
package motion

import (
	"errors"
	"time"

	"motionduel/duel"
)

// Source is the contract every motion source satisfies.
type Source = duel.MotionSource

// DefaultInterval is the sensor sampling period.
const DefaultInterval = 100 * time.Millisecond

// Rest is a device lying still: gravity only.
var Rest = duel.Sample{X: 0, Y: 0, Z: 1}

var (
	ErrRunning     = errors.New("motion: source already running")
	ErrEmptyScript = errors.New("motion: script has no samples")
)
