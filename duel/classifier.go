package duel

import (
	"math"
	"sync/atomic"
)

// Sample is one accelerometer reading in g-units.
type Sample struct {
	X, Y, Z float64
}

func (s Sample) Magnitude() float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}

func (s Sample) finite() bool {
	for _, v := range [3]float64{s.X, s.Y, s.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Strength maps an acceleration magnitude to a punch strength in [0, MaxStrength].
func Strength(magnitude float64) float64 {
	v := (magnitude - 1.0) * 200
	if !(v > 0) {
		return 0
	}
	if v > MaxStrength {
		return MaxStrength
	}
	return v
}

// Classify turns one sample into an action. ok is false when the sample is at or
// below threshold, when inCooldown is set, or when no horizontal/vertical axis
// dominates (forward/backward swings are not punches).
func Classify(s Sample, threshold float64, inCooldown bool) (d Direction, ok bool) {
	if inCooldown || !s.finite() {
		return Direction{}, false
	}
	m := s.Magnitude()
	if m <= threshold {
		return Direction{}, false
	}

	ax, ay, az := math.Abs(s.X), math.Abs(s.Y), math.Abs(s.Z)
	var kind Kind
	switch {
	case ay > ax && ay > az:
		kind = KindUp
		if s.Y > 0 {
			kind = KindDown
		}
	case ax > az:
		kind = KindRight
		if s.X > 0 {
			kind = KindLeft
		}
	default:
		return Direction{}, false
	}
	return Direction{Kind: kind, Strength: Strength(m)}, true
}

// Classifier is Classify with a threshold that can be changed from any goroutine.
type Classifier struct {
	threshold atomic.Uint64
}

func NewClassifier(threshold float64) *Classifier {
	c := &Classifier{}
	_ = c.SetThreshold(threshold)
	return c
}

func (c *Classifier) Threshold() float64 {
	return math.Float64frombits(c.threshold.Load())
}

// SetThreshold stores the clamped threshold; a non-nil error means it was clamped.
func (c *Classifier) SetThreshold(t float64) error {
	v, err := ClampThreshold(t)
	c.threshold.Store(math.Float64bits(v))
	return err
}

func (c *Classifier) Classify(s Sample, inCooldown bool) (Direction, bool) {
	return Classify(s, c.Threshold(), inCooldown)
}
