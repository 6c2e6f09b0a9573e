package duel

import (
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	DefaultThreshold = 2.0
	MinThreshold     = 0.5
	MaxThreshold     = 5.0

	MinTurnDeadline = 3 * time.Second
	MaxTurnDeadline = 5 * time.Second

	DefaultMaxRounds = 3
	DefaultMaxScore  = 3
)

// Config holds the engine tunables. Zero values are replaced by defaults in Normalize.
type Config struct {
	Threshold float64

	Cooldown     time.Duration
	CooldownTick time.Duration

	TurnDeadline time.Duration
	DeadlineTick time.Duration
	// ResponseGrace is added to deadlines that wait on the peer, covering link latency.
	ResponseGrace time.Duration

	// RoundDelay is how long RoundResult is shown before the next round begins.
	RoundDelay time.Duration

	MaxRounds int
	MaxScore  int

	CalibrationWindow time.Duration
	QueueSize         int

	Clock  clock.Clock
	Logger *zap.SugaredLogger
}

func DefaultConfig() Config {
	return Config{
		Threshold:         DefaultThreshold,
		Cooldown:          3 * time.Second,
		CooldownTick:      50 * time.Millisecond,
		TurnDeadline:      5 * time.Second,
		DeadlineTick:      time.Second,
		ResponseGrace:     time.Second,
		RoundDelay:        2 * time.Second,
		MaxRounds:         DefaultMaxRounds,
		MaxScore:          DefaultMaxScore,
		CalibrationWindow: 3 * time.Second,
		QueueSize:         256,
	}
}

// ClampThreshold bounds t to [MinThreshold, MaxThreshold]. The error is informational.
func ClampThreshold(t float64) (float64, error) {
	switch {
	case math.IsNaN(t):
		return DefaultThreshold, fmt.Errorf("%w: threshold NaN, using %.2f", ErrInvalidActionConfig, DefaultThreshold)
	case t < MinThreshold:
		return MinThreshold, fmt.Errorf("%w: threshold %.2f below %.2f", ErrInvalidActionConfig, t, MinThreshold)
	case t > MaxThreshold:
		return MaxThreshold, fmt.Errorf("%w: threshold %.2f above %.2f", ErrInvalidActionConfig, t, MaxThreshold)
	}
	return t, nil
}

// ClampTurnDeadline bounds d to [MinTurnDeadline, MaxTurnDeadline].
func ClampTurnDeadline(d time.Duration) (time.Duration, error) {
	switch {
	case d < MinTurnDeadline:
		return MinTurnDeadline, fmt.Errorf("%w: turn deadline %s below %s", ErrInvalidActionConfig, d, MinTurnDeadline)
	case d > MaxTurnDeadline:
		return MaxTurnDeadline, fmt.Errorf("%w: turn deadline %s above %s", ErrInvalidActionConfig, d, MaxTurnDeadline)
	}
	return d, nil
}

// Normalize fills defaults and clamps out-of-range values. The returned config is
// always usable; the error lists every value that had to be corrected.
func (c Config) Normalize() (Config, error) {
	def := DefaultConfig()
	if c.Threshold == 0 {
		c.Threshold = def.Threshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = def.Cooldown
	}
	if c.CooldownTick <= 0 {
		c.CooldownTick = def.CooldownTick
	}
	if c.TurnDeadline == 0 {
		c.TurnDeadline = def.TurnDeadline
	}
	if c.DeadlineTick <= 0 {
		c.DeadlineTick = def.DeadlineTick
	}
	if c.ResponseGrace < 0 {
		c.ResponseGrace = 0
	}
	if c.RoundDelay < 0 {
		c.RoundDelay = 0
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = def.MaxRounds
	}
	if c.MaxScore <= 0 {
		c.MaxScore = def.MaxScore
	}
	if c.CalibrationWindow <= 0 {
		c.CalibrationWindow = def.CalibrationWindow
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}

	var errs error
	var err error
	if c.Threshold, err = ClampThreshold(c.Threshold); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.TurnDeadline, err = ClampTurnDeadline(c.TurnDeadline); err != nil {
		errs = multierr.Append(errs, err)
	}
	return c, errs
}
