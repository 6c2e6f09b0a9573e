package duel

import (
	"fmt"
	"math"
	"strings"
)

// MaxStrength is the upper bound of a punch strength.
const MaxStrength = 1000.0

// Kind is the direction of a punch or counter.
type Kind int

const (
	KindNone Kind = iota
	KindUp
	KindDown
	KindLeft
	KindRight
)

func (k Kind) String() string {
	switch k {
	case KindUp:
		return "up"
	case KindDown:
		return "down"
	case KindLeft:
		return "left"
	case KindRight:
		return "right"
	default:
		return "none"
	}
}

// ParseKind maps the wire name of a direction back to its Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "up":
		return KindUp, nil
	case "down":
		return KindDown, nil
	case "left":
		return KindLeft, nil
	case "right":
		return KindRight, nil
	default:
		return KindNone, fmt.Errorf("unknown direction %q", s)
	}
}

// Opposite returns the direction that counters k.
func (k Kind) Opposite() Kind {
	switch k {
	case KindUp:
		return KindDown
	case KindDown:
		return KindUp
	case KindLeft:
		return KindRight
	case KindRight:
		return KindLeft
	default:
		return KindNone
	}
}

// Direction is a classified action: where it goes and how hard.
type Direction struct {
	Kind     Kind
	Strength float64
}

// NewDirection validates and builds a Direction. Strength above MaxStrength is
// clamped; negative or NaN strength is rejected.
func NewDirection(kind Kind, strength float64) (Direction, error) {
	if kind < KindUp || kind > KindRight {
		return Direction{}, fmt.Errorf("invalid direction kind %d", int(kind))
	}
	if math.IsNaN(strength) || strength < 0 {
		return Direction{}, fmt.Errorf("invalid strength %v", strength)
	}
	if strength > MaxStrength {
		strength = MaxStrength
	}
	return Direction{Kind: kind, Strength: strength}, nil
}

// Opposite keeps the strength and flips the kind.
func (d Direction) Opposite() Direction {
	return Direction{Kind: d.Kind.Opposite(), Strength: d.Strength}
}

func (d Direction) String() string {
	return fmt.Sprintf("%s(%.1f)", d.Kind, d.Strength)
}

// Degrees and Placement are rendering hints only.
func (d Direction) Degrees() float64 {
	switch d.Kind {
	case KindDown:
		return 180
	case KindLeft:
		return -90
	case KindRight:
		return 90
	default:
		return 0
	}
}

func (d Direction) Placement() string {
	switch d.Kind {
	case KindUp:
		return "top"
	case KindDown:
		return "bottom"
	case KindLeft:
		return "leading"
	case KindRight:
		return "trailing"
	default:
		return "center"
	}
}
