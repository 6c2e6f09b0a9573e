package server

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

// LinkSim degrades outbound traffic on purpose: a random delay in
// [DelayMin, DelayMax] before each write, and a drop probability. Zero values
// leave the link untouched. Delays are applied in the write pump, so ordering
// is kept.
type LinkSim struct {
	mu       sync.Mutex
	delayMin time.Duration
	delayMax time.Duration
	dropProb float64
	rnd      *rand.Rand
}

func NewLinkSim() *LinkSim {
	return &LinkSim{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// LinkSimConfig is the admin view of a LinkSim.
type LinkSimConfig struct {
	DelayMin time.Duration
	DelayMax time.Duration
	DropProb float64
}

func (s *LinkSim) Set(c LinkSimConfig) error {
	if c.DelayMin < 0 || c.DelayMax < c.DelayMin {
		return errors.New("linksim: need 0 <= delayMin <= delayMax")
	}
	if c.DropProb < 0 || c.DropProb > 1 {
		return errors.New("linksim: drop probability must be within [0,1]")
	}
	s.mu.Lock()
	s.delayMin, s.delayMax, s.dropProb = c.DelayMin, c.DelayMax, c.DropProb
	s.mu.Unlock()
	return nil
}

func (s *LinkSim) Get() LinkSimConfig {
	if s == nil {
		return LinkSimConfig{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return LinkSimConfig{DelayMin: s.delayMin, DelayMax: s.delayMax, DropProb: s.dropProb}
}

// next decides the fate of one outbound message.
func (s *LinkSim) next() (delay time.Duration, drop bool) {
	if s == nil {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropProb > 0 && s.rnd.Float64() < s.dropProb {
		return 0, true
	}
	delay = s.delayMin
	if span := s.delayMax - s.delayMin; span > 0 {
		delay += time.Duration(s.rnd.Int63n(int64(span) + 1))
	}
	return delay, false
}
