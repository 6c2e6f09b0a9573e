package motion

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"motionduel/duel"
)

// Script plays a fixed list of samples, one per interval. When the list runs
// out it starts over if Loop is set, otherwise it keeps reporting Rest.
type Script struct {
	clock    clock.Clock
	interval time.Duration
	samples  []duel.Sample
	loop     bool

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewScript(clk clock.Clock, interval time.Duration, samples []duel.Sample, loop bool) *Script {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Script{
		clock:    clk,
		interval: interval,
		samples:  append([]duel.Sample(nil), samples...),
		loop:     loop,
	}
}

func (s *Script) Start(ctx context.Context, fn func(duel.Sample)) error {
	if len(s.samples) == 0 {
		return ErrEmptyScript
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return ErrRunning
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	ticker := s.clock.Ticker(s.interval)
	go s.run(ctx, ticker, s.stop, s.done, fn)
	return nil
}

// Stop halts delivery and waits for the sampling goroutine. The script can be
// started again afterwards and replays from the beginning.
func (s *Script) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (s *Script) run(ctx context.Context, ticker *clock.Ticker, stop, done chan struct{}, fn func(duel.Sample)) {
	defer close(done)
	defer ticker.Stop()
	i := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if i == len(s.samples) && s.loop {
				i = 0
			}
			if i < len(s.samples) {
				fn(s.samples[i])
				i++
				continue
			}
			fn(Rest)
		}
	}
}
