package duel

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Cooldown suppresses new actions for a fixed duration after one is accepted.
// Progress decays linearly from 1 to 0 and is reported on every tick.
type Cooldown struct {
	clock    clock.Clock
	duration time.Duration
	tick     time.Duration
	post     func(Event)

	active atomic.Bool

	mu      sync.Mutex
	gen     uint64
	stop    chan struct{}
	started time.Time
}

func NewCooldown(clk clock.Clock, duration, tick time.Duration, post func(Event)) *Cooldown {
	return &Cooldown{clock: clk, duration: duration, tick: tick, post: post}
}

func (c *Cooldown) Active() bool { return c.active.Load() }

// TryStart starts the cooldown only if it is not already running. It is the gate
// that keeps one motion from producing more than one action.
func (c *Cooldown) TryStart() bool {
	_, ok := c.tryStart()
	return ok
}

// tryStart is TryStart that also returns the generation it started.
func (c *Cooldown) tryStart() (uint64, bool) {
	if !c.active.CompareAndSwap(false, true) {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startLocked()
	return c.gen, true
}

// release cancels the cooldown only if gen is still the running one. It gives
// the gate back when the action that took it was refused.
func (c *Cooldown) release(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == 0 || gen != c.gen || c.stop == nil {
		return false
	}
	close(c.stop)
	c.stop = nil
	c.active.Store(false)
	return true
}

// Start (re)starts the cooldown, superseding a running one.
func (c *Cooldown) Start() {
	c.active.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startLocked()
}

func (c *Cooldown) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.active.Store(false)
}

// Progress is 1 right after start and 0 when idle.
func (c *Cooldown) Progress() float64 {
	if !c.Active() {
		return 0
	}
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	return c.progressSince(started)
}

func (c *Cooldown) progressSince(started time.Time) float64 {
	p := 1 - float64(c.clock.Since(started))/float64(c.duration)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func (c *Cooldown) startLocked() {
	if c.stop != nil {
		close(c.stop)
	}
	stop := make(chan struct{})
	c.stop = stop
	c.gen++
	c.started = c.clock.Now()
	// the ticker is created here so a clock advanced right after Start is observed
	ticker := c.clock.Ticker(c.tick)
	go c.run(stop, c.started, ticker)
}

func (c *Cooldown) run(stop chan struct{}, started time.Time, ticker *clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p := c.progressSince(started)
			if p > 0 {
				c.post(cooldownTick{progress: p})
				continue
			}
			c.mu.Lock()
			current := c.stop == stop
			if current {
				c.stop = nil
				c.active.Store(false)
			}
			c.mu.Unlock()
			if current {
				c.post(CooldownExpired{})
			}
			return
		}
	}
}

// Deadline is the turn timer. Each Start or Cancel bumps the generation, and
// TurnTimeout events carry the generation they were armed with.
type Deadline struct {
	clock clock.Clock
	tick  time.Duration
	post  func(Event)

	mu   sync.Mutex
	gen  uint64
	stop chan struct{}
	end  time.Time
}

func NewDeadline(clk clock.Clock, tick time.Duration, post func(Event)) *Deadline {
	return &Deadline{clock: clk, tick: tick, post: post}
}

// Start arms a new deadline and returns its generation.
func (d *Deadline) Start(dur time.Duration) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	stop := make(chan struct{})
	d.stop = stop
	d.end = d.clock.Now().Add(dur)
	gen := d.gen
	timer := d.clock.Timer(dur)
	ticker := d.clock.Ticker(d.tick)
	go d.run(gen, stop, timer, ticker)
	return gen
}

func (d *Deadline) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

func (d *Deadline) cancelLocked() {
	d.gen++
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
	d.end = time.Time{}
}

// Current reports whether gen is the generation of the live deadline.
func (d *Deadline) Current(gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return gen == d.gen
}

// Remaining is zero when no deadline is armed.
func (d *Deadline) Remaining() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.end.IsZero() {
		return 0
	}
	if r := d.clock.Until(d.end); r > 0 {
		return r
	}
	return 0
}

func (d *Deadline) run(gen uint64, stop chan struct{}, timer *clock.Timer, ticker *clock.Ticker) {
	defer timer.Stop()
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.post(deadlineTick{gen: gen, remaining: d.Remaining()})
		case <-timer.C:
			d.mu.Lock()
			current := d.gen == gen
			if current {
				d.stop = nil
				d.end = time.Time{}
			}
			d.mu.Unlock()
			if current {
				d.post(TurnTimeout{Gen: gen})
			}
			return
		}
	}
}
