package motion

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gdamore/tcell/v2"

	"motionduel/duel"
)

const (
	MinPower     = 1
	MaxPower     = 9
	DefaultPower = 4
)

// Keyboard turns arrow keys on a terminal into punch-sized samples so the duel
// can be played without a motion sensor. Between key presses it reports Rest,
// which also makes it usable for calibration. Digits 1-9 set the punch power.
type Keyboard struct {
	screen   tcell.Screen
	clock    clock.Clock
	interval time.Duration

	power  atomic.Int32
	onKey  atomic.Value // func(*tcell.EventKey)
	bursts chan duel.Sample

	mu      sync.Mutex
	stop    chan struct{}
	running sync.WaitGroup
}

func NewKeyboard(screen tcell.Screen, clk clock.Clock, interval time.Duration) *Keyboard {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	k := &Keyboard{
		screen:   screen,
		clock:    clk,
		interval: interval,
		bursts:   make(chan duel.Sample, 8),
	}
	k.power.Store(DefaultPower)
	return k
}

// OnKey registers a handler for keys that are not motion: Esc, Ctrl-C and any
// letter. It runs on the event goroutine and must not block.
func (k *Keyboard) OnKey(fn func(*tcell.EventKey)) {
	k.onKey.Store(fn)
}

func (k *Keyboard) Power() int { return int(k.power.Load()) }

func (k *Keyboard) SetPower(level int) {
	if level < MinPower {
		level = MinPower
	}
	if level > MaxPower {
		level = MaxPower
	}
	k.power.Store(int32(level))
}

// Magnitude is the acceleration a key press simulates at the current power.
func (k *Keyboard) Magnitude() float64 {
	return 2 + 0.5*float64(k.Power())
}

// SampleFor maps an arrow key to the sample a real swing in that direction
// would produce. ok is false for any other key.
func (k *Keyboard) SampleFor(key tcell.Key) (duel.Sample, bool) {
	m := k.Magnitude()
	switch key {
	case tcell.KeyUp:
		return duel.Sample{Y: -m}, true
	case tcell.KeyDown:
		return duel.Sample{Y: m}, true
	case tcell.KeyLeft:
		return duel.Sample{X: m}, true
	case tcell.KeyRight:
		return duel.Sample{X: -m}, true
	}
	return duel.Sample{}, false
}

func (k *Keyboard) Start(ctx context.Context, fn func(duel.Sample)) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.stop != nil {
		return ErrRunning
	}
	stop := make(chan struct{})
	k.stop = stop
	ticker := k.clock.Ticker(k.interval)
	k.running.Add(2)
	go k.poll(stop)
	go k.emit(ctx, stop, ticker, fn)
	return nil
}

func (k *Keyboard) Stop() {
	k.mu.Lock()
	stop := k.stop
	k.stop = nil
	k.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	// wake PollEvent so the event goroutine sees stop
	_ = k.screen.PostEvent(tcell.NewEventInterrupt(nil))
	k.running.Wait()
	for {
		select {
		case <-k.bursts:
		default:
			return
		}
	}
}

func (k *Keyboard) poll(stop chan struct{}) {
	defer k.running.Done()
	for {
		ev := k.screen.PollEvent()
		select {
		case <-stop:
			return
		default:
		}
		switch ev := ev.(type) {
		case nil:
			// screen finalized
			return
		case *tcell.EventResize:
			k.screen.Sync()
		case *tcell.EventKey:
			k.handleKey(ev)
		}
	}
}

func (k *Keyboard) handleKey(ev *tcell.EventKey) {
	if s, ok := k.SampleFor(ev.Key()); ok {
		select {
		case k.bursts <- s:
		default:
		}
		return
	}
	if ev.Key() == tcell.KeyRune {
		if r := ev.Rune(); r >= '1' && r <= '9' {
			k.SetPower(int(r - '0'))
			return
		}
	}
	if fn, _ := k.onKey.Load().(func(*tcell.EventKey)); fn != nil {
		fn(ev)
	}
}

func (k *Keyboard) emit(ctx context.Context, stop chan struct{}, ticker *clock.Ticker, fn func(duel.Sample)) {
	defer k.running.Done()
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			select {
			case s := <-k.bursts:
				fn(s)
			default:
				fn(Rest)
			}
		}
	}
}

// Strength is the punch strength the current power level produces.
func (k *Keyboard) Strength() float64 {
	return math.Round(duel.Strength(k.Magnitude()))
}
