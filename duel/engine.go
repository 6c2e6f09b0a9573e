package duel

import (
	"context"
	"errors"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Engine owns one MatchState and advances it on a single goroutine (Run). Motion,
// timers and the transport only ever Post events; nothing else touches the state.
type Engine struct {
	cfg   Config
	log   *zap.SugaredLogger
	clock clock.Clock

	events chan Event

	classifier *Classifier
	cooldown   *Cooldown
	deadline   *Deadline
	metrics    *Metrics
	pub        *publisher
	sync       atomic.Pointer[Synchronizer]

	// loop-owned
	state             MatchState
	nextRound         *clock.Timer
	cooldownProgress  float64
	deadlineRemaining time.Duration
	peerHealth        *float64
	lastSendError     string
	version           uint64
}

// NewEngine builds an engine from cfg. Out-of-range values are clamped and logged.
func NewEngine(cfg Config) *Engine {
	cfg, err := cfg.Normalize()
	if err != nil {
		cfg.Logger.Warnw("engine config corrected", "err", err)
	}
	e := &Engine{
		cfg:        cfg,
		log:        cfg.Logger,
		clock:      cfg.Clock,
		events:     make(chan Event, cfg.QueueSize),
		classifier: NewClassifier(cfg.Threshold),
		metrics:    &Metrics{},
		pub:        newPublisher(),
		state:      NewMatchState(),
	}
	e.cooldown = NewCooldown(cfg.Clock, cfg.Cooldown, cfg.CooldownTick, e.postQuiet)
	e.deadline = NewDeadline(cfg.Clock, cfg.DeadlineTick, e.postQuiet)
	e.publish()
	return e
}

func (e *Engine) Config() Config      { return e.cfg }
func (e *Engine) Metrics() *Metrics   { return e.metrics }
func (e *Engine) Snapshot() Snapshot  { return e.pub.load() }
func (e *Engine) Threshold() float64  { return e.classifier.Threshold() }
func (e *Engine) Cooldown() *Cooldown { return e.cooldown }

// Subscribe returns a stream of snapshots; Close it when done.
func (e *Engine) Subscribe() *Subscription { return e.pub.subscribe() }

// SetThreshold changes the classifier threshold at runtime. The value is clamped
// to [MinThreshold, MaxThreshold]; a non-nil error means it was.
func (e *Engine) SetThreshold(t float64) error {
	err := e.classifier.SetThreshold(t)
	if err != nil {
		e.log.Warnw("threshold clamped", "requested", t, "applied", e.classifier.Threshold())
	}
	return err
}

// Calibrate measures the resting baseline from src and applies the derived threshold.
func (e *Engine) Calibrate(ctx context.Context, src MotionSource) (float64, error) {
	t, err := Calibrate(ctx, src, e.clock, e.cfg.CalibrationWindow)
	if err != nil {
		return 0, err
	}
	_ = e.SetThreshold(t)
	e.log.Infow("calibrated", "threshold", t)
	return t, nil
}

func (e *Engine) Start(peerAttacksFirst bool) bool {
	return e.Post(Start{PeerAttacksFirst: peerAttacksFirst})
}

func (e *Engine) Reset() bool { return e.Post(Reset{}) }

// Post hands an event to the loop without blocking. When the queue is full the
// event is dropped so producers are never stalled.
func (e *Engine) Post(ev Event) bool {
	select {
	case e.events <- ev:
		return true
	default:
		e.metrics.IncDropped()
		e.log.Warnw("event queue full, dropping", "event", eventName(ev))
		return false
	}
}

func (e *Engine) postQuiet(ev Event) { e.Post(ev) }

// Run processes events in arrival order until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Infow("engine running", "threshold", e.Threshold(), "deadline", e.cfg.TurnDeadline)
	defer e.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-e.events:
			e.handle(ev)
		}
	}
}

func (e *Engine) shutdown() {
	e.deadline.Cancel()
	e.cooldown.Cancel()
	e.stopNextRound()
	e.pub.close()
	e.log.Infow("engine stopped", "round", e.state.Round, "player", e.state.PlayerScore, "enemy", e.state.EnemyScore)
}

func (e *Engine) handle(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorw("panic while handling event", "event", eventName(ev), "panic", r, "stack", string(debug.Stack()))
		}
	}()
	e.metrics.IncProcessed()

	switch ev := ev.(type) {
	case cooldownTick:
		if !e.cooldown.Active() {
			return
		}
		e.cooldownProgress = ev.progress
		e.publish()
		return
	case deadlineTick:
		if e.deadline.Current(ev.gen) {
			e.deadlineRemaining = ev.remaining
			e.publish()
		}
		return
	case TurnTimeout:
		if ev.Gen != 0 && !e.deadline.Current(ev.Gen) {
			e.log.Debugw("stale turn timeout ignored", "gen", ev.Gen)
			return
		}
		e.metrics.IncTimeout()
		e.deadlineRemaining = 0
	case CooldownExpired:
		e.cooldownProgress = 0
	case PeerMessage:
		switch ev.Message.Type {
		case TypeHealth:
			h := ev.Message.Health
			e.peerHealth = &h
		case TypeScore:
			e.log.Debugw("score message received, ignored", "score", ev.Message.Score)
		}
	case Reset:
		e.stopNextRound()
	}

	prev := e.state
	next, effects, err := Transition(e.cfg, e.state, ev)
	if err != nil {
		var ite *IllegalTransitionError
		if errors.As(err, &ite) {
			e.metrics.IncIllegal()
		}
		if a, ok := ev.(Action); ok && e.cooldown.release(a.cooldown) {
			e.cooldownProgress = 0
			e.log.Debugw("refused action released the cooldown", "direction", a.Direction)
		}
		e.log.Infow("event ignored", "err", err)
		e.publish()
		return
	}
	e.state = next
	for _, eff := range effects {
		e.apply(eff)
	}

	if next.Phase != prev.Phase {
		e.log.Infow("phase changed", "from", prev.Phase, "to", next.Phase, "round", next.Round, "event", eventName(ev))
	}
	if next.LastResolution != nil && next.LastResolution != prev.LastResolution {
		e.log.Infow("turn resolved", "result", *next.LastResolution, "round", next.Round,
			"player", next.PlayerScore, "enemy", next.EnemyScore)
	}
	if next.Result != nil && prev.Result == nil {
		e.log.Infow("game over", "result", *next.Result, "player", next.PlayerScore, "enemy", next.EnemyScore)
	}
	e.publish()
}

func (e *Engine) apply(eff Effect) {
	switch eff := eff.(type) {
	case SendPunch:
		s := e.sync.Load()
		if s == nil {
			e.log.Warnw("no synchronizer attached, punch not sent", "direction", eff.Direction)
			return
		}
		if err := s.sendPunch(eff.Direction); err != nil {
			e.lastSendError = err.Error()
			return
		}
		e.lastSendError = ""
	case SendConcede:
		s := e.sync.Load()
		if s == nil {
			e.log.Warnw("no synchronizer attached, concession not sent", "round", eff.Round)
			return
		}
		if err := s.sendConcede(eff.Round); err != nil {
			e.lastSendError = err.Error()
			return
		}
		e.lastSendError = ""
	case StartDeadline:
		e.deadline.Start(eff.Duration)
		e.deadlineRemaining = eff.Duration
	case CancelDeadline:
		e.deadline.Cancel()
		e.deadlineRemaining = 0
	case CancelCooldown:
		e.cooldown.Cancel()
		e.cooldownProgress = 0
	case ScheduleNextRound:
		e.stopNextRound()
		if eff.After <= 0 {
			e.Post(NextRound{})
			return
		}
		e.nextRound = e.clock.AfterFunc(eff.After, func() { e.Post(NextRound{}) })
	}
}

func (e *Engine) stopNextRound() {
	if e.nextRound != nil {
		e.nextRound.Stop()
		e.nextRound = nil
	}
}

func (e *Engine) publish() {
	e.version++
	snap := snapshotOf(e.state)
	snap.Version = e.version
	snap.MaxRounds = e.cfg.MaxRounds
	snap.CooldownProgress = e.cooldownProgress
	snap.DeadlineRemaining = e.deadlineRemaining
	snap.Threshold = e.classifier.Threshold()
	snap.LastSendError = e.lastSendError
	if e.peerHealth != nil {
		h := *e.peerHealth
		snap.PeerHealth = &h
	}
	if s := e.sync.Load(); s != nil {
		snap.Connected = s.transport.IsConnected()
	}
	e.pub.publish(snap)
}
