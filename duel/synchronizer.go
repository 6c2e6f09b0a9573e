package duel

import (
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Transport is the link to the single peer. Send must not block for long; an
// error is final for that message and is never retried here.
type Transport interface {
	Send(data []byte) error
	OnReceive(fn func(data []byte))
	IsConnected() bool
}

// seenWindow is how many inbound message ids are remembered for dedupe.
const seenWindow = 512

// Synchronizer bridges motion and transport to the engine: samples become Action
// events, engine punches become wire messages, and wire messages become
// PeerMessage events.
type Synchronizer struct {
	id        string
	engine    *Engine
	transport Transport
	log       *zap.SugaredLogger
	metrics   *Metrics
	seen      *lru.Cache[string, struct{}]
}

// NewSynchronizer wires e to t. Call it before e.Run.
func NewSynchronizer(e *Engine, t Transport) *Synchronizer {
	seen, err := lru.New[string, struct{}](seenWindow)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	id := uuid.NewString()
	s := &Synchronizer{
		id:        id,
		engine:    e,
		transport: t,
		log:       e.log.With("engine", id),
		metrics:   e.metrics,
		seen:      seen,
	}
	t.OnReceive(s.HandleInbound)
	e.sync.Store(s)
	return s
}

// ID identifies this engine on the wire; inbound messages carrying it are echoes.
func (s *Synchronizer) ID() string { return s.id }

// HandleSample is the motion source callback. It runs on the sampling goroutine,
// reads only the published snapshot, and posts at most one Action per cooldown.
func (s *Synchronizer) HandleSample(sample Sample) {
	cd := s.engine.cooldown
	d, ok := s.engine.classifier.Classify(sample, cd.Active())
	if !ok {
		return
	}
	if !s.engine.Snapshot().AcceptsActions() {
		s.metrics.IncSuppressed()
		return
	}
	gen, ok := cd.tryStart()
	if !ok {
		s.metrics.IncSuppressed()
		return
	}
	s.metrics.IncAccepted()
	s.log.Debugw("action classified", "direction", d, "magnitude", sample.Magnitude())
	if !s.engine.Post(Action{Direction: d, cooldown: gen}) {
		cd.release(gen)
	}
}

// HandleInbound is the transport receive callback.
func (s *Synchronizer) HandleInbound(data []byte) {
	m, err := Decode(data)
	if err != nil {
		s.metrics.IncDecodeError()
		s.log.Warnw("dropping malformed message", "err", err, "bytes", len(data))
		return
	}
	if m.From != "" && m.From == s.id {
		s.metrics.IncEcho()
		s.log.Debugw("dropping echo of own message", "id", m.ID, "kind", m.Type)
		return
	}
	if m.ID != "" {
		if dup, _ := s.seen.ContainsOrAdd(m.ID, struct{}{}); dup {
			s.metrics.IncDuplicate()
			s.log.Debugw("dropping duplicate message", "id", m.ID, "kind", m.Type)
			return
		}
	}
	if m.Type == TypeRematch {
		s.log.Infow("peer started a rematch", "peerAttacksFirst", m.Rematch.AttacksFirst)
		s.engine.Post(Reset{})
		s.engine.Post(Start{PeerAttacksFirst: m.Rematch.AttacksFirst})
		return
	}
	s.engine.Post(PeerMessage{Message: m})
}

// Rematch resets both engines and starts a new match on each. The peer gets the
// opposite role, so exactly one side attacks first.
func (s *Synchronizer) Rematch(localAttacksFirst bool) error {
	s.engine.Post(Reset{})
	s.engine.Post(Start{PeerAttacksFirst: !localAttacksFirst})
	return s.send(Message{Type: TypeRematch, Rematch: &RematchRequest{AttacksFirst: localAttacksFirst}})
}

// SendHealth reports the local health value to the peer.
func (s *Synchronizer) SendHealth(h float64) error {
	return s.send(Message{Type: TypeHealth, Health: h})
}

func (s *Synchronizer) sendPunch(d Direction) error {
	if err := s.send(Message{Type: TypePunch, Punch: &d}); err != nil {
		return err
	}
	s.metrics.IncSent()
	return nil
}

func (s *Synchronizer) sendConcede(round int) error {
	if err := s.send(Message{Type: TypeConcede, Concede: &Concession{Round: round}}); err != nil {
		return err
	}
	s.metrics.IncConceded()
	return nil
}

func (s *Synchronizer) send(m Message) error {
	m.ID = uuid.NewString()
	m.From = s.id
	data, err := Encode(m)
	if err != nil {
		s.log.Errorw("encode failed", "kind", m.Type, "err", err)
		return err
	}
	if !s.transport.IsConnected() {
		err = fmt.Errorf("%w: %w", ErrSendFailure, ErrNotConnected)
	} else if serr := s.transport.Send(data); serr != nil {
		err = fmt.Errorf("%w: %w", ErrSendFailure, serr)
	}
	if err != nil {
		s.metrics.IncSendFailure()
		s.log.Warnw("send failed", "kind", m.Type, "err", err)
		return err
	}
	return nil
}
