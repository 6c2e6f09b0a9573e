package duel

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/grafov/bcast"
)

// Snapshot is the read-only view of an engine handed to presentation.
type Snapshot struct {
	Version uint64

	Phase        Phase
	Round        int
	MaxRounds    int
	PlayerScore  int
	EnemyScore   int
	LocalAttacks bool

	PendingSelf    *Direction
	PendingPeer    *Direction
	LastResolution *TurnResult
	Result         *GameResult

	CooldownProgress  float64
	DeadlineRemaining time.Duration
	Threshold         float64

	PeerHealth    *float64
	Connected     bool
	LastSendError string
}

func cloneDirection(d *Direction) *Direction {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

func snapshotOf(s MatchState) Snapshot {
	snap := Snapshot{
		Phase:        s.Phase,
		Round:        s.Round,
		PlayerScore:  s.PlayerScore,
		EnemyScore:   s.EnemyScore,
		LocalAttacks: s.LocalAttacks,
		PendingSelf:  cloneDirection(s.PendingSelf),
		PendingPeer:  cloneDirection(s.PendingPeer),
	}
	if s.LastResolution != nil {
		r := *s.LastResolution
		snap.LastResolution = &r
	}
	if s.Result != nil {
		g := *s.Result
		snap.Result = &g
	}
	return snap
}

// publisher keeps the latest snapshot and fans it out to subscribers. Snapshots
// are coalesced: a slow subscriber sees the newest state, not every state.
type publisher struct {
	latest atomic.Pointer[Snapshot]

	group   *bcast.Group
	member  *bcast.Member
	pending chan Snapshot
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newPublisher() *publisher {
	group := bcast.NewGroup()
	p := &publisher{
		group:   group,
		pending: make(chan Snapshot, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	p.member = group.Join()
	p.latest.Store(&Snapshot{})
	go group.Broadcast(0)
	go p.run()
	return p
}

func (p *publisher) publish(s Snapshot) {
	p.latest.Store(&s)
	select {
	case p.pending <- s:
		return
	default:
	}
	select {
	case <-p.pending:
	default:
	}
	select {
	case p.pending <- s:
	default:
	}
}

func (p *publisher) load() Snapshot {
	return *p.latest.Load()
}

func (p *publisher) run() {
	defer close(p.stopped)
	for {
		select {
		case s := <-p.pending:
			p.member.Send(s)
		case <-p.member.Read:
			// nothing else sends into the group
		case <-p.done:
			return
		}
	}
}

func (p *publisher) close() {
	p.once.Do(func() {
		close(p.done)
		<-p.stopped
		p.member.Close()
		p.group.Close()
	})
}

// Subscription delivers snapshots as they are published until Close.
type Subscription struct {
	C <-chan Snapshot

	member *bcast.Member
	done   chan struct{}
	once   sync.Once
}

func (p *publisher) subscribe() *Subscription {
	member := p.group.Join()
	out := make(chan Snapshot, 1)
	sub := &Subscription{C: out, member: member, done: make(chan struct{})}
	go func() {
		var last uint64
		for {
			select {
			case v, ok := <-member.Read:
				if !ok {
					return
				}
				s, ok := v.(Snapshot)
				// fan-out does not preserve order, keep only newer versions
				if !ok || s.Version <= last {
					continue
				}
				last = s.Version
				select {
				case out <- s:
				default:
					select {
					case <-out:
					default:
					}
					out <- s
				}
			case <-sub.done:
				return
			}
		}
	}()
	return sub
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.member.Close()
		close(s.done)
	})
}

// AcceptsActions mirrors MatchState.AcceptsActions for readers outside the loop.
func (s Snapshot) AcceptsActions() bool {
	return MatchState{Phase: s.Phase, PendingSelf: s.PendingSelf, PendingPeer: s.PendingPeer}.AcceptsActions()
}
