package duel

// Phase is the current step of the turn protocol.
type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseMyTurn
	PhaseEnemyTurn
	PhaseRoundResult
	PhaseGameOver
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseMyTurn:
		return "my_turn"
	case PhaseEnemyTurn:
		return "enemy_turn"
	case PhaseRoundResult:
		return "round_result"
	case PhaseGameOver:
		return "game_over"
	default:
		return "unknown"
	}
}

// TurnResult is the outcome of one exchange, always from the local point of view.
type TurnResult int

const (
	ResultBlocked TurnResult = iota + 1 // local scores
	ResultMissed                        // local failed to attack, peer scores
	ResultHit                           // peer scores
	ResultTie                           // nobody scores
)

func (r TurnResult) String() string {
	switch r {
	case ResultBlocked:
		return "blocked"
	case ResultMissed:
		return "missed"
	case ResultHit:
		return "hit"
	case ResultTie:
		return "tie"
	default:
		return "none"
	}
}

// Mirror converts the peer's view of an exchange into ours.
func (r TurnResult) Mirror() TurnResult {
	switch r {
	case ResultBlocked:
		return ResultHit
	case ResultHit, ResultMissed:
		return ResultBlocked
	default:
		return r
	}
}

type GameResult int

const (
	GameWin GameResult = iota + 1
	GameLose
	GameTie
)

func (g GameResult) String() string {
	switch g {
	case GameWin:
		return "win"
	case GameLose:
		return "lose"
	case GameTie:
		return "tie"
	default:
		return "none"
	}
}

// MatchState is owned by the engine loop and changed only through Transition.
type MatchState struct {
	Round       int
	PlayerScore int
	EnemyScore  int
	Phase       Phase

	PendingSelf    *Direction
	PendingPeer    *Direction
	LastResolution *TurnResult
	Result         *GameResult

	// LocalAttacks is the local role for the current round.
	LocalAttacks bool
}

func NewMatchState() MatchState {
	return MatchState{Round: 1, Phase: PhaseWaiting}
}

// AcceptsActions reports whether a local action can change anything in this state.
func (s MatchState) AcceptsActions() bool {
	switch s.Phase {
	case PhaseMyTurn:
		return true
	case PhaseEnemyTurn:
		return s.PendingSelf == nil && s.PendingPeer != nil
	}
	return false
}

// EvaluateCounter resolves a counter against an attack from the countering side:
// a counter must go the opposite way of the attack and be strictly stronger to block.
func EvaluateCounter(attack, counter Direction) TurnResult {
	if counter.Kind != attack.Kind.Opposite() {
		return ResultHit
	}
	switch {
	case counter.Strength > attack.Strength:
		return ResultBlocked
	case counter.Strength < attack.Strength:
		return ResultHit
	default:
		return ResultTie
	}
}

// Transition is the whole turn protocol as a pure function. On error the input
// state is returned unchanged with no effects.
func Transition(cfg Config, s MatchState, ev Event) (MatchState, []Effect, error) {
	illegal := func() (MatchState, []Effect, error) {
		return s, nil, &IllegalTransitionError{Phase: s.Phase, Event: ev}
	}
	awaitPeer := cfg.TurnDeadline + cfg.ResponseGrace

	switch ev := ev.(type) {
	case Start:
		if s.Phase != PhaseWaiting {
			return illegal()
		}
		n := NewMatchState()
		if ev.PeerAttacksFirst {
			n.Phase = PhaseEnemyTurn
			return n, []Effect{StartDeadline{Duration: awaitPeer}}, nil
		}
		n.Phase = PhaseMyTurn
		n.LocalAttacks = true
		return n, []Effect{StartDeadline{Duration: cfg.TurnDeadline}}, nil

	case Reset:
		return NewMatchState(), []Effect{CancelDeadline{}, CancelCooldown{}}, nil

	case Action:
		switch {
		case s.Phase == PhaseMyTurn:
			d := ev.Direction
			s.PendingSelf = &d
			s.Phase = PhaseEnemyTurn
			return s, []Effect{SendPunch{Direction: d}, StartDeadline{Duration: awaitPeer}}, nil
		case s.Phase == PhaseEnemyTurn && s.PendingSelf == nil && s.PendingPeer != nil:
			d := ev.Direction
			s.PendingSelf = &d
			n, effects := resolve(cfg, s, EvaluateCounter(*s.PendingPeer, d))
			return n, append([]Effect{SendPunch{Direction: d}}, effects...), nil
		}
		return illegal()

	case PeerMessage:
		switch ev.Message.Type {
		case TypePunch:
		case TypeConcede:
			return concede(cfg, s, ev.Message.Concede)
		default:
			// health, score and rematch never move the phase
			return s, nil, nil
		}
		if ev.Message.Punch == nil {
			return illegal()
		}
		d := *ev.Message.Punch
		switch {
		case s.Phase == PhaseMyTurn:
			// both sides attacked: the peer's punch landed first, we yield the round
			s.PendingPeer = &d
			s.LocalAttacks = false
			n, effects := resolve(cfg, s, ResultMissed)
			return n, append([]Effect{SendConcede{Round: s.Round}}, effects...), nil
		case s.Phase == PhaseEnemyTurn && s.PendingSelf != nil && s.PendingPeer == nil:
			// the peer's counter to our attack
			s.PendingPeer = &d
			n, effects := resolve(cfg, s, EvaluateCounter(*s.PendingSelf, d).Mirror())
			return n, effects, nil
		case s.Phase == PhaseEnemyTurn && s.PendingSelf == nil && s.PendingPeer == nil:
			s.PendingPeer = &d
			return s, []Effect{StartDeadline{Duration: cfg.TurnDeadline}}, nil
		}
		return illegal()

	case TurnTimeout:
		switch {
		case s.Phase == PhaseMyTurn:
			n, effects := resolve(cfg, s, ResultMissed)
			return n, append([]Effect{SendConcede{Round: s.Round}}, effects...), nil
		case s.Phase == PhaseEnemyTurn && s.PendingPeer != nil && s.PendingSelf == nil:
			// the local side owed a counter
			n, effects := resolve(cfg, s, ResultHit)
			return n, append([]Effect{SendConcede{Round: s.Round}}, effects...), nil
		case s.Phase == PhaseEnemyTurn:
			// the peer owed the response and its concession never arrived: settle
			// as the peer did, a missing counter is its Hit, a missing attack its Miss
			n, effects := resolve(cfg, s, ResultBlocked)
			return n, effects, nil
		}
		return illegal()

	case NextRound:
		if s.Phase != PhaseRoundResult {
			return illegal()
		}
		s.Round++
		s.PendingSelf = nil
		s.PendingPeer = nil
		s.LastResolution = nil
		s.LocalAttacks = !s.LocalAttacks
		if s.LocalAttacks {
			s.Phase = PhaseMyTurn
			return s, []Effect{StartDeadline{Duration: cfg.TurnDeadline}}, nil
		}
		s.Phase = PhaseEnemyTurn
		return s, []Effect{StartDeadline{Duration: awaitPeer}}, nil

	case CooldownExpired:
		return s, nil, nil
	}
	return illegal()
}

// concede settles the current round in our favor when the peer gave it up.
// Concessions for another round or outside a turn are stale and ignored.
func concede(cfg Config, s MatchState, c *Concession) (MatchState, []Effect, error) {
	if c == nil || c.Round != s.Round {
		return s, nil, nil
	}
	if s.Phase != PhaseMyTurn && s.Phase != PhaseEnemyTurn {
		return s, nil, nil
	}
	n, effects := resolve(cfg, s, ResultBlocked)
	return n, effects, nil
}

// resolve scores one exchange and picks the next phase.
func resolve(cfg Config, s MatchState, r TurnResult) (MatchState, []Effect) {
	switch r {
	case ResultBlocked:
		s.PlayerScore++
	case ResultHit, ResultMissed:
		s.EnemyScore++
	}
	s.LastResolution = &r

	if s.PlayerScore >= cfg.MaxScore || s.EnemyScore >= cfg.MaxScore || s.Round >= cfg.MaxRounds {
		g := GameTie
		switch {
		case s.PlayerScore > s.EnemyScore:
			g = GameWin
		case s.PlayerScore < s.EnemyScore:
			g = GameLose
		}
		s.Result = &g
		s.Phase = PhaseGameOver
		return s, []Effect{CancelDeadline{}, CancelCooldown{}}
	}
	s.Phase = PhaseRoundResult
	return s, []Effect{CancelDeadline{}, ScheduleNextRound{After: cfg.RoundDelay}}
}
