package duel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type side struct {
	engine *Engine
	sync   *Synchronizer
	pipe   *Pipe
	logs   *observer.ObservedLogs
}

func newSide(mock *clock.Mock, p *Pipe) side {
	core, logs := observer.New(zap.DebugLevel)
	cfg := DefaultConfig()
	cfg.Clock = mock
	cfg.Logger = zap.New(core).Sugar()
	e := NewEngine(cfg)
	return side{engine: e, sync: NewSynchronizer(e, p), pipe: p, logs: logs}
}

// newMatch returns two running engines linked by a Pipe and sharing one mock clock.
func newMatch(t *testing.T) (*clock.Mock, side, side) {
	t.Helper()
	mock := clock.NewMock()
	pa, pb := NewPipe()
	a, b := newSide(mock, pa), newSide(mock, pb)

	ctx, cancel := context.WithCancel(context.Background())
	go a.engine.Run(ctx)
	go b.engine.Run(ctx)
	t.Cleanup(func() {
		cancel()
		pa.Close()
		pb.Close()
	})
	return mock, a, b
}

func waitSnapshot(t *testing.T, e *Engine, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return cond(e.Snapshot()) }, 2*time.Second, 5*time.Millisecond)
	return e.Snapshot()
}

func inPhase(p Phase) func(Snapshot) bool {
	return func(s Snapshot) bool { return s.Phase == p }
}

func counter(e *Engine, key string) int64 {
	return e.Metrics().Snapshot()[key].(int64)
}

var (
	punchUp   = Sample{0, -3, 0}  // up, strength 400
	punchDown = Sample{0, 3.5, 0} // down, strength 500
)

func TestEngineFullExchange(t *testing.T) {
	mock, a, b := newMatch(t)
	a.engine.Start(false)
	b.engine.Start(true)
	sa := waitSnapshot(t, a.engine, inPhase(PhaseMyTurn))
	waitSnapshot(t, b.engine, inPhase(PhaseEnemyTurn))
	assert.True(t, sa.Connected)
	assert.Equal(t, 5*time.Second, sa.DeadlineRemaining)

	a.sync.HandleSample(punchUp)
	sb := waitSnapshot(t, b.engine, func(s Snapshot) bool { return s.PendingPeer != nil })
	assert.Equal(t, Direction{Kind: KindUp, Strength: 400}, *sb.PendingPeer)
	assert.True(t, sb.AcceptsActions())

	b.sync.HandleSample(punchDown)
	sa = waitSnapshot(t, a.engine, inPhase(PhaseRoundResult))
	sb = waitSnapshot(t, b.engine, inPhase(PhaseRoundResult))

	assert.Equal(t, ResultHit, *sa.LastResolution)
	assert.Equal(t, ResultBlocked, *sb.LastResolution)
	assert.Equal(t, 0, sa.PlayerScore)
	assert.Equal(t, 1, sa.EnemyScore)
	assert.Equal(t, 1, sb.PlayerScore)
	assert.Equal(t, 0, sb.EnemyScore)
	assert.Equal(t, int64(1), counter(a.engine, "punches_sent"))
	assert.Equal(t, int64(1), counter(b.engine, "punches_sent"))

	mock.Add(2 * time.Second)
	sa = waitSnapshot(t, a.engine, func(s Snapshot) bool { return s.Round == 2 })
	sb = waitSnapshot(t, b.engine, func(s Snapshot) bool { return s.Round == 2 })
	assert.Equal(t, PhaseEnemyTurn, sa.Phase)
	assert.Equal(t, PhaseMyTurn, sb.Phase)
	assert.Nil(t, sa.LastResolution)
}

func TestEngineTurnTimeout(t *testing.T) {
	mock, a, _ := newMatch(t)
	a.engine.Start(false)
	waitSnapshot(t, a.engine, inPhase(PhaseMyTurn))

	mock.Add(5 * time.Second)
	s := waitSnapshot(t, a.engine, inPhase(PhaseRoundResult))
	assert.Equal(t, ResultMissed, *s.LastResolution)
	assert.Equal(t, 1, s.EnemyScore)
	assert.Equal(t, int64(1), counter(a.engine, "timeouts"))
}

// consistent fails unless both engines agree on the score of every settled round.
func consistent(t *testing.T, sa, sb Snapshot) {
	t.Helper()
	assert.Equal(t, sa.PlayerScore, sb.EnemyScore)
	assert.Equal(t, sa.EnemyScore, sb.PlayerScore)
	assert.Equal(t, sa.Round, sb.Round)
	require.NotNil(t, sa.LastResolution)
	require.NotNil(t, sb.LastResolution)
	assert.Equal(t, sa.LastResolution.Mirror(), *sb.LastResolution)
}

func TestEngineDefenderTimeoutConcedes(t *testing.T) {
	mock, a, b := newMatch(t)
	a.engine.Start(false)
	b.engine.Start(true)
	waitSnapshot(t, a.engine, inPhase(PhaseMyTurn))
	waitSnapshot(t, b.engine, inPhase(PhaseEnemyTurn))

	a.sync.HandleSample(punchUp)
	waitSnapshot(t, a.engine, inPhase(PhaseEnemyTurn))
	waitSnapshot(t, b.engine, func(s Snapshot) bool { return s.PendingPeer != nil })

	// the defender's deadline runs out first; the attacker still has its grace
	mock.Add(5 * time.Second)
	sa := waitSnapshot(t, a.engine, inPhase(PhaseRoundResult))
	sb := waitSnapshot(t, b.engine, inPhase(PhaseRoundResult))
	assert.Equal(t, ResultBlocked, *sa.LastResolution)
	assert.Equal(t, ResultHit, *sb.LastResolution)
	consistent(t, sa, sb)
	assert.Equal(t, int64(1), counter(b.engine, "concessions_sent"))
	assert.Equal(t, int64(0), counter(a.engine, "timeouts"))
}

func TestEngineAttackerTimeoutConcedes(t *testing.T) {
	mock, a, b := newMatch(t)
	a.engine.Start(false)
	b.engine.Start(true)
	waitSnapshot(t, a.engine, inPhase(PhaseMyTurn))
	waitSnapshot(t, b.engine, inPhase(PhaseEnemyTurn))

	mock.Add(5 * time.Second)
	sa := waitSnapshot(t, a.engine, inPhase(PhaseRoundResult))
	sb := waitSnapshot(t, b.engine, inPhase(PhaseRoundResult))
	assert.Equal(t, ResultMissed, *sa.LastResolution)
	assert.Equal(t, ResultBlocked, *sb.LastResolution)
	consistent(t, sa, sb)
	assert.Equal(t, int64(1), counter(a.engine, "concessions_sent"))
}

func TestEngineBothAttackingYieldsOnce(t *testing.T) {
	mock, a, b := newMatch(t)
	a.engine.Start(false)
	b.engine.Start(false)
	waitSnapshot(t, a.engine, inPhase(PhaseMyTurn))
	waitSnapshot(t, b.engine, inPhase(PhaseMyTurn))

	b.sync.HandleSample(punchDown)
	sa := waitSnapshot(t, a.engine, inPhase(PhaseRoundResult))
	sb := waitSnapshot(t, b.engine, inPhase(PhaseRoundResult))
	assert.Equal(t, ResultMissed, *sa.LastResolution)
	assert.Equal(t, ResultBlocked, *sb.LastResolution)
	consistent(t, sa, sb)

	// the yielding side attacks next, so roles line up again
	mock.Add(2 * time.Second)
	sa = waitSnapshot(t, a.engine, func(s Snapshot) bool { return s.Round == 2 })
	sb = waitSnapshot(t, b.engine, func(s Snapshot) bool { return s.Round == 2 })
	assert.Equal(t, PhaseMyTurn, sa.Phase)
	assert.Equal(t, PhaseEnemyTurn, sb.Phase)
}

func TestEngineLostConcessionFallsBack(t *testing.T) {
	mock, a, b := newMatch(t)
	a.engine.Start(false)
	b.engine.Start(true)
	waitSnapshot(t, a.engine, inPhase(PhaseMyTurn))
	waitSnapshot(t, b.engine, inPhase(PhaseEnemyTurn))

	a.sync.HandleSample(punchUp)
	waitSnapshot(t, a.engine, inPhase(PhaseEnemyTurn))
	waitSnapshot(t, b.engine, func(s Snapshot) bool { return s.PendingPeer != nil })
	require.NoError(t, b.pipe.Close())

	mock.Add(5 * time.Second)
	sb := waitSnapshot(t, b.engine, inPhase(PhaseRoundResult))
	assert.NotEmpty(t, sb.LastSendError)
	assert.Equal(t, PhaseEnemyTurn, a.engine.Snapshot().Phase)

	mock.Add(time.Second)
	sa := waitSnapshot(t, a.engine, inPhase(PhaseRoundResult))
	assert.Equal(t, ResultBlocked, *sa.LastResolution)
	consistent(t, sa, sb)
	assert.Equal(t, int64(1), counter(a.engine, "timeouts"))
}

func TestEngineRefusedActionReleasesCooldown(t *testing.T) {
	_, a, _ := newMatch(t)
	gen, ok := a.engine.Cooldown().tryStart()
	require.True(t, ok)

	// the action reaches the loop in a phase that refuses it
	a.engine.Post(Action{Direction: up(100), cooldown: gen})
	require.Eventually(t, func() bool {
		return !a.engine.Cooldown().Active()
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), counter(a.engine, "illegal_transitions"))
	assert.True(t, a.engine.Cooldown().TryStart())
	a.engine.Cooldown().Cancel()
}

func TestEngineRematch(t *testing.T) {
	mock, a, b := newMatch(t)
	a.engine.Start(false)
	b.engine.Start(true)
	waitSnapshot(t, a.engine, inPhase(PhaseMyTurn))
	waitSnapshot(t, b.engine, inPhase(PhaseEnemyTurn))
	mock.Add(5 * time.Second)
	waitSnapshot(t, b.engine, inPhase(PhaseRoundResult))

	require.NoError(t, b.sync.Rematch(true))
	sb := waitSnapshot(t, b.engine, inPhase(PhaseMyTurn))
	sa := waitSnapshot(t, a.engine, func(s Snapshot) bool { return s.Phase == PhaseEnemyTurn && s.EnemyScore == 0 })
	assert.Equal(t, 0, sb.PlayerScore)
	assert.Equal(t, 0, sb.EnemyScore)
	assert.Equal(t, 0, sa.PlayerScore)
	assert.Equal(t, 1, sa.Round)
	assert.True(t, sb.LocalAttacks)
	assert.False(t, sa.LocalAttacks)
}

func TestEngineCooldownAllowsOnePunchPerMotion(t *testing.T) {
	_, a, b := newMatch(t)
	a.engine.Start(false)
	b.engine.Start(true)
	waitSnapshot(t, a.engine, inPhase(PhaseMyTurn))

	for i := 0; i < 5; i++ {
		a.sync.HandleSample(punchUp)
	}
	waitSnapshot(t, b.engine, func(s Snapshot) bool { return s.PendingPeer != nil })
	assert.Equal(t, int64(1), counter(a.engine, "actions_accepted"))
	assert.Equal(t, int64(1), counter(a.engine, "punches_sent"))
	assert.True(t, a.engine.Cooldown().Active())
	assert.Equal(t, int64(0), counter(b.engine, "illegal_transitions"))
}

func TestEngineActionOutsideTurnSuppressed(t *testing.T) {
	_, a, _ := newMatch(t)
	a.engine.Start(true)
	waitSnapshot(t, a.engine, inPhase(PhaseEnemyTurn))

	a.sync.HandleSample(punchUp)
	assert.Equal(t, int64(0), counter(a.engine, "actions_accepted"))
	assert.Equal(t, int64(1), counter(a.engine, "actions_suppressed"))
	assert.False(t, a.engine.Cooldown().Active())
}

func TestEngineDropsEchoAndDuplicates(t *testing.T) {
	_, a, _ := newMatch(t)

	echo, err := Encode(Message{Type: TypeHealth, Health: 10, ID: "m-1", From: a.sync.ID()})
	require.NoError(t, err)
	a.sync.HandleInbound(echo)
	assert.Equal(t, int64(1), counter(a.engine, "echoes_dropped"))

	msg, err := Encode(Message{Type: TypeHealth, Health: 55, ID: "m-2", From: "peer"})
	require.NoError(t, err)
	a.sync.HandleInbound(msg)
	a.sync.HandleInbound(msg)
	assert.Equal(t, int64(1), counter(a.engine, "duplicates_dropped"))

	s := waitSnapshot(t, a.engine, func(s Snapshot) bool { return s.PeerHealth != nil })
	assert.Equal(t, 55.0, *s.PeerHealth)
	assert.Equal(t, PhaseWaiting, s.Phase)
}

func TestEngineMalformedMessage(t *testing.T) {
	_, a, _ := newMatch(t)
	a.engine.Start(false)
	waitSnapshot(t, a.engine, inPhase(PhaseMyTurn))

	a.sync.HandleInbound([]byte(`{"kind":"punch","payload":{"type":"sideways","strength":1}}`))
	a.sync.HandleInbound([]byte(`{`))
	assert.Equal(t, int64(2), counter(a.engine, "decode_errors"))
	assert.Equal(t, 2, a.logs.FilterMessage("dropping malformed message").Len())
	assert.Equal(t, PhaseMyTurn, a.engine.Snapshot().Phase)
}

func TestEngineSendFailureStillAdvances(t *testing.T) {
	_, a, b := newMatch(t)
	require.NoError(t, b.pipe.Close())

	a.engine.Start(false)
	waitSnapshot(t, a.engine, inPhase(PhaseMyTurn))
	a.sync.HandleSample(punchUp)

	s := waitSnapshot(t, a.engine, inPhase(PhaseEnemyTurn))
	assert.NotEmpty(t, s.LastSendError)
	assert.False(t, s.Connected)
	assert.Equal(t, int64(1), counter(a.engine, "send_failures"))
	assert.Equal(t, int64(0), counter(a.engine, "punches_sent"))

	err := a.sync.SendHealth(80)
	assert.True(t, errors.Is(err, ErrSendFailure))
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestEngineSendHealth(t *testing.T) {
	_, a, b := newMatch(t)
	require.NoError(t, a.sync.SendHealth(75))
	s := waitSnapshot(t, b.engine, func(s Snapshot) bool { return s.PeerHealth != nil })
	assert.Equal(t, 75.0, *s.PeerHealth)
}

func TestEngineResetCancelsTimers(t *testing.T) {
	mock, a, _ := newMatch(t)
	a.engine.Start(false)
	waitSnapshot(t, a.engine, inPhase(PhaseMyTurn))

	a.engine.Reset()
	s := waitSnapshot(t, a.engine, inPhase(PhaseWaiting))
	assert.Equal(t, time.Duration(0), s.DeadlineRemaining)

	mock.Add(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, PhaseWaiting, a.engine.Snapshot().Phase)
	assert.Equal(t, int64(0), counter(a.engine, "timeouts"))
}

func TestEngineIgnoresStaleTimeout(t *testing.T) {
	_, a, _ := newMatch(t)
	a.engine.Start(false)
	waitSnapshot(t, a.engine, inPhase(PhaseMyTurn))

	a.engine.Post(TurnTimeout{Gen: 999})
	a.engine.Post(PeerMessage{Message: Message{Type: TypeHealth, Health: 1}})
	s := waitSnapshot(t, a.engine, func(s Snapshot) bool { return s.PeerHealth != nil })
	assert.Equal(t, PhaseMyTurn, s.Phase)
	assert.Equal(t, int64(0), counter(a.engine, "timeouts"))
}

func TestEngineCountsIllegalEvents(t *testing.T) {
	_, a, _ := newMatch(t)
	a.engine.Post(NextRound{})
	require.Eventually(t, func() bool {
		return counter(a.engine, "illegal_transitions") == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, PhaseWaiting, a.engine.Snapshot().Phase)
}

func TestEngineSubscribe(t *testing.T) {
	_, a, _ := newMatch(t)
	sub := a.engine.Subscribe()
	defer sub.Close()

	a.engine.Start(false)
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-sub.C:
			if s.Phase == PhaseMyTurn {
				assert.True(t, s.LocalAttacks)
				return
			}
		case <-timeout:
			t.Fatal("no my_turn snapshot delivered")
		}
	}
}

func TestEngineSetThreshold(t *testing.T) {
	e := NewEngine(Config{Clock: clock.NewMock()})
	assert.Equal(t, DefaultThreshold, e.Threshold())

	err := e.SetThreshold(42)
	assert.True(t, errors.Is(err, ErrInvalidActionConfig))
	assert.Equal(t, MaxThreshold, e.Threshold())
	assert.NoError(t, e.SetThreshold(1.5))
}

func TestEnginePostDropsWhenFull(t *testing.T) {
	e := NewEngine(Config{Clock: clock.NewMock(), QueueSize: 1})
	assert.True(t, e.Post(Start{}))
	assert.False(t, e.Post(Reset{}))
	assert.Equal(t, int64(1), counter(e, "events_dropped"))
}
