package duel

import (
	"fmt"
	"strings"
	"time"
)

// Event is the closed set of inputs the engine loop serializes.
type Event interface {
	isEvent()
}

// Start begins a match from Waiting. The zero value makes the local side attack first.
type Start struct {
	PeerAttacksFirst bool
}

// Reset returns to Waiting from any phase and cancels both timers.
type Reset struct{}

// Action is a locally classified motion that passed the cooldown gate.
type Action struct {
	Direction Direction

	// cooldown generation taken by the gate, released if the action is refused
	cooldown uint64
}

// PeerMessage is a decoded inbound message from the peer.
type PeerMessage struct {
	Message Message
}

// TurnTimeout fires when a turn deadline expires. Gen identifies the deadline
// instance so a superseded one is ignored.
type TurnTimeout struct {
	Gen uint64
}

// CooldownExpired fires when the action cooldown runs out.
type CooldownExpired struct{}

// NextRound leaves RoundResult once the result has been displayed.
type NextRound struct{}

// timer progress, handled by the engine itself and never by Transition
type cooldownTick struct {
	progress float64
}

type deadlineTick struct {
	gen       uint64
	remaining time.Duration
}

func (Start) isEvent()           {}
func (Reset) isEvent()           {}
func (Action) isEvent()          {}
func (PeerMessage) isEvent()     {}
func (TurnTimeout) isEvent()     {}
func (CooldownExpired) isEvent() {}
func (NextRound) isEvent()       {}
func (cooldownTick) isEvent()    {}
func (deadlineTick) isEvent()    {}

func eventName(ev Event) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", ev), "duel.")
}

// Effect is an instruction from Transition for the engine to carry out.
type Effect interface {
	isEffect()
}

// SendPunch transmits the local action to the peer.
type SendPunch struct {
	Direction Direction
}

// StartDeadline (re)starts the turn deadline, superseding any running one.
type StartDeadline struct {
	Duration time.Duration
}

// SendConcede tells the peer the local side gave up the point of Round.
type SendConcede struct {
	Round int
}

type CancelDeadline struct{}

type CancelCooldown struct{}

// ScheduleNextRound posts NextRound after the display delay.
type ScheduleNextRound struct {
	After time.Duration
}

func (SendPunch) isEffect()         {}
func (SendConcede) isEffect()       {}
func (StartDeadline) isEffect()     {}
func (CancelDeadline) isEffect()    {}
func (CancelCooldown) isEffect()    {}
func (ScheduleNextRound) isEffect() {}
