package duel

import (
	"errors"
	"fmt"
)

var (
	// ErrSendFailure wraps transport errors on outbound messages. Never retried here.
	ErrSendFailure = errors.New("send failure")
	// ErrNotConnected is returned by transports with no peer attached.
	ErrNotConnected = errors.New("peer not connected")
	// ErrInvalidActionConfig reports a threshold or timing outside its bounds.
	// The value is clamped and the engine keeps running.
	ErrInvalidActionConfig = errors.New("invalid action config")
)

// DecodeError describes a message that could not be decoded. The message is dropped.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
	}
	return "decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IllegalTransitionError is returned when an event arrives in a phase that cannot
// handle it. State is left unchanged.
type IllegalTransitionError struct {
	Phase Phase
	Event Event
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: %s in phase %s", eventName(e.Event), e.Phase)
}
