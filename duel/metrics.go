package duel

import (
	"sync/atomic"
)

// Metrics counts what the engine did, for monitoring and debugging.
type Metrics struct {
	EventsProcessed    int64 // events handled by the loop
	EventsDropped      int64 // Post found the queue full
	ActionsAccepted    int64 // classified actions that passed the cooldown gate
	ActionsSuppressed  int64 // classified actions dropped by cooldown or phase
	PunchesSent        int64
	ConcessionsSent    int64 // rounds given up to the peer on timeout or yield
	SendFailures       int64
	DecodeErrors       int64
	EchoesDropped      int64 // inbound messages we sent ourselves
	DuplicatesDropped  int64 // inbound message ids already seen
	IllegalTransitions int64
	Timeouts           int64
}

func (m *Metrics) IncProcessed()   { atomic.AddInt64(&m.EventsProcessed, 1) }
func (m *Metrics) IncDropped()     { atomic.AddInt64(&m.EventsDropped, 1) }
func (m *Metrics) IncAccepted()    { atomic.AddInt64(&m.ActionsAccepted, 1) }
func (m *Metrics) IncSuppressed()  { atomic.AddInt64(&m.ActionsSuppressed, 1) }
func (m *Metrics) IncSent()        { atomic.AddInt64(&m.PunchesSent, 1) }
func (m *Metrics) IncConceded()    { atomic.AddInt64(&m.ConcessionsSent, 1) }
func (m *Metrics) IncSendFailure() { atomic.AddInt64(&m.SendFailures, 1) }
func (m *Metrics) IncDecodeError() { atomic.AddInt64(&m.DecodeErrors, 1) }
func (m *Metrics) IncEcho()        { atomic.AddInt64(&m.EchoesDropped, 1) }
func (m *Metrics) IncDuplicate()   { atomic.AddInt64(&m.DuplicatesDropped, 1) }
func (m *Metrics) IncIllegal()     { atomic.AddInt64(&m.IllegalTransitions, 1) }
func (m *Metrics) IncTimeout()     { atomic.AddInt64(&m.Timeouts, 1) }

// Snapshot returns a read-only copy for HTTP output.
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"events_processed":    atomic.LoadInt64(&m.EventsProcessed),
		"events_dropped":      atomic.LoadInt64(&m.EventsDropped),
		"actions_accepted":    atomic.LoadInt64(&m.ActionsAccepted),
		"actions_suppressed":  atomic.LoadInt64(&m.ActionsSuppressed),
		"punches_sent":        atomic.LoadInt64(&m.PunchesSent),
		"concessions_sent":    atomic.LoadInt64(&m.ConcessionsSent),
		"send_failures":       atomic.LoadInt64(&m.SendFailures),
		"decode_errors":       atomic.LoadInt64(&m.DecodeErrors),
		"echoes_dropped":      atomic.LoadInt64(&m.EchoesDropped),
		"duplicates_dropped":  atomic.LoadInt64(&m.DuplicatesDropped),
		"illegal_transitions": atomic.LoadInt64(&m.IllegalTransitions),
		"timeouts":            atomic.LoadInt64(&m.Timeouts),
	}
}
