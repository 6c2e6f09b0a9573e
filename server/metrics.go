package server

import (
	"sync/atomic"
)

// LinkMetrics counts traffic on the peer link.
type LinkMetrics struct {
	MessagesSent     int64
	MessagesReceived int64
	BytesSent        int64
	BytesReceived    int64
	QueueFull        int64 // Send found the write queue full
	SimulatedDrops   int64 // dropped by the link simulator
	WriteErrors      int64
	Connects         int64
	Disconnects      int64
}

func (m *LinkMetrics) AddSent(n int) {
	atomic.AddInt64(&m.MessagesSent, 1)
	atomic.AddInt64(&m.BytesSent, int64(n))
}

func (m *LinkMetrics) AddReceived(n int) {
	atomic.AddInt64(&m.MessagesReceived, 1)
	atomic.AddInt64(&m.BytesReceived, int64(n))
}

func (m *LinkMetrics) IncQueueFull()     { atomic.AddInt64(&m.QueueFull, 1) }
func (m *LinkMetrics) IncSimulatedDrop() { atomic.AddInt64(&m.SimulatedDrops, 1) }
func (m *LinkMetrics) IncWriteError()    { atomic.AddInt64(&m.WriteErrors, 1) }
func (m *LinkMetrics) IncConnect()       { atomic.AddInt64(&m.Connects, 1) }
func (m *LinkMetrics) IncDisconnect()    { atomic.AddInt64(&m.Disconnects, 1) }

// Snapshot returns a read-only copy for HTTP output.
func (m *LinkMetrics) Snapshot() map[string]any {
	return map[string]any{
		"messages_sent":     atomic.LoadInt64(&m.MessagesSent),
		"messages_received": atomic.LoadInt64(&m.MessagesReceived),
		"bytes_sent":        atomic.LoadInt64(&m.BytesSent),
		"bytes_received":    atomic.LoadInt64(&m.BytesReceived),
		"queue_full":        atomic.LoadInt64(&m.QueueFull),
		"simulated_drops":   atomic.LoadInt64(&m.SimulatedDrops),
		"write_errors":      atomic.LoadInt64(&m.WriteErrors),
		"connects":          atomic.LoadInt64(&m.Connects),
		"disconnects":       atomic.LoadInt64(&m.Disconnects),
	}
}
