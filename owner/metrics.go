package owner

import "sync/atomic"

// MetricsSnapshot is a point-in-time copy of a queue's counters.
type MetricsSnapshot struct {
	Submitted   int64
	Executed    int64
	Inline      int64
	Panics      int64
	QueueLength int
}

// Metrics counts work passing through a queue.
type Metrics struct {
	submitted atomic.Int64
	executed  atomic.Int64
	inline    atomic.Int64
	panics    atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordSubmitted() {
	m.submitted.Add(1)
}

func (m *Metrics) RecordExecuted() {
	m.executed.Add(1)
}

func (m *Metrics) RecordInline() {
	m.inline.Add(1)
}

func (m *Metrics) RecordPanic() {
	m.panics.Add(1)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Submitted: m.submitted.Load(),
		Executed:  m.executed.Load(),
		Inline:    m.inline.Load(),
		Panics:    m.panics.Load(),
	}
}
