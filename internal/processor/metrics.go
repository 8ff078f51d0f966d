package processor

import (
	"sync/atomic"
	"time"
)

// ServiceMetrics aggregates delivery counters for the periodic log report.
type ServiceMetrics struct {
	delivered  atomic.Int64
	failed     atomic.Int64
	skipped    atomic.Int64
	durationNs atomic.Int64
	since      atomic.Int64
}

func NewServiceMetrics() *ServiceMetrics {
	m := &ServiceMetrics{}
	m.since.Store(time.Now().UnixNano())
	return m
}

func (m *ServiceMetrics) RecordDelivered(d time.Duration) {
	m.delivered.Add(1)
	m.durationNs.Add(int64(d))
}

func (m *ServiceMetrics) RecordFailure() { m.failed.Add(1) }

// RecordSkipped counts duplicates and dropped deliveries.
func (m *ServiceMetrics) RecordSkipped() { m.skipped.Add(1) }

type MetricsSnapshot struct {
	Delivered     int64
	Failed        int64
	Skipped       int64
	RatePerSecond float64
	AvgDuration   time.Duration
	Uptime        time.Duration
}

func (m *ServiceMetrics) Snapshot() MetricsSnapshot {
	delivered := m.delivered.Load()
	uptime := time.Since(time.Unix(0, m.since.Load()))

	s := MetricsSnapshot{
		Delivered: delivered,
		Failed:    m.failed.Load(),
		Skipped:   m.skipped.Load(),
		Uptime:    uptime,
	}
	if secs := uptime.Seconds(); secs > 0 {
		s.RatePerSecond = float64(delivered) / secs
	}
	if delivered > 0 {
		s.AvgDuration = time.Duration(m.durationNs.Load() / delivered)
	}
	return s
}

func (m *ServiceMetrics) Reset() {
	m.delivered.Store(0)
	m.failed.Store(0)
	m.skipped.Store(0)
	m.durationNs.Store(0)
	m.since.Store(time.Now().UnixNano())
}
