package gateway

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
)

type ProviderMetrics struct {
	TotalRequests    atomic.Int64
	SuccessfulReqs   atomic.Int64
	FailedReqs       atomic.Int64
	TotalLatencyMs   atomic.Int64
	ConsecutiveFails atomic.Int32
	LastSuccessTime  atomic.Int64

	mu      sync.Mutex
	window  []int64 // recent latencies, oldest first
	maxSize int
}

func NewProviderMetrics() *ProviderMetrics {
	return &ProviderMetrics{
		window:  make([]int64, 0, 64),
		maxSize: 64,
	}
}

func (m *ProviderMetrics) RecordSuccess(latencyMs int64) {
	m.TotalRequests.Add(1)
	m.SuccessfulReqs.Add(1)
	m.TotalLatencyMs.Add(latencyMs)
	m.ConsecutiveFails.Store(0)
	m.LastSuccessTime.Store(time.Now().Unix())

	m.mu.Lock()
	if len(m.window) >= m.maxSize {
		m.window = m.window[1:]
	}
	m.window = append(m.window, latencyMs)
	m.mu.Unlock()
}

func (m *ProviderMetrics) RecordFailure() {
	m.TotalRequests.Add(1)
	m.FailedReqs.Add(1)
	m.ConsecutiveFails.Add(1)
}

func (m *ProviderMetrics) AvgLatencyMs() int64 {
	ok := m.SuccessfulReqs.Load()
	if ok == 0 {
		return 0
	}
	return m.TotalLatencyMs.Load() / ok
}

func (m *ProviderMetrics) SuccessRate() float64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 1.0
	}
	return float64(m.SuccessfulReqs.Load()) / float64(total)
}

// PercentileLatencyMs reports the q quantile (0..1) of the recent window.
func (m *ProviderMetrics) PercentileLatencyMs(q float64) int64 {
	m.mu.Lock()
	sorted := append([]int64(nil), m.window...)
	m.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type ProviderState int32

const (
	StateHealthy ProviderState = iota
	StateDegraded
	StateUnhealthy
	StateCircuitOpen
)

func (s ProviderState) String() string {
	switch s {
	case StateHealthy:
		return "HEALTHY"
	case StateDegraded:
		return "DEGRADED"
	case StateUnhealthy:
		return "UNHEALTHY"
	case StateCircuitOpen:
		return "CIRCUIT_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Provider is one weather upstream.
type Provider struct {
	name             string
	url              string
	weight           int
	client           *fasthttp.Client
	metrics          *ProviderMetrics
	state            atomic.Int32
	circuitOpenUntil atomic.Int64
}

func NewProvider(name, url string, weight int, client *fasthttp.Client) *Provider {
	p := &Provider{
		name:    name,
		url:     url,
		weight:  weight,
		client:  client,
		metrics: NewProviderMetrics(),
	}
	p.state.Store(int32(StateHealthy))
	return p
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) GetState() ProviderState {
	return ProviderState(p.state.Load())
}

func (p *Provider) SetState(state ProviderState) {
	p.state.Store(int32(state))
}

// IsAvailable half-opens an expired circuit as degraded.
func (p *Provider) IsAvailable() bool {
	switch p.GetState() {
	case StateCircuitOpen:
		if time.Now().Unix() > p.circuitOpenUntil.Load() {
			p.SetState(StateDegraded)
			return true
		}
		return false
	case StateUnhealthy:
		return false
	}
	return true
}

func (p *Provider) openCircuit(timeout time.Duration) {
	p.SetState(StateCircuitOpen)
	p.circuitOpenUntil.Store(time.Now().Add(timeout).Unix())
}

// Score ranks available providers, higher is better and zero means unusable.
func (p *Provider) Score() float64 {
	if !p.IsAvailable() {
		return 0
	}

	// weather calls are small, 2s average latency scores zero
	latency := 100.0
	if avg := p.metrics.AvgLatencyMs(); avg > 0 {
		latency = 100.0 * (1.0 - float64(avg)/2000.0)
		if latency < 0 {
			latency = 0
		}
	}

	penalty := 1.0 - 0.15*float64(p.metrics.ConsecutiveFails.Load())
	if penalty < 0.1 {
		penalty = 0.1
	}
	if p.GetState() == StateDegraded {
		penalty *= 0.5
	}

	return (p.metrics.SuccessRate()*100*0.5 + latency*0.3 + float64(p.weight)*0.2) * penalty
}

type ProviderStats struct {
	Name             string  `json:"name"`
	URL              string  `json:"url"`
	State            string  `json:"state"`
	Score            float64 `json:"score"`
	TotalRequests    int64   `json:"total_requests"`
	FailedReqs       int64   `json:"failed_requests"`
	SuccessRate      float64 `json:"success_rate"`
	AvgLatencyMs     int64   `json:"avg_latency_ms"`
	P95LatencyMs     int64   `json:"p95_latency_ms"`
	ConsecutiveFails int32   `json:"consecutive_fails"`
}

func (p *Provider) Stats() ProviderStats {
	return ProviderStats{
		Name:             p.name,
		URL:              p.url,
		State:            p.GetState().String(),
		Score:            p.Score(),
		TotalRequests:    p.metrics.TotalRequests.Load(),
		FailedReqs:       p.metrics.FailedReqs.Load(),
		SuccessRate:      p.metrics.SuccessRate(),
		AvgLatencyMs:     p.metrics.AvgLatencyMs(),
		P95LatencyMs:     p.metrics.PercentileLatencyMs(0.95),
		ConsecutiveFails: p.metrics.ConsecutiveFails.Load(),
	}
}
