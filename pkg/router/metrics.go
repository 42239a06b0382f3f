package router

import (
	"sync"
	"time"
)

// Metrics tracks routing activity. Safe for concurrent use.
type Metrics struct {
	mu sync.Mutex

	searches     int64
	byStrategy   map[Strategy]int64
	cacheHits    int64
	fallbacks    int64
	degraded     int64
	totalLatency time.Duration
	maxLatency   time.Duration
}

// Snapshot is a point-in-time copy of the router metrics.
type Snapshot struct {
	Searches       int64              `json:"searches"`
	ByStrategy     map[Strategy]int64 `json:"by_strategy"`
	CacheHits      int64              `json:"cache_hits"`
	Fallbacks      int64              `json:"fallbacks"`
	Degraded       int64              `json:"degraded"`
	AvgLatencyMs   float64            `json:"avg_latency_ms"`
	MaxLatencyMs   float64            `json:"max_latency_ms"`
	TotalLatencyMs float64            `json:"total_latency_ms"`
}

// NewMetrics creates zeroed metrics.
func NewMetrics() *Metrics {
	return &Metrics{byStrategy: make(map[Strategy]int64)}
}

func (m *Metrics) recordSearch(strategy Strategy, latency time.Duration, degraded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.searches++
	m.byStrategy[strategy]++
	m.totalLatency += latency
	if latency > m.maxLatency {
		m.maxLatency = latency
	}
	if degraded {
		m.degraded++
	}
}

func (m *Metrics) recordCacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHits++
}

func (m *Metrics) recordFallback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks++
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	byStrategy := make(map[Strategy]int64, len(m.byStrategy))
	for k, v := range m.byStrategy {
		byStrategy[k] = v
	}

	s := Snapshot{
		Searches:       m.searches,
		ByStrategy:     byStrategy,
		CacheHits:      m.cacheHits,
		Fallbacks:      m.fallbacks,
		Degraded:       m.degraded,
		TotalLatencyMs: float64(m.totalLatency) / float64(time.Millisecond),
		MaxLatencyMs:   float64(m.maxLatency) / float64(time.Millisecond),
	}
	if m.searches > 0 {
		s.AvgLatencyMs = s.TotalLatencyMs / float64(m.searches)
	}
	return s
}
