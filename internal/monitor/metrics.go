// Package monitor keeps lightweight in-process counters for the status API.
package monitor

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"fadebot/internal/events"
)

// SystemMetrics tracks counters since process start.
type SystemMetrics struct {
	startTime time.Time

	ticks   atomic.Int64
	signals atomic.Int64
	orders  atomic.Int64
	repairs atomic.Int64
	resets  atomic.Int64

	apiRequests atomic.Int64
	apiErrors   atomic.Int64

	// APILatency records request handling times.
	APILatency *LatencyHistogram
}

// NewSystemMetrics creates zeroed metrics.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		startTime:  time.Now(),
		APILatency: NewLatencyHistogram(512),
	}
}

// Watch consumes bus events until ctx is done, counting the interesting ones.
func (m *SystemMetrics) Watch(ctx context.Context, bus *events.Bus) {
	ticks, unsubTicks := bus.Subscribe(events.EventPriceTick, 256)
	defer unsubTicks()
	signals, unsubSignals := bus.Subscribe(events.EventImbalanceEndpoint, 16)
	defer unsubSignals()
	orders, unsubOrders := bus.Subscribe(events.EventOrderUpdate, 64)
	defer unsubOrders()
	repairs, unsubRepairs := bus.Subscribe(events.EventEngineRepair, 16)
	defer unsubRepairs()
	resets, unsubResets := bus.Subscribe(events.EventEngineReset, 16)
	defer unsubResets()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			m.ticks.Add(1)
		case <-signals:
			m.signals.Add(1)
		case <-orders:
			m.orders.Add(1)
		case <-repairs:
			m.repairs.Add(1)
		case <-resets:
			m.resets.Add(1)
		}
	}
}

// IncrementAPI counts one API request.
func (m *SystemMetrics) IncrementAPI() { m.apiRequests.Add(1) }

// IncrementAPIErrors counts one failed API request.
func (m *SystemMetrics) IncrementAPIErrors() { m.apiErrors.Add(1) }

// Snapshot is a point-in-time copy for serialization.
type Snapshot struct {
	UptimeSeconds int64        `json:"uptime_seconds"`
	Ticks         int64        `json:"ticks"`
	Signals       int64        `json:"signals"`
	Orders        int64        `json:"orders"`
	Repairs       int64        `json:"repairs"`
	Resets        int64        `json:"resets"`
	APIRequests   int64        `json:"api_requests"`
	APIErrors     int64        `json:"api_errors"`
	APILatency    LatencyStats `json:"api_latency"`
}

// GetSnapshot copies the current counters.
func (m *SystemMetrics) GetSnapshot() Snapshot {
	return Snapshot{
		UptimeSeconds: int64(time.Since(m.startTime).Seconds()),
		Ticks:         m.ticks.Load(),
		Signals:       m.signals.Load(),
		Orders:        m.orders.Load(),
		Repairs:       m.repairs.Load(),
		Resets:        m.resets.Load(),
		APIRequests:   m.apiRequests.Load(),
		APIErrors:     m.apiErrors.Load(),
		APILatency:    m.APILatency.Stats(),
	}
}

// LatencyHistogram keeps a bounded ring of recent latency samples.
type LatencyHistogram struct {
	mu      sync.Mutex
	samples []float64 // ms
	next    int
	full    bool
}

// NewLatencyHistogram creates a histogram holding size samples.
func NewLatencyHistogram(size int) *LatencyHistogram {
	return &LatencyHistogram{samples: make([]float64, size)}
}

// RecordDuration stores one sample.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples[h.next] = float64(d.Microseconds()) / 1000
	h.next++
	if h.next == len(h.samples) {
		h.next = 0
		h.full = true
	}
}

// LatencyStats summarizes the retained samples in milliseconds.
type LatencyStats struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	Max   float64 `json:"max_ms"`
}

// Stats computes percentiles over the retained window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	n := h.next
	if h.full {
		n = len(h.samples)
	}
	data := make([]float64, n)
	copy(data, h.samples[:n])
	h.mu.Unlock()

	if n == 0 {
		return LatencyStats{}
	}
	sort.Float64s(data)
	return LatencyStats{
		Count: n,
		P50:   data[n/2],
		P95:   data[n*95/100],
		Max:   data[n-1],
	}
}
