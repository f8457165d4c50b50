package common

import (
	"log"
	"strconv"
	"sync"
	"time"
)

// WeightTracker tracks request-weight usage reported by the exchange.
type WeightTracker struct {
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	mu            sync.RWMutex
}

// NewWeightTracker creates a tracker for the given weight budget per window
// (2400/min for Binance futures).
func NewWeightTracker(limit int, resetInterval time.Duration) *WeightTracker {
	return &WeightTracker{
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
	}
}

// UpdateFromHeader updates the used weight from an API response header.
func (w *WeightTracker) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if time.Since(w.lastReset) >= w.resetInterval {
		w.usedWeight = 0
		w.lastReset = time.Now()
	}
	w.usedWeight = weight

	pct := float64(w.usedWeight) / float64(w.limit) * 100
	if pct >= 95 {
		log.Printf("rate limit critical: %d/%d (%.1f%%) - approaching ban threshold", w.usedWeight, w.limit, pct)
	} else if pct >= 80 {
		log.Printf("rate limit warning: %d/%d (%.1f%%)", w.usedWeight, w.limit, pct)
	}
}

// Usage returns current usage information.
func (w *WeightTracker) Usage() (used int, limit int, percentage float64) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if time.Since(w.lastReset) >= w.resetInterval {
		return 0, w.limit, 0
	}
	return w.usedWeight, w.limit, float64(w.usedWeight) / float64(w.limit) * 100
}

// ShouldDelay returns true if the next request should be delayed.
func (w *WeightTracker) ShouldDelay() bool {
	_, _, pct := w.Usage()
	return pct >= 90
}
