package router

import (
	"sync"
	"time"
)

// HealthTracker marks deployments unhealthy after repeated failures within a
// rolling window and excludes them from candidate selection until the
// cooldown elapses.
type HealthTracker struct {
	window    time.Duration
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	failures map[string][]time.Time
	coolOff  map[string]time.Time
}

// NewHealthTracker creates a health tracker
func NewHealthTracker(window time.Duration, threshold int, cooldown time.Duration) *HealthTracker {
	if window <= 0 {
		window = time.Minute
	}
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &HealthTracker{
		window:    window,
		threshold: threshold,
		cooldown:  cooldown,
		failures:  make(map[string][]time.Time),
		coolOff:   make(map[string]time.Time),
	}
}

// IsHealthy reports whether the deployment may receive traffic.
func (h *HealthTracker) IsHealthy(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	until, cooling := h.coolOff[id]
	if !cooling {
		return true
	}
	if time.Now().After(until) {
		// Cooldown elapsed: give the deployment another chance.
		delete(h.coolOff, id)
		delete(h.failures, id)
		return true
	}
	return false
}

// RecordFailure counts a retryable failure. Crossing the threshold within
// the rolling window puts the deployment into cooldown. Returns true when
// the deployment just entered cooldown.
func (h *HealthTracker) RecordFailure(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-h.window)

	recent := h.failures[id][:0]
	for _, t := range h.failures[id] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	h.failures[id] = recent

	if len(recent) >= h.threshold {
		if _, already := h.coolOff[id]; !already {
			h.coolOff[id] = now.Add(h.cooldown)
			return true
		}
	}
	return false
}

// RecordSuccess clears the failure window for the deployment.
func (h *HealthTracker) RecordSuccess(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.failures, id)
	delete(h.coolOff, id)
}

// MarkHealthy clears cooldown state, used by the external health checker.
func (h *HealthTracker) MarkHealthy(id string) {
	h.RecordSuccess(id)
}
