package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	AlertRateLimitSpike    AlertType = "rate_limit_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// metricsCollector tracks sliding window counters for anomaly detection.
type metricsCollector struct {
	mu  sync.Mutex
	now func() time.Time

	// Sliding window for failed logins.
	loginFailures  []time.Time
	loginWindow    time.Duration
	loginThreshold int

	// Sliding window for /login requests refused by the limiter.
	rateLimited        []time.Time
	rateLimitWindow    time.Duration
	rateLimitThreshold int

	alertFn AlertFunc
}

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 50
	defaultRateLimitWindow       = 1 * time.Minute
	defaultRateLimitThreshold    = 200
)

func newMetricsCollector(alertFn AlertFunc, now func() time.Time) *metricsCollector {
	if now == nil {
		now = time.Now
	}
	return &metricsCollector{
		now:                now,
		loginWindow:        defaultLoginFailureWindow,
		loginThreshold:     defaultLoginFailureThreshold,
		rateLimitWindow:    defaultRateLimitWindow,
		rateLimitThreshold: defaultRateLimitThreshold,
		alertFn:            alertFn,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case AuditLoginFailure:
		m.mu.Lock()
		m.loginFailures = m.record(m.loginFailures, m.loginWindow, m.loginThreshold,
			AlertLoginFailureSpike, "login failure rate exceeds threshold")
		m.mu.Unlock()
	case AuditLoginRateLimited:
		m.mu.Lock()
		m.rateLimited = m.record(m.rateLimited, m.rateLimitWindow, m.rateLimitThreshold,
			AlertRateLimitSpike, "rate limited login attempts exceed threshold")
		m.mu.Unlock()
	}
}

// record appends an occurrence to times, fires an alert once the window
// holds threshold entries and returns the updated window. Must be called
// with m.mu held.
func (m *metricsCollector) record(times []time.Time, window time.Duration, threshold int, typ AlertType, msg string) []time.Time {
	now := m.now()
	times = append(times, now)
	times = trimWindow(times, now, window)

	if len(times) >= threshold {
		m.alertFn(AlertEvent{
			Type:      typ,
			Message:   msg,
			Count:     len(times),
			Threshold: threshold,
			Timestamp: now,
		})
		// Reset to avoid repeated alerts within the same spike.
		times = times[:0]
	}
	return times
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
