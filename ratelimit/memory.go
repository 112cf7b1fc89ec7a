package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultIdleTTL is how long a bucket may go untouched before it is evicted.
	DefaultIdleTTL = 10 * time.Minute
	// DefaultSweepInterval is how often idle buckets are collected.
	DefaultSweepInterval = time.Minute
)

// Memory is an in-process Limiter backed by one token bucket per
// fingerprint. Each bucket refills at the configured attempts per second and
// holds at most one second's worth of attempts.
type Memory struct {
	mu      sync.Mutex
	buckets map[uint64]*bucket

	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	sweep   time.Duration
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var _ Limiter = (*Memory)(nil)

// MemoryOption configures a Memory limiter.
type MemoryOption func(*Memory)

// WithIdleTTL sets how long an untouched bucket is retained.
func WithIdleTTL(d time.Duration) MemoryOption {
	return func(m *Memory) {
		if d > 0 {
			m.idleTTL = d
		}
	}
}

// WithSweepInterval sets the eviction period. Zero disables the background sweeper.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(m *Memory) {
		m.sweep = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates a limiter allowing perSecond attempts per second per
// fingerprint (at least one).
func NewMemory(perSecond int, opts ...MemoryOption) *Memory {
	if perSecond < 1 {
		perSecond = 1
	}
	m := &Memory{
		buckets: make(map[uint64]*bucket),
		limit:   rate.Limit(perSecond),
		burst:   perSecond,
		idleTTL: DefaultIdleTTL,
		sweep:   DefaultSweepInterval,
		now:     time.Now,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sweep > 0 {
		go m.sweepLoop()
	} else {
		close(m.done)
	}
	return m
}

// Check reports whether fingerprint has no attempt left right now.
func (m *Memory) Check(_ context.Context, fingerprint uint64) (bool, error) {
	m.mu.Lock()
	b, ok := m.buckets[fingerprint]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return b.limiter.TokensAt(m.now()) < 1, nil
}

// Consume takes one attempt from fingerprint's bucket. Attempts beyond the
// allowance put the bucket into debt, bounded at one second's worth.
func (m *Memory) Consume(_ context.Context, fingerprint uint64) error {
	now := m.now()

	m.mu.Lock()
	b, ok := m.buckets[fingerprint]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.buckets[fingerprint] = b
	}
	b.lastSeen = now
	m.mu.Unlock()

	if b.limiter.TokensAt(now) > -float64(m.burst) {
		b.limiter.ReserveN(now, 1)
	}
	return nil
}

// Len returns the number of tracked fingerprints.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Sweep evicts buckets idle for longer than the idle TTL. A bucket idle that
// long has refilled completely, so eviction never changes an outcome.
func (m *Memory) Sweep() {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	for fp, b := range m.buckets {
		if now.Sub(b.lastSeen) > m.idleTTL && b.limiter.TokensAt(now) >= float64(m.burst) {
			delete(m.buckets, fp)
		}
	}
}

// Close stops the background sweeper.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	<-m.done
	return nil
}

func (m *Memory) sweepLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stopCh:
			return
		}
	}
}
