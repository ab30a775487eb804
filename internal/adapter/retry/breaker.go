// Package retry implements the cross-token retry loop, failure
// classification and the optional per-upstream circuit breaker (§4.D).
package retry

import (
	"sync"
	"time"
)

// BreakerState is CLOSED/OPEN/HALF_OPEN per the state machine ported
// from original_source/app/utils/circuit_breaker.py (SPEC_FULL.md §11).
type BreakerState string

const (
	Closed   BreakerState = "CLOSED"
	Open     BreakerState = "OPEN"
	HalfOpen BreakerState = "HALF_OPEN"
)

// BreakerConfig mirrors CircuitBreakerConfig in the reference
// implementation exactly (failure_threshold=5, success_threshold=2,
// timeout=30s, cooldown_seconds=60s, half_open_max_calls=3).
type BreakerConfig struct {
	FailureThreshold  int
	SuccessThreshold  int
	Timeout           time.Duration
	CooldownSeconds   time.Duration
	HalfOpenMaxCalls  int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 2
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.CooldownSeconds == 0 {
		c.CooldownSeconds = 60 * time.Second
	}
	if c.HalfOpenMaxCalls == 0 {
		c.HalfOpenMaxCalls = 3
	}
	return c
}

// Breaker is a single named-upstream circuit breaker. Concurrency shape
// (atomic per-instance state guarded by a mutex, half-open single-flight
// via a call counter) is grounded on the teacher's internal/adapter/
// health/circuit_breaker.go sync.Map-of-state idiom, generalised from a
// map of endpoints to one breaker per named upstream managed by Registry
// (see registry.go).
type Breaker struct {
	mu   sync.Mutex
	cfg  BreakerConfig
	name string

	state           BreakerState
	failureCount    int
	successCount    int
	lastStateChange time.Time
	halfOpenCalls   int
}

func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{
		name:            name,
		cfg:             cfg.withDefaults(),
		state:           Closed,
		lastStateChange: time.Now(),
	}
}

// Allow reports whether a call may proceed, transitioning OPEN→HALF_OPEN
// once the cooldown has elapsed and admitting at most HalfOpenMaxCalls
// probes in total per HALF_OPEN period (the count is reset only when the
// breaker next enters HALF_OPEN, not when a probe completes).
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.lastStateChange) >= b.cfg.CooldownSeconds {
			b.transition(HalfOpen)
			b.halfOpenCalls = 1
			return true
		}
		return false
	case HalfOpen:
		if b.halfOpenCalls < b.cfg.HalfOpenMaxCalls {
			b.halfOpenCalls++
			return true
		}
		return false
	}
	return false
}

// RecordSuccess advances HALF_OPEN toward CLOSED after SuccessThreshold
// consecutive probe successes; resets the CLOSED failure streak.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.transition(Closed)
		}
	}
}

// RecordFailure trips CLOSED→OPEN after FailureThreshold consecutive
// failures, and — per the reference implementation — drops HALF_OPEN
// back to OPEN on any single probe failure, no threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.transition(Open)
		}
	case HalfOpen:
		b.transition(Open)
	}
}

func (b *Breaker) transition(to BreakerState) {
	b.state = to
	b.lastStateChange = time.Now()
	b.failureCount = 0
	b.successCount = 0
	b.halfOpenCalls = 0
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
