package session

import "sync/atomic"

// Circuit breaker constants for datagram fan-out, carried over unchanged
// from the teacher's client.go: after circuitBreakerThreshold consecutive
// send failures the breaker opens and skips that peer; every
// circuitBreakerProbeInterval skips it lets one datagram through to probe
// for recovery.
const (
	circuitBreakerThreshold     uint32 = 50
	circuitBreakerProbeInterval uint32 = 25
)

// Health tracks per-session datagram send success and implements a
// lightweight circuit breaker so the room stops wasting effort on
// unreachable peers.
type Health struct {
	failures atomic.Uint32
	skips    atomic.Uint32
}

// ShouldSkip returns true when the breaker is open and it is not yet time
// for a probe attempt.
func (h *Health) ShouldSkip() bool {
	if h.failures.Load() < circuitBreakerThreshold {
		return false
	}
	s := h.skips.Add(1)
	return s%circuitBreakerProbeInterval != 0
}

// RecordFailure increments the consecutive failure counter and returns the
// new value.
func (h *Health) RecordFailure() uint32 {
	return h.failures.Add(1)
}

// RecordSuccess resets the failure and skip counters, returning true if the
// breaker was previously open (i.e. this success was a recovery probe).
func (h *Health) RecordSuccess() bool {
	wasTripped := h.failures.Swap(0) >= circuitBreakerThreshold
	if wasTripped {
		h.skips.Store(0)
	}
	return wasTripped
}

// Failures reports the current consecutive-failure count, used by
// diagnostics export.
func (h *Health) Failures() uint32 { return h.failures.Load() }
