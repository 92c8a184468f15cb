// Package breaker implements per-agent circuit breakers with externally
// reported outcomes.
package breaker

import (
	"sync"

	"go.uber.org/zap"

	"github.com/fugue-ai/rhema-coordination/internal/shared"
)

// CircuitBreaker tracks consecutive failures for a single agent. Transitions:
// reaching the failure threshold opens the circuit from any state, CanExecute
// moves an open circuit to half-open once the timeout has elapsed, and a
// success while half-open (or closed) resets to closed. A success reported
// while open is ignored.
type CircuitBreaker struct {
	mu sync.Mutex

	state       shared.CircuitState
	failures    int
	threshold   int
	timeoutMs   int64
	lastFailure int64
}

// NewCircuitBreaker creates a closed breaker with the given config.
func NewCircuitBreaker(cfg shared.BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		state:     shared.CircuitClosed,
		threshold: cfg.Threshold,
		timeoutMs: cfg.TimeoutMs,
	}
}

// CanExecute reports whether a call should proceed. When the circuit is open
// and the timeout has elapsed since the last failure, it transitions to
// half-open and allows a single probe.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case shared.CircuitOpen:
		if shared.Now()-cb.lastFailure >= cb.timeoutMs {
			cb.state = shared.CircuitHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// OnSuccess records a successful call. Closed and half-open circuits reset
// to closed with a zero failure count. Open circuits are left untouched.
func (cb *CircuitBreaker) OnSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == shared.CircuitOpen {
		return
	}
	cb.state = shared.CircuitClosed
	cb.failures = 0
}

// OnFailure records a failed call. Reaching the threshold opens the circuit
// from any state.
func (cb *CircuitBreaker) OnFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = shared.Now()
	if cb.failures >= cb.threshold {
		cb.state = shared.CircuitOpen
	} else if cb.state == shared.CircuitHalfOpen {
		// A failed probe reopens immediately.
		cb.state = shared.CircuitOpen
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() shared.CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Set manages one breaker per agent, created lazily on first use.
type Set struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	cfg      shared.BreakerConfig
	logger   *zap.Logger
}

// NewSet creates an empty breaker set.
func NewSet(cfg shared.BreakerConfig, logger *zap.Logger) *Set {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Set{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
		logger:   logger,
	}
}

// For returns the breaker for an agent, creating it if needed.
func (s *Set) For(agentID string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.breakers[agentID]
	if !ok {
		cb = NewCircuitBreaker(s.cfg)
		s.breakers[agentID] = cb
	}
	return cb
}

// CanExecute reports whether calls to the agent should proceed. Agents
// without a breaker yet are always allowed.
func (s *Set) CanExecute(agentID string) bool {
	return s.For(agentID).CanExecute()
}

// OnSuccess records a successful call against the agent's breaker.
func (s *Set) OnSuccess(agentID string) {
	s.For(agentID).OnSuccess()
}

// OnFailure records a failed call against the agent's breaker.
func (s *Set) OnFailure(agentID string) {
	cb := s.For(agentID)
	before := cb.State()
	cb.OnFailure()
	if after := cb.State(); after == shared.CircuitOpen && before != shared.CircuitOpen {
		s.logger.Warn("circuit opened",
			zap.String("agentId", agentID),
			zap.Int("failures", cb.Failures()))
	}
}

// Remove drops the breaker for an agent.
func (s *Set) Remove(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.breakers, agentID)
}

// States returns a snapshot of every agent's circuit state.
func (s *Set) States() map[string]shared.CircuitState {
	s.mu.Lock()
	byID := make(map[string]*CircuitBreaker, len(s.breakers))
	for id, cb := range s.breakers {
		byID[id] = cb
	}
	s.mu.Unlock()

	out := make(map[string]shared.CircuitState, len(byID))
	for id, cb := range byID {
		out[id] = cb.State()
	}
	return out
}
