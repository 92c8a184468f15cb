// Package balancer selects agents for task dispatch using pluggable
// strategies.
package balancer

import (
	"math"
	"sort"
	"sync"

	"github.com/fugue-ai/rhema-coordination/internal/shared"
)

// LoadBalancer picks an agent from a candidate list. The strategy is fixed
// at construction. Candidates are sorted by agent id before selection and
// every strategy breaks ties toward the lowest id, so selection is
// deterministic.
type LoadBalancer struct {
	strategy shared.LoadBalancingStrategy

	mu            sync.RWMutex
	connections   map[string]int
	weights       map[string]float64
	responseTimes map[string]float64
	capabilities  map[string]map[string]bool

	rrCursor uint64
}

// New creates a LoadBalancer with the given strategy.
func New(strategy shared.LoadBalancingStrategy) *LoadBalancer {
	return &LoadBalancer{
		strategy:      strategy,
		connections:   make(map[string]int),
		weights:       make(map[string]float64),
		responseTimes: make(map[string]float64),
		capabilities:  make(map[string]map[string]bool),
	}
}

// Strategy returns the configured strategy.
func (lb *LoadBalancer) Strategy() shared.LoadBalancingStrategy {
	return lb.strategy
}

// Select picks an agent from the candidate list, which callers pre-filter to
// online agents. required carries capability tags for the agent-capability
// strategy. Returns "" when no candidate qualifies.
func (lb *LoadBalancer) Select(candidates []string, required []string) string {
	if len(candidates) == 0 {
		return ""
	}

	sorted := shared.CloneStringSlice(candidates)
	sort.Strings(sorted)

	lb.mu.Lock()
	defer lb.mu.Unlock()

	switch lb.strategy {
	case shared.StrategyLeastConnections:
		return lb.selectMin(sorted, func(id string) float64 {
			return float64(lb.connections[id])
		})
	case shared.StrategyWeightedRound:
		return lb.selectMax(sorted, func(id string) float64 {
			if w, ok := lb.weights[id]; ok {
				return w
			}
			return 1.0
		})
	case shared.StrategyLeastResponseTime:
		return lb.selectMin(sorted, func(id string) float64 {
			if rt, ok := lb.responseTimes[id]; ok {
				return rt
			}
			// An unmeasured agent is never chosen over a measured one.
			return math.MaxFloat64
		})
	case shared.StrategyAgentCapability:
		return lb.selectByCapability(sorted, required)
	default: // round-robin
		idx := lb.rrCursor % uint64(len(sorted))
		lb.rrCursor++
		return sorted[idx]
	}
}

// selectMin returns the candidate with the lowest score; first (lowest id)
// wins ties.
func (lb *LoadBalancer) selectMin(candidates []string, score func(string) float64) string {
	best := candidates[0]
	bestScore := score(best)
	for _, id := range candidates[1:] {
		if s := score(id); s < bestScore {
			best, bestScore = id, s
		}
	}
	return best
}

// selectMax returns the candidate with the highest score; first (lowest id)
// wins ties.
func (lb *LoadBalancer) selectMax(candidates []string, score func(string) float64) string {
	best := candidates[0]
	bestScore := score(best)
	for _, id := range candidates[1:] {
		if s := score(id); s > bestScore {
			best, bestScore = id, s
		}
	}
	return best
}

// selectByCapability returns the candidate whose recorded capability set has
// the largest intersection with the required tags. Candidates with zero
// intersection are excluded. With no requirements, falls back to the first
// candidate.
func (lb *LoadBalancer) selectByCapability(candidates []string, required []string) string {
	if len(required) == 0 {
		return candidates[0]
	}

	best := ""
	bestMatches := 0
	for _, id := range candidates {
		caps := lb.capabilities[id]
		matches := 0
		for _, req := range required {
			if caps[req] {
				matches++
			}
		}
		if matches > bestMatches {
			best, bestMatches = id, matches
		}
	}
	return best
}

// RecordConnection adjusts an agent's recorded connection count by delta.
func (lb *LoadBalancer) RecordConnection(agentID string, delta int) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	next := lb.connections[agentID] + delta
	if next < 0 {
		next = 0
	}
	lb.connections[agentID] = next
}

// SetWeight records an agent's weight for weighted round-robin.
func (lb *LoadBalancer) SetWeight(agentID string, weight float64) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.weights[agentID] = weight
}

// RecordResponseTime records an agent's latest response time.
func (lb *LoadBalancer) RecordResponseTime(agentID string, ms float64) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.responseTimes[agentID] = ms
}

// SetCapabilities records an agent's capability tags.
func (lb *LoadBalancer) SetCapabilities(agentID string, caps []string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	set := make(map[string]bool, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	lb.capabilities[agentID] = set
}

// Forget drops all recorded state for an agent.
func (lb *LoadBalancer) Forget(agentID string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	delete(lb.connections, agentID)
	delete(lb.weights, agentID)
	delete(lb.responseTimes, agentID)
	delete(lb.capabilities, agentID)
}
