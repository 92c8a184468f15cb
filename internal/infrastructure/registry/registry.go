// Package registry tracks agent identity, status, capabilities, and heartbeat.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fugue-ai/rhema-coordination/internal/shared"
)

// Registry is the authoritative table of registered agents. It runs a
// background heartbeat monitor that removes agents whose heartbeat has gone
// stale; this is the only automatic removal path besides Unregister.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*shared.Agent

	maxAgents         int
	heartbeatInterval time.Duration
	agentTimeout      time.Duration

	// Invoked outside the lock when the monitor evicts an agent.
	onExpired func(agentID string)

	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Registry from the base coordination configuration.
func New(cfg shared.CoordinationConfig, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		agents:            make(map[string]*shared.Agent),
		maxAgents:         cfg.MaxAgents,
		heartbeatInterval: time.Duration(cfg.HeartbeatIntervalMs) * time.Millisecond,
		agentTimeout:      time.Duration(cfg.AgentTimeoutMs) * time.Millisecond,
		logger:            logger,
		ctx:               ctx,
		cancel:            cancel,
	}
}

// SetOnExpired installs the callback invoked when the heartbeat monitor
// removes a stale agent. Must be called before StartMonitor.
func (r *Registry) SetOnExpired(fn func(agentID string)) {
	r.onExpired = fn
}

// Register inserts an agent record. An existing record with the same id is
// overwritten; callers must ensure unique ids. Fails with PermissionDenied
// when the registry is at capacity.
func (r *Registry) Register(agent shared.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agent.ID]; !exists && r.maxAgents > 0 && len(r.agents) >= r.maxAgents {
		return shared.NewError(shared.ErrPermissionDenied, "agent capacity %d reached", r.maxAgents)
	}

	agent.LastHeartbeat = shared.Now()
	agent.Online = true
	if agent.Status == "" {
		agent.Status = shared.AgentStatusIdle
	}
	r.agents[agent.ID] = shared.CloneAgent(&agent)

	r.logger.Info("agent registered",
		zap.String("agent_id", agent.ID),
		zap.String("name", agent.Name),
		zap.Strings("capabilities", agent.Capabilities),
		zap.Int("total_agents", len(r.agents)),
	)
	return nil
}

// Unregister removes an agent record. Removing an unknown id is a no-op.
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agentID]; exists {
		delete(r.agents, agentID)
		r.logger.Info("agent unregistered",
			zap.String("agent_id", agentID),
			zap.Int("total_agents", len(r.agents)),
		)
	}
}

// UpdateStatus updates an agent's status and refreshes its heartbeat.
func (r *Registry) UpdateStatus(agentID string, status shared.AgentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, exists := r.agents[agentID]
	if !exists {
		return shared.NewError(shared.ErrAgentNotFound, "agent %s not found", agentID)
	}

	agent.Status = status
	agent.Online = status != shared.AgentStatusOffline
	agent.LastHeartbeat = shared.Now()
	return nil
}

// Heartbeat refreshes an agent's heartbeat timestamp.
func (r *Registry) Heartbeat(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, exists := r.agents[agentID]
	if !exists {
		return shared.NewError(shared.ErrAgentNotFound, "agent %s not found", agentID)
	}
	agent.LastHeartbeat = shared.Now()
	return nil
}

// RecordTaskResult folds a task outcome into the agent's performance metrics.
func (r *Registry) RecordTaskResult(agentID string, success bool, durationMs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, exists := r.agents[agentID]
	if !exists {
		return shared.NewError(shared.ErrAgentNotFound, "agent %s not found", agentID)
	}

	perf := &agent.Performance
	if success {
		perf.TasksCompleted++
	} else {
		perf.TasksFailed++
	}
	total := perf.TasksCompleted + perf.TasksFailed
	perf.SuccessRate = float64(perf.TasksCompleted) / float64(total)
	// Cumulative moving average over all recorded tasks.
	perf.AvgResponseTimeMs += (float64(durationMs) - perf.AvgResponseTimeMs) / float64(total)
	return nil
}

// Get returns a copy of the agent record.
func (r *Registry) Get(agentID string) (*shared.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, exists := r.agents[agentID]
	if !exists {
		return nil, shared.NewError(shared.ErrAgentNotFound, "agent %s not found", agentID)
	}
	return shared.CloneAgent(agent), nil
}

// Has reports whether an agent id is registered.
func (r *Registry) Has(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.agents[agentID]
	return exists
}

// List returns copies of all agent records, sorted by id.
func (r *Registry) List() []*shared.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*shared.Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		out = append(out, shared.CloneAgent(agent))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OnlineIDs returns the ids of agents currently online, sorted.
func (r *Registry) OnlineIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.agents))
	for id, agent := range r.agents {
		if agent.Online && agent.Status != shared.AgentStatusOffline {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Count returns the number of registered agents.
func (r *Registry) Count() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.agents))
}

// StartMonitor launches the heartbeat monitor loop.
func (r *Registry) StartMonitor() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				r.evictStale()
			}
		}
	}()
}

// evictStale removes agents whose heartbeat exceeded the agent timeout.
func (r *Registry) evictStale() {
	now := shared.Now()
	timeoutMs := r.agentTimeout.Milliseconds()

	r.mu.Lock()
	expired := make([]string, 0)
	for id, agent := range r.agents {
		if now-agent.LastHeartbeat > timeoutMs {
			expired = append(expired, id)
			delete(r.agents, id)
		}
	}
	r.mu.Unlock()

	sort.Strings(expired)
	for _, id := range expired {
		r.logger.Warn("agent heartbeat expired", zap.String("agent_id", id))
		if r.onExpired != nil {
			r.onExpired(id)
		}
	}
}

// Shutdown stops the heartbeat monitor and waits for it to exit.
func (r *Registry) Shutdown() {
	r.cancel()
	r.wg.Wait()
}
