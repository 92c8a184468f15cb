// Package coordination wires the registry, message bus, lock manager,
// session manager, and the optional advanced subsystems into a single
// facade.
package coordination

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fugue-ai/rhema-coordination/internal/application/consensus"
	"github.com/fugue-ai/rhema-coordination/internal/application/monitor"
	"github.com/fugue-ai/rhema-coordination/internal/infrastructure/balancer"
	"github.com/fugue-ai/rhema-coordination/internal/infrastructure/breaker"
	"github.com/fugue-ai/rhema-coordination/internal/infrastructure/locks"
	"github.com/fugue-ai/rhema-coordination/internal/infrastructure/messaging"
	"github.com/fugue-ai/rhema-coordination/internal/infrastructure/registry"
	"github.com/fugue-ai/rhema-coordination/internal/infrastructure/sessions"
	"github.com/fugue-ai/rhema-coordination/internal/shared"
)

// SystemSenderID is the sender id used for messages the system itself emits.
const SystemSenderID = "system"

// System is the coordination facade. All public operations are safe for
// concurrent use.
type System struct {
	cfg    shared.AdvancedCoordinationConfig
	logger *zap.Logger

	registry *registry.Registry
	bus      *messaging.MessageBus
	locks    *locks.Manager
	sessions *sessions.Manager
	balancer *balancer.LoadBalancer
	breakers *breaker.Set
	monitor  *monitor.Monitor
	cipher   *messageCipher
	limiter  *rate.Limiter

	consensusMu sync.RWMutex
	consensus   map[string]*consensus.Manager

	respTotalMs atomic.Int64
	respCount   atomic.Int64
}

// New builds a System from the given configuration. reg may be nil when no
// metrics endpoint is wanted; logger may be nil.
func New(cfg shared.AdvancedCoordinationConfig, reg prometheus.Registerer, logger *zap.Logger) (*System, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var cipher *messageCipher
	if cfg.EnableEncryption {
		var err error
		cipher, err = newMessageCipher(cfg.EncryptionAlgorithm, cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
	}

	strategy := cfg.LoadBalancingStrategy
	if !cfg.EnableLoadBalancing || strategy == "" {
		strategy = shared.StrategyRoundRobin
	}

	s := &System{
		cfg:       cfg,
		logger:    logger,
		registry:  registry.New(cfg.CoordinationConfig, logger),
		bus:       messaging.New(cfg.CoordinationConfig, logger),
		locks:     locks.New(logger),
		balancer:  balancer.New(strategy),
		monitor:   monitor.New(cfg.Monitor, reg, logger),
		cipher:    cipher,
		consensus: make(map[string]*consensus.Manager),
	}

	if cfg.EnableFaultTolerance {
		s.breakers = breaker.NewSet(cfg.Breaker, logger)
	}
	if cfg.SendRateLimit > 0 {
		burst := cfg.SendRateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.SendRateLimit), burst)
	}

	s.sessions = sessions.New(cfg.CoordinationConfig, cfg.EnableAdvancedSessions, s.registry, s.bus, logger)
	s.sessions.SetOnConsensus(s.StartConsensus)
	s.registry.SetOnExpired(s.handleAgentExpired)

	return s, nil
}

// Start launches the background loops: stale-agent eviction and expired-lock
// sweeping.
func (s *System) Start() {
	s.registry.StartMonitor()
	s.locks.StartSweeper(time.Duration(s.cfg.LockSweepIntervalMs) * time.Millisecond)
	s.logger.Info("coordination system started",
		zap.Int("maxAgents", s.cfg.MaxAgents),
		zap.String("strategy", string(s.balancer.Strategy())))
}

// Shutdown stops every subsystem and closes all streams.
func (s *System) Shutdown() {
	s.consensusMu.Lock()
	for _, mgr := range s.consensus {
		mgr.Shutdown()
	}
	s.consensus = make(map[string]*consensus.Manager)
	s.consensusMu.Unlock()

	s.registry.Shutdown()
	s.locks.Shutdown()
	s.bus.Shutdown()
	s.logger.Info("coordination system stopped")
}

// ============================================================================
// Agent Operations
// ============================================================================

// RegisterAgent adds an agent, attaches its mailbox, and delivers a welcome
// message.
func (s *System) RegisterAgent(agent shared.Agent) error {
	if err := s.registry.Register(agent); err != nil {
		return err
	}
	s.bus.Attach(agent.ID)
	if len(agent.Capabilities) > 0 {
		s.balancer.SetCapabilities(agent.ID, agent.Capabilities)
	}

	welcome := &shared.Message{
		ID:           uuid.NewString(),
		Type:         shared.MessageTypeWelcome,
		Priority:     shared.PriorityNormal,
		SenderID:     SystemSenderID,
		RecipientIDs: []string{agent.ID},
		Content:      "welcome to the coordination system",
	}
	if err := s.bus.Send(welcome); err != nil {
		s.logger.Warn("welcome message failed", zap.String("agentId", agent.ID), zap.Error(err))
	}
	return nil
}

// UnregisterAgent removes an agent and releases everything it holds: session
// memberships, resource locks, its mailbox, and balancer/breaker state.
func (s *System) UnregisterAgent(agentID string) {
	s.sessions.LeaveAll(agentID)
	s.locks.ReleaseAllOwnedBy(agentID)
	s.bus.Detach(agentID)
	s.balancer.Forget(agentID)
	if s.breakers != nil {
		s.breakers.Remove(agentID)
	}
	s.registry.Unregister(agentID)
}

// handleAgentExpired runs the same cleanup for agents evicted by the
// heartbeat monitor. The registry entry is already gone.
func (s *System) handleAgentExpired(agentID string) {
	s.sessions.LeaveAll(agentID)
	s.locks.ReleaseAllOwnedBy(agentID)
	s.bus.Detach(agentID)
	s.balancer.Forget(agentID)
	if s.breakers != nil {
		s.breakers.Remove(agentID)
	}
	s.logger.Warn("agent expired", zap.String("agentId", agentID))
}

// UpdateAgentStatus sets an agent's status and refreshes its heartbeat.
func (s *System) UpdateAgentStatus(agentID string, status shared.AgentStatus) error {
	return s.registry.UpdateStatus(agentID, status)
}

// AgentHeartbeat refreshes an agent's liveness timestamp.
func (s *System) AgentHeartbeat(agentID string) error {
	return s.registry.Heartbeat(agentID)
}

// AgentInfo returns a copy of the agent's record.
func (s *System) AgentInfo(agentID string) (*shared.Agent, error) {
	return s.registry.Get(agentID)
}

// AllAgents returns copies of every registered agent, sorted by id.
func (s *System) AllAgents() []*shared.Agent {
	return s.registry.List()
}

// ============================================================================
// Messaging Operations
// ============================================================================

// SendMessage delivers a message to its recipients' mailboxes. Content is
// encrypted when encryption is enabled. An empty recipient list broadcasts.
func (s *System) SendMessage(msg *shared.Message) error {
	if err := s.prepareOutbound(msg); err != nil {
		return err
	}
	return s.bus.Send(msg)
}

// BroadcastMessage publishes a message to every broadcast subscriber.
func (s *System) BroadcastMessage(msg *shared.Message) error {
	if err := s.prepareOutbound(msg); err != nil {
		return err
	}
	return s.bus.Broadcast(msg)
}

func (s *System) prepareOutbound(msg *shared.Message) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(context.Background()); err != nil {
			return shared.NewError(shared.ErrMessageDeliveryFailed, "rate limit wait: %v", err)
		}
	}
	sealed, err := s.SealMessage(msg.Content)
	if err != nil {
		return err
	}
	msg.Content = sealed
	return nil
}

// SealMessage returns the content encrypted with the configured algorithm.
// With encryption disabled the content passes through unchanged. SendMessage
// and BroadcastMessage seal on their own; this is for callers that deliver
// through their own channel.
func (s *System) SealMessage(content string) (string, error) {
	sealed, err := s.cipher.seal(content)
	if err != nil {
		return "", shared.NewError(shared.ErrMessageDeliveryFailed, "encrypt message: %v", err)
	}
	return sealed, nil
}

// OpenMessage returns the plaintext content of a received message,
// decrypting it when encryption is enabled.
func (s *System) OpenMessage(msg *shared.Message) (string, error) {
	plain, err := s.cipher.open(msg.Content)
	if err != nil {
		return "", shared.NewError(shared.ErrInvalidMessageFormat, "decrypt message %s: %v", msg.ID, err)
	}
	return plain, nil
}

// MessageStream returns the agent's mailbox channel. Calling it again
// replaces the previous stream.
func (s *System) MessageStream(agentID string) (<-chan *shared.Message, error) {
	if !s.registry.Has(agentID) {
		return nil, shared.NewError(shared.ErrAgentNotFound, "agent %s is not registered", agentID)
	}
	return s.bus.Stream(agentID)
}

// BroadcastStream subscribes to the lossy broadcast channel. The returned
// cancel func removes the subscription.
func (s *System) BroadcastStream() (<-chan *shared.Message, func()) {
	return s.bus.SubscribeBroadcast()
}

// MessageHistory returns up to limit recent messages, oldest first.
func (s *System) MessageHistory(limit int) []shared.Message {
	return s.bus.History(limit)
}

// ============================================================================
// Session Operations
// ============================================================================

// CreateSession creates a coordination session over the given participants.
func (s *System) CreateSession(topic string, participants []string) (*shared.CoordinationSession, error) {
	return s.sessions.Create(topic, participants)
}

// JoinSession adds an agent to a session.
func (s *System) JoinSession(sessionID, agentID string) error {
	return s.sessions.Join(sessionID, agentID)
}

// LeaveSession removes an agent from a session; an emptied session
// completes.
func (s *System) LeaveSession(sessionID, agentID string) error {
	return s.sessions.Leave(sessionID, agentID)
}

// SendSessionMessage records a message in the session transcript and
// delivers it to every participant.
func (s *System) SendSessionMessage(sessionID string, msg *shared.Message) error {
	if err := s.prepareOutbound(msg); err != nil {
		return err
	}
	return s.sessions.SendMessage(sessionID, msg)
}

// AddSessionDecision appends a decision to the session record.
func (s *System) AddSessionDecision(sessionID string, decision shared.SessionDecision) error {
	return s.sessions.AddDecision(sessionID, decision)
}

// Session returns a copy of the session.
func (s *System) Session(sessionID string) (*shared.CoordinationSession, error) {
	return s.sessions.Get(sessionID)
}

// CreateAdvancedSession creates a session with optional consensus binding
// and rules. Requires advanced sessions to be enabled.
func (s *System) CreateAdvancedSession(topic string, participants []string, consensusCfg *shared.ConsensusConfig, rules []shared.SessionRule) (*shared.AdvancedSession, error) {
	return s.sessions.CreateAdvanced(topic, participants, consensusCfg, rules)
}

// AddSessionRule appends a rule to an advanced session.
func (s *System) AddSessionRule(sessionID string, rule shared.SessionRule) error {
	return s.sessions.AddRule(sessionID, rule)
}

// AdvancedSession returns a copy of an advanced session.
func (s *System) AdvancedSession(sessionID string) (*shared.AdvancedSession, error) {
	return s.sessions.GetAdvanced(sessionID)
}

// ============================================================================
// Resource Operations
// ============================================================================

// AddResource registers a lockable resource.
func (s *System) AddResource(res shared.Resource) {
	s.locks.AddResource(res)
}

// RemoveResource removes a resource and any lock on it.
func (s *System) RemoveResource(resourceID string) {
	s.locks.RemoveResource(resourceID)
}

// RequestResourceLock attempts to lock a resource for an agent. Returns
// true when the agent holds the lock afterwards.
func (s *System) RequestResourceLock(resourceID, agentID string) (bool, error) {
	if !s.registry.Has(agentID) {
		return false, shared.NewError(shared.ErrAgentNotFound, "agent %s is not registered", agentID)
	}
	return s.locks.Request(resourceID, agentID)
}

// ReleaseResourceLock releases a lock held by the agent.
func (s *System) ReleaseResourceLock(resourceID, agentID string) error {
	return s.locks.Release(resourceID, agentID)
}

// Resource returns a copy of the resource.
func (s *System) Resource(resourceID string) (*shared.Resource, error) {
	return s.locks.Get(resourceID)
}

// Resources returns copies of all resources, sorted by id.
func (s *System) Resources() []*shared.Resource {
	return s.locks.List()
}

// ============================================================================
// Load Balancing and Fault Tolerance
// ============================================================================

// SelectAgentForTask picks an online agent per the configured strategy.
// required carries capability tags. Returns "" when no agent is available.
func (s *System) SelectAgentForTask(required []string) string {
	candidates := s.registry.OnlineIDs()
	if s.breakers != nil {
		allowed := candidates[:0]
		for _, id := range candidates {
			if s.breakers.CanExecute(id) {
				allowed = append(allowed, id)
			}
		}
		candidates = allowed
	}
	return s.balancer.Select(candidates, required)
}

// CanAgentExecute reports whether the agent's circuit allows a call. Always
// true when fault tolerance is disabled.
func (s *System) CanAgentExecute(agentID string) bool {
	if s.breakers == nil {
		return true
	}
	return s.breakers.CanExecute(agentID)
}

// ReportAgentSuccess records a successful task: breaker reset, registry
// metrics, balancer response time, and the global response-time average.
func (s *System) ReportAgentSuccess(agentID string, durationMs int64) {
	if s.breakers != nil {
		s.breakers.OnSuccess(agentID)
	}
	if err := s.registry.RecordTaskResult(agentID, true, durationMs); err != nil {
		s.logger.Debug("task result for unknown agent", zap.String("agentId", agentID))
	}
	s.balancer.RecordResponseTime(agentID, float64(durationMs))
	s.respTotalMs.Add(durationMs)
	s.respCount.Add(1)
}

// ReportAgentFailure records a failed task against the agent's breaker and
// metrics.
func (s *System) ReportAgentFailure(agentID string) {
	if s.breakers != nil {
		s.breakers.OnFailure(agentID)
	}
	if err := s.registry.RecordTaskResult(agentID, false, 0); err != nil {
		s.logger.Debug("task result for unknown agent", zap.String("agentId", agentID))
	}
}

// CircuitStates returns the circuit state of every tracked agent. Nil when
// fault tolerance is disabled.
func (s *System) CircuitStates() map[string]shared.CircuitState {
	if s.breakers == nil {
		return nil
	}
	return s.breakers.States()
}

// ============================================================================
// Consensus Operations
// ============================================================================

// StartConsensus creates and starts a consensus node for the given group
// config. Outbound consensus traffic rides the message bus.
func (s *System) StartConsensus(cfg shared.ConsensusConfig) error {
	s.consensusMu.Lock()
	defer s.consensusMu.Unlock()

	if _, exists := s.consensus[cfg.NodeID]; exists {
		return shared.NewError(shared.ErrSessionAlreadyExists, "consensus node %s already running", cfg.NodeID)
	}

	mgr := consensus.New(cfg, s.sendConsensus, s.logger)
	s.consensus[cfg.NodeID] = mgr
	mgr.Start()
	return nil
}

// sendConsensus wraps a consensus message in a bus message addressed to the
// peer's mailbox.
func (s *System) sendConsensus(peerID string, msg shared.ConsensusMessage) {
	wrapped := &shared.Message{
		ID:           uuid.NewString(),
		Type:         shared.MessageTypeConsensus,
		Priority:     shared.PriorityHigh,
		SenderID:     msg.From,
		RecipientIDs: []string{peerID},
		Content:      string(msg.Type),
		Payload:      map[string]interface{}{"consensus": msg},
	}
	if err := s.bus.Send(wrapped); err != nil {
		s.logger.Debug("consensus send failed",
			zap.String("peer", peerID),
			zap.String("type", string(msg.Type)))
	}
}

// HandleConsensusMessage delivers an inbound consensus message to the named
// node and returns the response, if any.
func (s *System) HandleConsensusMessage(nodeID string, msg shared.ConsensusMessage) (*shared.ConsensusMessage, error) {
	s.consensusMu.RLock()
	mgr, ok := s.consensus[nodeID]
	s.consensusMu.RUnlock()
	if !ok {
		return nil, shared.NewError(shared.ErrSessionNotFound, "consensus node %s not found", nodeID)
	}
	return mgr.HandleMessage(msg), nil
}

// ConsensusState returns a snapshot of the named node's state.
func (s *System) ConsensusState(nodeID string) (shared.ConsensusState, error) {
	s.consensusMu.RLock()
	mgr, ok := s.consensus[nodeID]
	s.consensusMu.RUnlock()
	if !ok {
		return shared.ConsensusState{}, shared.NewError(shared.ErrSessionNotFound, "consensus node %s not found", nodeID)
	}
	return mgr.State(), nil
}

// ProposeConsensus appends a command through the named node. Fails unless
// the node is the leader.
func (s *System) ProposeConsensus(nodeID, command string, payload map[string]interface{}) (shared.ConsensusEntry, error) {
	s.consensusMu.RLock()
	mgr, ok := s.consensus[nodeID]
	s.consensusMu.RUnlock()
	if !ok {
		return shared.ConsensusEntry{}, shared.NewError(shared.ErrSessionNotFound, "consensus node %s not found", nodeID)
	}
	return mgr.Propose(command, payload)
}

// StopConsensus shuts down and removes the named consensus node.
func (s *System) StopConsensus(nodeID string) {
	s.consensusMu.Lock()
	mgr, ok := s.consensus[nodeID]
	if ok {
		delete(s.consensus, nodeID)
	}
	s.consensusMu.Unlock()

	if ok {
		mgr.Shutdown()
	}
}

// ============================================================================
// Performance Monitoring
// ============================================================================

// UpdatePerformanceMetrics feeds a snapshot to the performance monitor.
func (s *System) UpdatePerformanceMetrics(snap shared.PerformanceSnapshot) {
	s.monitor.UpdateMetrics(snap)
}

// PerformanceMetrics returns the latest snapshot and its arrival time.
func (s *System) PerformanceMetrics() (shared.PerformanceSnapshot, int64) {
	return s.monitor.Metrics()
}

// PerformanceAlerts returns the alert history, oldest first.
func (s *System) PerformanceAlerts() []shared.PerformanceAlert {
	return s.monitor.Alerts()
}

// PerformanceAlertSink exposes the live alert channel.
func (s *System) PerformanceAlertSink() <-chan shared.PerformanceAlert {
	return s.monitor.AlertSink()
}

// ============================================================================
// Statistics
// ============================================================================

// Stats returns a snapshot of the system-wide counters.
func (s *System) Stats() shared.CoordinationStats {
	bus := s.bus.Stats()

	var avg float64
	if n := s.respCount.Load(); n > 0 {
		avg = float64(s.respTotalMs.Load()) / float64(n)
	}

	efficiency := 1.0
	if bus.Sent > 0 {
		efficiency = float64(bus.Delivered) / float64(bus.Sent)
	}

	return shared.CoordinationStats{
		MessagesSent:      bus.Sent,
		MessagesDelivered: bus.Delivered,
		MessagesFailed:    bus.Failed,
		ActiveAgents:      s.registry.Count(),
		ActiveSessions:    s.sessions.ActiveCount(),
		AvgResponseTimeMs: avg,
		EfficiencyScore:   efficiency,
	}
}
