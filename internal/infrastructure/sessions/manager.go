// Package sessions manages coordination sessions: bounded-lifetime
// collaboration contexts among registered agents.
package sessions

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fugue-ai/rhema-coordination/internal/shared"
)

// AgentChecker reports whether an agent id is registered. Implemented by the
// agent registry.
type AgentChecker interface {
	Has(agentID string) bool
}

// Publisher routes a session message onto the bus. Implemented by the
// message bus.
type Publisher interface {
	Send(msg *shared.Message) error
}

// Manager owns the basic and advanced session tables. Advanced sessions are
// gated by a feature flag; when a consensus config accompanies an advanced
// session, the configured callback kicks off consensus.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*shared.CoordinationSession
	advanced map[string]*shared.AdvancedSession

	maxParticipants int
	advancedEnabled bool
	active          atomic.Int64

	agents AgentChecker
	bus    Publisher

	// Invoked outside the lock when an advanced session binds a consensus
	// configuration.
	onConsensus func(cfg shared.ConsensusConfig) error

	logger *zap.Logger
}

// New creates a session Manager.
func New(cfg shared.CoordinationConfig, advancedEnabled bool, agents AgentChecker, bus Publisher, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sessions:        make(map[string]*shared.CoordinationSession),
		advanced:        make(map[string]*shared.AdvancedSession),
		maxParticipants: cfg.MaxSessionParticipants,
		advancedEnabled: advancedEnabled,
		agents:          agents,
		bus:             bus,
		logger:          logger,
	}
}

// SetOnConsensus installs the callback invoked when an advanced session
// carries a consensus configuration.
func (m *Manager) SetOnConsensus(fn func(cfg shared.ConsensusConfig) error) {
	m.onConsensus = fn
}

// validateParticipants checks registration and the participant cap.
func (m *Manager) validateParticipants(participants []string) error {
	for _, id := range participants {
		if !m.agents.Has(id) {
			return shared.NewError(shared.ErrAgentNotFound, "participant %s is not registered", id)
		}
	}
	if m.maxParticipants > 0 && len(participants) > m.maxParticipants {
		return shared.NewError(shared.ErrPermissionDenied,
			"participant count %d exceeds maximum %d", len(participants), m.maxParticipants)
	}
	return nil
}

// dedupe returns the participant list as a set, preserving first-seen order.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Create starts a new session. Every participant must already be registered.
func (m *Manager) Create(topic string, participants []string) (*shared.CoordinationSession, error) {
	participants = dedupe(participants)
	if err := m.validateParticipants(participants); err != nil {
		return nil, err
	}

	session := &shared.CoordinationSession{
		ID:           uuid.New().String(),
		Topic:        topic,
		Participants: participants,
		Status:       shared.SessionStatusActive,
		StartedAt:    shared.Now(),
	}
	// A session with no participants is complete by definition.
	if len(participants) == 0 {
		session.Status = shared.SessionStatusCompleted
		session.EndedAt = session.StartedAt
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()
	if session.Status == shared.SessionStatusActive {
		m.active.Add(1)
	}

	m.logger.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("topic", topic),
		zap.Int("participants", len(participants)),
	)
	return shared.CloneSession(session), nil
}

// lookup finds a session in either table. Callers hold the lock.
func (m *Manager) lookup(sessionID string) (*shared.CoordinationSession, error) {
	if s, ok := m.sessions[sessionID]; ok {
		return s, nil
	}
	if a, ok := m.advanced[sessionID]; ok {
		return &a.CoordinationSession, nil
	}
	return nil, shared.NewError(shared.ErrSessionNotFound, "session %s not found", sessionID)
}

// Join adds an agent to a session. Joining twice is a no-op.
func (m *Manager) Join(sessionID, agentID string) error {
	if !m.agents.Has(agentID) {
		return shared.NewError(shared.ErrAgentNotFound, "agent %s is not registered", agentID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	for _, id := range session.Participants {
		if id == agentID {
			return nil
		}
	}
	if m.maxParticipants > 0 && len(session.Participants) >= m.maxParticipants {
		return shared.NewError(shared.ErrPermissionDenied,
			"session %s is at participant capacity %d", sessionID, m.maxParticipants)
	}
	session.Participants = append(session.Participants, agentID)
	return nil
}

// Leave removes an agent from a session. When the last participant leaves
// the session auto-completes and the active count is decremented.
func (m *Manager) Leave(sessionID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	kept := session.Participants[:0]
	for _, id := range session.Participants {
		if id != agentID {
			kept = append(kept, id)
		}
	}
	session.Participants = kept

	if len(session.Participants) == 0 && session.Status == shared.SessionStatusActive {
		session.Status = shared.SessionStatusCompleted
		session.EndedAt = shared.Now()
		m.active.Add(-1)
		m.logger.Info("session completed", zap.String("session_id", sessionID))
	}
	return nil
}

// LeaveAll removes an agent from every session it participates in. Used when
// an agent is unregistered or evicted.
func (m *Manager) LeaveAll(agentID string) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions)+len(m.advanced))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	for id := range m.advanced {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Strings(ids)
	for _, id := range ids {
		_ = m.Leave(id, agentID)
	}
}

// SendMessage rewrites the message's recipients to the session's current
// participant list, records it in the session log, and defers to the bus.
// Only active sessions accept messages.
func (m *Manager) SendMessage(sessionID string, msg *shared.Message) error {
	m.mu.Lock()
	session, err := m.lookup(sessionID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if session.Status != shared.SessionStatusActive {
		m.mu.Unlock()
		return shared.NewError(shared.ErrPermissionDenied,
			"session %s is %s, not active", sessionID, session.Status)
	}

	msg.RecipientIDs = shared.CloneStringSlice(session.Participants)
	session.Messages = append(session.Messages, *shared.CloneMessage(msg))
	m.mu.Unlock()

	return m.bus.Send(msg)
}

// AddDecision appends a decision to the session's decision log.
func (m *Manager) AddDecision(sessionID string, decision shared.SessionDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	if decision.ID == "" {
		decision.ID = uuid.New().String()
	}
	if decision.Timestamp == 0 {
		decision.Timestamp = shared.Now()
	}
	session.Decisions = append(session.Decisions, decision)
	return nil
}

// Get returns a copy of a basic session.
func (m *Manager) Get(sessionID string) (*shared.CoordinationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return shared.CloneSession(session), nil
}

// ActiveCount returns the number of active sessions.
func (m *Manager) ActiveCount() int64 {
	return m.active.Load()
}

// ============================================================================
// Advanced Sessions
// ============================================================================

// CreateAdvanced starts an advanced session with optional consensus binding
// and rules. Fails with PermissionDenied when the feature flag is off.
func (m *Manager) CreateAdvanced(topic string, participants []string, consensus *shared.ConsensusConfig, rules []shared.SessionRule) (*shared.AdvancedSession, error) {
	if !m.advancedEnabled {
		return nil, shared.NewError(shared.ErrPermissionDenied, "advanced sessions are disabled")
	}

	participants = dedupe(participants)
	if err := m.validateParticipants(participants); err != nil {
		return nil, err
	}

	session := &shared.AdvancedSession{
		CoordinationSession: shared.CoordinationSession{
			ID:           uuid.New().String(),
			Topic:        topic,
			Participants: participants,
			Status:       shared.SessionStatusActive,
			StartedAt:    shared.Now(),
		},
		Rules: rules,
	}
	if len(participants) == 0 {
		session.Status = shared.SessionStatusCompleted
		session.EndedAt = session.StartedAt
	}
	if consensus != nil {
		cfg := *consensus
		session.Consensus = &cfg
	}

	m.mu.Lock()
	m.advanced[session.ID] = session
	m.mu.Unlock()
	if session.Status == shared.SessionStatusActive {
		m.active.Add(1)
	}

	m.logger.Info("advanced session created",
		zap.String("session_id", session.ID),
		zap.String("topic", topic),
		zap.Bool("consensus", consensus != nil),
	)

	if consensus != nil && m.onConsensus != nil {
		if err := m.onConsensus(*session.Consensus); err != nil {
			m.logger.Error("consensus start failed",
				zap.String("session_id", session.ID),
				zap.Error(err),
			)
		}
	}
	return shared.CloneAdvancedSession(session), nil
}

// AddRule appends a rule to an advanced session. Rules are append-only; no
// ordering or priority is enforced beyond storage order.
func (m *Manager) AddRule(sessionID string, rule shared.SessionRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.advanced[sessionID]
	if !ok {
		return shared.NewError(shared.ErrSessionNotFound, "advanced session %s not found", sessionID)
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	session.Rules = append(session.Rules, rule)
	return nil
}

// GetAdvanced returns a copy of an advanced session.
func (m *Manager) GetAdvanced(sessionID string) (*shared.AdvancedSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.advanced[sessionID]
	if !ok {
		return nil, shared.NewError(shared.ErrSessionNotFound, "advanced session %s not found", sessionID)
	}
	return shared.CloneAdvancedSession(session), nil
}
