// Package shared provides the types used across all coordination modules.
package shared

import (
	"time"
)

// ============================================================================
// Agent Types
// ============================================================================

// AgentStatus represents the current status of an agent.
type AgentStatus string

const (
	AgentStatusIdle          AgentStatus = "idle"
	AgentStatusBusy          AgentStatus = "busy"
	AgentStatusWorking       AgentStatus = "working"
	AgentStatusBlocked       AgentStatus = "blocked"
	AgentStatusCollaborating AgentStatus = "collaborating"
	AgentStatusOffline       AgentStatus = "offline"
	AgentStatusFailed        AgentStatus = "failed"
)

// PerformanceMetrics tracks per-agent task outcomes.
type PerformanceMetrics struct {
	TasksCompleted    int64   `json:"tasksCompleted"`
	TasksFailed       int64   `json:"tasksFailed"`
	SuccessRate       float64 `json:"successRate"`
	AvgResponseTimeMs float64 `json:"avgResponseTimeMs"`
}

// Agent represents an autonomous worker registered with the coordination system.
type Agent struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Type          string             `json:"type"`
	Status        AgentStatus        `json:"status"`
	CurrentTaskID string             `json:"currentTaskId,omitempty"`
	AssignedScope string             `json:"assignedScope,omitempty"`
	Capabilities  []string           `json:"capabilities,omitempty"`
	LastHeartbeat int64              `json:"lastHeartbeat"`
	Online        bool               `json:"online"`
	Performance   PerformanceMetrics `json:"performance"`
}

// ============================================================================
// Message Types
// ============================================================================

// MessageType classifies a coordination message. Any other string value is
// treated as a custom type.
type MessageType string

const (
	MessageTypeTaskAssignment MessageType = "task-assignment"
	MessageTypeTaskHandoff    MessageType = "task-handoff"
	MessageTypeStatusUpdate   MessageType = "status-update"
	MessageTypeResourceClaim  MessageType = "resource-claim"
	MessageTypeDecision       MessageType = "decision"
	MessageTypeConsensus      MessageType = "consensus"
	MessageTypeWelcome        MessageType = "welcome"
	MessageTypeAlert          MessageType = "alert"
)

// MessagePriority orders messages from least to most urgent. Priority is
// informational only; the bus does not reorder deliveries by it.
type MessagePriority int

const (
	PriorityLow MessagePriority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
	PriorityEmergency
)

// String returns the human-readable name of the priority.
func (p MessagePriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	case PriorityEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Message is an immutable coordination message. An empty RecipientIDs list
// means broadcast.
type Message struct {
	ID           string                 `json:"id"`
	Type         MessageType            `json:"type"`
	Priority     MessagePriority        `json:"priority"`
	SenderID     string                 `json:"senderId"`
	RecipientIDs []string               `json:"recipientIds,omitempty"`
	Content      string                 `json:"content"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	Timestamp    int64                  `json:"timestamp"`
	RequiresAck  bool                   `json:"requiresAck,omitempty"`
	ExpiresAt    int64                  `json:"expiresAt,omitempty"` // 0 means no expiry
	Metadata     map[string]string      `json:"metadata,omitempty"`
}

// Expired reports whether the message carries an expiry that has passed.
func (m *Message) Expired(nowMs int64) bool {
	return m.ExpiresAt > 0 && nowMs > m.ExpiresAt
}

// ============================================================================
// Resource Types
// ============================================================================

// Resource is a lockable shared resource. At most one agent owns the lock at
// any time.
type Resource struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Type          string            `json:"type"`
	OwnerID       string            `json:"ownerId,omitempty"`
	Locked        bool              `json:"locked"`
	LockedAt      int64             `json:"lockedAt,omitempty"`
	LockTimeoutMs int64             `json:"lockTimeoutMs,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ============================================================================
// Session Types
// ============================================================================

// SessionStatus represents the lifecycle state of a coordination session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusPaused    SessionStatus = "paused"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// SessionDecision records a decision reached within a session.
type SessionDecision struct {
	ID        string `json:"id"`
	Topic     string `json:"topic"`
	Outcome   string `json:"outcome"`
	DecidedBy string `json:"decidedBy,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// CoordinationSession is a bounded-lifetime collaboration context among a set
// of agents. The participant list is a set; when it empties the session
// auto-completes.
type CoordinationSession struct {
	ID           string            `json:"id"`
	Topic        string            `json:"topic"`
	Participants []string          `json:"participants"`
	Status       SessionStatus     `json:"status"`
	StartedAt    int64             `json:"startedAt"`
	EndedAt      int64             `json:"endedAt,omitempty"`
	Messages     []Message         `json:"messages,omitempty"`
	Decisions    []SessionDecision `json:"decisions,omitempty"`
}

// SessionRuleType classifies an advanced-session rule.
type SessionRuleType string

const (
	RuleAccessControl      SessionRuleType = "access-control"
	RuleMessageFilter      SessionRuleType = "message-filter"
	RuleDecisionMaking     SessionRuleType = "decision-making"
	RuleConflictResolution SessionRuleType = "conflict-resolution"
	RuleCustom             SessionRuleType = "custom"
)

// SessionRule is a rule attached to an advanced session. Rules are
// append-only; storage order is the only ordering.
type SessionRule struct {
	ID         string                 `json:"id"`
	Type       SessionRuleType        `json:"type"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// AdvancedSession extends CoordinationSession with consensus binding and
// session rules.
type AdvancedSession struct {
	CoordinationSession
	Consensus *ConsensusConfig `json:"consensus,omitempty"`
	Rules     []SessionRule    `json:"rules,omitempty"`
}

// ============================================================================
// Consensus Types
// ============================================================================

// NodeState is the Raft role of a consensus node.
type NodeState string

const (
	NodeStateFollower  NodeState = "follower"
	NodeStateCandidate NodeState = "candidate"
	NodeStateLeader    NodeState = "leader"
)

// ConsensusConfig holds timing and membership for a consensus group.
type ConsensusConfig struct {
	NodeID              string   `json:"nodeId" mapstructure:"node_id"`
	Peers               []string `json:"peers,omitempty" mapstructure:"peers"`
	ElectionTimeoutMs   int64    `json:"electionTimeoutMs" mapstructure:"election_timeout_ms"`
	HeartbeatIntervalMs int64    `json:"heartbeatIntervalMs" mapstructure:"heartbeat_interval_ms"`
}

// DefaultConsensusConfig returns the default consensus timing configuration.
func DefaultConsensusConfig(nodeID string) ConsensusConfig {
	return ConsensusConfig{
		NodeID:              nodeID,
		ElectionTimeoutMs:   150,
		HeartbeatIntervalMs: 50,
	}
}

// ConsensusEntry is a single replicated log entry. Index is 1-based.
type ConsensusEntry struct {
	Term    int64                  `json:"term"`
	Index   int64                  `json:"index"`
	Command string                 `json:"command"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// ConsensusState is a snapshot of a node's Raft state.
type ConsensusState struct {
	Term         int64     `json:"term"`
	LeaderID     string    `json:"leaderId,omitempty"`
	State        NodeState `json:"state"`
	VotedFor     string    `json:"votedFor,omitempty"`
	LastLogIndex int64     `json:"lastLogIndex"`
	LastLogTerm  int64     `json:"lastLogTerm"`
	CommitIndex  int64     `json:"commitIndex"`
}

// ConsensusMessageType tags the variant of a ConsensusMessage.
type ConsensusMessageType string

const (
	ConsensusRequestVote    ConsensusMessageType = "request-vote"
	ConsensusVoteResponse   ConsensusMessageType = "vote-response"
	ConsensusAppendEntries  ConsensusMessageType = "append-entries"
	ConsensusAppendResponse ConsensusMessageType = "append-entries-response"
	ConsensusHeartbeat      ConsensusMessageType = "heartbeat"
)

// ConsensusMessage is the wire shape exchanged between consensus nodes. Only
// the fields relevant to the tagged Type are populated.
type ConsensusMessage struct {
	Type ConsensusMessageType `json:"type"`
	Term int64                `json:"term"`
	From string               `json:"from,omitempty"`

	// RequestVote
	CandidateID  string `json:"candidateId,omitempty"`
	LastLogIndex int64  `json:"lastLogIndex,omitempty"`
	LastLogTerm  int64  `json:"lastLogTerm,omitempty"`

	// VoteResponse
	VoteGranted bool `json:"voteGranted,omitempty"`

	// AppendEntries
	LeaderID     string           `json:"leaderId,omitempty"`
	PrevLogIndex int64            `json:"prevLogIndex,omitempty"`
	PrevLogTerm  int64            `json:"prevLogTerm,omitempty"`
	Entries      []ConsensusEntry `json:"entries,omitempty"`
	LeaderCommit int64            `json:"leaderCommit,omitempty"`

	// AppendEntriesResponse
	Success    bool  `json:"success,omitempty"`
	MatchIndex int64 `json:"matchIndex,omitempty"`
}

// ============================================================================
// Circuit Breaker Types
// ============================================================================

// CircuitState is the state of a per-agent circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// BreakerConfig holds the failure threshold and the open-state timeout for
// circuit breakers.
type BreakerConfig struct {
	Threshold int   `json:"threshold" mapstructure:"threshold"`
	TimeoutMs int64 `json:"timeoutMs" mapstructure:"timeout_ms"`
}

// DefaultBreakerConfig returns the default circuit breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold: 5,
		TimeoutMs: 30_000,
	}
}

// ============================================================================
// Statistics Types
// ============================================================================

// CoordinationStats is a snapshot of the system-wide counters.
type CoordinationStats struct {
	MessagesSent      int64   `json:"messagesSent"`
	MessagesDelivered int64   `json:"messagesDelivered"`
	MessagesFailed    int64   `json:"messagesFailed"`
	ActiveAgents      int64   `json:"activeAgents"`
	ActiveSessions    int64   `json:"activeSessions"`
	AvgResponseTimeMs float64 `json:"avgResponseTimeMs"`
	EfficiencyScore   float64 `json:"efficiencyScore"`
}

// ============================================================================
// Performance Monitor Types
// ============================================================================

// PerformanceSnapshot is the metric set fed to the performance monitor.
type PerformanceSnapshot struct {
	LatencyMs  float64            `json:"latencyMs"`
	MemoryMB   float64            `json:"memoryMb"`
	CPUPercent float64            `json:"cpuPercent"`
	Custom     map[string]float64 `json:"custom,omitempty"`
	Timestamp  int64              `json:"timestamp,omitempty"`
}

// PerformanceAlert records a threshold breach. Alerts are append-only.
type PerformanceAlert struct {
	ID        string  `json:"id"`
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Message   string  `json:"message"`
	Timestamp int64   `json:"timestamp"`
	Resolved  bool    `json:"resolved"`
}

// MonitorConfig holds the alerting thresholds for the performance monitor.
type MonitorConfig struct {
	AlertingEnabled    bool    `json:"alertingEnabled" mapstructure:"alerting_enabled"`
	LatencyThresholdMs float64 `json:"latencyThresholdMs" mapstructure:"latency_threshold_ms"`
	MemoryThresholdMB  float64 `json:"memoryThresholdMb" mapstructure:"memory_threshold_mb"`
	CPUThresholdPct    float64 `json:"cpuThresholdPct" mapstructure:"cpu_threshold_pct"`
	MaxAlerts          int     `json:"maxAlerts" mapstructure:"max_alerts"`
}

// DefaultMonitorConfig returns the default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		AlertingEnabled:    true,
		LatencyThresholdMs: 5000,
		MemoryThresholdMB:  1024,
		CPUThresholdPct:    90,
		MaxAlerts:          1000,
	}
}

// ============================================================================
// Configuration Types
// ============================================================================

// LoadBalancingStrategy selects how the load balancer picks an agent.
type LoadBalancingStrategy string

const (
	StrategyRoundRobin        LoadBalancingStrategy = "round-robin"
	StrategyLeastConnections  LoadBalancingStrategy = "least-connections"
	StrategyWeightedRound     LoadBalancingStrategy = "weighted-round-robin"
	StrategyLeastResponseTime LoadBalancingStrategy = "least-response-time"
	StrategyAgentCapability   LoadBalancingStrategy = "agent-capability"
)

// EncryptionAlgorithm selects the AEAD used for message encryption.
type EncryptionAlgorithm string

const (
	EncryptionAES256GCM         EncryptionAlgorithm = "aes256gcm"
	EncryptionXChaCha20Poly1305 EncryptionAlgorithm = "xchacha20poly1305"
)

// CoordinationConfig holds the base coordination system configuration.
type CoordinationConfig struct {
	MaxAgents              int   `json:"maxAgents" mapstructure:"max_agents"`
	MailboxCapacity        int   `json:"mailboxCapacity" mapstructure:"mailbox_capacity"`
	BroadcastBuffer        int   `json:"broadcastBuffer" mapstructure:"broadcast_buffer"`
	MessageHistoryLimit    int   `json:"messageHistoryLimit" mapstructure:"message_history_limit"`
	HeartbeatIntervalMs    int64 `json:"heartbeatIntervalMs" mapstructure:"heartbeat_interval_ms"`
	AgentTimeoutMs         int64 `json:"agentTimeoutMs" mapstructure:"agent_timeout_ms"`
	MaxSessionParticipants int   `json:"maxSessionParticipants" mapstructure:"max_session_participants"`
	LockSweepIntervalMs    int64 `json:"lockSweepIntervalMs" mapstructure:"lock_sweep_interval_ms"`
	SendRateLimit          int   `json:"sendRateLimit" mapstructure:"send_rate_limit"`
	SendRateBurst          int   `json:"sendRateBurst" mapstructure:"send_rate_burst"`
}

// DefaultCoordinationConfig returns the default base configuration.
func DefaultCoordinationConfig() CoordinationConfig {
	return CoordinationConfig{
		MaxAgents:              64,
		MailboxCapacity:        100,
		BroadcastBuffer:        100,
		MessageHistoryLimit:    1000,
		HeartbeatIntervalMs:    5_000,
		AgentTimeoutMs:         30_000,
		MaxSessionParticipants: 16,
		LockSweepIntervalMs:    1_000,
		SendRateLimit:          0, // 0 disables rate limiting
		SendRateBurst:          1,
	}
}

// AdvancedCoordinationConfig gates the optional subsystems on top of the base
// configuration.
type AdvancedCoordinationConfig struct {
	CoordinationConfig `mapstructure:",squash"`

	EnableEncryption       bool                  `json:"enableEncryption" mapstructure:"enable_encryption"`
	EncryptionAlgorithm    EncryptionAlgorithm   `json:"encryptionAlgorithm" mapstructure:"encryption_algorithm"`
	EncryptionKey          string                `json:"-" mapstructure:"encryption_key"`
	EnableLoadBalancing    bool                  `json:"enableLoadBalancing" mapstructure:"enable_load_balancing"`
	LoadBalancingStrategy  LoadBalancingStrategy `json:"loadBalancingStrategy" mapstructure:"load_balancing_strategy"`
	EnableFaultTolerance   bool                  `json:"enableFaultTolerance" mapstructure:"enable_fault_tolerance"`
	Breaker                BreakerConfig         `json:"breaker" mapstructure:"breaker"`
	EnableAdvancedSessions bool                  `json:"enableAdvancedSessions" mapstructure:"enable_advanced_sessions"`
	Monitor                MonitorConfig         `json:"monitor" mapstructure:"monitor"`
}

// DefaultAdvancedCoordinationConfig returns the default advanced configuration.
func DefaultAdvancedCoordinationConfig() AdvancedCoordinationConfig {
	return AdvancedCoordinationConfig{
		CoordinationConfig:     DefaultCoordinationConfig(),
		EnableEncryption:       false,
		EncryptionAlgorithm:    EncryptionAES256GCM,
		EnableLoadBalancing:    true,
		LoadBalancingStrategy:  StrategyRoundRobin,
		EnableFaultTolerance:   true,
		Breaker:                DefaultBreakerConfig(),
		EnableAdvancedSessions: true,
		Monitor:                DefaultMonitorConfig(),
	}
}

// ============================================================================
// Utility Functions
// ============================================================================

// Now returns the current time in milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}
