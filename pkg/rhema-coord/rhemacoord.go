// Package rhemacoord provides the public API for the Rhema coordination
// substrate.
//
// Example:
//
//	system, err := rhemacoord.New(rhemacoord.DefaultConfig(), nil, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	system.Start()
//	defer system.Shutdown()
//
//	err = system.RegisterAgent(rhemacoord.Agent{
//	    ID:   "coder-1",
//	    Name: "Coder",
//	    Type: "coder",
//	})
package rhemacoord

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fugue-ai/rhema-coordination/internal/application/coordination"
	"github.com/fugue-ai/rhema-coordination/internal/shared"
)

// Re-export types for the public API.
type (
	// Agent types
	Agent              = shared.Agent
	AgentStatus        = shared.AgentStatus
	PerformanceMetrics = shared.PerformanceMetrics

	// Messaging types
	Message         = shared.Message
	MessageType     = shared.MessageType
	MessagePriority = shared.MessagePriority

	// Resource types
	Resource = shared.Resource

	// Session types
	Session         = shared.CoordinationSession
	SessionStatus   = shared.SessionStatus
	SessionDecision = shared.SessionDecision
	SessionRule     = shared.SessionRule
	AdvancedSession = shared.AdvancedSession

	// Consensus types
	ConsensusConfig  = shared.ConsensusConfig
	ConsensusMessage = shared.ConsensusMessage
	ConsensusState   = shared.ConsensusState
	ConsensusEntry   = shared.ConsensusEntry
	NodeState        = shared.NodeState

	// Fault tolerance and monitoring types
	CircuitState        = shared.CircuitState
	PerformanceSnapshot = shared.PerformanceSnapshot
	PerformanceAlert    = shared.PerformanceAlert

	// Configuration types
	Config = shared.AdvancedCoordinationConfig
	Stats  = shared.CoordinationStats

	// System is the coordination facade.
	System = coordination.System
)

// Agent statuses.
const (
	AgentStatusIdle          = shared.AgentStatusIdle
	AgentStatusBusy          = shared.AgentStatusBusy
	AgentStatusWorking       = shared.AgentStatusWorking
	AgentStatusBlocked       = shared.AgentStatusBlocked
	AgentStatusCollaborating = shared.AgentStatusCollaborating
	AgentStatusOffline       = shared.AgentStatusOffline
	AgentStatusFailed        = shared.AgentStatusFailed
)

// Message priorities.
const (
	PriorityLow       = shared.PriorityLow
	PriorityNormal    = shared.PriorityNormal
	PriorityHigh      = shared.PriorityHigh
	PriorityCritical  = shared.PriorityCritical
	PriorityEmergency = shared.PriorityEmergency
)

// Load balancing strategies.
const (
	StrategyRoundRobin        = shared.StrategyRoundRobin
	StrategyLeastConnections  = shared.StrategyLeastConnections
	StrategyWeightedRound     = shared.StrategyWeightedRound
	StrategyLeastResponseTime = shared.StrategyLeastResponseTime
	StrategyAgentCapability   = shared.StrategyAgentCapability
)

// DefaultConfig returns the default coordination configuration.
func DefaultConfig() Config {
	return shared.DefaultAdvancedCoordinationConfig()
}

// New creates a coordination system. reg and logger may both be nil.
func New(cfg Config, reg prometheus.Registerer, logger *zap.Logger) (*System, error) {
	return coordination.New(cfg, reg, logger)
}

// KindOf extracts the coordination error kind from an error, or "" when the
// error is not a coordination error.
func KindOf(err error) shared.ErrorKind {
	return shared.KindOf(err)
}

// Error kinds.
const (
	ErrAgentNotFound         = shared.ErrAgentNotFound
	ErrMessageDeliveryFailed = shared.ErrMessageDeliveryFailed
	ErrSessionNotFound       = shared.ErrSessionNotFound
	ErrResourceNotAvailable  = shared.ErrResourceNotAvailable
	ErrInvalidMessageFormat  = shared.ErrInvalidMessageFormat
	ErrAgentOffline          = shared.ErrAgentOffline
	ErrSessionAlreadyExists  = shared.ErrSessionAlreadyExists
	ErrPermissionDenied      = shared.ErrPermissionDenied
)
