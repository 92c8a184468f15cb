package coordination

import (
	"context"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fugue-ai/rhema-coordination/internal/shared"
)

// dispatchAttempts bounds delivery retries for a single task.
const dispatchAttempts = 3

// DispatchTask selects an agent for the task, gates the call on its circuit
// breaker, and delivers a task-assignment message with retries. Returns the
// chosen agent id.
func (s *System) DispatchTask(ctx context.Context, task string, payload map[string]interface{}, required []string) (string, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", shared.NewError(shared.ErrMessageDeliveryFailed, "rate limit wait: %v", err)
		}
	}

	agentID := s.SelectAgentForTask(required)
	if agentID == "" {
		return "", shared.NewError(shared.ErrAgentOffline, "no agent available for task")
	}
	if !s.CanAgentExecute(agentID) {
		return "", shared.NewError(shared.ErrAgentOffline, "agent %s circuit is open", agentID)
	}

	content := task
	if s.cipher != nil {
		sealed, err := s.cipher.seal(task)
		if err != nil {
			return "", shared.NewError(shared.ErrMessageDeliveryFailed, "encrypt task: %v", err)
		}
		content = sealed
	}

	s.balancer.RecordConnection(agentID, 1)
	defer s.balancer.RecordConnection(agentID, -1)

	start := time.Now()
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(dispatchAttempts),
	)
	err := r.Do(func() error {
		msg := &shared.Message{
			ID:       uuid.NewString(),
			Type:     shared.MessageTypeTaskAssignment,
			Priority: shared.PriorityHigh,
			SenderID: SystemSenderID,
			Content:  content,
			Payload:  shared.ClonePayload(payload),
		}
		return s.bus.SendStrict(agentID, msg)
	})
	if err != nil {
		s.ReportAgentFailure(agentID)
		s.logger.Warn("task dispatch failed",
			zap.String("agentId", agentID),
			zap.Error(err))
		return agentID, shared.NewError(shared.ErrMessageDeliveryFailed, "dispatch to %s: %v", agentID, err)
	}

	s.ReportAgentSuccess(agentID, time.Since(start).Milliseconds())
	return agentID, nil
}
