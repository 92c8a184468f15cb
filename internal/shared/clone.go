package shared

// Typed deep-copy helpers. Getters across the coordination modules return
// clones rather than interior pointers so callers can never mutate guarded
// state after the lock is released.

// CloneStringSlice returns a copy of a string slice.
func CloneStringSlice(src []string) []string {
	if src == nil {
		return nil
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// CloneStringMap returns a copy of a map[string]string.
func CloneStringMap(src map[string]string) map[string]string {
	if src == nil {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// CloneFloatMap returns a copy of a map[string]float64.
func CloneFloatMap(src map[string]float64) map[string]float64 {
	if src == nil {
		return nil
	}
	out := make(map[string]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// ClonePayload returns a shallow copy of a message payload. Values are shared;
// callers treat payloads as immutable once sent.
func ClonePayload(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}
	out := make(map[string]interface{}, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// CloneAgent returns a deep copy of an agent record.
func CloneAgent(a *Agent) *Agent {
	if a == nil {
		return nil
	}
	out := *a
	out.Capabilities = CloneStringSlice(a.Capabilities)
	return &out
}

// CloneMessage returns a deep copy of a message.
func CloneMessage(m *Message) *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.RecipientIDs = CloneStringSlice(m.RecipientIDs)
	out.Payload = ClonePayload(m.Payload)
	out.Metadata = CloneStringMap(m.Metadata)
	return &out
}

// CloneResource returns a deep copy of a resource record.
func CloneResource(r *Resource) *Resource {
	if r == nil {
		return nil
	}
	out := *r
	out.Metadata = CloneStringMap(r.Metadata)
	return &out
}

// CloneSession returns a deep copy of a session.
func CloneSession(s *CoordinationSession) *CoordinationSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Participants = CloneStringSlice(s.Participants)
	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		for i := range s.Messages {
			out.Messages[i] = *CloneMessage(&s.Messages[i])
		}
	}
	if s.Decisions != nil {
		out.Decisions = make([]SessionDecision, len(s.Decisions))
		copy(out.Decisions, s.Decisions)
	}
	return &out
}

// CloneAdvancedSession returns a deep copy of an advanced session.
func CloneAdvancedSession(s *AdvancedSession) *AdvancedSession {
	if s == nil {
		return nil
	}
	out := AdvancedSession{CoordinationSession: *CloneSession(&s.CoordinationSession)}
	if s.Consensus != nil {
		cfg := *s.Consensus
		cfg.Peers = CloneStringSlice(s.Consensus.Peers)
		out.Consensus = &cfg
	}
	if s.Rules != nil {
		out.Rules = make([]SessionRule, len(s.Rules))
		for i, r := range s.Rules {
			out.Rules[i] = SessionRule{ID: r.ID, Type: r.Type, Parameters: ClonePayload(r.Parameters)}
		}
	}
	return &out
}

// CloneEntries returns a deep copy of a consensus log slice.
func CloneEntries(src []ConsensusEntry) []ConsensusEntry {
	if src == nil {
		return nil
	}
	out := make([]ConsensusEntry, len(src))
	for i, e := range src {
		out[i] = e
		out[i].Payload = ClonePayload(e.Payload)
	}
	return out
}
