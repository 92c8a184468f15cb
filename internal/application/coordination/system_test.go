package coordination

import (
	"context"
	"errors"
	"testing"

	"github.com/fugue-ai/rhema-coordination/internal/shared"
)

func newTestSystem(t *testing.T, mutate func(*shared.AdvancedCoordinationConfig)) *System {
	t.Helper()
	cfg := shared.DefaultAdvancedCoordinationConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("failed to create system: %v", err)
	}
	t.Cleanup(s.Shutdown)
	return s
}

func registerAgent(t *testing.T, s *System, id string, caps ...string) {
	t.Helper()
	if err := s.RegisterAgent(shared.Agent{ID: id, Name: id, Type: "worker", Capabilities: caps}); err != nil {
		t.Fatalf("failed to register %s: %v", id, err)
	}
}

func TestSystem_RegisterDeliversWelcomeAndCounts(t *testing.T) {
	s := newTestSystem(t, nil)

	before := len(s.MessageHistory(0))
	registerAgent(t, s, "agent-1")

	if got := s.Stats().ActiveAgents; got != 1 {
		t.Fatalf("expected 1 active agent, got %d", got)
	}

	history := s.MessageHistory(0)
	if len(history) != before+1 {
		t.Fatalf("expected exactly one new history entry, got %d", len(history)-before)
	}
	welcome := history[len(history)-1]
	if welcome.Type != shared.MessageTypeWelcome || welcome.SenderID != SystemSenderID {
		t.Fatalf("expected system welcome message, got %+v", welcome)
	}

	stream, err := s.MessageStream("agent-1")
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	msg := &shared.Message{ID: "m1", SenderID: "agent-1", RecipientIDs: []string{"agent-1"}, Content: "self"}
	if err := s.SendMessage(msg); err != nil {
		t.Fatalf("failed to send: %v", err)
	}
	if got := <-stream; got.ID != "m1" {
		t.Fatalf("expected m1 on the stream, got %q", got.ID)
	}
}

func TestSystem_UnregisterReleasesEverything(t *testing.T) {
	s := newTestSystem(t, nil)

	registerAgent(t, s, "agent-1")
	registerAgent(t, s, "agent-2")

	s.AddResource(shared.Resource{ID: "db"})
	granted, err := s.RequestResourceLock("db", "agent-1")
	if err != nil || !granted {
		t.Fatalf("failed to lock: %v %v", granted, err)
	}

	session, err := s.CreateSession("pairing", []string{"agent-1", "agent-2"})
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	s.UnregisterAgent("agent-1")

	if got := s.Stats().ActiveAgents; got != 1 {
		t.Fatalf("expected 1 agent after unregister, got %d", got)
	}
	res, _ := s.Resource("db")
	if res.Locked {
		t.Fatal("expected agent's lock to be released on unregister")
	}
	current, _ := s.Session(session.ID)
	if len(current.Participants) != 1 || current.Participants[0] != "agent-2" {
		t.Fatalf("expected agent removed from session, got %v", current.Participants)
	}

	// The freed lock is available to the survivor.
	granted, err = s.RequestResourceLock("db", "agent-2")
	if err != nil || !granted {
		t.Fatalf("expected survivor to acquire the lock, got %v %v", granted, err)
	}
}

func TestSystem_LockRequiresRegisteredAgent(t *testing.T) {
	s := newTestSystem(t, nil)
	s.AddResource(shared.Resource{ID: "db"})

	_, err := s.RequestResourceLock("db", "ghost")
	if !errors.Is(err, &shared.CoordinationError{Kind: shared.ErrAgentNotFound}) {
		t.Fatalf("expected agent not found, got %v", err)
	}
}

func TestSystem_EncryptionRoundTrip(t *testing.T) {
	s := newTestSystem(t, func(cfg *shared.AdvancedCoordinationConfig) {
		cfg.EnableEncryption = true
		cfg.EncryptionAlgorithm = shared.EncryptionXChaCha20Poly1305
		cfg.EncryptionKey = "test-secret"
	})

	registerAgent(t, s, "agent-1")
	stream, err := s.MessageStream("agent-1")
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}

	msg := &shared.Message{ID: "m1", SenderID: "sys", RecipientIDs: []string{"agent-1"}, Content: "secret payload"}
	if err := s.SendMessage(msg); err != nil {
		t.Fatalf("failed to send: %v", err)
	}

	got := <-stream
	if got.Content == "secret payload" {
		t.Fatal("expected content to be encrypted on the wire")
	}
	plain, err := s.OpenMessage(got)
	if err != nil {
		t.Fatalf("failed to open message: %v", err)
	}
	if plain != "secret payload" {
		t.Fatalf("expected round-trip plaintext, got %q", plain)
	}
}

func TestSystem_SealMessageRoundTrip(t *testing.T) {
	s := newTestSystem(t, func(cfg *shared.AdvancedCoordinationConfig) {
		cfg.EnableEncryption = true
		cfg.EncryptionKey = "test-secret"
	})

	sealed, err := s.SealMessage("secret payload")
	if err != nil {
		t.Fatalf("failed to seal: %v", err)
	}
	if sealed == "secret payload" {
		t.Fatal("expected sealed content to differ from plaintext")
	}
	plain, err := s.OpenMessage(&shared.Message{ID: "m1", Content: sealed})
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	if plain != "secret payload" {
		t.Fatalf("expected round-trip plaintext, got %q", plain)
	}

	// With encryption disabled both operations pass content through.
	off := newTestSystem(t, nil)
	sealed, err = off.SealMessage("plain")
	if err != nil || sealed != "plain" {
		t.Fatalf("expected pass-through seal, got %q, %v", sealed, err)
	}
}

func TestSystem_EncryptionRequiresKey(t *testing.T) {
	cfg := shared.DefaultAdvancedCoordinationConfig()
	cfg.EnableEncryption = true
	if _, err := New(cfg, nil, nil); err == nil {
		t.Fatal("expected creation to fail without an encryption key")
	}
}

func TestSystem_SelectAgentSkipsOpenCircuits(t *testing.T) {
	s := newTestSystem(t, func(cfg *shared.AdvancedCoordinationConfig) {
		cfg.Breaker.Threshold = 2
	})

	registerAgent(t, s, "alpha")
	registerAgent(t, s, "bravo")

	s.ReportAgentFailure("alpha")
	s.ReportAgentFailure("alpha")
	if s.CanAgentExecute("alpha") {
		t.Fatal("expected alpha's circuit to be open")
	}

	for i := 0; i < 3; i++ {
		if got := s.SelectAgentForTask(nil); got != "bravo" {
			t.Fatalf("expected only bravo to be selectable, got %q", got)
		}
	}
}

func TestSystem_DispatchTaskDeliversAssignment(t *testing.T) {
	s := newTestSystem(t, nil)

	registerAgent(t, s, "worker-1")
	stream, err := s.MessageStream("worker-1")
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}

	agentID, err := s.DispatchTask(context.Background(), "build the thing", map[string]interface{}{"priority": 1}, nil)
	if err != nil {
		t.Fatalf("failed to dispatch: %v", err)
	}
	if agentID != "worker-1" {
		t.Fatalf("expected worker-1, got %q", agentID)
	}

	got := <-stream
	if got.Type != shared.MessageTypeTaskAssignment || got.Content != "build the thing" {
		t.Fatalf("unexpected task message: %+v", got)
	}

	info, _ := s.AgentInfo("worker-1")
	if info.Performance.TasksCompleted != 1 {
		t.Fatalf("expected dispatch success recorded, got %+v", info.Performance)
	}
}

func TestSystem_DispatchTaskFailsWithNoAgents(t *testing.T) {
	s := newTestSystem(t, nil)

	_, err := s.DispatchTask(context.Background(), "build", nil, nil)
	if !errors.Is(err, &shared.CoordinationError{Kind: shared.ErrAgentOffline}) {
		t.Fatalf("expected agent offline error, got %v", err)
	}
}

func TestSystem_ConsensusLifecycle(t *testing.T) {
	s := newTestSystem(t, nil)

	cfg := shared.DefaultConsensusConfig("node-1")
	cfg.Peers = []string{"node-2"}
	if err := s.StartConsensus(cfg); err != nil {
		t.Fatalf("failed to start consensus: %v", err)
	}
	t.Cleanup(func() { s.StopConsensus("node-1") })

	err := s.StartConsensus(cfg)
	if !errors.Is(err, &shared.CoordinationError{Kind: shared.ErrSessionAlreadyExists}) {
		t.Fatalf("expected duplicate start to fail, got %v", err)
	}

	state, err := s.ConsensusState("node-1")
	if err != nil {
		t.Fatalf("failed to read state: %v", err)
	}
	if state.State == "" {
		t.Fatal("expected a populated consensus state")
	}

	resp, err := s.HandleConsensusMessage("node-1", shared.ConsensusMessage{
		Type:        shared.ConsensusRequestVote,
		Term:        100,
		From:        "node-2",
		CandidateID: "node-2",
	})
	if err != nil {
		t.Fatalf("failed to handle message: %v", err)
	}
	if resp == nil || !resp.VoteGranted {
		t.Fatalf("expected vote response, got %+v", resp)
	}

	if _, err := s.ConsensusState("missing"); !errors.Is(err, &shared.CoordinationError{Kind: shared.ErrSessionNotFound}) {
		t.Fatalf("expected session not found for unknown node, got %v", err)
	}
}

func TestSystem_AdvancedSessionStartsConsensus(t *testing.T) {
	s := newTestSystem(t, nil)

	registerAgent(t, s, "agent-1")
	consensusCfg := shared.DefaultConsensusConfig("session-node")
	session, err := s.CreateAdvancedSession("quorum", []string{"agent-1"}, &consensusCfg, nil)
	if err != nil {
		t.Fatalf("failed to create advanced session: %v", err)
	}
	t.Cleanup(func() { s.StopConsensus("session-node") })

	if session.Consensus == nil {
		t.Fatal("expected consensus binding on the session")
	}
	if _, err := s.ConsensusState("session-node"); err != nil {
		t.Fatalf("expected consensus node to be running, got %v", err)
	}
}

func TestSystem_StatsComposition(t *testing.T) {
	s := newTestSystem(t, nil)

	registerAgent(t, s, "agent-1")
	registerAgent(t, s, "agent-2")
	if _, err := s.CreateSession("standup", []string{"agent-1"}); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	s.ReportAgentSuccess("agent-1", 120)
	s.ReportAgentSuccess("agent-2", 80)

	stats := s.Stats()
	if stats.ActiveAgents != 2 {
		t.Fatalf("expected 2 active agents, got %d", stats.ActiveAgents)
	}
	if stats.ActiveSessions != 1 {
		t.Fatalf("expected 1 active session, got %d", stats.ActiveSessions)
	}
	// Two welcome messages were sent and delivered.
	if stats.MessagesSent < 2 || stats.MessagesDelivered < 2 {
		t.Fatalf("expected welcome traffic in counters, got %+v", stats)
	}
	if stats.AvgResponseTimeMs != 100 {
		t.Fatalf("expected average response time 100, got %f", stats.AvgResponseTimeMs)
	}
	if stats.EfficiencyScore <= 0 || stats.EfficiencyScore > 1 {
		t.Fatalf("expected efficiency in (0,1], got %f", stats.EfficiencyScore)
	}
}

func TestSystem_BroadcastStream(t *testing.T) {
	s := newTestSystem(t, nil)

	sub, cancel := s.BroadcastStream()
	t.Cleanup(cancel)

	if err := s.BroadcastMessage(&shared.Message{ID: "b1", SenderID: "sys", Content: "all hands"}); err != nil {
		t.Fatalf("failed to broadcast: %v", err)
	}
	if got := <-sub; got.ID != "b1" {
		t.Fatalf("expected b1 on broadcast stream, got %q", got.ID)
	}
}
