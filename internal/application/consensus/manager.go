// Package consensus implements Raft-style leader election and log
// replication for coordination groups.
package consensus

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fugue-ai/rhema-coordination/internal/shared"
)

// Outbound delivers a consensus message to a peer. The zero value drops
// messages, which keeps single-node groups functional without a transport.
type Outbound func(peerID string, msg shared.ConsensusMessage)

// Manager is a single consensus node. It starts as a follower, runs an
// election when the leader goes quiet, and replicates log entries to peers
// while leading.
type Manager struct {
	mu sync.Mutex

	cfg shared.ConsensusConfig

	state       shared.NodeState
	term        int64
	votedFor    string
	leaderID    string
	log         []shared.ConsensusEntry
	commitIndex int64

	votesReceived map[string]bool
	lastHeartbeat int64

	send   Outbound
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a consensus node for the given group config. send may be nil.
func New(cfg shared.ConsensusConfig, send Outbound, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if send == nil {
		send = func(string, shared.ConsensusMessage) {}
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		cfg:           cfg,
		state:         shared.NodeStateFollower,
		log:           make([]shared.ConsensusEntry, 0),
		votesReceived: make(map[string]bool),
		lastHeartbeat: shared.Now(),
		send:          send,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start launches the election and heartbeat loops.
func (m *Manager) Start() {
	m.wg.Add(2)
	go m.electionLoop()
	go m.heartbeatLoop()
}

// Shutdown stops the background loops and waits for them to exit.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
}

// NodeID returns this node's id.
func (m *Manager) NodeID() string {
	return m.cfg.NodeID
}

// State returns a snapshot of the node's consensus state.
func (m *Manager) State() shared.ConsensusState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return shared.ConsensusState{
		Term:         m.term,
		LeaderID:     m.leaderID,
		State:        m.state,
		VotedFor:     m.votedFor,
		LastLogIndex: m.lastLogIndexLocked(),
		LastLogTerm:  m.lastLogTermLocked(),
		CommitIndex:  m.commitIndex,
	}
}

// Log returns a copy of the replicated log.
func (m *Manager) Log() []shared.ConsensusEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return shared.CloneEntries(m.log)
}

// Propose appends a command to the log. Only the leader accepts proposals;
// followers return ErrPermissionDenied pointing at the current leader.
func (m *Manager) Propose(command string, payload map[string]interface{}) (shared.ConsensusEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != shared.NodeStateLeader {
		return shared.ConsensusEntry{}, shared.NewError(shared.ErrPermissionDenied,
			"node %s is not the leader (leader: %s)", m.cfg.NodeID, m.leaderID)
	}

	entry := shared.ConsensusEntry{
		Term:    m.term,
		Index:   m.lastLogIndexLocked() + 1,
		Command: command,
		Payload: shared.ClonePayload(payload),
	}
	m.log = append(m.log, entry)

	// Single-node groups commit immediately.
	if len(m.cfg.Peers) == 0 {
		m.commitIndex = entry.Index
	} else {
		m.replicateLocked()
	}
	return entry, nil
}

// HandleMessage processes an inbound consensus message and returns the
// response to send back, or nil when no response is required.
func (m *Manager) HandleMessage(msg shared.ConsensusMessage) *shared.ConsensusMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Any message with a newer term demotes this node.
	if msg.Term > m.term {
		m.becomeFollowerLocked(msg.Term)
	}

	switch msg.Type {
	case shared.ConsensusRequestVote:
		return m.handleRequestVoteLocked(msg)
	case shared.ConsensusVoteResponse:
		m.handleVoteResponseLocked(msg)
		return nil
	case shared.ConsensusAppendEntries:
		return m.handleAppendEntriesLocked(msg)
	case shared.ConsensusHeartbeat:
		m.handleHeartbeatLocked(msg)
		return nil
	case shared.ConsensusAppendResponse:
		// Replication acknowledgements are informational in this scheme;
		// commit advancement happens on the leader's next append.
		return nil
	default:
		m.logger.Warn("unknown consensus message type", zap.String("type", string(msg.Type)))
		return nil
	}
}

// ============================================================================
// Message Handlers
// ============================================================================

func (m *Manager) handleRequestVoteLocked(msg shared.ConsensusMessage) *shared.ConsensusMessage {
	granted := false
	if msg.Term >= m.term &&
		(m.votedFor == "" || m.votedFor == msg.CandidateID) &&
		m.logUpToDateLocked(msg.LastLogIndex, msg.LastLogTerm) {
		granted = true
		m.votedFor = msg.CandidateID
		m.lastHeartbeat = shared.Now()
	}

	return &shared.ConsensusMessage{
		Type:        shared.ConsensusVoteResponse,
		Term:        m.term,
		From:        m.cfg.NodeID,
		VoteGranted: granted,
	}
}

func (m *Manager) handleVoteResponseLocked(msg shared.ConsensusMessage) {
	if m.state != shared.NodeStateCandidate || msg.Term != m.term || !msg.VoteGranted {
		return
	}

	m.votesReceived[msg.From] = true
	if len(m.votesReceived) >= m.majorityLocked() {
		m.becomeLeaderLocked()
	}
}

func (m *Manager) handleAppendEntriesLocked(msg shared.ConsensusMessage) *shared.ConsensusMessage {
	reply := &shared.ConsensusMessage{
		Type: shared.ConsensusAppendResponse,
		Term: m.term,
		From: m.cfg.NodeID,
	}

	if msg.Term < m.term {
		return reply
	}

	m.lastHeartbeat = shared.Now()
	m.leaderID = msg.LeaderID
	if m.state != shared.NodeStateFollower {
		m.becomeFollowerLocked(msg.Term)
		m.leaderID = msg.LeaderID
	}

	// The entry preceding the new batch must exist with a matching term.
	if msg.PrevLogIndex > 0 {
		if msg.PrevLogIndex > m.lastLogIndexLocked() {
			return reply
		}
		if m.log[msg.PrevLogIndex-1].Term != msg.PrevLogTerm {
			return reply
		}
	}

	// Truncate on conflict, then append the new entries.
	for i, entry := range msg.Entries {
		idx := msg.PrevLogIndex + int64(i) + 1
		if idx <= m.lastLogIndexLocked() {
			if m.log[idx-1].Term != entry.Term {
				m.log = m.log[:idx-1]
				m.log = append(m.log, shared.CloneEntries(msg.Entries[i:])...)
				break
			}
			continue
		}
		m.log = append(m.log, shared.CloneEntries(msg.Entries[i:])...)
		break
	}

	if msg.LeaderCommit > m.commitIndex {
		m.commitIndex = min(msg.LeaderCommit, m.lastLogIndexLocked())
	}

	reply.Term = m.term
	reply.Success = true
	reply.MatchIndex = m.lastLogIndexLocked()
	return reply
}

func (m *Manager) handleHeartbeatLocked(msg shared.ConsensusMessage) {
	if msg.Term < m.term {
		return
	}
	m.lastHeartbeat = shared.Now()
	m.leaderID = msg.LeaderID
	if m.state != shared.NodeStateFollower {
		m.becomeFollowerLocked(msg.Term)
		m.leaderID = msg.LeaderID
	}
	if msg.LeaderCommit > m.commitIndex {
		m.commitIndex = min(msg.LeaderCommit, m.lastLogIndexLocked())
	}
}

// ============================================================================
// Role Transitions
// ============================================================================

func (m *Manager) becomeFollowerLocked(term int64) {
	m.state = shared.NodeStateFollower
	// A vote cast in the current term stays cast; only a newer term resets
	// it. The previous term's leader is stale once the term advances.
	if term > m.term {
		m.term = term
		m.votedFor = ""
		m.leaderID = ""
	}
	m.votesReceived = make(map[string]bool)
}

func (m *Manager) becomeCandidateLocked() {
	m.state = shared.NodeStateCandidate
	m.term++
	m.votedFor = m.cfg.NodeID
	m.votesReceived = map[string]bool{m.cfg.NodeID: true}
	m.lastHeartbeat = shared.Now()

	m.logger.Info("starting election",
		zap.String("nodeId", m.cfg.NodeID),
		zap.Int64("term", m.term))

	if len(m.cfg.Peers) == 0 {
		m.becomeLeaderLocked()
		return
	}

	req := shared.ConsensusMessage{
		Type:         shared.ConsensusRequestVote,
		Term:         m.term,
		From:         m.cfg.NodeID,
		CandidateID:  m.cfg.NodeID,
		LastLogIndex: m.lastLogIndexLocked(),
		LastLogTerm:  m.lastLogTermLocked(),
	}
	for _, peer := range m.cfg.Peers {
		go m.send(peer, req)
	}
}

func (m *Manager) becomeLeaderLocked() {
	m.state = shared.NodeStateLeader
	m.leaderID = m.cfg.NodeID

	m.logger.Info("became leader",
		zap.String("nodeId", m.cfg.NodeID),
		zap.Int64("term", m.term))

	m.broadcastHeartbeatLocked()
}

// ============================================================================
// Background Loops
// ============================================================================

func (m *Manager) electionLoop() {
	defer m.wg.Done()

	timeoutMs := m.cfg.ElectionTimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = 150
	}
	ticker := time.NewTicker(time.Duration(timeoutMs) * time.Millisecond / 3)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			if m.state != shared.NodeStateLeader {
				// Randomized timeout keeps candidates from colliding.
				timeout := timeoutMs + rand.Int63n(timeoutMs+1)
				if shared.Now()-m.lastHeartbeat > timeout {
					m.becomeCandidateLocked()
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *Manager) heartbeatLoop() {
	defer m.wg.Done()

	interval := time.Duration(m.cfg.HeartbeatIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			if m.state == shared.NodeStateLeader {
				m.broadcastHeartbeatLocked()
			}
			m.mu.Unlock()
		}
	}
}

func (m *Manager) broadcastHeartbeatLocked() {
	hb := shared.ConsensusMessage{
		Type:         shared.ConsensusHeartbeat,
		Term:         m.term,
		From:         m.cfg.NodeID,
		LeaderID:     m.cfg.NodeID,
		LeaderCommit: m.commitIndex,
	}
	for _, peer := range m.cfg.Peers {
		go m.send(peer, hb)
	}
}

// replicateLocked pushes the full log to every peer. Per-peer nextIndex
// tracking is unnecessary at this group size.
func (m *Manager) replicateLocked() {
	msg := shared.ConsensusMessage{
		Type:         shared.ConsensusAppendEntries,
		Term:         m.term,
		From:         m.cfg.NodeID,
		LeaderID:     m.cfg.NodeID,
		Entries:      shared.CloneEntries(m.log),
		LeaderCommit: m.commitIndex,
	}
	for _, peer := range m.cfg.Peers {
		go m.send(peer, msg)
	}
}

// ============================================================================
// Helpers
// ============================================================================

func (m *Manager) lastLogIndexLocked() int64 {
	return int64(len(m.log))
}

func (m *Manager) lastLogTermLocked() int64 {
	if len(m.log) == 0 {
		return 0
	}
	return m.log[len(m.log)-1].Term
}

// logUpToDateLocked reports whether a candidate's log is at least as
// current as ours.
func (m *Manager) logUpToDateLocked(lastIndex, lastTerm int64) bool {
	if lastTerm != m.lastLogTermLocked() {
		return lastTerm > m.lastLogTermLocked()
	}
	return lastIndex >= m.lastLogIndexLocked()
}

func (m *Manager) majorityLocked() int {
	return (len(m.cfg.Peers)+1)/2 + 1
}
