package raft

import "gondola/internal/wireformat"

// onElectionTimeout fires when no valid heartbeat/vote request has reset
// the timer in time. A slaved or disabled member never campaigns; a
// follower or a candidate whose last round didn't resolve starts a fresh
// one. Returns true if the member became leader outright (the
// single-node case).
func (m *CoreMember) onElectionTimeout() bool {
	if m.isSlaved() || !m.Enabled() {
		return false
	}
	m.mu.RLock()
	role := m.role
	m.mu.RUnlock()
	if role == RoleLeader {
		return false
	}
	return m.startElection()
}

// startElection increments the term, votes for self, persists that vote,
// and broadcasts RequestVote. Returns true if that alone was enough to
// win (no peers configured).
func (m *CoreMember) startElection() bool {
	m.mu.Lock()
	oldRole := m.role
	m.role = RoleCandidate
	m.currentTerm++
	term := m.currentTerm
	m.votedFor = int64(m.id)
	m.leaderID = -1
	m.votesReceived = map[uint64]bool{m.id: true}
	lastIndex := m.lastLogIndex
	lastTerm := m.lastLogTerm
	m.mu.Unlock()

	if oldRole != RoleCandidate {
		m.emitRoleChange(oldRole, RoleCandidate, term, -1)
	}

	if err := m.storage.SaveVote(m.id, term, int64(m.id)); err != nil {
		m.logger.Error("failed to persist self-vote", "term", term, "error", wrapStorageErr("SaveVote", err))
	}
	m.sink.SetTerm(m.shardID, term)

	if m.config().TraceElections {
		m.logger.Info("starting election", "term", term)
	}

	args := RequestVoteArgs{
		Term:         term,
		CandidateID:  m.id,
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
	}
	m.broadcast(requestVoteType(args), encodeRequestVote(args))

	return len(m.peerIDs) == 0 && m.tallyVotes()
}

func requestVoteType(args RequestVoteArgs) wireformat.Type {
	if args.PreVote {
		return wireformat.TypePreVote
	}
	return wireformat.TypeRequestVote
}

// handleRequestVote answers a candidate's RequestVote RPC per the
// one-vote-per-term and log-completeness rules: a vote is granted only if
// the requester's term is at least as current and its log is at least as
// up to date as the voter's own.
func (m *CoreMember) handleRequestVote(from uint64, args RequestVoteArgs) bool {
	m.mu.Lock()

	steppedDown := false
	if args.Term > m.currentTerm && !args.PreVote {
		m.stepDown(args.Term)
		steppedDown = true
	}

	reply := RequestVoteReply{Term: m.currentTerm, VoterID: m.id, PreVote: args.PreVote}

	upToDate := args.LastLogTerm > m.lastLogTerm ||
		(args.LastLogTerm == m.lastLogTerm && args.LastLogIndex >= m.lastLogIndex)

	switch {
	case args.Term < m.currentTerm:
		reply.VoteGranted = false
	case m.isSlavedLocked():
		reply.VoteGranted = false
	case args.PreVote:
		reply.VoteGranted = upToDate && args.Term >= m.currentTerm
	case (m.votedFor == -1 || m.votedFor == int64(args.CandidateID)) && upToDate:
		reply.VoteGranted = true
		m.votedFor = int64(args.CandidateID)
	default:
		reply.VoteGranted = false
	}

	grantedForReal := reply.VoteGranted && !args.PreVote
	term := m.currentTerm
	votedFor := m.votedFor
	m.mu.Unlock()

	if grantedForReal {
		if err := m.storage.SaveVote(m.id, term, votedFor); err != nil {
			m.logger.Error("failed to persist granted vote", "error", wrapStorageErr("SaveVote", err))
			return steppedDown
		}
	}

	if m.config().TraceElections {
		m.logger.Info("answered request vote", "from", from, "term", args.Term, "granted", reply.VoteGranted, "prevote", args.PreVote)
	}

	m.send(from, replyTypeFor(reply), encodeRequestVoteReply(reply))

	return steppedDown || grantedForReal
}

func replyTypeFor(reply RequestVoteReply) wireformat.Type {
	if reply.PreVote {
		return wireformat.TypePreVoteReply
	}
	return wireformat.TypeRequestVoteReply
}

// handleRequestVoteReply tallies a vote response. A higher term in the
// reply always causes a step down, win or lose.
func (m *CoreMember) handleRequestVoteReply(from uint64, reply RequestVoteReply) {
	m.mu.Lock()
	if reply.Term > m.currentTerm {
		m.stepDown(reply.Term)
		m.mu.Unlock()
		return
	}
	if m.role != RoleCandidate || reply.Term < m.currentTerm || !reply.VoteGranted {
		m.mu.Unlock()
		return
	}
	if m.votesReceived == nil {
		m.votesReceived = map[uint64]bool{}
	}
	m.votesReceived[from] = true
	won := m.tallyVotesLocked()
	m.mu.Unlock()

	if won {
		m.becomeLeader()
	}
}

func (m *CoreMember) tallyVotes() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	won := m.tallyVotesLocked()
	if won {
		m.becomeLeaderLocked()
	}
	return won
}

func (m *CoreMember) tallyVotesLocked() bool {
	return len(m.votesReceived) >= m.quorumSize()
}

// becomeLeader transitions to leader and resets per-peer replication
// cursors to one past the log tail. When WriteEmptyCommandAfterElection
// is set it also writes a no-op entry so prior terms' entries become
// committable under the current-term rule.
func (m *CoreMember) becomeLeader() {
	m.mu.Lock()
	m.becomeLeaderLocked()
	m.mu.Unlock()
}

func (m *CoreMember) becomeLeaderLocked() {
	if m.role == RoleLeader {
		return
	}
	if !m.enabled.Load() {
		m.logger.Warn("won election while disabled, refusing leadership", "term", m.currentTerm)
		return
	}
	oldRole := m.role
	m.role = RoleLeader
	m.leaderID = int64(m.id)
	term := m.currentTerm
	nextIndex := m.lastLogIndex + 1
	for _, id := range m.peerIDs {
		m.peers[id].SetState(PeerState{NextIndex: nextIndex, MatchIndex: 0})
	}
	m.sink.SetIsLeader(m.shardID, true)
	m.logger.Info("became leader", "term", term)
	m.emitRoleChange(oldRole, RoleLeader, term, int64(m.id))

	if m.config().WriteEmptyCommandAfterElection {
		go m.appendNoOp()
	}
}

func (m *CoreMember) appendNoOp() {
	_, _, err := m.Propose(nil)
	if err != nil {
		m.logger.Warn("failed to append post-election no-op", "error", err)
	}
}

// stepDown drops to follower at a higher observed term, clearing the
// current vote and leader belief. Caller must hold mu.
func (m *CoreMember) stepDown(newTerm uint64) {
	oldRole := m.role
	wasLeader := m.role == RoleLeader
	m.role = RoleFollower
	m.currentTerm = newTerm
	m.votedFor = -1
	m.leaderID = -1
	m.votesReceived = nil
	if wasLeader {
		m.sink.SetIsLeader(m.shardID, false)
	}
	m.sink.SetTerm(m.shardID, newTerm)
	if oldRole != RoleFollower {
		m.emitRoleChange(oldRole, RoleFollower, newTerm, -1)
	}
}
