package raft

import (
	"sort"

	"gondola/internal/storage"
	"gondola/internal/wireformat"
)

const maxEntriesPerAppend = 256

// handleProposal is the leader-side half of Propose: it assigns the next
// index, appends locally, and kicks replication to every peer. A
// non-leader gets ErrNotLeader back immediately.
func (m *CoreMember) handleProposal(p proposal) {
	m.mu.Lock()
	if m.role != RoleLeader {
		m.mu.Unlock()
		p.done <- proposalResult{err: ErrNotLeader}
		return
	}
	if m.isSlavedLocked() {
		m.mu.Unlock()
		p.done <- proposalResult{err: ErrSlaveMode}
		return
	}
	index := m.lastLogIndex + 1
	term := m.currentTerm
	m.mu.Unlock()

	if err := m.appender.AppendLogEntry(m.id, index, term, p.payload); err != nil {
		p.done <- proposalResult{err: wrapStorageErr("AppendLogEntry", err)}
		return
	}

	m.mu.Lock()
	m.lastLogIndex = index
	m.lastLogTerm = term
	m.mu.Unlock()
	m.sink.SetLastIndex(m.shardID, index)

	for _, id := range m.peerIDs {
		m.replicateToPeer(id)
	}
	for id := range m.observers {
		m.replicateToPeer(id)
	}

	p.done <- proposalResult{index: index, term: term}
	m.maybeAdvanceCommit()
}

// sendHeartbeats is the leader's periodic tick: it replicates to every
// peer (a no-op AppendEntries when the peer is already caught up, a
// catch-up batch otherwise), which doubles as the liveness signal
// followers use to postpone their own election.
func (m *CoreMember) sendHeartbeats() {
	m.mu.RLock()
	isLeader := m.role == RoleLeader
	m.mu.RUnlock()
	if !isLeader {
		return
	}
	for _, id := range m.peerIDs {
		m.replicateToPeer(id)
	}
	for id := range m.observers {
		m.replicateToPeer(id)
	}
	m.checkFollowerLiveness()
}

// checkFollowerLiveness steps a leader down to follower once fewer than a
// quorum of members (counting itself) have been heard from within
// leader_timeout, since holding the lease would block progress elsewhere.
func (m *CoreMember) checkFollowerLiveness() {
	if len(m.peerIDs) == 0 {
		return
	}
	now := m.clk.NowMillis()
	timeout := m.config().LeaderTimeout.Milliseconds()
	reachable := 1 // self
	for _, id := range m.peerIDs {
		if now-m.peers[id].LastContactMillis() <= timeout {
			reachable++
		}
	}
	if reachable < m.quorumSize() {
		m.mu.Lock()
		if m.role == RoleLeader {
			m.logger.Warn("stepping down: lost contact with quorum of peers")
			term := m.currentTerm
			m.stepDown(term)
		}
		m.mu.Unlock()
	}
}

// replicateToPeer sends peer an AppendEntries carrying whatever entries
// it is missing, bounded to maxEntriesPerAppend so one slow follower
// doesn't produce an unbounded frame.
func (m *CoreMember) replicateToPeer(peerID uint64) {
	peer, ok := m.peerByID(peerID)
	if !ok {
		return
	}
	state := peer.State()
	nextIndex := state.NextIndex
	if nextIndex == 0 {
		nextIndex = 1
	}

	prevIndex := nextIndex - 1
	prevTerm, err := m.termAt(prevIndex)
	if err != nil {
		m.logger.Error("replication lookup failed", "peer", peerID, "error", wrapStorageErr("termAt", err))
		return
	}

	m.mu.RLock()
	lastIndex := m.lastLogIndex
	term := m.currentTerm
	commit := m.commitIndex
	m.mu.RUnlock()

	var entries []storage.Entry
	for idx := nextIndex; idx <= lastIndex && len(entries) < maxEntriesPerAppend; idx++ {
		entry, ok, err := m.storage.GetLogEntry(m.id, idx)
		if err != nil || !ok {
			break
		}
		entries = append(entries, entry)
	}

	args := AppendEntriesArgs{
		Term:         term,
		LeaderID:     m.id,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		LeaderCommit: commit,
		Entries:      entries,
	}
	m.send(peerID, wireformat.TypeAppendEntries, encodeAppendEntries(args))
}

// termAt returns the term of the entry at index, or 0 for the index-0
// sentinel that always matches.
func (m *CoreMember) termAt(index uint64) (uint64, error) {
	if index == 0 {
		return 0, nil
	}
	entry, ok, err := m.storage.GetLogEntry(m.id, index)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return entry.Term, nil
}

// handleAppendEntries is the follower side: it validates the leader's
// term and log prefix, truncates any conflicting suffix, appends new
// entries and advances its own commit index to min(leaderCommit,
// lastNewIndex).
func (m *CoreMember) handleAppendEntries(from uint64, args AppendEntriesArgs) bool {
	m.mu.Lock()
	if args.Term < m.currentTerm {
		term := m.currentTerm
		m.mu.Unlock()
		m.send(from, wireformat.TypeAppendEntriesReply, encodeAppendEntriesReply(AppendEntriesReply{
			Term: term, Success: false, MemberID: m.id,
		}))
		return false
	}

	if args.Term > m.currentTerm {
		m.stepDown(args.Term)
	} else if m.role == RoleCandidate {
		m.role = RoleFollower
	}
	m.leaderID = int64(args.LeaderID)
	m.mu.Unlock()

	ok, err := m.storage.HasLogEntry(m.id, args.PrevLogIndex, args.PrevLogTerm)
	if err != nil {
		m.logger.Error("HasLogEntry failed", "error", wrapStorageErr("HasLogEntry", err))
		return true
	}
	if !ok {
		lastIndex, _ := m.storage.GetLastLogIndex(m.id)
		m.mu.RLock()
		term := m.currentTerm
		m.mu.RUnlock()
		m.send(from, wireformat.TypeAppendEntriesReply, encodeAppendEntriesReply(AppendEntriesReply{
			Term: term, Success: false, MemberID: m.id, LastIndex: lastIndex,
		}))
		return true
	}

	lastNewIndex := args.PrevLogIndex
	for _, entry := range args.Entries {
		existing, has, err := m.storage.GetLogEntry(m.id, entry.Index)
		if err != nil {
			m.logger.Error("GetLogEntry failed", "error", wrapStorageErr("GetLogEntry", err))
			return true
		}
		if has && existing.Term != entry.Term {
			if err := m.appender.Delete(m.id, entry.Index); err != nil {
				m.logger.Error("Delete failed", "error", wrapStorageErr("Delete", err))
				return true
			}
			has = false
		}
		if !has {
			if err := m.appender.AppendLogEntry(m.id, entry.Index, entry.Term, entry.Payload); err != nil {
				m.logger.Error("AppendLogEntry failed", "error", wrapStorageErr("AppendLogEntry", err))
				return true
			}
		}
		lastNewIndex = entry.Index
	}

	m.mu.Lock()
	if lastNewIndex > m.lastLogIndex {
		m.lastLogIndex = lastNewIndex
		if lastTerm, err := m.termAt(lastNewIndex); err == nil {
			m.lastLogTerm = lastTerm
		}
	}
	if args.LeaderCommit > m.commitIndex {
		newCommit := args.LeaderCommit
		if lastNewIndex < newCommit {
			newCommit = lastNewIndex
		}
		m.advanceCommitLocked(newCommit)
	}
	term := m.currentTerm
	m.mu.Unlock()

	m.send(from, wireformat.TypeAppendEntriesReply, encodeAppendEntriesReply(AppendEntriesReply{
		Term: term, Success: true, MemberID: m.id, LastIndex: lastNewIndex,
	}))
	return true
}

// handleAppendEntriesReply updates leader-side replication bookkeeping
// and retries immediately on a rejection by rewinding nextIndex to one
// past the follower's reported LastIndex, or by one entry when that
// would not move it back.
func (m *CoreMember) handleAppendEntriesReply(from uint64, reply AppendEntriesReply) {
	m.mu.Lock()
	if reply.Term > m.currentTerm {
		m.stepDown(reply.Term)
		m.mu.Unlock()
		return
	}
	isLeader := m.role == RoleLeader
	m.mu.Unlock()
	if !isLeader {
		return
	}

	peer, ok := m.peerByID(from)
	if !ok {
		return
	}

	if !reply.Success {
		cur := peer.State()
		next := reply.LastIndex + 1
		if next >= cur.NextIndex && cur.NextIndex > 1 {
			next = cur.NextIndex - 1
		}
		if next < 1 {
			next = 1
		}
		peer.SetState(PeerState{NextIndex: next, MatchIndex: cur.MatchIndex})
		m.replicateToPeer(from)
		return
	}

	peer.SetState(PeerState{NextIndex: reply.LastIndex + 1, MatchIndex: reply.LastIndex})
	m.maybeAdvanceCommit()
}

// maybeAdvanceCommit recomputes the highest index replicated to a
// majority and advances commitIndex to it, but only for entries from the
// current term: an older-term entry can only become committed as a
// side-effect of a current-term entry at or above it being committed.
func (m *CoreMember) maybeAdvanceCommit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.role != RoleLeader {
		return
	}

	matchIndexes := make([]uint64, 0, len(m.peerIDs)+1)
	matchIndexes = append(matchIndexes, m.lastLogIndex)
	for _, id := range m.peerIDs {
		matchIndexes = append(matchIndexes, m.peers[id].State().MatchIndex)
	}
	sort.Slice(matchIndexes, func(i, j int) bool { return matchIndexes[i] > matchIndexes[j] })
	majorityIndex := matchIndexes[m.quorumSize()-1]

	if majorityIndex <= m.commitIndex {
		return
	}
	term, err := m.termAt(majorityIndex)
	if err != nil || term != m.currentTerm {
		return
	}
	m.advanceCommitLocked(majorityIndex)
}

// advanceCommitLocked moves commitIndex forward to newCommit and emits
// the newly committed entries on the Committed channel, in order; an
// entry that finds the channel full is dropped with a warning. Caller
// must hold mu.
func (m *CoreMember) advanceCommitLocked(newCommit uint64) {
	for idx := m.commitIndex + 1; idx <= newCommit; idx++ {
		entry, ok, err := m.storage.GetLogEntry(m.id, idx)
		if err != nil || !ok {
			break
		}
		select {
		case m.committed <- entry:
		default:
			m.logger.Warn("committed channel full, dropping consumer notification", "index", idx)
		}
	}
	m.commitIndex = newCommit
	m.sink.SetCommitIndex(m.shardID, newCommit)
	close(m.commitSignal)
	m.commitSignal = make(chan struct{})
}
