package raft

import "gondola/internal/storage"

// RequestVoteArgs is the RPC a candidate sends to request a peer's vote.
// PreVote marks a non-binding round used to probe viability before
// incrementing currentTerm, so a partitioned member that cannot win an
// election doesn't disrupt the cluster by bumping the term anyway.
type RequestVoteArgs struct {
	Term         uint64
	CandidateID  uint64
	LastLogIndex uint64
	LastLogTerm  uint64
	PreVote      bool
}

// RequestVoteReply answers a RequestVoteArgs.
type RequestVoteReply struct {
	Term        uint64
	VoteGranted bool
	VoterID     uint64
	PreVote     bool
}

// AppendEntriesArgs is the RPC a leader sends to replicate entries (or,
// with Entries empty, as a heartbeat carrying LeaderCommit).
type AppendEntriesArgs struct {
	Term         uint64
	LeaderID     uint64
	PrevLogIndex uint64
	PrevLogTerm  uint64
	LeaderCommit uint64
	Entries      []storage.Entry
}

// AppendEntriesReply answers an AppendEntriesArgs. On failure, LastIndex
// carries the responder's actual last index so the leader can rewind
// nextIndex in one round trip instead of decrementing by one each time.
type AppendEntriesReply struct {
	Term      uint64
	Success   bool
	MemberID  uint64
	LastIndex uint64
}
