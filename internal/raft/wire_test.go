package raft

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gondola/internal/storage"
	"gondola/internal/wireformat"
)

func TestRequestVoteRoundTrip(t *testing.T) {
	args := RequestVoteArgs{Term: 7, CandidateID: 3, LastLogIndex: 42, LastLogTerm: 6, PreVote: true}
	decoded, err := decodeRequestVote(encodeRequestVote(args))
	require.NoError(t, err)
	require.Equal(t, args, decoded)
}

func TestRequestVoteReplyRoundTrip(t *testing.T) {
	reply := RequestVoteReply{Term: 9, VoteGranted: true, VoterID: 2, PreVote: false}
	decoded, err := decodeRequestVoteReply(encodeRequestVoteReply(reply))
	require.NoError(t, err)
	require.Equal(t, reply, decoded)
}

func TestAppendEntriesRoundTrip(t *testing.T) {
	args := AppendEntriesArgs{
		Term:         5,
		LeaderID:     1,
		PrevLogIndex: 10,
		PrevLogTerm:  4,
		LeaderCommit: 9,
		Entries: []storage.Entry{
			{Index: 11, Term: 5, Payload: []byte("one")},
			{Index: 12, Term: 5, Payload: []byte{}},
			{Index: 13, Term: 5, Payload: []byte("three")},
		},
	}
	decoded, err := decodeAppendEntries(encodeAppendEntries(args))
	require.NoError(t, err)
	require.Equal(t, args, decoded)
}

func TestAppendEntriesReplyRoundTrip(t *testing.T) {
	reply := AppendEntriesReply{Term: 3, Success: false, MemberID: 2, LastIndex: 17}
	decoded, err := decodeAppendEntriesReply(encodeAppendEntriesReply(reply))
	require.NoError(t, err)
	require.Equal(t, reply, decoded)
}

func TestEnvelopeRoundTripsThroughMessage(t *testing.T) {
	pool := wireformat.NewPool(256)
	args := RequestVoteArgs{Term: 1, CandidateID: 1, LastLogIndex: 0, LastLogTerm: 0}
	msg := buildMessage(pool, wireformat.TypeRequestVote, encodeRequestVote(args))

	raw := envelopeEncode(msg)
	decodedMsg, err := envelopeDecode(pool, raw)
	require.NoError(t, err)
	require.Equal(t, wireformat.TypeRequestVote, decodedMsg.Type)

	decoded, err := decodeMessage(decodedMsg)
	require.NoError(t, err)
	require.Equal(t, args, decoded.(RequestVoteArgs))
}
