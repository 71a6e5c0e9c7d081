package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThreeNodeClusterElectsExactlyOneLeader(t *testing.T) {
	members, cleanup := newTestCluster(t, 3)
	defer cleanup()

	leader := awaitLeader(t, members)
	require.NotNil(t, leader)

	for _, m := range members {
		if m != leader {
			require.False(t, m.IsLeader())
			require.Equal(t, RoleFollower, m.Role())
		}
	}
}

func TestSingleNodeClusterBecomesLeaderImmediately(t *testing.T) {
	members, cleanup := newTestCluster(t, 1)
	defer cleanup()

	require.Eventually(t, func() bool {
		return members[0].IsLeader()
	}, time.Second, 2*time.Millisecond)
}

func TestLeaderStepsDownOnHigherTerm(t *testing.T) {
	members, cleanup := newTestCluster(t, 3)
	defer cleanup()

	leader := awaitLeader(t, members)
	originalTerm := leader.Term()

	leader.mu.Lock()
	leader.stepDown(originalTerm + 5)
	leader.mu.Unlock()

	require.False(t, leader.IsLeader())
	require.Equal(t, originalTerm+5, leader.Term())

	// The cluster must recover a (possibly different) single leader.
	awaitLeader(t, members)
}

func TestDisabledMemberNeverCampaignsButStillVotes(t *testing.T) {
	members, cleanup := newTestCluster(t, 3)
	defer cleanup()
	awaitLeader(t, members)

	var disabled *CoreMember
	for _, m := range members {
		if !m.IsLeader() {
			disabled = m
			break
		}
	}
	require.NotNil(t, disabled)
	disabled.SetEnabled(false)

	require.False(t, disabled.onElectionTimeout(), "a disabled member must never start a campaign")
	require.Equal(t, RoleFollower, disabled.Role())

	disabled.mu.RLock()
	lastIndex, lastTerm := disabled.lastLogIndex, disabled.lastLogTerm
	disabled.mu.RUnlock()

	resetTimer := disabled.handleRequestVote(99, RequestVoteArgs{
		Term:         disabled.Term() + 1,
		CandidateID:  99,
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
	})
	require.True(t, resetTimer, "a disabled member must still be able to grant votes")
}

func TestRequestVoteDeniesStaleTermCandidate(t *testing.T) {
	members, cleanup := newTestCluster(t, 3)
	defer cleanup()
	awaitLeader(t, members)

	voter := members[0]
	staleTerm := voter.Term()
	if staleTerm > 0 {
		staleTerm--
	}
	resetTimer := voter.handleRequestVote(99, RequestVoteArgs{
		Term:        staleTerm,
		CandidateID: 99,
	})
	require.False(t, resetTimer, "a stale-term candidate must not grant a vote or reset the election timer")
}
