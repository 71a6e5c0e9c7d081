package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gondola/internal/clock"
	"gondola/internal/metrics"
	"gondola/internal/network"
	"gondola/internal/storage"
)

func TestProposeReplicatesAndCommitsAcrossCluster(t *testing.T) {
	members, cleanup := newTestCluster(t, 3)
	defer cleanup()

	leader := awaitLeader(t, members)

	index, term, err := leader.Propose([]byte("hello"))
	require.NoError(t, err)
	require.Greater(t, index, uint64(0))

	for _, m := range members {
		require.Eventually(t, func() bool {
			return m.CommitIndex() >= index
		}, 2*time.Second, 5*time.Millisecond, "member %d never caught up to index %d", m.id, index)
	}

	entry, ok, err := leader.storage.GetLogEntry(leader.id, index)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, term, entry.Term)
	require.Equal(t, []byte("hello"), entry.Payload)
}

func TestProposeOnFollowerFails(t *testing.T) {
	members, cleanup := newTestCluster(t, 3)
	defer cleanup()

	leader := awaitLeader(t, members)
	var follower *CoreMember
	for _, m := range members {
		if m != leader {
			follower = m
			break
		}
	}
	require.NotNil(t, follower)

	_, _, err := follower.Propose([]byte("nope"))
	require.ErrorIs(t, err, ErrNotLeader)
}

// TestHandleAppendEntriesTruncatesConflictingSuffix exercises
// handleAppendEntries directly against a member that was never Started,
// so there is no run-loop goroutine racing with the test over storage
// or in-memory state.
func TestHandleAppendEntriesTruncatesConflictingSuffix(t *testing.T) {
	store, err := storage.NewWALStorage(t.TempDir(), true)
	require.NoError(t, err)

	m := NewCoreMember(1, 2, []uint64{1, 2, 3}, store, store, network.NewLoopback(), clock.NewSystem(), metrics.NoopSink{}, testLogger(t), testConfig())

	// Follower already has a stale-term entry at index 1 from a
	// previous, now-superseded leader.
	require.NoError(t, store.AppendLogEntry(2, 1, 1, []byte("stale")))
	m.mu.Lock()
	m.currentTerm = 2
	m.lastLogIndex = 1
	m.lastLogTerm = 1
	m.role = RoleFollower
	m.mu.Unlock()

	resetTimer := m.handleAppendEntries(1, AppendEntriesArgs{
		Term:         2,
		LeaderID:     1,
		PrevLogIndex: 0,
		PrevLogTerm:  0,
		LeaderCommit: 1,
		Entries: []storage.Entry{
			{Index: 1, Term: 2, Payload: []byte("fresh")},
		},
	})
	require.True(t, resetTimer)

	entry, ok, err := store.GetLogEntry(2, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), entry.Term)
	require.Equal(t, []byte("fresh"), entry.Payload)
}
